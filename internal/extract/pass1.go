package extract

import (
	"encoding/json"
)

// Pass1Answer is what a Pass-1 request returns. Items are kept verbatim
// because Pass 2 re-reads them.
type Pass1Answer struct {
	ReportedIndicators []json.RawMessage `json:"reported_indicators"`
	Commitments        []json.RawMessage `json:"commitments"`
}

// Len counts the items of both lists.
func (a *Pass1Answer) Len() int {
	return len(a.ReportedIndicators) + len(a.Commitments)
}

func (a *Pass1Answer) merge(o *Pass1Answer) {
	a.ReportedIndicators = append(a.ReportedIndicators, o.ReportedIndicators...)
	a.Commitments = append(a.Commitments, o.Commitments...)
}

// Pass1 is the aggregated first-pass output keyed by theme name.
type Pass1 map[string]*Pass1Answer

// Items counts the items over all themes.
func (p Pass1) Items() int {
	n := 0
	for _, a := range p {
		n += a.Len()
	}
	return n
}

// JSON renders the aggregate with sorted theme keys, so the same answers
// always produce the same Pass-2 prompt.
func (p Pass1) JSON() ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}

func parsePass1(text string) (*Pass1Answer, error) {
	var a Pass1Answer
	if err := decodeModelJSON(text, &a); err != nil {
		return nil, err
	}
	return &a, nil
}
