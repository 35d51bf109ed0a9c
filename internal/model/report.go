// Package model holds the record types passed between pipeline stages.
package model

// Report identifies one PDF and the company/year context it belongs to.
type Report struct {
	CompanyID   string `json:"company_id"`
	CompanyName string `json:"company_name,omitempty"`
	// ReportYear is the year hint from the object key, filename or caller.
	// Zero means unknown.
	ReportYear int    `json:"report_year,omitempty"`
	Source     string `json:"source"`
}

// Page is the extracted text of a single PDF page. Number is 1-based.
type Page struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// Document is a PDF after text extraction.
type Document struct {
	Report Report `json:"report"`
	Pages  []Page `json:"pages"`
}

// PageCount returns the number of pages in the document.
func (d *Document) PageCount() int {
	return len(d.Pages)
}

// PageTexts indexes page text by page number.
func (d *Document) PageTexts() map[int]string {
	out := make(map[int]string, len(d.Pages))
	for _, p := range d.Pages {
		out[p.Number] = p.Text
	}
	return out
}

// SelectedPage is a page kept by the selector along with the themes it matched.
type SelectedPage struct {
	Page
	Themes []string `json:"themes"`
}
