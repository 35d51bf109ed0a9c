package postprocess

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"
)

// Canonical values are computed at 34 significant digits and stored with at
// most six decimal places.
const (
	decimalPrecision = 34
	canonicalExp     = -6
)

var (
	errNotNumeric = eris.New("not numeric")
	errFormula    = eris.New("formula")
)

var (
	approxPrefixRE = regexp.MustCompile(`(?i)^(?:≈|~|approx\.?|approximately|about|circa|around|c\.)\s*`)
	leadingNumRE   = regexp.MustCompile(`^(\d{1,3}(?:[, ]\d{3})+|\d+)(\.\d+)?`)
	operatorRE     = regexp.MustCompile(`[+*/×÷=−–—-]`)
)

func decimalOne() *apd.Decimal { return apd.New(1, 0) }

func mustDecimal(s string) *apd.Decimal {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		panic("postprocess: bad decimal " + s)
	}
	return d
}

func decimalContext() *apd.Context {
	ctx := apd.BaseContext.WithPrecision(decimalPrecision)
	ctx.Rounding = apd.RoundHalfUp
	return ctx
}

// parsedNumber is a surface value split into its number (with any scale
// word applied) and the remaining text, which usually names a unit.
type parsedNumber struct {
	value  *apd.Decimal
	tail   string
	scaled bool
}

// parseNumber reads a leading number from raw. Thousands separators may be
// commas or spaces; approximation markers are ignored. A value whose tail
// carries arithmetic operators and is not itself a unit is a formula.
func parseNumber(raw string) (parsedNumber, error) {
	s := strings.TrimSpace(norm.NFKC.String(raw))
	for {
		loc := approxPrefixRE.FindStringIndex(s)
		if loc == nil || loc[1] == 0 {
			break
		}
		s = strings.TrimSpace(s[loc[1]:])
	}

	if len(s) > 1 && s[0] == '.' && s[1] >= '0' && s[1] <= '9' {
		s = "0" + s
	}
	m := leadingNumRE.FindStringSubmatch(s)
	if m == nil {
		if operatorRE.MatchString(s) && strings.ContainsAny(s, "0123456789") {
			return parsedNumber{}, errFormula
		}
		return parsedNumber{}, errNotNumeric
	}
	rest := s[len(m[0]):]
	if danglingDigits(rest) {
		return parsedNumber{}, errNotNumeric
	}

	digits := strings.NewReplacer(",", "", " ", "").Replace(m[1]) + m[2]
	value, _, err := apd.NewFromString(digits)
	if err != nil {
		return parsedNumber{}, errNotNumeric
	}

	rest = strings.TrimSpace(rest)
	scaled := false
	if sm := scalePrefixRE.FindStringSubmatch(rest); sm != nil {
		scale := mustDecimal(scaleWords[strings.ToLower(sm[1])])
		if _, err := decimalContext().Mul(value, value, scale); err != nil {
			return parsedNumber{}, errNotNumeric
		}
		rest = rest[len(sm[0]):]
		scaled = true
	}

	tail := cleanUnit(rest)
	if tail != "" && operatorRE.MatchString(tail) {
		if _, ok := lookupUnit(tail); !ok {
			return parsedNumber{}, errFormula
		}
	}
	return parsedNumber{value: value, tail: tail, scaled: scaled}, nil
}

// danglingDigits reports digits left over after the number, as in "1,2345"
// or "12,34".
func danglingDigits(rest string) bool {
	isDigit := func(b byte) bool { return b >= '0' && b <= '9' }
	if rest == "" {
		return false
	}
	if isDigit(rest[0]) {
		return true
	}
	return len(rest) > 1 && (rest[0] == ',' || rest[0] == '.') && isDigit(rest[1])
}

// toCanonical multiplies value by the unit scale and factor, divides by any
// divisor and rounds to the canonical exponent.
func toCanonical(value *apd.Decimal, u unitSpec) (*apd.Decimal, error) {
	ctx := decimalContext()
	out := new(apd.Decimal)
	if _, err := ctx.Mul(out, value, u.scale); err != nil {
		return nil, eris.Wrap(err, "postprocess: apply scale")
	}
	if _, err := ctx.Mul(out, out, u.def.factor); err != nil {
		return nil, eris.Wrap(err, "postprocess: apply factor")
	}
	if u.def.divisor != nil {
		if _, err := ctx.Quo(out, out, u.def.divisor); err != nil {
			return nil, eris.Wrap(err, "postprocess: apply divisor")
		}
	}
	return quantize(out, canonicalExp)
}

func quantize(d *apd.Decimal, exp int32) (*apd.Decimal, error) {
	out := new(apd.Decimal)
	if _, err := decimalContext().Quantize(out, d, exp); err != nil {
		return nil, eris.Wrap(err, "postprocess: quantize")
	}
	return out, nil
}

// FormatValue renders a canonical value the shortest way that parses back
// to the same float64.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
