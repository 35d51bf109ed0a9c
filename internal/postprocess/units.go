package postprocess

import (
	"regexp"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"golang.org/x/text/unicode/norm"
)

// Dimension is the physical quantity a unit measures.
type Dimension string

const (
	DimMass      Dimension = "mass"
	DimEmissions Dimension = "emissions"
	DimEnergy    Dimension = "energy"
	DimVolume    Dimension = "volume"
	DimPercent   Dimension = "percent"
	DimCount     Dimension = "count"
	DimHours     Dimension = "hours"
	DimRate      Dimension = "rate"
	DimIntensity Dimension = "intensity"
)

// canonicalDims maps each catalogue canonical unit to the dimensions that
// convert into it.
var canonicalDims = map[string][]Dimension{
	"tCO2e":    {DimEmissions, DimMass},
	"tonnes":   {DimMass},
	"MWh":      {DimEnergy},
	"m³":       {DimVolume},
	"%":        {DimPercent},
	"count":    {DimCount},
	"hours":    {DimHours},
	"rate":     {DimRate},
	"tCO2e/$M": {DimIntensity},
}

// CanonicalDimension returns the primary dimension of a canonical unit.
func CanonicalDimension(unit string) (Dimension, bool) {
	dims, ok := canonicalDims[unit]
	if !ok {
		return "", false
	}
	return dims[0], true
}

// unitDef converts a surface unit as value * factor / divisor. Joule and
// BTU units keep a divisor so 3.6 GJ is exactly 1 MWh.
type unitDef struct {
	dim     Dimension
	factor  *apd.Decimal
	divisor *apd.Decimal
}

func def(dim Dimension, factor string) unitDef {
	d, _, err := apd.NewFromString(factor)
	if err != nil {
		panic("postprocess: bad unit factor " + factor)
	}
	return unitDef{dim: dim, factor: d}
}

func defQuo(dim Dimension, factor, divisor string) unitDef {
	u := def(dim, factor)
	u.divisor = mustDecimal(divisor)
	return u
}

// Joules and BTU (IT) per MWh.
const (
	joulesPerMWh = "3.6e9"
	joulesPerBTU = "1055.05585262"
)

// caseSensitiveUnits are checked before folding: Mt is a megatonne while mt
// is a metric ton, ML is a megalitre.
var caseSensitiveUnits = map[string]unitDef{
	"Mt":  def(DimMass, "1e6"),
	"Mts": def(DimMass, "1e6"),
	"ML":  def(DimVolume, "1000"),
	"Ml":  def(DimVolume, "1000"),
	"MT":  def(DimMass, "1"),
}

var units = map[string]unitDef{
	"t":             def(DimMass, "1"),
	"tonne":         def(DimMass, "1"),
	"tonnes":        def(DimMass, "1"),
	"metric ton":    def(DimMass, "1"),
	"metric tons":   def(DimMass, "1"),
	"metric tonne":  def(DimMass, "1"),
	"metric tonnes": def(DimMass, "1"),
	"mt":            def(DimMass, "1"),
	"ton":           def(DimMass, "0.907"),
	"tons":          def(DimMass, "0.907"),
	"short ton":     def(DimMass, "0.907"),
	"short tons":    def(DimMass, "0.907"),
	"kt":            def(DimMass, "1e3"),
	"kilotonne":     def(DimMass, "1e3"),
	"kilotonnes":    def(DimMass, "1e3"),
	"mmt":           def(DimMass, "1e6"),
	"megatonne":     def(DimMass, "1e6"),
	"megatonnes":    def(DimMass, "1e6"),
	"kg":            def(DimMass, "1e-3"),
	"kgs":           def(DimMass, "1e-3"),
	"kilogram":      def(DimMass, "1e-3"),
	"kilograms":     def(DimMass, "1e-3"),
	"lb":            def(DimMass, "0.000453592"),
	"lbs":           def(DimMass, "0.000453592"),
	"pounds":        def(DimMass, "0.000453592"),

	"kilowatt hours": def(DimEnergy, "1e-3"),
	"megawatt hours": def(DimEnergy, "1"),
	"gigawatt hours": def(DimEnergy, "1e3"),
	"terawatt hours": def(DimEnergy, "1e6"),
	"kwh":            def(DimEnergy, "1e-3"),
	"mwh":            def(DimEnergy, "1"),
	"gwh":            def(DimEnergy, "1e3"),
	"twh":            def(DimEnergy, "1e6"),
	"mj":             defQuo(DimEnergy, "1e6", joulesPerMWh),
	"megajoules":     defQuo(DimEnergy, "1e6", joulesPerMWh),
	"gj":             defQuo(DimEnergy, "1e9", joulesPerMWh),
	"gigajoules":     defQuo(DimEnergy, "1e9", joulesPerMWh),
	"tj":             defQuo(DimEnergy, "1e12", joulesPerMWh),
	"terajoules":     defQuo(DimEnergy, "1e12", joulesPerMWh),
	"btu":            defQuo(DimEnergy, joulesPerBTU, joulesPerMWh),
	"mmbtu":          defQuo(DimEnergy, joulesPerBTU+"e6", joulesPerMWh),

	"m3":           def(DimVolume, "1"),
	"cubic meter":  def(DimVolume, "1"),
	"cubic meters": def(DimVolume, "1"),
	"cubic metre":  def(DimVolume, "1"),
	"cubic metres": def(DimVolume, "1"),
	"l":            def(DimVolume, "1e-3"),
	"liter":        def(DimVolume, "1e-3"),
	"liters":       def(DimVolume, "1e-3"),
	"litre":        def(DimVolume, "1e-3"),
	"litres":       def(DimVolume, "1e-3"),
	"kl":           def(DimVolume, "1"),
	"kiloliters":   def(DimVolume, "1"),
	"kilolitres":   def(DimVolume, "1"),
	"ml":           def(DimVolume, "1000"),
	"megaliter":    def(DimVolume, "1000"),
	"megaliters":   def(DimVolume, "1000"),
	"megalitre":    def(DimVolume, "1000"),
	"megalitres":   def(DimVolume, "1000"),
	"gal":          def(DimVolume, "0.00378541"),
	"gallon":       def(DimVolume, "0.00378541"),
	"gallons":      def(DimVolume, "0.00378541"),
	"us gallons":   def(DimVolume, "0.00378541"),
	"mgal":         def(DimVolume, "3785.41"),
	"km3":          def(DimVolume, "1e9"),

	"%":          def(DimPercent, "1"),
	"percent":    def(DimPercent, "1"),
	"per cent":   def(DimPercent, "1"),
	"percentage": def(DimPercent, "1"),
	"pct":        def(DimPercent, "1"),

	"count":       def(DimCount, "1"),
	"number":      def(DimCount, "1"),
	"#":           def(DimCount, "1"),
	"employees":   def(DimCount, "1"),
	"people":      def(DimCount, "1"),
	"persons":     def(DimCount, "1"),
	"individuals": def(DimCount, "1"),
	"headcount":   def(DimCount, "1"),
	"staff":       def(DimCount, "1"),
	"fte":         def(DimCount, "1"),
	"ftes":        def(DimCount, "1"),

	"h":                  def(DimHours, "1"),
	"hr":                 def(DimHours, "1"),
	"hrs":                def(DimHours, "1"),
	"hour":               def(DimHours, "1"),
	"hours":              def(DimHours, "1"),
	"hours/employee":     def(DimHours, "1"),
	"hours per employee": def(DimHours, "1"),
	"hours per fte":      def(DimHours, "1"),

	"rate":                    def(DimRate, "1"),
	"ltir":                    def(DimRate, "1"),
	"per 200000 hours":        def(DimRate, "1"),
	"per 200000 hours worked": def(DimRate, "1"),
}

var intensityUnits = map[string]unitDef{
	"tco2e/$m":  def(DimIntensity, "1"),
	"tco2e/m$":  def(DimIntensity, "1"),
	"tco2/$m":   def(DimIntensity, "1"),
	"mtco2e/$m": def(DimIntensity, "1"),
	"tco2e/$1m": def(DimIntensity, "1"),
}

var scaleWords = map[string]string{
	"thousand":  "1e3",
	"thousands": "1e3",
	"million":   "1e6",
	"millions":  "1e6",
	"mn":        "1e6",
	"mln":       "1e6",
	"billion":   "1e9",
	"billions":  "1e9",
	"bn":        "1e9",
}

// BlockedUnits never yield numeric values.
var BlockedUnits = []string{"pledged", "target", "targets", "goal", "goals", "projects", "initiatives"}

var (
	scalePrefixRE  = regexp.MustCompile(`(?i)^(thousands?|millions?|mn|mln|billions?|bn)\b\s*`)
	parentheticRE  = regexp.MustCompile(`\([^)]*\)`)
	co2SuffixRE    = regexp.MustCompile(`(?i)^(.*?)\s*(?:of\s+)?co2[\s-]?(?:e|eq|equivalents?)?$`)
	intensityKeyer = strings.NewReplacer(" ", "", "per", "/", "of", "", "revenue", "", "usd", "$", "million", "m", "mln", "m", "mn", "m")
	thousandsSep   = regexp.MustCompile(`(\d),(\d{3})`)
)

// cleanUnit folds unicode (m³ to m3, CO₂ to CO2), drops parentheticals and
// collapses whitespace.
func cleanUnit(s string) string {
	s = norm.NFKC.String(s)
	s = parentheticRE.ReplaceAllString(s, " ")
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimRight(s, ". ")
}

// unitSpec is a resolved surface unit including any leading scale word.
type unitSpec struct {
	def   unitDef
	scale *apd.Decimal
}

// lookupUnit resolves a surface unit. An empty string is not resolvable;
// callers handle the implicit canonical unit themselves.
func lookupUnit(raw string) (unitSpec, bool) {
	s := cleanUnit(raw)
	scale := decimalOne()
	if m := scalePrefixRE.FindStringSubmatch(s); m != nil {
		scale = mustDecimal(scaleWords[strings.ToLower(m[1])])
		s = strings.TrimSpace(s[len(m[0]):])
	}
	if s == "" {
		return unitSpec{}, false
	}
	d, ok := lookupBase(s)
	if !ok {
		return unitSpec{}, false
	}
	return unitSpec{def: d, scale: scale}, true
}

func lookupBase(s string) (unitDef, bool) {
	s = thousandsSep.ReplaceAllString(s, "$1$2")
	if d, ok := caseSensitiveUnits[s]; ok {
		return d, true
	}
	lower := strings.ToLower(s)
	if d, ok := units[lower]; ok {
		return d, true
	}
	if d, ok := intensityUnits[intensityKeyer.Replace(lower)]; ok {
		return d, true
	}
	if m := co2SuffixRE.FindStringSubmatch(s); m != nil {
		prefix := strings.TrimSpace(m[1])
		if prefix == "" {
			return unitDef{dim: DimEmissions, factor: decimalOne()}, true
		}
		if d, ok := lookupBase(prefix); ok && d.dim == DimMass {
			return unitDef{dim: DimEmissions, factor: d.factor, divisor: d.divisor}, true
		}
	}
	return unitDef{}, false
}

// IsBlockedUnit reports whether raw names a word unit such as "pledged".
func IsBlockedUnit(raw string) bool {
	for _, w := range strings.Fields(strings.ToLower(cleanUnit(raw))) {
		w = strings.Trim(w, ".,;:")
		for _, b := range BlockedUnits {
			if w == b {
				return true
			}
		}
	}
	return false
}

// compatible reports whether dim converts into the canonical unit.
func compatible(dim Dimension, canonical string) bool {
	for _, d := range canonicalDims[canonical] {
		if d == dim {
			return true
		}
	}
	return false
}
