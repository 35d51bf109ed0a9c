// Package catalogue loads the closed indicator catalogue and resolves
// surface names found in reports to canonical indicator ids.
package catalogue

import (
	_ "embed"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/esg-extract/internal/resilience"
)

//go:embed catalogue.yaml
var defaultCatalogue []byte

// ExpectedType is the numeric shape of an indicator value.
type ExpectedType string

const (
	TypeFloat   ExpectedType = "float"
	TypeInt     ExpectedType = "int"
	TypePercent ExpectedType = "percent"
)

// Aim is the desired direction of an indicator.
type Aim string

const (
	AimReduction Aim = "reduction"
	AimIncrease  Aim = "increase"
	AimNeutral   Aim = "neutral"
)

// Validation bounds in canonical units. Nil bounds are open.
type Validation struct {
	Min       *float64 `yaml:"min" json:"min,omitempty"`
	Max       *float64 `yaml:"max" json:"max,omitempty"`
	WarnAbove *float64 `yaml:"warn_above" json:"warn_above,omitempty"`
}

// Indicator is one catalogue entry.
type Indicator struct {
	ID            string       `yaml:"id" json:"indicator_id" validate:"required"`
	Name          string       `yaml:"name" json:"name" validate:"required"`
	Theme         string       `yaml:"theme" json:"theme" validate:"required"`
	Aliases       []string     `yaml:"aliases" json:"aliases"`
	UnitCanonical string       `yaml:"unit_canonical" json:"unit_canonical" validate:"required"`
	ExpectedType  ExpectedType `yaml:"expected_type" json:"expected_type" validate:"oneof=float int percent"`
	Aim           Aim          `yaml:"aim" json:"aim" validate:"oneof=reduction increase neutral"`
	Validation    Validation   `yaml:"validation" json:"validation"`
	HasTarget     bool         `yaml:"has_target" json:"has_target"`
}

// Rule is the subset of an Indicator the postprocessor needs.
type Rule struct {
	IndicatorID   string
	Theme         string
	UnitCanonical string
	ExpectedType  ExpectedType
	Aim           Aim
	Validation    Validation
	HasTarget     bool
}

type document struct {
	Version    string      `yaml:"version"`
	Themes     []*Theme    `yaml:"themes" validate:"required,min=1,dive"`
	Indicators []Indicator `yaml:"indicators" validate:"required,min=1,dive"`
}

// Catalogue is immutable after Load and safe for concurrent readers.
type Catalogue struct {
	version    string
	themes     []*Theme
	themeIdx   map[string]*Theme
	indicators []Indicator
	byID       map[string]int
	aliases    map[string]string
	aliasKeys  []string

	threshold float64
	margin    float64
}

// Option tunes fuzzy matching.
type Option func(*Catalogue)

// WithFuzzyThreshold sets the minimum similarity for a fuzzy alias match.
func WithFuzzyThreshold(t float64) Option {
	return func(c *Catalogue) {
		if t > 0 {
			c.threshold = t
		}
	}
}

// WithFuzzyMargin sets how far the best fuzzy match must lead the best
// match belonging to a different indicator.
func WithFuzzyMargin(m float64) Option {
	return func(c *Catalogue) {
		if m >= 0 {
			c.margin = m
		}
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads the catalogue at path, or the built-in one when path is empty.
// Every failure is a configuration error.
func Load(path string, opts ...Option) (*Catalogue, error) {
	data := defaultCatalogue
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, resilience.NewConfigError(eris.Wrapf(err, "catalogue: read %s", path))
		}
		data = b
	}
	return Parse(data, opts...)
}

// Default returns the built-in catalogue.
func Default(opts ...Option) (*Catalogue, error) {
	return Parse(defaultCatalogue, opts...)
}

// Parse builds a Catalogue from YAML. Duplicate ids, duplicate alias keys
// and unknown themes are rejected.
func Parse(data []byte, opts ...Option) (*Catalogue, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, resilience.NewConfigError(eris.Wrap(err, "catalogue: parse yaml"))
	}
	if err := validate.Struct(&doc); err != nil {
		return nil, resilience.NewConfigError(eris.Wrap(err, "catalogue: validate"))
	}

	c := &Catalogue{
		version:   doc.Version,
		themeIdx:  make(map[string]*Theme, len(doc.Themes)),
		byID:      make(map[string]int, len(doc.Indicators)),
		aliases:   make(map[string]string),
		threshold: 0.8,
		margin:    0.05,
	}
	for _, o := range opts {
		o(c)
	}

	for _, th := range doc.Themes {
		if _, dup := c.themeIdx[th.Name]; dup {
			return nil, resilience.NewConfigError(eris.Errorf("catalogue: duplicate theme %q", th.Name))
		}
		if err := th.compile(); err != nil {
			return nil, resilience.NewConfigError(err)
		}
		c.themeIdx[th.Name] = th
		c.themes = append(c.themes, th)
	}

	for i, ind := range doc.Indicators {
		if _, dup := c.byID[ind.ID]; dup {
			return nil, resilience.NewConfigError(eris.Errorf("catalogue: duplicate indicator id %q", ind.ID))
		}
		if _, ok := c.themeIdx[ind.Theme]; !ok {
			return nil, resilience.NewConfigError(eris.Errorf("catalogue: indicator %q has unknown theme %q", ind.ID, ind.Theme))
		}
		c.byID[ind.ID] = i
		c.indicators = append(c.indicators, ind)

		// The name and id resolve too; they may repeat an explicit alias of
		// the same indicator.
		implicit := map[string]bool{NormalizeKey(ind.Name): true, NormalizeKey(ind.ID): true}
		for k := range implicit {
			if owner, ok := c.aliases[k]; ok && owner != ind.ID {
				return nil, resilience.NewConfigError(eris.Errorf("catalogue: name of %q collides with alias of %q", ind.ID, owner))
			}
			c.aliases[k] = ind.ID
		}

		seen := make(map[string]bool, len(ind.Aliases))
		for _, a := range ind.Aliases {
			k := NormalizeKey(a)
			if k == "" {
				return nil, resilience.NewConfigError(eris.Errorf("catalogue: empty alias on %q", ind.ID))
			}
			if seen[k] {
				return nil, resilience.NewConfigError(eris.Errorf("catalogue: duplicate alias %q on %q", a, ind.ID))
			}
			seen[k] = true
			if owner, ok := c.aliases[k]; ok && owner != ind.ID {
				return nil, resilience.NewConfigError(eris.Errorf("catalogue: alias %q maps to both %q and %q", a, owner, ind.ID))
			}
			c.aliases[k] = ind.ID
		}
	}

	c.aliasKeys = make([]string, 0, len(c.aliases))
	for k := range c.aliases {
		c.aliasKeys = append(c.aliasKeys, k)
	}
	sort.Strings(c.aliasKeys)

	return c, nil
}

// Version returns the catalogue version string.
func (c *Catalogue) Version() string { return c.version }

// Indicators returns all indicators in file order.
func (c *Catalogue) Indicators() []Indicator {
	out := make([]Indicator, len(c.indicators))
	copy(out, c.indicators)
	return out
}

// Indicator returns the entry for id.
func (c *Catalogue) Indicator(id string) (Indicator, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Indicator{}, false
	}
	return c.indicators[i], true
}

// ByTheme returns the indicators of one theme in file order.
func (c *Catalogue) ByTheme(theme string) []Indicator {
	var out []Indicator
	for _, ind := range c.indicators {
		if ind.Theme == theme {
			out = append(out, ind)
		}
	}
	return out
}

// Rule returns the validation rule for id.
func (c *Catalogue) Rule(id string) (Rule, bool) {
	ind, ok := c.Indicator(id)
	if !ok {
		return Rule{}, false
	}
	return Rule{
		IndicatorID:   ind.ID,
		Theme:         ind.Theme,
		UnitCanonical: ind.UnitCanonical,
		ExpectedType:  ind.ExpectedType,
		Aim:           ind.Aim,
		Validation:    ind.Validation,
		HasTarget:     ind.HasTarget,
	}, true
}

// Themes returns the theme definitions in file order.
func (c *Catalogue) Themes() []*Theme {
	out := make([]*Theme, len(c.themes))
	copy(out, c.themes)
	return out
}

// Theme returns the named theme.
func (c *Catalogue) Theme(name string) (*Theme, bool) {
	th, ok := c.themeIdx[name]
	return th, ok
}
