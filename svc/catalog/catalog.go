package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// PlanTier identifies one of the fixed subscription levels.
type PlanTier string

const (
	LifeBalance PlanTier = "life_balance"
	Growth      PlanTier = "growth"
	Suite       PlanTier = "suite"

	// Unknown is returned when a payment cannot be tied to a tier.
	// It is never a valid tier and never has a feature set.
	Unknown PlanTier = "unknown"
)

func (t PlanTier) String() string { return string(t) }

// FeatureSet is a sorted, de-duplicated list of feature slugs.
type FeatureSet []string

// Contains reports whether the set includes slug.
func (fs FeatureSet) Contains(slug string) bool {
	_, found := slices.BinarySearch(fs, slug)
	return found
}

// Union returns a new set with the slugs of both sets.
func (fs FeatureSet) Union(other FeatureSet) FeatureSet {
	return normalize(append(slices.Clone(fs), other...))
}

// Plan describes a tier: its display name, fixed price and unlocked features.
type Plan struct {
	Tier       PlanTier
	Name       string
	PriceMinor int64 // price in minor currency units (centavos)
	Features   FeatureSet
}

// Catalog is the immutable, versioned tier -> feature set mapping.
// Safe for concurrent use; every accessor returns copies.
type Catalog struct {
	version  string
	currency string
	order    []PlanTier
	plans    map[PlanTier]Plan
	byPrice  map[int64]PlanTier
}

// Config selects the catalog source. An empty path uses the embedded catalog.
type Config struct {
	Path string `env:"CATALOG_PATH"`
}

//go:embed catalog.yaml
var embedded []byte

type fileFormat struct {
	Version  string `yaml:"version"`
	Currency string `yaml:"currency"`
	Plans    []struct {
		Tier       string   `yaml:"tier"`
		Name       string   `yaml:"name"`
		PriceMinor int64    `yaml:"price_minor"`
		Features   []string `yaml:"features"`
	} `yaml:"plans"`
}

// New builds a catalog from the given plans and validates its invariants:
// every tier appears once with a non-empty feature set, and prices are unique
// so the amount table used for payment matching is unambiguous.
func New(version, currency string, plans ...Plan) (*Catalog, error) {
	if version == "" {
		return nil, errors.Join(ErrInvalidCatalog, errors.New("version is required"))
	}
	if len(plans) == 0 {
		return nil, errors.Join(ErrInvalidCatalog, errors.New("at least one plan is required"))
	}

	c := &Catalog{
		version:  version,
		currency: strings.ToUpper(currency),
		order:    make([]PlanTier, 0, len(plans)),
		plans:    make(map[PlanTier]Plan, len(plans)),
		byPrice:  make(map[int64]PlanTier, len(plans)),
	}

	names := make(map[string]PlanTier, len(plans))
	for _, p := range plans {
		switch {
		case p.Tier == "" || p.Tier == Unknown:
			return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("invalid tier %q", p.Tier))
		case len(p.Features) == 0:
			return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("tier %s has no features", p.Tier))
		case p.PriceMinor <= 0:
			return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("tier %s has non-positive price %d", p.Tier, p.PriceMinor))
		}
		if _, dup := c.plans[p.Tier]; dup {
			return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("tier %s defined twice", p.Tier))
		}
		if other, dup := c.byPrice[p.PriceMinor]; dup {
			return nil, errors.Join(ErrInvalidCatalog,
				fmt.Errorf("tiers %s and %s share price %d", other, p.Tier, p.PriceMinor))
		}
		name := strings.ToLower(strings.TrimSpace(p.Name))
		if name == "" {
			name = strings.ReplaceAll(string(p.Tier), "_", " ")
		}
		if other, dup := names[name]; dup {
			return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("tiers %s and %s share name %q", other, p.Tier, p.Name))
		}
		names[name] = p.Tier

		p.Features = normalize(p.Features)
		c.plans[p.Tier] = p
		c.byPrice[p.PriceMinor] = p.Tier
		c.order = append(c.order, p.Tier)
	}

	return c, nil
}

// Load parses a YAML catalog.
func Load(r io.Reader) (*Catalog, error) {
	var f fileFormat
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, errors.Join(ErrFailedToLoad, err)
	}

	plans := make([]Plan, 0, len(f.Plans))
	for _, p := range f.Plans {
		plans = append(plans, Plan{
			Tier:       PlanTier(strings.TrimSpace(p.Tier)),
			Name:       p.Name,
			PriceMinor: p.PriceMinor,
			Features:   p.Features,
		})
	}
	return New(f.Version, f.Currency, plans...)
}

// LoadFile parses the YAML catalog stored at path.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoad, err)
	}
	defer f.Close()
	return Load(f)
}

// Default returns the catalog embedded in the binary.
// Panics if the embedded file is invalid: a broken build must not start.
func Default() *Catalog {
	c, err := Load(strings.NewReader(string(embedded)))
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded catalog is invalid: %v", err))
	}
	return c
}

// FromConfig loads the catalog at cfg.Path, or the embedded one when empty.
func FromConfig(cfg Config) (*Catalog, error) {
	if cfg.Path == "" {
		return Default(), nil
	}
	return LoadFile(cfg.Path)
}

func (c *Catalog) Version() string  { return c.version }
func (c *Catalog) Currency() string { return c.currency }

// IsValid reports whether t is a tier of this catalog.
func (c *Catalog) IsValid(t PlanTier) bool {
	_, ok := c.plans[t]
	return ok
}

// Plan returns a copy of the plan for tier t.
func (c *Catalog) Plan(t PlanTier) (Plan, bool) {
	p, ok := c.plans[t]
	if !ok {
		return Plan{}, false
	}
	p.Features = slices.Clone(p.Features)
	return p, true
}

// Features returns the feature set unlocked by tier t.
func (c *Catalog) Features(t PlanTier) (FeatureSet, error) {
	p, ok := c.plans[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTier, t)
	}
	return slices.Clone(p.Features), nil
}

// TierByPrice returns the tier whose catalog price equals amountMinor.
func (c *Catalog) TierByPrice(amountMinor int64) (PlanTier, bool) {
	t, ok := c.byPrice[amountMinor]
	return t, ok
}

// Tiers returns the tiers in catalog order.
func (c *Catalog) Tiers() []PlanTier {
	return slices.Clone(c.order)
}

// Plans returns copies of all plans in catalog order.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.order))
	for _, t := range c.order {
		p, _ := c.Plan(t)
		out = append(out, p)
	}
	return out
}

func normalize(slugs []string) FeatureSet {
	out := make(FeatureSet, 0, len(slugs))
	for _, s := range slugs {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
