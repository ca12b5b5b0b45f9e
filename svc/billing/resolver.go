package billing

import (
	"strings"

	"github.com/equilibra/platform/svc/catalog"
)

// ResolutionSource names the rule that produced a tier.
type ResolutionSource string

const (
	SourceDeclared    ResolutionSource = "declared"
	SourceAmount      ResolutionSource = "amount"
	SourceDescription ResolutionSource = "description"
	SourceNone        ResolutionSource = "none"
)

// ResolveInput is everything known about a payment when choosing its tier.
type ResolveInput struct {
	DeclaredTier catalog.PlanTier
	AmountMinor  int64
	Description  string
	// ExpectedMinor is the amount the checkout asked for; zero means the
	// catalog price of the declared tier.
	ExpectedMinor int64
}

// Resolution is the chosen tier and how it was chosen.
type Resolution struct {
	Tier     catalog.PlanTier
	Source   ResolutionSource
	Mismatch bool
}

// Resolved reports whether a catalog tier was found.
func (r Resolution) Resolved() bool { return r.Tier != catalog.Unknown }

// PlanResolver maps a payment to a plan tier. It never guesses: when no rule
// matches it returns catalog.Unknown.
type PlanResolver struct {
	catalog *catalog.Catalog
	names   map[catalog.PlanTier][]string
}

func NewPlanResolver(c *catalog.Catalog) *PlanResolver {
	names := make(map[catalog.PlanTier][]string, len(c.Tiers()))
	for _, p := range c.Plans() {
		slug := strings.ReplaceAll(string(p.Tier), "_", " ")
		n := []string{strings.ToLower(slug)}
		if name := strings.ToLower(strings.TrimSpace(p.Name)); name != "" && name != n[0] {
			n = append(n, name)
		}
		names[p.Tier] = n
	}
	return &PlanResolver{catalog: c, names: names}
}

// Resolve applies, in order: declared tier, exact catalog price, plan name in
// the description. An ambiguous description resolves to Unknown.
func (r *PlanResolver) Resolve(in ResolveInput) Resolution {
	if r.catalog.IsValid(in.DeclaredTier) {
		expected := in.ExpectedMinor
		if expected == 0 {
			p, _ := r.catalog.Plan(in.DeclaredTier)
			expected = p.PriceMinor
		}
		return Resolution{
			Tier:     in.DeclaredTier,
			Source:   SourceDeclared,
			Mismatch: in.AmountMinor != expected,
		}
	}

	if tier, ok := r.catalog.TierByPrice(in.AmountMinor); ok {
		return Resolution{Tier: tier, Source: SourceAmount}
	}

	if tier, ok := r.matchDescription(in.Description); ok {
		return Resolution{Tier: tier, Source: SourceDescription}
	}

	return Resolution{Tier: catalog.Unknown, Source: SourceNone}
}

func (r *PlanResolver) matchDescription(desc string) (catalog.PlanTier, bool) {
	desc = strings.ToLower(desc)
	if strings.TrimSpace(desc) == "" {
		return catalog.Unknown, false
	}

	var found []catalog.PlanTier
	for _, tier := range r.catalog.Tiers() {
		for _, n := range r.names[tier] {
			if strings.Contains(desc, n) {
				found = append(found, tier)
				break
			}
		}
	}
	if len(found) != 1 {
		return catalog.Unknown, false
	}
	return found[0], true
}
