package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/equilibra/platform/svc/billing"
	"github.com/equilibra/platform/svc/catalog"
)

func TestPlanResolver_Resolve(t *testing.T) {
	t.Parallel()

	r := billing.NewPlanResolver(catalog.Default())

	tests := []struct {
		name         string
		in           billing.ResolveInput
		wantTier     catalog.PlanTier
		wantSource   billing.ResolutionSource
		wantMismatch bool
	}{
		{"life balance by amount", billing.ResolveInput{AmountMinor: 6700}, catalog.LifeBalance, billing.SourceAmount, false},
		{"growth by amount", billing.ResolveInput{AmountMinor: 9700}, catalog.Growth, billing.SourceAmount, false},
		{"suite by amount", billing.ResolveInput{AmountMinor: 14700}, catalog.Suite, billing.SourceAmount, false},
		{"unknown amount", billing.ResolveInput{AmountMinor: 12345}, catalog.Unknown, billing.SourceNone, false},
		{
			name:       "declared tier wins over amount",
			in:         billing.ResolveInput{DeclaredTier: catalog.Suite, AmountMinor: 14700},
			wantTier:   catalog.Suite,
			wantSource: billing.SourceDeclared,
		},
		{
			name:         "declared tier with different amount is flagged",
			in:           billing.ResolveInput{DeclaredTier: catalog.Suite, AmountMinor: 9700},
			wantTier:     catalog.Suite,
			wantSource:   billing.SourceDeclared,
			wantMismatch: true,
		},
		{
			name:       "discounted amount matches the checkout",
			in:         billing.ResolveInput{DeclaredTier: catalog.Growth, AmountMinor: 6790, ExpectedMinor: 6790},
			wantTier:   catalog.Growth,
			wantSource: billing.SourceDeclared,
		},
		{
			name:       "invalid declared tier falls through",
			in:         billing.ResolveInput{DeclaredTier: "platinum", AmountMinor: 6700},
			wantTier:   catalog.LifeBalance,
			wantSource: billing.SourceAmount,
		},
		{
			name:       "description names one plan",
			in:         billing.ResolveInput{AmountMinor: 5000, Description: "Assinatura Plano GROWTH mensal"},
			wantTier:   catalog.Growth,
			wantSource: billing.SourceDescription,
		},
		{
			name:       "description matches slug with spaces",
			in:         billing.ResolveInput{AmountMinor: 5000, Description: "life balance"},
			wantTier:   catalog.LifeBalance,
			wantSource: billing.SourceDescription,
		},
		{
			name:       "ambiguous description is unknown",
			in:         billing.ResolveInput{AmountMinor: 5000, Description: "Upgrade Growth to Suite"},
			wantTier:   catalog.Unknown,
			wantSource: billing.SourceNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := r.Resolve(tt.in)
			assert.Equal(t, tt.wantTier, got.Tier)
			assert.Equal(t, tt.wantSource, got.Source)
			assert.Equal(t, tt.wantMismatch, got.Mismatch)
			assert.Equal(t, tt.wantTier != catalog.Unknown, got.Resolved())
		})
	}
}
