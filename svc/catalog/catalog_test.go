package catalog_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/equilibra/platform/svc/catalog"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	c := catalog.Default()
	assert.NotEmpty(t, c.Version())
	assert.Equal(t, "BRL", c.Currency())
	assert.Equal(t, []catalog.PlanTier{catalog.LifeBalance, catalog.Growth, catalog.Suite}, c.Tiers())

	t.Run("every tier has a feature set", func(t *testing.T) {
		t.Parallel()
		for _, tier := range c.Tiers() {
			fs, err := c.Features(tier)
			require.NoError(t, err)
			assert.NotEmpty(t, fs, tier)
		}
	})

	t.Run("price table", func(t *testing.T) {
		t.Parallel()
		for amount, want := range map[int64]catalog.PlanTier{
			6700:  catalog.LifeBalance,
			9700:  catalog.Growth,
			14700: catalog.Suite,
		} {
			got, ok := c.TierByPrice(amount)
			assert.True(t, ok)
			assert.Equal(t, want, got)
		}
		_, ok := c.TierByPrice(1234)
		assert.False(t, ok)
	})

	t.Run("unknown is never valid", func(t *testing.T) {
		t.Parallel()
		assert.False(t, c.IsValid(catalog.Unknown))
		_, err := c.Features(catalog.Unknown)
		assert.ErrorIs(t, err, catalog.ErrUnknownTier)
	})
}

func TestCatalog_ReturnsCopies(t *testing.T) {
	t.Parallel()

	c := catalog.Default()
	fs, err := c.Features(catalog.Suite)
	require.NoError(t, err)
	fs[0] = "tampered"

	again, err := c.Features(catalog.Suite)
	require.NoError(t, err)
	assert.NotEqual(t, "tampered", again[0])
}

func TestNew_Invariants(t *testing.T) {
	t.Parallel()

	base := func() []catalog.Plan {
		return []catalog.Plan{
			{Tier: "a", Name: "A", PriceMinor: 100, Features: catalog.FeatureSet{"x"}},
			{Tier: "b", Name: "B", PriceMinor: 200, Features: catalog.FeatureSet{"y"}},
		}
	}

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		_, err := catalog.New("v1", "brl", base()...)
		require.NoError(t, err)
	})

	tests := map[string]func([]catalog.Plan) []catalog.Plan{
		"duplicate tier":  func(p []catalog.Plan) []catalog.Plan { p[1].Tier = "a"; return p },
		"duplicate price": func(p []catalog.Plan) []catalog.Plan { p[1].PriceMinor = 100; return p },
		"duplicate name":  func(p []catalog.Plan) []catalog.Plan { p[1].Name = "a"; return p },
		"empty features":  func(p []catalog.Plan) []catalog.Plan { p[0].Features = nil; return p },
		"unknown tier":    func(p []catalog.Plan) []catalog.Plan { p[0].Tier = catalog.Unknown; return p },
		"zero price":      func(p []catalog.Plan) []catalog.Plan { p[0].PriceMinor = 0; return p },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := catalog.New("v1", "brl", mutate(base())...)
			assert.ErrorIs(t, err, catalog.ErrInvalidCatalog)
		})
	}

	t.Run("missing version", func(t *testing.T) {
		t.Parallel()
		_, err := catalog.New("", "brl", base()...)
		assert.ErrorIs(t, err, catalog.ErrInvalidCatalog)
	})
}

func TestLoad(t *testing.T) {
	t.Parallel()

	t.Run("normalizes feature sets", func(t *testing.T) {
		t.Parallel()
		src := `
version: "test"
currency: brl
plans:
  - tier: solo
    name: Solo
    price_minor: 500
    features: [b, a, b, " c "]
`
		c, err := catalog.Load(strings.NewReader(src))
		require.NoError(t, err)
		fs, err := c.Features("solo")
		require.NoError(t, err)
		assert.Equal(t, catalog.FeatureSet{"a", "b", "c"}, fs)
		assert.True(t, fs.Contains("c"))
		assert.False(t, fs.Contains("z"))
	})

	t.Run("malformed yaml", func(t *testing.T) {
		t.Parallel()
		_, err := catalog.Load(strings.NewReader("plans: [oops"))
		assert.ErrorIs(t, err, catalog.ErrFailedToLoad)
	})

	t.Run("from file", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "catalog.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
version: "file"
currency: BRL
plans:
  - tier: solo
    name: Solo
    price_minor: 500
    features: [a]
`), 0o600))

		c, err := catalog.FromConfig(catalog.Config{Path: path})
		require.NoError(t, err)
		assert.Equal(t, "file", c.Version())
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := catalog.FromConfig(catalog.Config{Path: filepath.Join(t.TempDir(), "nope.yaml")})
		assert.ErrorIs(t, err, catalog.ErrFailedToLoad)
	})
}

func TestFeatureSet_Union(t *testing.T) {
	t.Parallel()

	c := catalog.Default()
	growth, _ := c.Features(catalog.Growth)
	suite, _ := c.Features(catalog.Suite)

	union := growth.Union(suite)
	for _, slug := range growth {
		assert.True(t, union.Contains(slug))
	}
	for _, slug := range suite {
		assert.True(t, union.Contains(slug))
	}
}
