package coupon

import (
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/equilibra/platform/svc/catalog"
)

// DiscountType selects how DiscountValue is applied.
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed" // DiscountValue in major currency units
)

// Coupon is an administratively created discount code.
type Coupon struct {
	ID            uuid.UUID
	Code          string // unique, compared case-insensitively
	Active        bool
	DiscountType  DiscountType
	DiscountValue float64
	ValidFrom     time.Time // zero means no lower bound
	ValidUntil    time.Time // zero means no upper bound
	MaxUses       *int      // nil means unlimited
	CurrentUses   int

	// ApplicablePlans restricts the coupon to some tiers; nil means all tiers.
	ApplicablePlans []catalog.PlanTier

	// MinPlanValue is the minimum plan value in major units; nil means none.
	MinPlanValue *float64

	// SingleUsePerUser limits every user to one redemption (first purchase codes).
	SingleUsePerUser bool

	CreatedAt time.Time
}

// Exhausted reports whether the usage cap is reached.
func (c *Coupon) Exhausted() bool {
	return c.MaxUses != nil && c.CurrentUses >= *c.MaxUses
}

// AppliesTo reports whether the coupon can be used for tier.
func (c *Coupon) AppliesTo(tier catalog.PlanTier) bool {
	return c.ApplicablePlans == nil || slices.Contains(c.ApplicablePlans, tier)
}

// Discount computes the discount for planMinor, never exceeding it.
func (c *Coupon) Discount(planMinor int64) int64 {
	if planMinor <= 0 {
		return 0
	}

	var d int64
	switch c.DiscountType {
	case DiscountPercentage:
		d = int64(math.Round(float64(planMinor) * c.DiscountValue / 100))
	case DiscountFixed:
		d = ToMinor(c.DiscountValue)
	}
	return min(max(d, 0), planMinor)
}

// Summary is the public view of a coupon returned with a valid result.
type Summary struct {
	ID            uuid.UUID    `json:"id"`
	Code          string       `json:"code"`
	DiscountType  DiscountType `json:"discountType"`
	DiscountValue float64      `json:"discountValue"`
}

func (c *Coupon) Summary() *Summary {
	return &Summary{
		ID:            c.ID,
		Code:          c.Code,
		DiscountType:  c.DiscountType,
		DiscountValue: c.DiscountValue,
	}
}

// Redemption is the append-only record of one coupon use.
// A payment (provider, provider payment id) redeems at most one coupon once.
type Redemption struct {
	ID                uuid.UUID
	CouponID          uuid.UUID
	UserID            uuid.UUID
	Provider          string
	ProviderPaymentID string
	OriginalMinor     int64
	DiscountMinor     int64
	FinalMinor        int64
	PlanTier          catalog.PlanTier
	UsedAt            time.Time
}

// NormalizeCode trims and upper-cases a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ToMinor converts a major-unit amount to minor units, rounding half away from zero.
func ToMinor(v float64) int64 {
	return int64(math.Round(v * 100))
}

// ToMajor converts minor units to a major-unit amount.
func ToMajor(v int64) float64 {
	return float64(v) / 100
}
