package coupon

import (
	"context"

	"github.com/google/uuid"
)

// Store persists coupons and their redemptions.
type Store interface {
	// GetCouponByCode looks a coupon up by its normalized code.
	// Returns ErrCouponNotFound if no coupon matches.
	GetCouponByCode(ctx context.Context, code string) (*Coupon, error)

	// HasRedemption reports whether userID already redeemed couponID.
	HasRedemption(ctx context.Context, couponID, userID uuid.UUID) (bool, error)

	// Redeem appends the redemption and increments the coupon usage counter
	// in one atomic step. The increment must be a conditional update
	// (current_uses < max_uses), never a read followed by a write.
	// Returns ErrAlreadyRedeemed, ErrAlreadyUsed or ErrExhausted.
	Redeem(ctx context.Context, r Redemption) error
}
