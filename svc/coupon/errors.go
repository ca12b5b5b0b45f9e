package coupon

import "errors"

var (
	ErrCouponNotFound = errors.New("coupon not found")

	// ErrExhausted is returned by Redeem when the conditional usage increment
	// matched no row because max uses was reached.
	ErrExhausted = errors.New("coupon usage limit reached")

	// ErrAlreadyRedeemed means a redemption for the same payment already exists.
	// Callers processing redelivered payments should treat it as success.
	ErrAlreadyRedeemed = errors.New("coupon already redeemed for this payment")

	// ErrAlreadyUsed means a single-use coupon was already redeemed by the user.
	ErrAlreadyUsed = errors.New("coupon already used by this user")

	ErrInvalidRedemption = errors.New("invalid coupon redemption")
)
