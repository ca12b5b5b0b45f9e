package coupon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/equilibra/platform/pkg/logger"
	"github.com/equilibra/platform/svc/catalog"
)

// Reason is a machine-readable rejection cause.
type Reason string

const (
	ReasonNotFound          Reason = "not_found"
	ReasonInactive          Reason = "inactive"
	ReasonNotYetValid       Reason = "not_yet_valid"
	ReasonExpired           Reason = "expired"
	ReasonExhausted         Reason = "exhausted"
	ReasonPlanNotApplicable Reason = "plan_not_applicable"
	ReasonPlanValueTooLow   Reason = "plan_value_too_low"
	ReasonAlreadyUsed       Reason = "already_used"
	// ReasonNoPaymentDue is raised at checkout when the discount covers the
	// whole price; providers cannot charge a zero amount.
	ReasonNoPaymentDue Reason = "no_payment_due"
)

// Request asks whether Code can discount PlanValue (major units) for PlanTier.
type Request struct {
	Code      string
	PlanTier  catalog.PlanTier
	PlanValue float64
	UserID    uuid.UUID
}

// Result is either a priced redemption or a rejection reason.
// Amounts are in minor units.
type Result struct {
	Valid         bool
	Reason        Reason
	Message       string
	OriginalMinor int64
	DiscountMinor int64
	FinalMinor    int64
	Coupon        *Summary
	couponID      uuid.UUID
}

// CouponID returns the id of the validated coupon, or uuid.Nil when rejected.
func (r Result) CouponID() uuid.UUID { return r.couponID }

// Err returns a *RejectionError for invalid results and nil otherwise.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return &RejectionError{Reason: r.Reason, Message: r.Message}
}

// RejectionError carries a business-rule rejection to callers that need an error.
type RejectionError struct {
	Reason  Reason
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("coupon rejected: %s", e.Message)
}

// Service validates coupons on the checkout path and commits their usage
// once a discounted payment is confirmed.
type Service struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a coupon service. Panics if store is nil.
func NewService(store Store, opts ...Option) *Service {
	if store == nil {
		panic("coupon: Store is required")
	}
	s := &Service{
		store:  store,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate checks the coupon rules in order and prices the discount.
// Business-rule violations come back as an invalid Result; the error is
// reserved for storage failures. Validate never writes.
func (s *Service) Validate(ctx context.Context, req Request) (Result, error) {
	planMinor := ToMinor(req.PlanValue)
	res := Result{OriginalMinor: planMinor, FinalMinor: planMinor}

	code := NormalizeCode(req.Code)
	if code == "" {
		return reject(res, ReasonNotFound, "coupon not found"), nil
	}

	c, err := s.store.GetCouponByCode(ctx, code)
	if errors.Is(err, ErrCouponNotFound) {
		return reject(res, ReasonNotFound, "coupon not found"), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to load coupon: %w", err)
	}

	now := s.now()
	switch {
	case !c.Active:
		return reject(res, ReasonInactive, "coupon is inactive"), nil
	case !c.ValidFrom.IsZero() && now.Before(c.ValidFrom):
		return reject(res, ReasonNotYetValid, "coupon is not yet valid"), nil
	case !c.ValidUntil.IsZero() && now.After(c.ValidUntil):
		return reject(res, ReasonExpired, "coupon has expired"), nil
	case c.Exhausted():
		return reject(res, ReasonExhausted, "coupon usage limit reached"), nil
	case !c.AppliesTo(req.PlanTier):
		return reject(res, ReasonPlanNotApplicable, "coupon is not applicable to this plan"), nil
	case c.MinPlanValue != nil && req.PlanValue < *c.MinPlanValue:
		return reject(res, ReasonPlanValueTooLow,
			fmt.Sprintf("plan value too low, minimum is %.2f", *c.MinPlanValue)), nil
	}

	if c.SingleUsePerUser {
		used, err := s.store.HasRedemption(ctx, c.ID, req.UserID)
		if err != nil {
			return Result{}, fmt.Errorf("failed to check coupon redemptions: %w", err)
		}
		if used {
			return reject(res, ReasonAlreadyUsed, "coupon was already used"), nil
		}
	}

	discount := c.Discount(planMinor)
	return Result{
		Valid:         true,
		OriginalMinor: planMinor,
		DiscountMinor: discount,
		FinalMinor:    max(0, planMinor-discount),
		Coupon:        c.Summary(),
		couponID:      c.ID,
	}, nil
}

// Redeem commits one coupon use for a confirmed payment.
// ErrAlreadyRedeemed is returned for a redelivered payment.
func (s *Service) Redeem(ctx context.Context, r Redemption) error {
	if r.CouponID == uuid.Nil || r.UserID == uuid.Nil || r.ProviderPaymentID == "" || r.Provider == "" {
		return ErrInvalidRedemption
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.UsedAt.IsZero() {
		r.UsedAt = s.now().UTC()
	}

	err := s.store.Redeem(ctx, r)
	switch {
	case err == nil:
		s.logger.InfoContext(ctx, "coupon redeemed",
			logger.Component("coupon"),
			logger.UserID(r.UserID),
			logger.Provider(r.Provider),
			logger.PaymentID(r.ProviderPaymentID),
			slog.String("coupon_id", r.CouponID.String()),
		)
		return nil
	case errors.Is(err, ErrAlreadyRedeemed):
		return err
	case errors.Is(err, ErrExhausted), errors.Is(err, ErrAlreadyUsed):
		s.logger.WarnContext(ctx, "coupon redemption rejected",
			logger.Component("coupon"),
			logger.UserID(r.UserID),
			logger.PaymentID(r.ProviderPaymentID),
			slog.String("coupon_id", r.CouponID.String()),
			logger.Error(err),
		)
		return err
	default:
		return fmt.Errorf("failed to redeem coupon: %w", err)
	}
}

func reject(res Result, reason Reason, msg string) Result {
	res.Valid = false
	res.Reason = reason
	res.Message = msg
	res.DiscountMinor = 0
	return res
}
