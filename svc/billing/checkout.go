package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/equilibra/platform/pkg/logger"
	"github.com/equilibra/platform/svc/catalog"
	"github.com/equilibra/platform/svc/coupon"
)

// CheckoutConfig holds the URLs providers redirect back to.
type CheckoutConfig struct {
	SuccessURL string `env:"CHECKOUT_SUCCESS_URL" envDefault:"http://localhost:3000/dashboard?checkout=success"`
	CancelURL  string `env:"CHECKOUT_CANCEL_URL" envDefault:"http://localhost:3000/pricing?checkout=cancelled"`
}

// CheckoutInput is a user's request to buy a tier.
type CheckoutInput struct {
	UserID     uuid.UUID
	Email      string
	Provider   string
	PlanTier   catalog.PlanTier
	CouponCode string
	Billing    BillingInfo
}

// CheckoutResult is the hosted checkout to redirect to, with the priced amounts.
type CheckoutResult struct {
	URL           string
	Reference     string
	OriginalMinor int64
	DiscountMinor int64
	FinalMinor    int64
	Coupon        *coupon.Summary
}

// CouponValidator prices a coupon without consuming it.
type CouponValidator interface {
	Validate(ctx context.Context, req coupon.Request) (coupon.Result, error)
}

// CheckoutService opens hosted checkouts and records the intent so that the
// later payment can be tied to the tier the user chose.
type CheckoutService struct {
	catalog   *catalog.Catalog
	coupons   CouponValidator
	intents   IntentStore
	providers map[string]Provider
	cfg       CheckoutConfig
	metrics   *Metrics
	tracer    trace.Tracer
	now       func() time.Time
	logger    *slog.Logger
}

type CheckoutOption func(*CheckoutService)

// WithProviders registers the configured payment providers.
func WithProviders(ps ...Provider) CheckoutOption {
	return func(s *CheckoutService) {
		for _, p := range ps {
			if p != nil {
				s.providers[p.Name()] = p
			}
		}
	}
}

func WithCheckoutMetrics(m *Metrics) CheckoutOption {
	return func(s *CheckoutService) { s.metrics = m }
}

func WithCheckoutLogger(l *slog.Logger) CheckoutOption {
	return func(s *CheckoutService) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithCheckoutClock(now func() time.Time) CheckoutOption {
	return func(s *CheckoutService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewCheckoutService(c *catalog.Catalog, coupons CouponValidator, intents IntentStore, cfg CheckoutConfig, opts ...CheckoutOption) *CheckoutService {
	s := &CheckoutService{
		catalog:   c,
		coupons:   coupons,
		intents:   intents,
		providers: make(map[string]Provider),
		cfg:       cfg,
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Providers returns the names of the configured providers.
func (s *CheckoutService) Providers() []string {
	out := make([]string, 0, len(s.providers))
	for name := range s.providers {
		out = append(out, name)
	}
	return out
}

// Create prices the plan, asks the provider for a hosted checkout and stores
// the intent. A rejected coupon is returned as *coupon.RejectionError.
func (s *CheckoutService) Create(ctx context.Context, in CheckoutInput) (res *CheckoutResult, err error) {
	ctx, span := s.tracer.Start(ctx, "billing.CreateCheckout")
	defer func() {
		result := "created"
		if err != nil {
			result = "failed"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.metrics.checkout(in.Provider, result)
		span.End()
	}()
	span.SetAttributes(
		attribute.String("billing.provider", in.Provider),
		attribute.String("billing.plan_tier", string(in.PlanTier)),
		attribute.String("user.id", in.UserID.String()),
	)

	provider, ok := s.providers[in.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, in.Provider)
	}
	if in.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidPayload)
	}
	plan, ok := s.catalog.Plan(in.PlanTier)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlan, in.PlanTier)
	}

	res = &CheckoutResult{
		OriginalMinor: plan.PriceMinor,
		FinalMinor:    plan.PriceMinor,
	}
	var couponID *uuid.UUID
	if in.CouponCode != "" {
		cr, err := s.coupons.Validate(ctx, coupon.Request{
			Code:      in.CouponCode,
			PlanTier:  in.PlanTier,
			PlanValue: coupon.ToMajor(plan.PriceMinor),
			UserID:    in.UserID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to validate coupon: %w", err)
		}
		if err := cr.Err(); err != nil {
			return nil, err
		}
		id := cr.CouponID()
		couponID = &id
		res.DiscountMinor = cr.DiscountMinor
		res.FinalMinor = cr.FinalMinor
		res.Coupon = cr.Coupon
	}
	if res.FinalMinor <= 0 {
		return nil, &coupon.RejectionError{
			Reason:  coupon.ReasonNoPaymentDue,
			Message: "coupon covers the full price, checkout requires a payment",
		}
	}

	checkoutID := uuid.New().String()
	session, err := provider.CreateCheckout(ctx, CheckoutRequest{
		CheckoutID:  checkoutID,
		UserID:      in.UserID,
		Email:       in.Email,
		PlanTier:    plan.Tier,
		PlanName:    plan.Name,
		AmountMinor: res.FinalMinor,
		Currency:    s.catalog.Currency(),
		Billing:     in.Billing,
		SuccessURL:  s.cfg.SuccessURL,
		CancelURL:   s.cfg.CancelURL,
	})
	if err != nil {
		if errors.Is(err, ErrProviderRejected) || errors.Is(err, ErrTransient) {
			return nil, err
		}
		return nil, errors.Join(ErrProviderRejected, err)
	}
	if session.Reference == "" {
		session.Reference = checkoutID
	}

	if err := s.intents.SaveIntent(ctx, CheckoutIntent{
		Provider:      provider.Name(),
		Reference:     session.Reference,
		UserID:        in.UserID,
		PlanTier:      plan.Tier,
		CouponID:      couponID,
		CouponCode:    coupon.NormalizeCode(in.CouponCode),
		OriginalMinor: res.OriginalMinor,
		DiscountMinor: res.DiscountMinor,
		FinalMinor:    res.FinalMinor,
		CreatedAt:     s.now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("failed to save checkout intent: %w", err)
	}

	s.logger.InfoContext(ctx, "checkout created",
		logger.Component("checkout"),
		logger.Provider(provider.Name()),
		logger.UserID(in.UserID),
		logger.PlanTier(plan.Tier),
		logger.CouponCode(in.CouponCode),
		logger.Amount(res.FinalMinor),
	)

	res.URL = session.URL
	res.Reference = session.Reference
	return res, nil
}
