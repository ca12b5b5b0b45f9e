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

	"github.com/equilibra/platform/pkg/async"
	"github.com/equilibra/platform/pkg/logger"
	"github.com/equilibra/platform/svc/catalog"
	"github.com/equilibra/platform/svc/coupon"
)

const tracerName = "github.com/equilibra/platform/svc/billing"

type OutcomeStatus string

const (
	OutcomeGranted     OutcomeStatus = "granted"
	OutcomeDuplicate   OutcomeStatus = "duplicate"
	OutcomeNeedsReview OutcomeStatus = "needs_review"
)

// Outcome describes what reconciling one confirmation did.
type Outcome struct {
	Status     OutcomeStatus
	PlanTier   catalog.PlanTier
	Resolution Resolution
	Grant      GrantResult

	// Notification is set when this call sent the purchase notification.
	Notification *async.Future[struct{}]
}

// Redeemer commits coupon usage for a confirmed payment.
type Redeemer interface {
	Redeem(ctx context.Context, r coupon.Redemption) error
}

// Reconciler turns payment confirmations into granted entitlements.
// Every step is idempotent on (provider, provider payment id), so duplicate
// or concurrent deliveries converge on the same state.
type Reconciler struct {
	catalog       *catalog.Catalog
	store         Store
	resolver      *PlanResolver
	grantor       *Grantor
	redeemer      Redeemer
	notifier      Notifier
	notifyTimeout time.Duration
	pending       async.Group
	metrics       *Metrics
	tracer        trace.Tracer
	now           func() time.Time
	logger        *slog.Logger
}

type ReconcilerOption func(*Reconciler)

func WithRedeemer(r Redeemer) ReconcilerOption {
	return func(rc *Reconciler) { rc.redeemer = r }
}

func WithNotifier(n Notifier) ReconcilerOption {
	return func(rc *Reconciler) { rc.notifier = n }
}

// WithNotifyTimeout bounds the background purchase notification.
func WithNotifyTimeout(d time.Duration) ReconcilerOption {
	return func(rc *Reconciler) {
		if d > 0 {
			rc.notifyTimeout = d
		}
	}
}

func WithMetrics(m *Metrics) ReconcilerOption {
	return func(rc *Reconciler) { rc.metrics = m }
}

func WithTracer(t trace.Tracer) ReconcilerOption {
	return func(rc *Reconciler) {
		if t != nil {
			rc.tracer = t
		}
	}
}

func WithClock(now func() time.Time) ReconcilerOption {
	return func(rc *Reconciler) {
		if now != nil {
			rc.now = now
		}
	}
}

func WithLogger(l *slog.Logger) ReconcilerOption {
	return func(rc *Reconciler) {
		if l != nil {
			rc.logger = l
		}
	}
}

func NewReconciler(c *catalog.Catalog, store Store, opts ...ReconcilerOption) *Reconciler {
	rc := &Reconciler{
		catalog:       c,
		store:         store,
		resolver:      NewPlanResolver(c),
		notifyTimeout: 10 * time.Second,
		tracer:        otel.Tracer(tracerName),
		now:           time.Now,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(rc)
	}
	rc.grantor = NewGrantor(c, store, store, WithGrantorLogger(rc.logger), WithGrantorClock(rc.now))
	return rc
}

// Reconcile processes one confirmation. Permanent problems are reported as
// ErrInvalidConfirmation; any other error is transient and the provider
// should redeliver.
func (rc *Reconciler) Reconcile(ctx context.Context, pc PaymentConfirmation) (out Outcome, err error) {
	start := rc.now()
	ctx, span := rc.tracer.Start(ctx, "billing.Reconcile")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("billing.outcome", string(out.Status)))
			rc.metrics.reconcile(pc.Provider, out.Status, rc.now().Sub(start))
		}
		span.End()
	}()
	span.SetAttributes(
		attribute.String("billing.provider", pc.Provider),
		attribute.String("billing.payment_id", pc.ProviderPaymentID),
		attribute.String("user.id", pc.UserID.String()),
	)

	if err := validateConfirmation(pc); err != nil {
		return Outcome{}, err
	}

	log := rc.logger.With(
		logger.Component("reconciler"),
		logger.Provider(pc.Provider),
		logger.PaymentID(pc.ProviderPaymentID),
		logger.UserID(pc.UserID),
	)

	intent, err := rc.loadIntent(ctx, pc)
	if err != nil {
		return Outcome{}, err
	}
	if intent != nil && intent.UserID != pc.UserID {
		log.WarnContext(ctx, "checkout intent belongs to another user, ignoring it",
			slog.String("intent_user_id", intent.UserID.String()))
		intent = nil
	}

	in := ResolveInput{
		DeclaredTier: pc.DeclaredTier(),
		AmountMinor:  pc.AmountMinor,
		Description:  pc.RawDescription,
	}
	if intent != nil {
		in.DeclaredTier = intent.PlanTier
		in.ExpectedMinor = intent.FinalMinor
	}
	res := rc.resolver.Resolve(in)
	out = Outcome{PlanTier: res.Tier, Resolution: res}

	status := PaymentReceived
	if !res.Resolved() {
		status = PaymentNeedsReview
	}
	stored, err := rc.store.UpsertPayment(ctx, PaymentRecord{
		Provider:          pc.Provider,
		ProviderPaymentID: pc.ProviderPaymentID,
		UserID:            pc.UserID,
		AmountMinor:       pc.AmountMinor,
		PlanTier:          res.Tier,
		Status:            status,
		AmountMismatch:    res.Mismatch,
		CreatedAt:         rc.now().UTC(),
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to record payment: %w", err)
	}

	if res.Mismatch {
		log.WarnContext(ctx, "payment amount differs from the declared plan",
			logger.PlanTier(res.Tier), logger.Amount(pc.AmountMinor))
	}

	if !res.Resolved() {
		log.WarnContext(ctx, "payment could not be tied to a plan, flagged for review",
			logger.Amount(pc.AmountMinor), slog.String("description", pc.RawDescription))
		out.Status = OutcomeNeedsReview
		return out, nil
	}

	if stored.Status == PaymentCompleted {
		out.Status = OutcomeDuplicate
		log.InfoContext(ctx, "payment already reconciled", logger.PlanTier(res.Tier))
		return out, nil
	}

	grant, err := rc.grantor.Grant(ctx, GrantRequest{
		UserID:                 pc.UserID,
		PlanTier:               res.Tier,
		ProviderSubscriptionID: pc.ProviderPaymentID,
	})
	out.Grant = grant
	if err != nil {
		return out, fmt.Errorf("failed to grant plan %s: %w", res.Tier, err)
	}
	rc.metrics.granted(len(grant.Granted))
	if !grant.Complete() {
		// Some features failed: leave the payment open so a redelivery retries them.
		return out, fmt.Errorf("%w: %d features not granted", ErrGrantFailed, len(grant.Failed))
	}

	if intent != nil && intent.CouponID != nil {
		rc.redeem(ctx, log, pc, intent)
	}

	won, err := rc.store.CompletePayment(ctx, pc.Provider, pc.ProviderPaymentID, rc.now().UTC())
	if err != nil {
		return out, fmt.Errorf("failed to complete payment: %w", err)
	}
	if !won {
		out.Status = OutcomeDuplicate
		return out, nil
	}

	out.Status = OutcomeGranted
	log.InfoContext(ctx, "plan granted",
		logger.PlanTier(res.Tier),
		slog.String("source", string(res.Source)),
		slog.Int("granted", len(grant.Granted)),
		slog.Int("existing", len(grant.Existing)),
	)

	if rc.notifier != nil {
		out.Notification = rc.notify(ctx, pc, res.Tier, intent)
	}
	return out, nil
}

// Wait blocks until background notifications finish or ctx is done.
func (rc *Reconciler) Wait(ctx context.Context) error {
	return rc.pending.Wait(ctx)
}

func (rc *Reconciler) loadIntent(ctx context.Context, pc PaymentConfirmation) (*CheckoutIntent, error) {
	if pc.CheckoutRef == "" {
		return nil, nil
	}
	intent, err := rc.store.GetIntent(ctx, pc.Provider, pc.CheckoutRef)
	if errors.Is(err, ErrIntentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkout intent: %w", err)
	}
	return intent, nil
}

func (rc *Reconciler) redeem(ctx context.Context, log *slog.Logger, pc PaymentConfirmation, intent *CheckoutIntent) {
	if rc.redeemer == nil {
		return
	}
	err := rc.redeemer.Redeem(ctx, coupon.Redemption{
		CouponID:          *intent.CouponID,
		UserID:            pc.UserID,
		Provider:          pc.Provider,
		ProviderPaymentID: pc.ProviderPaymentID,
		OriginalMinor:     intent.OriginalMinor,
		DiscountMinor:     intent.DiscountMinor,
		FinalMinor:        intent.FinalMinor,
		PlanTier:          intent.PlanTier,
	})
	switch {
	case err == nil, errors.Is(err, coupon.ErrAlreadyRedeemed):
	default:
		// The user paid the discounted price; the grant stands and the
		// coupon is left for manual review.
		log.ErrorContext(ctx, "coupon redemption failed after payment",
			logger.CouponCode(intent.CouponCode), logger.Error(err))
	}
}

func (rc *Reconciler) notify(ctx context.Context, pc PaymentConfirmation, tier catalog.PlanTier, intent *CheckoutIntent) *async.Future[struct{}] {
	plan, _ := rc.catalog.Plan(tier)
	ev := PurchaseEvent{
		UserID:      pc.UserID,
		Provider:    pc.Provider,
		PaymentID:   pc.ProviderPaymentID,
		PlanTier:    tier,
		PlanName:    plan.Name,
		AmountMinor: pc.AmountMinor,
		Currency:    rc.catalog.Currency(),
		Features:    plan.Features,
		OccurredAt:  pc.OccurredAt,
	}
	if intent != nil {
		ev.CouponCode = intent.CouponCode
	}

	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rc.notifyTimeout)
	return async.Go(&rc.pending, nctx, ev, func(ctx context.Context, ev PurchaseEvent) (struct{}, error) {
		defer cancel()
		if err := rc.notifier.NotifyPurchase(ctx, ev); err != nil {
			rc.logger.WarnContext(ctx, "purchase notification failed",
				logger.Component("reconciler"),
				logger.UserID(ev.UserID),
				logger.PaymentID(ev.PaymentID),
				logger.Error(err),
			)
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
}

func validateConfirmation(pc PaymentConfirmation) error {
	switch {
	case pc.Provider == "":
		return fmt.Errorf("%w: provider is required", ErrInvalidConfirmation)
	case pc.ProviderPaymentID == "":
		return fmt.Errorf("%w: payment id is required", ErrInvalidConfirmation)
	case pc.UserID == uuid.Nil:
		return fmt.Errorf("%w: user id is required", ErrInvalidConfirmation)
	case pc.AmountMinor <= 0:
		return fmt.Errorf("%w: amount must be positive", ErrInvalidConfirmation)
	}
	return nil
}
