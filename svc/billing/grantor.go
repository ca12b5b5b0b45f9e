package billing

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

// GrantRequest activates PlanTier for UserID.
type GrantRequest struct {
	UserID                 uuid.UUID
	PlanTier               catalog.PlanTier
	ProviderSubscriptionID string
}

// GrantResult splits the tier's features by what happened to each of them.
type GrantResult struct {
	Subscription *SubscriptionRecord
	Granted      []string
	Existing     []string
	Failed       map[string]error
}

// Complete reports whether every feature is now granted.
func (r GrantResult) Complete() bool { return len(r.Failed) == 0 }

// Grantor applies a resolved tier: it activates the subscription and grants
// the tier's features. Entitlements are additive; nothing is revoked here.
type Grantor struct {
	catalog *catalog.Catalog
	subs    SubscriptionStore
	ents    EntitlementStore
	now     func() time.Time
	logger  *slog.Logger
}

type GrantorOption func(*Grantor)

func WithGrantorLogger(l *slog.Logger) GrantorOption {
	return func(g *Grantor) {
		if l != nil {
			g.logger = l
		}
	}
}

func WithGrantorClock(now func() time.Time) GrantorOption {
	return func(g *Grantor) {
		if now != nil {
			g.now = now
		}
	}
}

func NewGrantor(c *catalog.Catalog, subs SubscriptionStore, ents EntitlementStore, opts ...GrantorOption) *Grantor {
	g := &Grantor{
		catalog: c,
		subs:    subs,
		ents:    ents,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Grant is idempotent: replaying it yields no new rows and the same record.
// Per-feature failures are collected in GrantResult.Failed; an error is
// returned only when the subscription cannot be written or every feature failed.
func (g *Grantor) Grant(ctx context.Context, req GrantRequest) (GrantResult, error) {
	if req.UserID == uuid.Nil {
		return GrantResult{}, fmt.Errorf("%w: user id is required", ErrInvalidConfirmation)
	}
	features, err := g.catalog.Features(req.PlanTier)
	if err != nil {
		return GrantResult{}, errors.Join(ErrUnknownPlan, err)
	}

	plan, _ := g.catalog.Plan(req.PlanTier)
	now := g.now().UTC()
	sub, err := g.subs.UpsertSubscription(ctx, SubscriptionRecord{
		UserID:                 req.UserID,
		Status:                 StatusActive,
		PlanTier:               req.PlanTier,
		ProviderSubscriptionID: req.ProviderSubscriptionID,
		PlanRank:               plan.PriceMinor,
		ActivatedAt:            &now,
		UpdatedAt:              now,
	})
	if err != nil {
		return GrantResult{}, fmt.Errorf("failed to upsert subscription: %w", err)
	}

	res := GrantResult{Subscription: sub}
	for _, slug := range features {
		created, err := g.ents.GrantEntitlement(ctx, req.UserID, slug, now)
		switch {
		case err != nil:
			if res.Failed == nil {
				res.Failed = make(map[string]error)
			}
			res.Failed[slug] = err
			g.logger.ErrorContext(ctx, "failed to grant feature",
				logger.Component("grantor"),
				logger.UserID(req.UserID),
				logger.PlanTier(req.PlanTier),
				slog.String("feature", slug),
				logger.Error(err),
			)
		case created:
			res.Granted = append(res.Granted, slug)
		default:
			res.Existing = append(res.Existing, slug)
		}
	}

	if len(res.Failed) == len(features) {
		errs := make([]error, 0, len(res.Failed)+1)
		errs = append(errs, ErrGrantFailed)
		for _, e := range res.Failed {
			errs = append(errs, e)
		}
		return res, errors.Join(errs...)
	}
	return res, nil
}
