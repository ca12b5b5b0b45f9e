// Package pgstore is the Postgres implementation of the billing and coupon
// stores. Every write is an upsert on a stable key or a conditional update,
// so concurrent duplicate deliveries converge without application locks.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/equilibra/platform/pkg/pg"
	"github.com/equilibra/platform/svc/billing"
	"github.com/equilibra/platform/svc/catalog"
	"github.com/equilibra/platform/svc/coupon"
	"github.com/equilibra/platform/svc/notify"
)

//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory of Migrations holding the SQL files.
const MigrationsDir = "migrations"

type Store struct {
	db *sql.DB
}

var (
	_ billing.Store    = (*Store)(nil)
	_ coupon.Store     = (*Store)(nil)
	_ notify.Directory = (*Store)(nil)
)

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const upsertSubscription = `
INSERT INTO subscriptions (user_id, status, plan_tier, provider_subscription_id, plan_rank, activated_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (user_id) DO UPDATE SET
    status = EXCLUDED.status,
    plan_tier = CASE WHEN subscriptions.status = 'active' AND subscriptions.plan_rank > EXCLUDED.plan_rank
        THEN subscriptions.plan_tier ELSE EXCLUDED.plan_tier END,
    provider_subscription_id = CASE WHEN subscriptions.status = 'active' AND subscriptions.plan_rank > EXCLUDED.plan_rank
        THEN subscriptions.provider_subscription_id ELSE EXCLUDED.provider_subscription_id END,
    plan_rank = CASE WHEN subscriptions.status = 'active'
        THEN GREATEST(subscriptions.plan_rank, EXCLUDED.plan_rank) ELSE EXCLUDED.plan_rank END,
    activated_at = CASE WHEN subscriptions.status = 'active' THEN subscriptions.activated_at ELSE EXCLUDED.activated_at END,
    updated_at = EXCLUDED.updated_at
RETURNING user_id, status, plan_tier, provider_subscription_id, plan_rank, activated_at, updated_at`

func (s *Store) UpsertSubscription(ctx context.Context, rec billing.SubscriptionRecord) (*billing.SubscriptionRecord, error) {
	row := s.db.QueryRowContext(ctx, upsertSubscription,
		rec.UserID, rec.Status, rec.PlanTier, rec.ProviderSubscriptionID, rec.PlanRank, rec.ActivatedAt, rec.UpdatedAt)
	out, err := scanSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return out, nil
}

const selectSubscription = `
SELECT user_id, status, plan_tier, provider_subscription_id, plan_rank, activated_at, updated_at
FROM subscriptions WHERE user_id = $1`

func (s *Store) GetSubscription(ctx context.Context, userID uuid.UUID) (*billing.SubscriptionRecord, error) {
	out, err := scanSubscription(s.db.QueryRowContext(ctx, selectSubscription, userID))
	if pg.IsNotFoundError(err) {
		return nil, billing.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return out, nil
}

func scanSubscription(row *sql.Row) (*billing.SubscriptionRecord, error) {
	var (
		rec       billing.SubscriptionRecord
		status    string
		tier      string
		activated sql.NullTime
	)
	if err := row.Scan(&rec.UserID, &status, &tier, &rec.ProviderSubscriptionID, &rec.PlanRank, &activated, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Status = billing.SubscriptionStatus(status)
	rec.PlanTier = catalog.PlanTier(tier)
	if activated.Valid {
		rec.ActivatedAt = &activated.Time
	}
	return &rec, nil
}

const insertEntitlement = `
INSERT INTO entitlements (user_id, feature_slug, granted_at)
VALUES ($1, $2, $3)
ON CONFLICT (user_id, feature_slug) DO NOTHING`

func (s *Store) GrantEntitlement(ctx context.Context, userID uuid.UUID, slug string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, insertEntitlement, userID, slug, at)
	if err != nil {
		return false, fmt.Errorf("failed to grant entitlement %s: %w", slug, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to grant entitlement %s: %w", slug, err)
	}
	return n == 1, nil
}

const selectEntitlements = `
SELECT user_id, feature_slug, granted_at
FROM entitlements WHERE user_id = $1 ORDER BY feature_slug`

func (s *Store) ListEntitlements(ctx context.Context, userID uuid.UUID) ([]billing.Entitlement, error) {
	rows, err := s.db.QueryContext(ctx, selectEntitlements, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entitlements: %w", err)
	}
	defer rows.Close()

	var out []billing.Entitlement
	for rows.Next() {
		var e billing.Entitlement
		if err := rows.Scan(&e.UserID, &e.FeatureSlug, &e.GrantedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entitlement: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list entitlements: %w", err)
	}
	return out, nil
}

const insertPayment = `
INSERT INTO payments (provider, provider_payment_id, user_id, amount_minor, plan_tier, status, amount_mismatch, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (provider, provider_payment_id) DO NOTHING`

const paymentColumns = `provider, provider_payment_id, user_id, amount_minor, plan_tier, status, amount_mismatch, created_at, completed_at`

const selectPayment = `SELECT ` + paymentColumns + ` FROM payments WHERE provider = $1 AND provider_payment_id = $2`

// UpsertPayment runs the insert and the read as separate statements so the
// read sees a row committed by a concurrent insert of the same key.
func (s *Store) UpsertPayment(ctx context.Context, p billing.PaymentRecord) (*billing.PaymentRecord, error) {
	if _, err := s.db.ExecContext(ctx, insertPayment,
		p.Provider, p.ProviderPaymentID, p.UserID, p.AmountMinor, p.PlanTier, p.Status, p.AmountMismatch, p.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to insert payment: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, selectPayment, p.Provider, p.ProviderPaymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to read payment: %w", err)
	}
	defer rows.Close()

	out, err := scanPayments(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to read payment: %w", err)
	}
	if len(out) == 0 {
		return nil, billing.ErrPaymentNotFound
	}
	return &out[0], nil
}

const completePayment = `
UPDATE payments SET status = 'completed', completed_at = $3
WHERE provider = $1 AND provider_payment_id = $2 AND status <> 'completed'`

const paymentExists = `SELECT EXISTS (SELECT 1 FROM payments WHERE provider = $1 AND provider_payment_id = $2)`

func (s *Store) CompletePayment(ctx context.Context, provider, paymentID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, completePayment, provider, paymentID, at)
	if err != nil {
		return false, fmt.Errorf("failed to complete payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to complete payment: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, paymentExists, provider, paymentID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check payment: %w", err)
	}
	if !exists {
		return false, billing.ErrPaymentNotFound
	}
	return false, nil
}

const selectReview = `SELECT ` + paymentColumns + ` FROM payments
WHERE status = 'needs_review' OR amount_mismatch
ORDER BY created_at LIMIT $1`

func (s *Store) ListPaymentsForReview(ctx context.Context, limit int) ([]billing.PaymentRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, selectReview, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments for review: %w", err)
	}
	defer rows.Close()

	out, err := scanPayments(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments for review: %w", err)
	}
	return out, nil
}

func scanPayments(rows *sql.Rows) ([]billing.PaymentRecord, error) {
	var out []billing.PaymentRecord
	for rows.Next() {
		var (
			p         billing.PaymentRecord
			tier      string
			status    string
			completed sql.NullTime
		)
		if err := rows.Scan(&p.Provider, &p.ProviderPaymentID, &p.UserID, &p.AmountMinor, &tier, &status,
			&p.AmountMismatch, &p.CreatedAt, &completed); err != nil {
			return nil, err
		}
		p.PlanTier = catalog.PlanTier(tier)
		p.Status = billing.PaymentStatus(status)
		if completed.Valid {
			p.CompletedAt = &completed.Time
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const insertIntent = `
INSERT INTO checkout_intents (provider, reference, user_id, plan_tier, coupon_id, coupon_code,
    original_amount, discount_amount, final_amount, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (provider, reference) DO NOTHING`

func (s *Store) SaveIntent(ctx context.Context, in billing.CheckoutIntent) error {
	var couponID uuid.NullUUID
	if in.CouponID != nil {
		couponID = uuid.NullUUID{UUID: *in.CouponID, Valid: true}
	}
	if _, err := s.db.ExecContext(ctx, insertIntent,
		in.Provider, in.Reference, in.UserID, in.PlanTier, couponID, in.CouponCode,
		in.OriginalMinor, in.DiscountMinor, in.FinalMinor, in.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to save checkout intent: %w", err)
	}
	return nil
}

const selectIntent = `
SELECT provider, reference, user_id, plan_tier, coupon_id, coupon_code,
    original_amount, discount_amount, final_amount, created_at
FROM checkout_intents WHERE provider = $1 AND reference = $2`

func (s *Store) GetIntent(ctx context.Context, provider, reference string) (*billing.CheckoutIntent, error) {
	var (
		in       billing.CheckoutIntent
		tier     string
		couponID uuid.NullUUID
	)
	err := s.db.QueryRowContext(ctx, selectIntent, provider, reference).Scan(
		&in.Provider, &in.Reference, &in.UserID, &tier, &couponID, &in.CouponCode,
		&in.OriginalMinor, &in.DiscountMinor, &in.FinalMinor, &in.CreatedAt,
	)
	if pg.IsNotFoundError(err) {
		return nil, billing.ErrIntentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkout intent: %w", err)
	}
	in.PlanTier = catalog.PlanTier(tier)
	if couponID.Valid {
		in.CouponID = &couponID.UUID
	}
	return &in, nil
}

const selectRecipient = `SELECT id, email, display_name FROM profiles WHERE id = $1`

func (s *Store) Recipient(ctx context.Context, userID uuid.UUID) (*notify.Recipient, error) {
	var r notify.Recipient
	err := s.db.QueryRowContext(ctx, selectRecipient, userID).Scan(&r.UserID, &r.Email, &r.Name)
	if pg.IsNotFoundError(err) {
		return nil, notify.ErrRecipientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &r, nil
}
