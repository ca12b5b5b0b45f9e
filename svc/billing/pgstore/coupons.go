package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/equilibra/platform/pkg/pg"
	"github.com/equilibra/platform/svc/catalog"
	"github.com/equilibra/platform/svc/coupon"
)

const selectCoupon = `
SELECT id, code, active, discount_type, discount_value::float8, valid_from, valid_until,
    max_uses, current_uses, array_to_string(applicable_plans, ','), min_plan_value::float8,
    single_use_per_user, created_at
FROM coupons WHERE upper(code) = upper($1)`

func (s *Store) GetCouponByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	var (
		c          coupon.Coupon
		dtype      string
		validFrom  sql.NullTime
		validUntil sql.NullTime
		maxUses    sql.NullInt64
		plans      sql.NullString
		minValue   sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, selectCoupon, coupon.NormalizeCode(code)).Scan(
		&c.ID, &c.Code, &c.Active, &dtype, &c.DiscountValue, &validFrom, &validUntil,
		&maxUses, &c.CurrentUses, &plans, &minValue, &c.SingleUsePerUser, &c.CreatedAt,
	)
	if pg.IsNotFoundError(err) {
		return nil, coupon.ErrCouponNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}

	c.DiscountType = coupon.DiscountType(dtype)
	c.ValidFrom = validFrom.Time
	c.ValidUntil = validUntil.Time
	if maxUses.Valid {
		n := int(maxUses.Int64)
		c.MaxUses = &n
	}
	if minValue.Valid {
		c.MinPlanValue = &minValue.Float64
	}
	c.ApplicablePlans = splitTiers(plans)
	return &c, nil
}

const hasRedemption = `SELECT EXISTS (SELECT 1 FROM coupon_redemptions WHERE coupon_id = $1 AND user_id = $2)`

func (s *Store) HasRedemption(ctx context.Context, couponID, userID uuid.UUID) (bool, error) {
	var ok bool
	if err := s.db.QueryRowContext(ctx, hasRedemption, couponID, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check coupon redemption: %w", err)
	}
	return ok, nil
}

const insertRedemption = `
INSERT INTO coupon_redemptions (id, coupon_id, user_id, provider, provider_payment_id,
    original_amount, discount_amount, final_amount, plan_tier, single_use_key, used_at)
SELECT $1, c.id, $3, $4, $5, $6, $7, $8, $9, CASE WHEN c.single_use_per_user THEN $3::uuid END, $10
FROM coupons c WHERE c.id = $2`

const incrementUses = `
UPDATE coupons SET current_uses = current_uses + 1
WHERE id = $1 AND (max_uses IS NULL OR current_uses < max_uses)`

// Redeem records the redemption and increments the usage counter in one
// transaction. The conditional UPDATE takes the coupon row lock, so
// concurrent redemptions of a capped coupon cannot overshoot max_uses.
func (s *Store) Redeem(ctx context.Context, r coupon.Redemption) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin redemption: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, insertRedemption,
		r.ID, r.CouponID, r.UserID, r.Provider, r.ProviderPaymentID,
		r.OriginalMinor, r.DiscountMinor, r.FinalMinor, r.PlanTier, r.UsedAt)
	if err != nil {
		return classifyRedemptionError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read redemption result: %w", err)
	}
	if n == 0 {
		return coupon.ErrCouponNotFound
	}

	res, err = tx.ExecContext(ctx, incrementUses, r.CouponID)
	if err != nil {
		return fmt.Errorf("failed to increment coupon uses: %w", err)
	}
	if n, err = res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to read coupon usage result: %w", err)
	}
	if n == 0 {
		return coupon.ErrExhausted
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit redemption: %w", err)
	}
	return nil
}

func classifyRedemptionError(err error) error {
	if !pg.IsDuplicateKeyError(err) {
		return fmt.Errorf("failed to insert redemption: %w", err)
	}
	switch pg.ConstraintName(err) {
	case "coupon_redemptions_single_use_key":
		return coupon.ErrAlreadyUsed
	default:
		return errors.Join(coupon.ErrAlreadyRedeemed, err)
	}
}

const insertCoupon = `
INSERT INTO coupons (id, code, active, discount_type, discount_value, valid_from, valid_until,
    max_uses, current_uses, applicable_plans, min_plan_value, single_use_per_user, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, string_to_array($10, ','), $11, $12, $13)`

// CreateCoupon inserts an administratively defined coupon.
func (s *Store) CreateCoupon(ctx context.Context, c coupon.Coupon) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	var (
		validFrom, validUntil sql.NullTime
		maxUses               sql.NullInt64
		plans                 sql.NullString
		minValue              sql.NullFloat64
	)
	if !c.ValidFrom.IsZero() {
		validFrom = sql.NullTime{Time: c.ValidFrom, Valid: true}
	}
	if !c.ValidUntil.IsZero() {
		validUntil = sql.NullTime{Time: c.ValidUntil, Valid: true}
	}
	if c.MaxUses != nil {
		maxUses = sql.NullInt64{Int64: int64(*c.MaxUses), Valid: true}
	}
	if c.ApplicablePlans != nil {
		ss := make([]string, len(c.ApplicablePlans))
		for i, t := range c.ApplicablePlans {
			ss[i] = string(t)
		}
		plans = sql.NullString{String: strings.Join(ss, ","), Valid: true}
	}
	if c.MinPlanValue != nil {
		minValue = sql.NullFloat64{Float64: *c.MinPlanValue, Valid: true}
	}

	if _, err := s.db.ExecContext(ctx, insertCoupon,
		c.ID, coupon.NormalizeCode(c.Code), c.Active, string(c.DiscountType), c.DiscountValue,
		validFrom, validUntil, maxUses, c.CurrentUses, plans, minValue, c.SingleUsePerUser, c.CreatedAt,
	); err != nil {
		if pg.IsDuplicateKeyError(err) {
			return fmt.Errorf("coupon %s already exists: %w", c.Code, err)
		}
		return fmt.Errorf("failed to create coupon: %w", err)
	}
	return nil
}

// splitTiers decodes array_to_string output; NULL means every tier.
func splitTiers(v sql.NullString) []catalog.PlanTier {
	if !v.Valid {
		return nil
	}
	out := []catalog.PlanTier{}
	for _, t := range strings.Split(v.String, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, catalog.PlanTier(t))
		}
	}
	return out
}
