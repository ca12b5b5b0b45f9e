package memstore_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/equilibra/platform/svc/billing"
	"github.com/equilibra/platform/svc/billing/memstore"
	"github.com/equilibra/platform/svc/catalog"
	"github.com/equilibra/platform/svc/coupon"
)

func TestStore_RedeemRace(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	one := 1
	c := coupon.Coupon{ID: uuid.New(), Code: "LAST", Active: true, DiscountType: coupon.DiscountFixed, DiscountValue: 5, MaxUses: &one}
	store.PutCoupon(c)

	const n = 50
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		exhausted atomic.Int32
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Redeem(context.Background(), coupon.Redemption{
				CouponID:          c.ID,
				UserID:            uuid.New(),
				Provider:          "paddle",
				ProviderPaymentID: fmt.Sprintf("txn_%d", i),
			})
			switch err {
			case nil:
				successes.Add(1)
			case coupon.ErrExhausted:
				exhausted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, successes.Load())
	assert.EqualValues(t, n-1, exhausted.Load())

	stored, err := store.GetCouponByCode(context.Background(), "last")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentUses)
}

func TestStore_RedeemIdempotentPerPayment(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	c := coupon.Coupon{ID: uuid.New(), Code: "MANY", Active: true}
	store.PutCoupon(c)

	r := coupon.Redemption{CouponID: c.ID, UserID: uuid.New(), Provider: "asaas", ProviderPaymentID: "pay_1"}
	require.NoError(t, store.Redeem(context.Background(), r))
	assert.ErrorIs(t, store.Redeem(context.Background(), r), coupon.ErrAlreadyRedeemed)

	stored, err := store.GetCouponByCode(context.Background(), "MANY")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentUses)
}

func TestStore_Subscription(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	ctx := context.Background()
	user := uuid.New()

	_, err := store.GetSubscription(ctx, user)
	assert.ErrorIs(t, err, billing.ErrSubscriptionNotFound)

	first := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	later := first.Add(24 * time.Hour)

	_, err = store.UpsertSubscription(ctx, billing.SubscriptionRecord{UserID: user, Status: billing.StatusActive, PlanTier: catalog.Growth, ActivatedAt: &first, UpdatedAt: first})
	require.NoError(t, err)
	rec, err := store.UpsertSubscription(ctx, billing.SubscriptionRecord{UserID: user, Status: billing.StatusActive, PlanTier: catalog.Suite, ActivatedAt: &later, UpdatedAt: later})
	require.NoError(t, err)

	assert.Equal(t, catalog.Suite, rec.PlanTier)
	require.NotNil(t, rec.ActivatedAt)
	assert.Equal(t, first, *rec.ActivatedAt, "activation time is kept while active")
	assert.Equal(t, later, rec.UpdatedAt)
}

func TestStore_UpsertSubscription_KeepsHigherTier(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	ctx := context.Background()
	user := uuid.New()
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := store.UpsertSubscription(ctx, billing.SubscriptionRecord{UserID: user, Status: billing.StatusActive, PlanTier: catalog.Suite, ProviderSubscriptionID: "txn_suite", PlanRank: 14700, ActivatedAt: &at, UpdatedAt: at})
	require.NoError(t, err)
	later := at.Add(time.Hour)
	rec, err := store.UpsertSubscription(ctx, billing.SubscriptionRecord{UserID: user, Status: billing.StatusActive, PlanTier: catalog.Growth, ProviderSubscriptionID: "txn_growth", PlanRank: 9700, ActivatedAt: &later, UpdatedAt: later})
	require.NoError(t, err)

	assert.Equal(t, catalog.Suite, rec.PlanTier)
	assert.Equal(t, int64(14700), rec.PlanRank)
	assert.Equal(t, "txn_suite", rec.ProviderSubscriptionID)
	assert.Equal(t, later, rec.UpdatedAt)
}

func TestStore_Payments(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	ctx := context.Background()
	p := billing.PaymentRecord{Provider: "mercadopago", ProviderPaymentID: "123", UserID: uuid.New(), AmountMinor: 9700, PlanTier: catalog.Growth, Status: billing.PaymentReceived}

	stored, err := store.UpsertPayment(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, billing.PaymentReceived, stored.Status)

	won, err := store.CompletePayment(ctx, "mercadopago", "123", time.Now())
	require.NoError(t, err)
	assert.True(t, won)

	won, err = store.CompletePayment(ctx, "mercadopago", "123", time.Now())
	require.NoError(t, err)
	assert.False(t, won)

	p.AmountMinor = 1
	stored, err = store.UpsertPayment(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, billing.PaymentCompleted, stored.Status)
	assert.Equal(t, int64(9700), stored.AmountMinor, "first write wins")

	_, err = store.CompletePayment(ctx, "mercadopago", "missing", time.Now())
	assert.ErrorIs(t, err, billing.ErrPaymentNotFound)
}
