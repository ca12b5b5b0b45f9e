// Package memstore is an in-memory billing and coupon store for development
// and tests. Its methods give the same atomicity guarantees as the Postgres
// store by holding one mutex per operation.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/equilibra/platform/svc/billing"
	"github.com/equilibra/platform/svc/coupon"
)

type paymentKey struct{ provider, id string }

type entKey struct {
	user uuid.UUID
	slug string
}

type couponUser struct{ coupon, user uuid.UUID }

// Store implements billing.Store and coupon.Store.
type Store struct {
	mu sync.RWMutex

	subs     map[uuid.UUID]billing.SubscriptionRecord
	ents     map[entKey]billing.Entitlement
	payments map[paymentKey]billing.PaymentRecord
	intents  map[paymentKey]billing.CheckoutIntent

	coupons     map[uuid.UUID]coupon.Coupon
	codes       map[string]uuid.UUID
	redemptions map[paymentKey]coupon.Redemption
	usedBy      map[couponUser]struct{}
}

var (
	_ billing.Store = (*Store)(nil)
	_ coupon.Store  = (*Store)(nil)
)

func New() *Store {
	return &Store{
		subs:        make(map[uuid.UUID]billing.SubscriptionRecord),
		ents:        make(map[entKey]billing.Entitlement),
		payments:    make(map[paymentKey]billing.PaymentRecord),
		intents:     make(map[paymentKey]billing.CheckoutIntent),
		coupons:     make(map[uuid.UUID]coupon.Coupon),
		codes:       make(map[string]uuid.UUID),
		redemptions: make(map[paymentKey]coupon.Redemption),
		usedBy:      make(map[couponUser]struct{}),
	}
}

func (s *Store) UpsertSubscription(_ context.Context, rec billing.SubscriptionRecord) (*billing.SubscriptionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.subs[rec.UserID]; ok && prev.Status == billing.StatusActive {
		rec.ActivatedAt = prev.ActivatedAt
		if prev.PlanRank > rec.PlanRank {
			rec.PlanTier, rec.PlanRank = prev.PlanTier, prev.PlanRank
			rec.ProviderSubscriptionID = prev.ProviderSubscriptionID
		}
	}
	rec.ActivatedAt = cloneTime(rec.ActivatedAt)
	s.subs[rec.UserID] = rec
	out := rec
	out.ActivatedAt = cloneTime(rec.ActivatedAt)
	return &out, nil
}

func (s *Store) GetSubscription(_ context.Context, userID uuid.UUID) (*billing.SubscriptionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.subs[userID]
	if !ok {
		return nil, billing.ErrSubscriptionNotFound
	}
	rec.ActivatedAt = cloneTime(rec.ActivatedAt)
	return &rec, nil
}

func (s *Store) GrantEntitlement(_ context.Context, userID uuid.UUID, slug string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := entKey{userID, slug}
	if _, ok := s.ents[k]; ok {
		return false, nil
	}
	s.ents[k] = billing.Entitlement{UserID: userID, FeatureSlug: slug, GrantedAt: at}
	return true, nil
}

func (s *Store) ListEntitlements(_ context.Context, userID uuid.UUID) ([]billing.Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []billing.Entitlement
	for k, e := range s.ents {
		if k.user == userID {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b billing.Entitlement) int { return cmp.Compare(a.FeatureSlug, b.FeatureSlug) })
	return out, nil
}

func (s *Store) UpsertPayment(_ context.Context, p billing.PaymentRecord) (*billing.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := paymentKey{p.Provider, p.ProviderPaymentID}
	if prev, ok := s.payments[k]; ok {
		prev.CompletedAt = cloneTime(prev.CompletedAt)
		return &prev, nil
	}
	p.CompletedAt = cloneTime(p.CompletedAt)
	s.payments[k] = p
	return &p, nil
}

func (s *Store) CompletePayment(_ context.Context, provider, paymentID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := paymentKey{provider, paymentID}
	p, ok := s.payments[k]
	if !ok {
		return false, billing.ErrPaymentNotFound
	}
	if p.Status == billing.PaymentCompleted {
		return false, nil
	}
	p.Status = billing.PaymentCompleted
	p.CompletedAt = &at
	s.payments[k] = p
	return true, nil
}

func (s *Store) ListPaymentsForReview(_ context.Context, limit int) ([]billing.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []billing.PaymentRecord
	for _, p := range s.payments {
		if p.Status == billing.PaymentNeedsReview || p.AmountMismatch {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b billing.PaymentRecord) int { return a.CreatedAt.Compare(b.CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Payment returns a stored payment, for inspection in tests.
func (s *Store) Payment(provider, paymentID string) (billing.PaymentRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[paymentKey{provider, paymentID}]
	return p, ok
}

func (s *Store) SaveIntent(_ context.Context, in billing.CheckoutIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := paymentKey{in.Provider, in.Reference}
	if _, ok := s.intents[k]; ok {
		return nil
	}
	if in.CouponID != nil {
		id := *in.CouponID
		in.CouponID = &id
	}
	s.intents[k] = in
	return nil
}

func (s *Store) GetIntent(_ context.Context, provider, reference string) (*billing.CheckoutIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	in, ok := s.intents[paymentKey{provider, reference}]
	if !ok {
		return nil, billing.ErrIntentNotFound
	}
	return &in, nil
}

// PutCoupon inserts or replaces a coupon.
func (s *Store) PutCoupon(c coupon.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Code = coupon.NormalizeCode(c.Code)
	c.ApplicablePlans = slices.Clone(c.ApplicablePlans)
	s.coupons[c.ID] = c
	s.codes[c.Code] = c.ID
}

func (s *Store) GetCouponByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.codes[coupon.NormalizeCode(code)]
	if !ok {
		return nil, coupon.ErrCouponNotFound
	}
	c := s.coupons[id]
	c.ApplicablePlans = slices.Clone(c.ApplicablePlans)
	return &c, nil
}

func (s *Store) HasRedemption(_ context.Context, couponID, userID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.usedBy[couponUser{couponID, userID}]
	return ok, nil
}

func (s *Store) Redeem(_ context.Context, r coupon.Redemption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.redemptions[paymentKey{r.Provider, r.ProviderPaymentID}]; ok {
		return coupon.ErrAlreadyRedeemed
	}
	c, ok := s.coupons[r.CouponID]
	if !ok {
		return coupon.ErrCouponNotFound
	}
	if c.SingleUsePerUser {
		if _, used := s.usedBy[couponUser{c.ID, r.UserID}]; used {
			return coupon.ErrAlreadyUsed
		}
	}
	if c.Exhausted() {
		return coupon.ErrExhausted
	}

	c.CurrentUses++
	s.coupons[c.ID] = c
	s.redemptions[paymentKey{r.Provider, r.ProviderPaymentID}] = r
	s.usedBy[couponUser{c.ID, r.UserID}] = struct{}{}
	return nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
