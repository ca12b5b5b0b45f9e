package billing

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/equilibra/platform/svc/catalog"
)

// Provider names as they appear in webhook routes and storage keys.
const (
	ProviderPaddle      = "paddle"
	ProviderAsaas       = "asaas"
	ProviderMercadoPago = "mercadopago"
)

// Metadata keys echoed back by providers that support custom data.
const (
	MetaPlanTier   = "plan_tier"
	MetaCheckoutID = "checkout_id"
	MetaUserID     = "user_id"
)

// PaymentConfirmation is the provider-independent "payment captured" fact.
// (Provider, ProviderPaymentID) is the idempotency key.
type PaymentConfirmation struct {
	Provider          string
	ProviderPaymentID string
	UserID            uuid.UUID
	AmountMinor       int64
	RawDescription    string
	OccurredAt        time.Time

	// CheckoutRef identifies the checkout intent that produced the payment.
	CheckoutRef string
	Metadata    map[string]string
}

// DeclaredTier returns the plan tier echoed in metadata, if any.
func (c PaymentConfirmation) DeclaredTier() catalog.PlanTier {
	return catalog.PlanTier(c.Metadata[MetaPlanTier])
}

type SubscriptionStatus string

const (
	StatusNone   SubscriptionStatus = "none"
	StatusActive SubscriptionStatus = "active"
)

// SubscriptionRecord is the per-user subscription state. Never deleted.
type SubscriptionRecord struct {
	UserID                 uuid.UUID
	Status                 SubscriptionStatus
	PlanTier               catalog.PlanTier
	ProviderSubscriptionID string
	// PlanRank orders tiers. An upsert never replaces the tier of an active
	// record with a lower-ranked one.
	PlanRank    int64
	ActivatedAt *time.Time
	UpdatedAt   time.Time
}

// Entitlement grants one feature to one user.
type Entitlement struct {
	UserID      uuid.UUID
	FeatureSlug string
	GrantedAt   time.Time
}

type PaymentStatus string

const (
	PaymentReceived    PaymentStatus = "received"
	PaymentCompleted   PaymentStatus = "completed"
	PaymentNeedsReview PaymentStatus = "needs_review"
)

// PaymentRecord is the idempotency log of processed confirmations.
type PaymentRecord struct {
	Provider          string
	ProviderPaymentID string
	UserID            uuid.UUID
	AmountMinor       int64
	PlanTier          catalog.PlanTier
	Status            PaymentStatus
	AmountMismatch    bool
	CreatedAt         time.Time
	CompletedAt       *time.Time
}

// CheckoutIntent records what a user asked to buy, keyed by the reference the
// provider echoes back on the payment.
type CheckoutIntent struct {
	Provider      string
	Reference     string
	UserID        uuid.UUID
	PlanTier      catalog.PlanTier
	CouponID      *uuid.UUID
	CouponCode    string
	OriginalMinor int64
	DiscountMinor int64
	FinalMinor    int64
	CreatedAt     time.Time
}

// BillingInfo is the payer data some providers require to create a customer.
type BillingInfo struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	TaxID    string `json:"taxId"`
	Phone    string `json:"phone"`
	PostCode string `json:"postCode"`
}

// CheckoutRequest is what a provider needs to open a hosted checkout.
type CheckoutRequest struct {
	CheckoutID  string
	UserID      uuid.UUID
	Email       string
	PlanTier    catalog.PlanTier
	PlanName    string
	AmountMinor int64
	Currency    string
	Billing     BillingInfo
	SuccessURL  string
	CancelURL   string
}

// CheckoutSession is the provider's answer: where to send the user and the
// reference its payments will carry.
type CheckoutSession struct {
	URL       string
	Reference string
}

// Provider adapts one payment gateway.
type Provider interface {
	Name() string
	// Authenticate verifies the webhook origin. Returns ErrUnauthorized on mismatch.
	Authenticate(r *http.Request, body []byte) error
	// Parse turns a webhook body into a confirmation. Non-capture events yield
	// ErrIgnoredEvent, bodies that are not JSON yield ErrInvalidPayload, and
	// captured payments missing the user reference or amount yield
	// ErrInvalidConfirmation.
	Parse(ctx context.Context, body []byte) (*PaymentConfirmation, error)
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
}

// PurchaseEvent is delivered to notifiers after a payment completes.
type PurchaseEvent struct {
	UserID      uuid.UUID          `json:"user_id"`
	Provider    string             `json:"provider"`
	PaymentID   string             `json:"payment_id"`
	PlanTier    catalog.PlanTier   `json:"plan_tier"`
	PlanName    string             `json:"plan_name"`
	AmountMinor int64              `json:"amount_minor"`
	Currency    string             `json:"currency"`
	Features    catalog.FeatureSet `json:"features"`
	CouponCode  string             `json:"coupon_code,omitempty"`
	OccurredAt  time.Time          `json:"occurred_at"`
}

// Notifier sends purchase confirmations. Failures never affect the grant.
type Notifier interface {
	NotifyPurchase(ctx context.Context, ev PurchaseEvent) error
}
