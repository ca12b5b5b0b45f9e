package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type SubscriptionStore interface {
	// UpsertSubscription activates the user's subscription. ActivatedAt is only
	// replaced when the stored record is absent or not active.
	UpsertSubscription(ctx context.Context, rec SubscriptionRecord) (*SubscriptionRecord, error)
	GetSubscription(ctx context.Context, userID uuid.UUID) (*SubscriptionRecord, error)
}

type EntitlementStore interface {
	// GrantEntitlement inserts the pair if absent and reports whether it was created.
	GrantEntitlement(ctx context.Context, userID uuid.UUID, slug string, at time.Time) (bool, error)
	ListEntitlements(ctx context.Context, userID uuid.UUID) ([]Entitlement, error)
}

type PaymentStore interface {
	// UpsertPayment inserts the record if its key is new and returns the stored row.
	UpsertPayment(ctx context.Context, p PaymentRecord) (*PaymentRecord, error)
	// CompletePayment marks the payment completed and reports whether this call
	// performed the transition.
	CompletePayment(ctx context.Context, provider, paymentID string, at time.Time) (bool, error)
	ListPaymentsForReview(ctx context.Context, limit int) ([]PaymentRecord, error)
}

type IntentStore interface {
	SaveIntent(ctx context.Context, in CheckoutIntent) error
	GetIntent(ctx context.Context, provider, reference string) (*CheckoutIntent, error)
}

// Store aggregates every persistence concern of the billing service.
type Store interface {
	SubscriptionStore
	EntitlementStore
	PaymentStore
	IntentStore
}
