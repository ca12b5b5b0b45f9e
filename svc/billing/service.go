package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// SubscriptionView is a user's current subscription and unlocked features.
type SubscriptionView struct {
	Subscription SubscriptionRecord
	Features     []string
}

// Service answers read queries about a user's billing state.
type Service struct {
	subs SubscriptionStore
	ents EntitlementStore
}

func NewService(subs SubscriptionStore, ents EntitlementStore) *Service {
	return &Service{subs: subs, ents: ents}
}

// Subscription returns the user's record, or a "none" record when the user
// never paid.
func (s *Service) Subscription(ctx context.Context, userID uuid.UUID) (*SubscriptionView, error) {
	rec, err := s.subs.GetSubscription(ctx, userID)
	switch {
	case errors.Is(err, ErrSubscriptionNotFound):
		rec = &SubscriptionRecord{UserID: userID, Status: StatusNone}
	case err != nil:
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}

	ents, err := s.ents.ListEntitlements(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entitlements: %w", err)
	}
	features := make([]string, 0, len(ents))
	for _, e := range ents {
		features = append(features, e.FeatureSlug)
	}

	return &SubscriptionView{Subscription: *rec, Features: features}, nil
}

// HasFeature reports whether the user has been granted slug.
func (s *Service) HasFeature(ctx context.Context, userID uuid.UUID, slug string) (bool, error) {
	ents, err := s.ents.ListEntitlements(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to list entitlements: %w", err)
	}
	for _, e := range ents {
		if e.FeatureSlug == slug {
			return true, nil
		}
	}
	return false, nil
}
