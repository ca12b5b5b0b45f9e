// Package notify delivers best-effort purchase confirmations.
package notify

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/equilibra/platform/svc/billing"
)

var (
	ErrRecipientNotFound = errors.New("notification recipient not found")
	ErrNotifyFailed      = errors.New("failed to deliver notification")
)

// Recipient is the contact data of a user, read from the profile store.
type Recipient struct {
	UserID uuid.UUID
	Email  string
	Name   string
}

// Directory resolves users to recipients.
type Directory interface {
	Recipient(ctx context.Context, userID uuid.UUID) (*Recipient, error)
}

// Multi fans an event out to every notifier concurrently. One failing
// notifier does not stop the others; their errors are joined.
type Multi []billing.Notifier

func (m Multi) NotifyPurchase(ctx context.Context, ev billing.PurchaseEvent) error {
	errs := make([]error, len(m))
	var g errgroup.Group
	for i, n := range m {
		if n == nil {
			continue
		}
		g.Go(func() error {
			errs[i] = n.NotifyPurchase(ctx, ev)
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		return errors.Join(ErrNotifyFailed, err)
	}
	return nil
}
