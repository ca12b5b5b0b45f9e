package billing

import "errors"

var (
	ErrUnauthorized          = errors.New("webhook authentication failed")
	ErrInvalidPayload        = errors.New("invalid webhook payload")
	ErrIgnoredEvent          = errors.New("event is not a captured payment")
	ErrInvalidConfirmation   = errors.New("invalid payment confirmation")
	ErrTransient             = errors.New("transient provider failure")
	ErrUnknownPlan           = errors.New("unknown plan tier")
	ErrProviderNotConfigured = errors.New("payment provider not configured")
	ErrProviderRejected      = errors.New("payment provider rejected the request")

	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrIntentNotFound       = errors.New("checkout intent not found")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrGrantFailed          = errors.New("failed to grant entitlements")
)
