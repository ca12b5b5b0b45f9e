package httpapi

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/equilibra/platform/pkg/httpx"
	"github.com/equilibra/platform/pkg/logger"
	"github.com/equilibra/platform/svc/billing"
)

// maxWebhookBytes bounds provider payloads.
const maxWebhookBytes = 1 << 20

// Webhook outcomes that are not reconciliation statuses.
const (
	webhookUnauthorized = "unauthorized"
	webhookMalformed    = "malformed"
	webhookIgnored      = "ignored"
	webhookInvalid      = "invalid"
	webhookTransient    = "transient"
)

type webhookResponse struct {
	Received bool   `json:"received"`
	Status   string `json:"status"`
}

// webhook authenticates, parses and reconciles one provider notification.
// Only transient failures answer 5xx so that providers redeliver them.
func (a *api) webhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "provider")
	provider, ok := a.providers[name]
	if !ok {
		httpx.Error(w, httpx.ErrNotFound.WithMessage("unknown payment provider %q", name))
		return
	}
	log := a.logger.With(logger.Provider(name))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		a.metrics.Webhook(name, webhookMalformed)
		httpx.Error(w, httpx.ErrBadRequest.WithMessage("unreadable body"))
		return
	}

	if err := provider.Authenticate(r, body); err != nil {
		a.metrics.Webhook(name, webhookUnauthorized)
		log.WarnContext(ctx, "webhook authentication failed", logger.Error(err))
		httpx.Error(w, httpx.ErrUnauthorized)
		return
	}

	pc, err := provider.Parse(ctx, body)
	switch {
	case err == nil:
	case errors.Is(err, billing.ErrIgnoredEvent):
		a.metrics.Webhook(name, webhookIgnored)
		log.DebugContext(ctx, "webhook event ignored", logger.Error(err))
		httpx.JSON(w, http.StatusOK, webhookResponse{Received: true, Status: webhookIgnored})
		return
	case errors.Is(err, billing.ErrUnauthorized):
		a.metrics.Webhook(name, webhookUnauthorized)
		httpx.Error(w, httpx.ErrUnauthorized)
		return
	case errors.Is(err, billing.ErrInvalidConfirmation):
		// Redelivery cannot fix it: acknowledge so the provider stops retrying.
		a.metrics.Webhook(name, webhookInvalid)
		log.WarnContext(ctx, "unprocessable payment event dropped", logger.Error(err))
		httpx.JSON(w, http.StatusOK, webhookResponse{Received: true, Status: webhookInvalid})
		return
	case errors.Is(err, billing.ErrInvalidPayload):
		a.metrics.Webhook(name, webhookMalformed)
		log.WarnContext(ctx, "malformed webhook payload", logger.Error(err))
		httpx.Error(w, httpx.ErrBadRequest.WithMessage("malformed payload"))
		return
	default:
		a.metrics.Webhook(name, webhookTransient)
		log.ErrorContext(ctx, "failed to parse webhook", logger.Error(err))
		httpx.Error(w, httpx.ErrServiceUnavailable)
		return
	}

	out, err := a.reconciler.Reconcile(ctx, *pc)
	switch {
	case err == nil:
	case errors.Is(err, billing.ErrInvalidConfirmation):
		a.metrics.Webhook(name, webhookInvalid)
		log.WarnContext(ctx, "invalid payment confirmation dropped",
			logger.PaymentID(pc.ProviderPaymentID), logger.Error(err))
		httpx.JSON(w, http.StatusOK, webhookResponse{Received: true, Status: webhookInvalid})
		return
	default:
		a.metrics.Webhook(name, webhookTransient)
		log.ErrorContext(ctx, "failed to reconcile payment",
			logger.PaymentID(pc.ProviderPaymentID), logger.Error(err))
		httpx.Error(w, httpx.ErrServiceUnavailable)
		return
	}

	a.metrics.Webhook(name, string(out.Status))
	log.InfoContext(ctx, "webhook processed",
		logger.PaymentID(pc.ProviderPaymentID),
		slog.String("status", string(out.Status)))
	httpx.JSON(w, http.StatusOK, webhookResponse{Received: true, Status: string(out.Status)})
}
