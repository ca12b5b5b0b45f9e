package httpapi

import (
	"net/http"
	"time"

	"github.com/equilibra/platform/pkg/httpx"
	"github.com/equilibra/platform/pkg/logger"
)

type subscriptionResponse struct {
	Status      string     `json:"status"`
	PlanTier    string     `json:"planTier,omitempty"`
	ActivatedAt *time.Time `json:"activatedAt,omitempty"`
	Features    []string   `json:"features"`
}

func (a *api) subscription(w http.ResponseWriter, r *http.Request) {
	userID, _, err := caller(r)
	if err != nil {
		httpx.Error(w, err)
		return
	}

	view, err := a.subscriptions.Subscription(r.Context(), userID)
	if err != nil {
		a.logger.ErrorContext(r.Context(), "failed to load subscription",
			logger.UserID(userID), logger.Error(err))
		httpx.Error(w, err)
		return
	}

	features := view.Features
	if features == nil {
		features = []string{}
	}
	httpx.JSON(w, http.StatusOK, subscriptionResponse{
		Status:      string(view.Subscription.Status),
		PlanTier:    string(view.Subscription.PlanTier),
		ActivatedAt: view.Subscription.ActivatedAt,
		Features:    features,
	})
}
