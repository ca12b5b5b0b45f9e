package httpapi

import (
	"errors"
	"net/http"

	"github.com/equilibra/platform/pkg/httpx"
	"github.com/equilibra/platform/pkg/logger"
	"github.com/equilibra/platform/svc/billing"
	"github.com/equilibra/platform/svc/catalog"
	"github.com/equilibra/platform/svc/coupon"
)

type checkoutRequest struct {
	Provider    string              `json:"provider" validate:"required"`
	PlanTier    string              `json:"planTier" validate:"required"`
	CouponCode  string              `json:"couponCode" validate:"max=64"`
	BillingInfo billing.BillingInfo `json:"billingInfo"`
}

type checkoutResponse struct {
	URL            string          `json:"url"`
	Reference      string          `json:"reference"`
	OriginalAmount float64         `json:"originalAmount"`
	DiscountAmount float64         `json:"discountAmount"`
	FinalAmount    float64         `json:"finalAmount"`
	Coupon         *coupon.Summary `json:"coupon,omitempty"`
}

func (a *api) createCheckout(w http.ResponseWriter, r *http.Request) {
	userID, email, err := caller(r)
	if err != nil {
		httpx.Error(w, err)
		return
	}

	var req checkoutRequest
	if err := httpx.BindJSON(r, &req); err != nil {
		httpx.Error(w, err)
		return
	}
	if email == "" {
		email = req.BillingInfo.Email
	}

	res, err := a.checkout.Create(r.Context(), billing.CheckoutInput{
		UserID:     userID,
		Email:      email,
		Provider:   req.Provider,
		PlanTier:   catalog.PlanTier(req.PlanTier),
		CouponCode: req.CouponCode,
		Billing:    req.BillingInfo,
	})
	if err != nil {
		a.checkoutError(w, r, err)
		return
	}

	httpx.JSON(w, http.StatusOK, checkoutResponse{
		URL:            res.URL,
		Reference:      res.Reference,
		OriginalAmount: coupon.ToMajor(res.OriginalMinor),
		DiscountAmount: coupon.ToMajor(res.DiscountMinor),
		FinalAmount:    coupon.ToMajor(res.FinalMinor),
		Coupon:         res.Coupon,
	})
}

func (a *api) checkoutError(w http.ResponseWriter, r *http.Request, err error) {
	var rejection *coupon.RejectionError
	switch {
	case errors.As(err, &rejection):
		httpx.Error(w, httpx.HTTPError{
			Code:    http.StatusUnprocessableEntity,
			Key:     string(rejection.Reason),
			Message: rejection.Message,
		})
	case errors.Is(err, billing.ErrUnknownPlan):
		httpx.Error(w, httpx.ErrUnprocessableEntity.WithMessage("unknown plan tier"))
	case errors.Is(err, billing.ErrProviderNotConfigured):
		httpx.Error(w, httpx.ErrBadRequest.WithMessage("payment provider is not available"))
	case errors.Is(err, billing.ErrInvalidPayload):
		httpx.Error(w, httpx.ErrBadRequest.WithMessage("%s", err.Error()))
	case errors.Is(err, billing.ErrTransient):
		a.logger.WarnContext(r.Context(), "payment provider unavailable", logger.Error(err))
		httpx.Error(w, httpx.ErrServiceUnavailable.WithMessage("payment provider is temporarily unavailable"))
	case errors.Is(err, billing.ErrProviderRejected):
		a.logger.WarnContext(r.Context(), "payment provider rejected checkout", logger.Error(err))
		httpx.Error(w, httpx.ErrBadGateway.WithMessage("%s", err.Error()))
	default:
		a.logger.ErrorContext(r.Context(), "failed to create checkout", logger.Error(err))
		httpx.Error(w, err)
	}
}
