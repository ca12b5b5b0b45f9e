package httpapi

import (
	"net/http"

	"github.com/equilibra/platform/pkg/httpx"
	"github.com/equilibra/platform/pkg/logger"
	"github.com/equilibra/platform/svc/catalog"
	"github.com/equilibra/platform/svc/coupon"
)

type validateCouponRequest struct {
	Code      string  `json:"code" validate:"required,max=64"`
	PlanType  string  `json:"planType" validate:"required"`
	PlanValue float64 `json:"planValue" validate:"gt=0"`
}

// validateCouponResponse reports a rejection as valid=false with a 200;
// only malformed requests are errors.
type validateCouponResponse struct {
	Valid          bool            `json:"valid"`
	DiscountAmount *float64        `json:"discountAmount,omitempty"`
	FinalAmount    *float64        `json:"finalAmount,omitempty"`
	Coupon         *coupon.Summary `json:"coupon,omitempty"`
	Reason         coupon.Reason   `json:"reason,omitempty"`
	Error          string          `json:"error,omitempty"`
}

func (a *api) validateCoupon(w http.ResponseWriter, r *http.Request) {
	userID, _, err := caller(r)
	if err != nil {
		httpx.Error(w, err)
		return
	}

	var req validateCouponRequest
	if err := httpx.BindJSON(r, &req); err != nil {
		httpx.Error(w, err)
		return
	}

	if !a.catalog.IsValid(catalog.PlanTier(req.PlanType)) {
		httpx.Error(w, httpx.ValidationError{"planType": {"must be a valid plan"}})
		return
	}

	res, err := a.coupons.Validate(r.Context(), coupon.Request{
		Code:      req.Code,
		PlanTier:  catalog.PlanTier(req.PlanType),
		PlanValue: req.PlanValue,
		UserID:    userID,
	})
	if err != nil {
		a.logger.ErrorContext(r.Context(), "failed to validate coupon",
			logger.CouponCode(req.Code), logger.Error(err))
		httpx.Error(w, httpx.ErrServiceUnavailable)
		return
	}

	if !res.Valid {
		httpx.JSON(w, http.StatusOK, validateCouponResponse{Reason: res.Reason, Error: res.Message})
		return
	}
	discount, final := coupon.ToMajor(res.DiscountMinor), coupon.ToMajor(res.FinalMinor)
	httpx.JSON(w, http.StatusOK, validateCouponResponse{
		Valid:          true,
		DiscountAmount: &discount,
		FinalAmount:    &final,
		Coupon:         res.Coupon,
	})
}
