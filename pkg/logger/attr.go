package logger

import (
	"log/slog"
	"strconv"
)

// Group creates a slog group attribute from the provided attributes.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Errors groups non-nil errors under the key "errors".
// Returns an empty Attr when every error is nil.
func Errors(errs ...error) slog.Attr {
	as := make([]slog.Attr, 0, len(errs))
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.Any(strconv.Itoa(i), err))
		}
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// Error records err under the key "error". Nil yields an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// UserID records the user identifier under the key "user_id".
func UserID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("user_id", id)
}

// RequestID records the request identifier under the key "request_id".
func RequestID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("request_id", id)
}

// Provider records the payment provider name.
func Provider(name string) slog.Attr {
	return slog.String("provider", name)
}

// PaymentID records the provider-scoped payment identifier.
func PaymentID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("payment_id", id)
}

// PlanTier records a plan tier under the key "plan_tier".
func PlanTier(tier any) slog.Attr {
	if tier == nil {
		return slog.Attr{}
	}
	return slog.Any("plan_tier", tier)
}

// CouponCode records a coupon code under the key "coupon_code".
func CouponCode(code string) slog.Attr {
	if code == "" {
		return slog.Attr{}
	}
	return slog.String("coupon_code", code)
}

// Amount records a minor-unit amount under the key "amount_minor".
func Amount(minor int64) slog.Attr {
	return slog.Int64("amount_minor", minor)
}

// Duration records a duration under the key "duration".
func Duration(d any) slog.Attr {
	return slog.Any("duration", d)
}

func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func Event(name string) slog.Attr {
	return slog.String("event", name)
}

func Handler(name string) slog.Attr {
	return slog.String("handler", name)
}
