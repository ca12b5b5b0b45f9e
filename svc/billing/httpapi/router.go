// Package httpapi exposes billing over HTTP: provider webhooks, checkout
// creation, coupon previews and the caller's subscription.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/equilibra/platform/pkg/httpx"
	"github.com/equilibra/platform/pkg/jwt"
	"github.com/equilibra/platform/pkg/logger"
	"github.com/equilibra/platform/pkg/ratelimiter"
	"github.com/equilibra/platform/pkg/requestid"
	"github.com/equilibra/platform/svc/billing"
	"github.com/equilibra/platform/svc/catalog"
	"github.com/equilibra/platform/svc/coupon"
)

// Reconciler applies a parsed payment confirmation.
type Reconciler interface {
	Reconcile(ctx context.Context, pc billing.PaymentConfirmation) (billing.Outcome, error)
}

// CheckoutCreator opens hosted checkouts.
type CheckoutCreator interface {
	Create(ctx context.Context, in billing.CheckoutInput) (*billing.CheckoutResult, error)
}

// CouponValidator prices a coupon without redeeming it.
type CouponValidator interface {
	Validate(ctx context.Context, req coupon.Request) (coupon.Result, error)
}

// SubscriptionReader loads a user's billing state.
type SubscriptionReader interface {
	Subscription(ctx context.Context, userID uuid.UUID) (*billing.SubscriptionView, error)
}

// Options wires the handlers. Nil dependencies leave their routes unmounted,
// except Tokens: without it every authenticated route answers 401.
// Catalog defaults to catalog.Default().
type Options struct {
	Catalog       *catalog.Catalog
	Providers     []billing.Provider
	Reconciler    Reconciler
	Checkout      CheckoutCreator
	Coupons       CouponValidator
	Subscriptions SubscriptionReader
	Tokens        *jwt.Service
	CouponLimiter *ratelimiter.Bucket
	Metrics       *billing.Metrics
	Gatherer      prometheus.Gatherer
	Health        http.Handler
	Logger        *slog.Logger
}

type api struct {
	catalog       *catalog.Catalog
	providers     map[string]billing.Provider
	reconciler    Reconciler
	checkout      CheckoutCreator
	coupons       CouponValidator
	subscriptions SubscriptionReader
	metrics       *billing.Metrics
	logger        *slog.Logger
}

// Router builds the billing HTTP surface.
func Router(opts Options) chi.Router {
	a := &api{
		catalog:       opts.Catalog,
		providers:     make(map[string]billing.Provider, len(opts.Providers)),
		reconciler:    opts.Reconciler,
		checkout:      opts.Checkout,
		coupons:       opts.Coupons,
		subscriptions: opts.Subscriptions,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.catalog == nil {
		a.catalog = catalog.Default()
	}
	a.logger = a.logger.With(logger.Component("httpapi"))
	for _, p := range opts.Providers {
		if p != nil {
			a.providers[p.Name()] = p
		}
	}

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(middleware.Recoverer)

	if opts.Health != nil {
		r.Method(http.MethodGet, "/health", opts.Health)
	}
	if opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	if a.reconciler != nil {
		r.Post("/webhooks/{provider}", a.webhook)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(jwt.MiddlewareWithConfig(jwt.MiddlewareConfig{
			Service: opts.Tokens,
			ErrorHandler: func(w http.ResponseWriter, _ *http.Request, _ error) {
				httpx.Error(w, httpx.ErrUnauthorized.WithMessage("missing or invalid session token"))
			},
		}))

		if a.checkout != nil {
			r.Post("/checkout", a.createCheckout)
		}
		if a.coupons != nil {
			r.Group(func(r chi.Router) {
				if opts.CouponLimiter != nil {
					r.Use(ratelimiter.Middleware(opts.CouponLimiter,
						ratelimiter.Composite(ratelimiter.Static("coupons"), userKey),
						ratelimiter.WithDeniedHandler(func(w http.ResponseWriter, _ *http.Request) {
							httpx.Error(w, httpx.ErrTooManyRequests.WithMessage("too many coupon attempts, try again later"))
						}),
						ratelimiter.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
							a.logger.ErrorContext(r.Context(), "rate limiter unavailable", logger.Error(err))
							httpx.Error(w, httpx.ErrServiceUnavailable)
						}),
					))
				}
				r.Post("/coupons/validate", a.validateCoupon)
			})
		}
		if a.subscriptions != nil {
			r.Get("/billing/subscription", a.subscription)
		}
	})

	return r
}

// userKey buckets authenticated requests by token subject.
func userKey(r *http.Request) string {
	if claims, ok := jwt.GetClaims(r.Context()); ok {
		return claims.Subject
	}
	return ""
}

// caller returns the authenticated user id and email.
func caller(r *http.Request) (uuid.UUID, string, error) {
	claims, ok := jwt.GetClaims(r.Context())
	if !ok {
		return uuid.Nil, "", httpx.ErrUnauthorized
	}
	id, err := claims.UserID()
	if err != nil {
		return uuid.Nil, "", httpx.ErrUnauthorized.WithMessage("session token has no valid subject")
	}
	return id, claims.Email, nil
}
