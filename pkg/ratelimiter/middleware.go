package ratelimiter

import (
	"net/http"
	"strconv"
)

// MiddlewareOption configures the rate limit middleware.
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	denied  http.HandlerFunc
	onError func(w http.ResponseWriter, r *http.Request, err error)
}

// WithDeniedHandler overrides the 429 response. Rate limit headers are
// already set when it runs.
func WithDeniedHandler(h http.HandlerFunc) MiddlewareOption {
	return func(c *middlewareConfig) {
		if h != nil {
			c.denied = h
		}
	}
}

// WithErrorHandler overrides the response written when the store fails.
func WithErrorHandler(h func(w http.ResponseWriter, r *http.Request, err error)) MiddlewareOption {
	return func(c *middlewareConfig) {
		if h != nil {
			c.onError = h
		}
	}
}

// Middleware limits requests per key. Store failures deny the request.
func Middleware(b *Bucket, keyFunc KeyFunc, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := &middlewareConfig{
		denied: func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		},
		onError: func(w http.ResponseWriter, _ *http.Request, _ error) {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result, err := b.Allow(r.Context(), keyFunc(r))
			if err != nil {
				cfg.onError(w, r, err)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(0, result.Remaining)))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed() {
				if retryAfter := int(result.RetryAfter().Seconds()); retryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				}
				cfg.denied(w, r)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
