package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/equilibra/platform/pkg/logger"
)

// Check is a named readiness check.
type Check struct {
	Name string
	Fn   func(context.Context) error
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HealthCheckHandler runs every check concurrently with a short deadline.
// It answers 200 when all pass and 503 otherwise. With no checks it acts as
// a liveness check.
func HealthCheckHandler(log *slog.Logger, checks ...Check) http.HandlerFunc {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		var (
			mu sync.Mutex
			wg sync.WaitGroup
		)
		for _, c := range checks {
			wg.Add(1)
			go func() {
				defer wg.Done()
				status := "ok"
				if err := c.Fn(ctx); err != nil {
					status = "unavailable"
					log.ErrorContext(ctx, "readiness check failed", logger.Component(c.Name), logger.Error(err))
				}
				mu.Lock()
				resp.Checks[c.Name] = status
				mu.Unlock()
			}()
		}
		wg.Wait()

		code := http.StatusOK
		for _, status := range resp.Checks {
			if status != "ok" {
				resp.Status = "unavailable"
				code = http.StatusServiceUnavailable
				break
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
