package httpserver

import (
	"context"
	"log/slog"
)

// Option configures the HTTP server.
type Option func(*config)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	if addr == "" {
		panic("WithAddr: addr cannot be empty")
	}
	return func(c *config) { c.addr = addr }
}

// WithLogger supplies the server logger. Logs are discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithStartHook runs once the listener is open.
func WithStartHook(h func(addr string)) Option {
	if h == nil {
		panic("WithStartHook: nil hook")
	}
	return func(c *config) { c.startHooks = append(c.startHooks, h) }
}

// WithDrainHook runs after the server stopped accepting requests, inside the
// shutdown deadline. Use it to wait for background work started by handlers.
func WithDrainHook(h func(ctx context.Context) error) Option {
	if h == nil {
		panic("WithDrainHook: nil hook")
	}
	return func(c *config) { c.drainHooks = append(c.drainHooks, h) }
}
