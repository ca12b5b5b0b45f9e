// Package httpserver runs an http.Handler with graceful shutdown.
//
// Server.Run serves until the context is cancelled. On shutdown it stops
// accepting connections, lets in-flight requests finish and then calls the
// drain hook (see WithDrainHook) with the remaining shutdown budget, so that
// background work started by handlers can complete before the process exits.
//
// NewFromConfig builds a Server from Config, which reads HTTP_ADDR and the
// HTTP_*_TIMEOUT variables.
//
// HealthCheckHandler aggregates named Check functions into a single endpoint
// answering 200 when every check passes and 503 otherwise.
package httpserver
