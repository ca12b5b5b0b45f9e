// Package requestid propagates a per-request id through headers, context and logs.
//
// Middleware reuses a well-formed incoming X-Request-ID header or generates a
// UUID, echoes it on the response and stores it in the request context. The id
// is also set on the active OpenTelemetry span. LoggerExtractor plugs it into
// logger.WithContextExtractors.
package requestid
