// Package httpx holds the JSON request and response helpers shared by HTTP
// handlers.
//
// BindJSON decodes a request body and validates it with the struct's
// `validate` tags. Field failures come back as ValidationError, which Error
// renders as a 422 with per-field details.
//
// Every error response has the same envelope:
//
//	{"error": {"code": "validation_error", "message": "...", "details": {...}}}
//
// HTTPError values such as ErrUnauthorized carry their status and code.
// Errors of any other type are logged by the caller and rendered as a 500
// without leaking their message.
package httpx
