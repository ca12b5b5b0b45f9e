package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
)

// ErrorBody is the JSON error envelope: {"error":{"code":...,"message":...}}.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details map[string][]string `json:"details,omitempty"`
}

func newBody(code, msg string) ErrorBody {
	return ErrorBody{Error: ErrorDetail{Code: code, Message: msg}}
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Error writes err as a JSON error. HTTPError and ValidationError keep their
// status; binding errors map to 4xx; anything else is a 500 whose message is
// not exposed.
func Error(w http.ResponseWriter, err error) {
	status, body := errorBody(err)
	JSON(w, status, body)
}

func errorBody(err error) (int, ErrorBody) {
	var (
		httpErr  HTTPError
		validErr ValidationError
	)
	switch {
	case errors.As(err, &validErr):
		return http.StatusUnprocessableEntity, ErrorBody{Error: ErrorDetail{
			Code:    "validation_error",
			Message: validErr.Error(),
			Details: validErr,
		}}
	case errors.As(err, &httpErr):
		msg := httpErr.Message
		if msg == "" {
			msg = http.StatusText(httpErr.Code)
		}
		return httpErr.Code, newBody(httpErr.Key, msg)
	case errors.Is(err, ErrUnsupportedMediaType), errors.Is(err, ErrMissingContentType):
		return http.StatusUnsupportedMediaType, newBody("unsupported_media_type", err.Error())
	case errors.Is(err, ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge, newBody("request_entity_too_large", err.Error())
	case errors.Is(err, ErrInvalidJSON):
		return http.StatusBadRequest, newBody("bad_request", err.Error())
	default:
		return http.StatusInternalServerError, newBody(ErrInternalServerError.Key, http.StatusText(http.StatusInternalServerError))
	}
}
