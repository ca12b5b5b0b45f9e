package httpx_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/equilibra/platform/pkg/httpx"
)

type checkoutBody struct {
	PlanType string `json:"planType" validate:"required,oneof=life_balance growth suite"`
	Email    string `json:"email" validate:"omitempty,email"`
}

func request(ct, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	if ct != "" {
		r.Header.Set("Content-Type", ct)
	}
	return r
}

func TestBindJSON(t *testing.T) {
	t.Parallel()

	t.Run("valid body", func(t *testing.T) {
		t.Parallel()
		var b checkoutBody
		require.NoError(t, httpx.BindJSON(request("application/json; charset=utf-8", `{"planType":"suite"}`), &b))
		assert.Equal(t, "suite", b.PlanType)
	})

	tests := []struct {
		name string
		ct   string
		body string
		want error
	}{
		{"missing content type", "", `{}`, httpx.ErrMissingContentType},
		{"wrong content type", "text/plain", `{}`, httpx.ErrUnsupportedMediaType},
		{"empty body", "application/json", ``, httpx.ErrInvalidJSON},
		{"unknown field", "application/json", `{"planType":"suite","admin":true}`, httpx.ErrInvalidJSON},
		{"trailing data", "application/json", `{"planType":"suite"} {}`, httpx.ErrInvalidJSON},
		{"too large", "application/json", `{"planType":"` + strings.Repeat("a", 1<<20) + `"}`, httpx.ErrBodyTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var b checkoutBody
			assert.ErrorIs(t, httpx.BindJSON(request(tt.ct, tt.body), &b), tt.want)
		})
	}

	t.Run("validation errors use json names", func(t *testing.T) {
		t.Parallel()
		var b checkoutBody
		err := httpx.BindJSON(request("application/json", `{"planType":"gold","email":"nope"}`), &b)

		var verr httpx.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Contains(t, verr["planType"][0], "one of")
		assert.Equal(t, "must be a valid email", verr["email"][0])
	})
}

func TestError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		code int
		key  string
	}{
		{"http error", httpx.ErrNotFound, http.StatusNotFound, "not_found"},
		{"http error with message", httpx.ErrBadGateway.WithMessage("provider said %s", "no"), http.StatusBadGateway, "bad_gateway"},
		{"validation", httpx.ValidationError{"code": {"is required"}}, http.StatusUnprocessableEntity, "validation_error"},
		{"bad json", httpx.ErrInvalidJSON, http.StatusBadRequest, "bad_request"},
		{"media type", httpx.ErrUnsupportedMediaType, http.StatusUnsupportedMediaType, "unsupported_media_type"},
		{"unknown", errors.New("pq: connection reset"), http.StatusInternalServerError, "internal_server_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := httptest.NewRecorder()
			httpx.Error(w, tt.err)

			assert.Equal(t, tt.code, w.Code)
			var body httpx.ErrorBody
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.key, body.Error.Code)
			assert.NotEmpty(t, body.Error.Message)
			assert.NotContains(t, body.Error.Message, "pq:")
		})
	}
}
