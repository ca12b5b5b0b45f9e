package mercadopago_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/equilibra/platform/svc/billing"
	"github.com/equilibra/platform/svc/billing/mercadopago"
	"github.com/equilibra/platform/svc/catalog"
)

func newProvider(t *testing.T, baseURL string) *mercadopago.Provider {
	t.Helper()
	p, err := mercadopago.New(mercadopago.Config{
		AccessToken:  "APP_USR-test",
		WebhookToken: "mp-secret",
		BaseURL:      baseURL,
	})
	require.NoError(t, err)
	return p
}

// paymentServer serves GET /v1/payments/{id} with the given status code and body.
func paymentServer(t *testing.T, status int, body map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer APP_USR-test", r.Header.Get("Authorization"))
		if r.URL.Path != "/v1/payments/123456" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := mercadopago.New(mercadopago.Config{WebhookToken: "t"})
	assert.Error(t, err)
	_, err = mercadopago.New(mercadopago.Config{AccessToken: "a"})
	assert.Error(t, err)
}

func TestProvider_Authenticate(t *testing.T) {
	t.Parallel()
	p := newProvider(t, "")

	tests := []struct {
		name    string
		target  string
		wantErr bool
	}{
		{"matching token", "/webhooks/mercadopago?token=mp-secret", false},
		{"wrong token", "/webhooks/mercadopago?token=mp-secreT", true},
		{"missing token", "/webhooks/mercadopago", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodPost, tt.target, nil)
			err := p.Authenticate(r, nil)
			if tt.wantErr {
				assert.ErrorIs(t, err, billing.ErrUnauthorized)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestProvider_Parse(t *testing.T) {
	t.Parallel()
	user := uuid.New()
	notification := []byte(`{"type":"payment","action":"payment.updated","data":{"id":"123456"}}`)

	t.Run("approved payment", func(t *testing.T) {
		t.Parallel()
		srv := paymentServer(t, http.StatusOK, map[string]any{
			"id":                 123456,
			"status":             "approved",
			"transaction_amount": 67.0,
			"description":        "Life Balance",
			"external_reference": user.String(),
			"date_approved":      "2024-05-03T10:00:00.000-04:00",
			"metadata":           map[string]any{"checkout_id": "chk-7", "plan_tier": "life_balance"},
		})
		p := newProvider(t, srv.URL)

		conf, err := p.Parse(context.Background(), notification)
		require.NoError(t, err)
		assert.Equal(t, billing.ProviderMercadoPago, conf.Provider)
		assert.Equal(t, "123456", conf.ProviderPaymentID)
		assert.Equal(t, user, conf.UserID)
		assert.Equal(t, int64(6700), conf.AmountMinor)
		assert.Equal(t, "chk-7", conf.CheckoutRef)
		assert.Equal(t, catalog.LifeBalance, conf.DeclaredTier())
		assert.Equal(t, 14, conf.OccurredAt.Hour())
	})

	t.Run("numeric data id", func(t *testing.T) {
		t.Parallel()
		srv := paymentServer(t, http.StatusOK, map[string]any{
			"id": 123456, "status": "approved", "transaction_amount": 97.0, "external_reference": user.String(),
		})
		p := newProvider(t, srv.URL)

		conf, err := p.Parse(context.Background(), []byte(`{"type":"payment","data":{"id":123456}}`))
		require.NoError(t, err)
		assert.Equal(t, int64(9700), conf.AmountMinor)
	})

	t.Run("pending payment is ignored", func(t *testing.T) {
		t.Parallel()
		srv := paymentServer(t, http.StatusOK, map[string]any{
			"id": 123456, "status": "pending", "transaction_amount": 97.0, "external_reference": user.String(),
		})
		p := newProvider(t, srv.URL)

		_, err := p.Parse(context.Background(), notification)
		assert.ErrorIs(t, err, billing.ErrIgnoredEvent)
	})

	t.Run("other notification types are ignored", func(t *testing.T) {
		t.Parallel()
		p := newProvider(t, "http://127.0.0.1:0")
		_, err := p.Parse(context.Background(), []byte(`{"type":"merchant_order","data":{"id":"1"}}`))
		assert.ErrorIs(t, err, billing.ErrIgnoredEvent)
	})

	t.Run("missing data id", func(t *testing.T) {
		t.Parallel()
		p := newProvider(t, "http://127.0.0.1:0")
		_, err := p.Parse(context.Background(), []byte(`{"type":"payment","data":{}}`))
		assert.ErrorIs(t, err, billing.ErrInvalidConfirmation)
	})

	t.Run("missing external reference", func(t *testing.T) {
		t.Parallel()
		srv := paymentServer(t, http.StatusOK, map[string]any{
			"id": 123456, "status": "approved", "transaction_amount": 97.0,
		})
		p := newProvider(t, srv.URL)

		_, err := p.Parse(context.Background(), notification)
		assert.ErrorIs(t, err, billing.ErrInvalidConfirmation)
	})

	t.Run("fetch failure is transient", func(t *testing.T) {
		t.Parallel()
		srv := paymentServer(t, http.StatusServiceUnavailable, map[string]any{"message": "down"})
		p := newProvider(t, srv.URL)

		_, err := p.Parse(context.Background(), notification)
		assert.ErrorIs(t, err, billing.ErrTransient)
	})

	t.Run("unknown payment is transient", func(t *testing.T) {
		t.Parallel()
		srv := paymentServer(t, http.StatusNotFound, map[string]any{"message": "Payment not found"})
		p := newProvider(t, srv.URL)

		_, err := p.Parse(context.Background(), notification)
		assert.ErrorIs(t, err, billing.ErrTransient)
	})
}

func TestProvider_CreateCheckout(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/checkout/preferences" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"pref_1","init_point":"https://www.mercadopago.com.br/checkout/v1/redirect?pref_id=pref_1"}`))
	}))
	t.Cleanup(srv.Close)

	p := newProvider(t, srv.URL)
	user := uuid.New()
	session, err := p.CreateCheckout(context.Background(), billing.CheckoutRequest{
		CheckoutID:  "chk-3",
		UserID:      user,
		Email:       "ana@example.com",
		PlanTier:    catalog.Suite,
		PlanName:    "Suite",
		AmountMinor: 10290,
		Currency:    "BRL",
		SuccessURL:  "https://app.example.com/ok",
		CancelURL:   "https://app.example.com/cancel",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://www.mercadopago.com.br/checkout/v1/redirect?pref_id=pref_1", session.URL)
	assert.Equal(t, "chk-3", session.Reference)

	assert.Equal(t, user.String(), got["external_reference"])
	assert.Equal(t, "approved", got["auto_return"])
	meta, ok := got["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "chk-3", meta["checkout_id"])
	assert.Equal(t, "suite", meta["plan_tier"])
	items, ok := got["items"].([]any)
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.InDelta(t, 102.9, items[0].(map[string]any)["unit_price"], 0.001)
}
