package asaas_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/equilibra/platform/svc/billing"
	"github.com/equilibra/platform/svc/billing/asaas"
	"github.com/equilibra/platform/svc/catalog"
)

func newProvider(t *testing.T, baseURL string) *asaas.Provider {
	t.Helper()
	p, err := asaas.New(asaas.Config{
		APIKey:       "$aact_test",
		WebhookToken: "hook-token",
		BaseURL:      baseURL,
	})
	require.NoError(t, err)
	return p
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := asaas.New(asaas.Config{WebhookToken: "t"})
	assert.Error(t, err)
	_, err = asaas.New(asaas.Config{APIKey: "k"})
	assert.Error(t, err)
}

func TestProvider_Authenticate(t *testing.T) {
	t.Parallel()
	p := newProvider(t, "")

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"matching token", "hook-token", false},
		{"wrong token", "hook-tokem", true},
		{"prefix of token", "hook", true},
		{"missing token", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodPost, "/webhooks/asaas", nil)
			if tt.token != "" {
				r.Header.Set("asaas-access-token", tt.token)
			}
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
	p := newProvider(t, "")
	user := uuid.New()

	event := func(name, ref string, value float64) []byte {
		b, _ := json.Marshal(map[string]any{
			"event": name,
			"payment": map[string]any{
				"id":                "pay_123",
				"value":             value,
				"description":       "Plano Growth",
				"externalReference": ref,
				"confirmedDate":     "2024-05-02",
			},
		})
		return b
	}

	for _, name := range []string{"PAYMENT_RECEIVED", "PAYMENT_CONFIRMED"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			conf, err := p.Parse(context.Background(), event(name, user.String(), 97.0))
			require.NoError(t, err)
			assert.Equal(t, billing.ProviderAsaas, conf.Provider)
			assert.Equal(t, "pay_123", conf.ProviderPaymentID)
			assert.Equal(t, "pay_123", conf.CheckoutRef)
			assert.Equal(t, user, conf.UserID)
			assert.Equal(t, int64(9700), conf.AmountMinor)
			assert.Equal(t, "Plano Growth", conf.RawDescription)
			assert.Equal(t, 2, conf.OccurredAt.Day())
		})
	}

	t.Run("fractional value rounds to minor units", func(t *testing.T) {
		t.Parallel()
		conf, err := p.Parse(context.Background(), event("PAYMENT_RECEIVED", user.String(), 67.9))
		require.NoError(t, err)
		assert.Equal(t, int64(6790), conf.AmountMinor)
	})

	t.Run("other events are ignored", func(t *testing.T) {
		t.Parallel()
		_, err := p.Parse(context.Background(), event("PAYMENT_CREATED", user.String(), 97))
		assert.ErrorIs(t, err, billing.ErrIgnoredEvent)
	})

	t.Run("malformed external reference", func(t *testing.T) {
		t.Parallel()
		_, err := p.Parse(context.Background(), event("PAYMENT_RECEIVED", "user-42", 97))
		assert.ErrorIs(t, err, billing.ErrInvalidConfirmation)
	})

	t.Run("zero value", func(t *testing.T) {
		t.Parallel()
		_, err := p.Parse(context.Background(), event("PAYMENT_RECEIVED", user.String(), 0))
		assert.ErrorIs(t, err, billing.ErrInvalidConfirmation)
	})

	t.Run("missing payment", func(t *testing.T) {
		t.Parallel()
		_, err := p.Parse(context.Background(), []byte(`{"event":"PAYMENT_RECEIVED"}`))
		assert.ErrorIs(t, err, billing.ErrInvalidConfirmation)
	})

	t.Run("not json", func(t *testing.T) {
		t.Parallel()
		_, err := p.Parse(context.Background(), []byte(`event=PAYMENT_RECEIVED`))
		assert.ErrorIs(t, err, billing.ErrInvalidPayload)
	})
}

func TestProvider_CreateCheckout(t *testing.T) {
	t.Parallel()

	t.Run("creates customer then payment", func(t *testing.T) {
		t.Parallel()

		var (
			mu       sync.Mutex
			customer map[string]any
			payment  map[string]any
		)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, "$aact_test", r.Header.Get("access_token"))
			switch r.URL.Path {
			case "/v3/customers":
				_ = json.NewDecoder(r.Body).Decode(&customer)
				_, _ = w.Write([]byte(`{"id":"cus_1"}`))
			case "/v3/payments":
				_ = json.NewDecoder(r.Body).Decode(&payment)
				_, _ = w.Write([]byte(`{"id":"pay_9","invoiceUrl":"https://www.asaas.com/i/pay_9"}`))
			default:
				http.NotFound(w, r)
			}
		}))
		t.Cleanup(srv.Close)

		p := newProvider(t, srv.URL)
		user := uuid.New()
		session, err := p.CreateCheckout(context.Background(), billing.CheckoutRequest{
			CheckoutID:  "chk-1",
			UserID:      user,
			PlanTier:    catalog.Suite,
			PlanName:    "Suite",
			AmountMinor: 14700,
			Billing: billing.BillingInfo{
				Name:     "Maria Silva",
				Email:    "maria@example.com",
				TaxID:    "123.456.789-09",
				Phone:    "(11) 98765-4321",
				PostCode: "01310-100",
			},
		})
		require.NoError(t, err)

		assert.Equal(t, "https://www.asaas.com/i/pay_9", session.URL)
		assert.Equal(t, "pay_9", session.Reference)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "12345678909", customer["cpfCnpj"])
		assert.Equal(t, "cus_1", payment["customer"])
		assert.Equal(t, "UNDEFINED", payment["billingType"])
		assert.InDelta(t, 147.0, payment["value"], 0.001)
		assert.Equal(t, user.String(), payment["externalReference"])
	})

	t.Run("provider validation error is rejected", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"errors":[{"code":"invalid_cpfCnpj","description":"O CPF informado é inválido."}]}`))
		}))
		t.Cleanup(srv.Close)

		p := newProvider(t, srv.URL)
		_, err := p.CreateCheckout(context.Background(), billing.CheckoutRequest{
			UserID: uuid.New(), PlanName: "Suite", AmountMinor: 14700,
			Billing: billing.BillingInfo{Name: "Maria"},
		})
		require.ErrorIs(t, err, billing.ErrProviderRejected)
		assert.Contains(t, err.Error(), "CPF informado")
	})

	t.Run("server error is transient", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		t.Cleanup(srv.Close)

		p := newProvider(t, srv.URL)
		_, err := p.CreateCheckout(context.Background(), billing.CheckoutRequest{
			UserID: uuid.New(), PlanName: "Suite", AmountMinor: 14700,
			Billing: billing.BillingInfo{Name: "Maria"},
		})
		assert.ErrorIs(t, err, billing.ErrTransient)
	})

	t.Run("billing name is required", func(t *testing.T) {
		t.Parallel()
		p := newProvider(t, "http://127.0.0.1:0")
		_, err := p.CreateCheckout(context.Background(), billing.CheckoutRequest{
			UserID: uuid.New(), PlanName: "Suite", AmountMinor: 14700,
		})
		assert.ErrorIs(t, err, billing.ErrProviderRejected)
	})
}
