package mercadopago

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/equilibra/platform/svc/billing"
	"github.com/equilibra/platform/svc/coupon"
)

// StatusApproved is the only payment status that confirms a capture.
const StatusApproved = "approved"

// Config holds Mercado Pago credentials. The provider is enabled when
// AccessToken is set.
type Config struct {
	AccessToken  string `env:"MERCADOPAGO_ACCESS_TOKEN"`
	WebhookToken string `env:"MERCADOPAGO_WEBHOOK_TOKEN"`
	// NotificationURL is sent with each preference; it must carry ?token=WebhookToken.
	NotificationURL string        `env:"MERCADOPAGO_NOTIFICATION_URL"`
	BaseURL         string        `env:"MERCADOPAGO_BASE_URL" envDefault:"https://api.mercadopago.com"`
	Timeout         time.Duration `env:"MERCADOPAGO_TIMEOUT" envDefault:"15s"`
	Sandbox         bool          `env:"MERCADOPAGO_SANDBOX" envDefault:"false"`
}

func (c Config) Enabled() bool { return c.AccessToken != "" }

// Provider implements billing.Provider for Mercado Pago. Notifications carry
// only a payment id, so Parse fetches the payment to read its state.
type Provider struct {
	api             *client
	token           []byte
	notificationURL string
	sandbox         bool
	now             func() time.Time
}

var _ billing.Provider = (*Provider)(nil)

// New creates a Mercado Pago provider. Access token and webhook token are required.
func New(cfg Config) (*Provider, error) {
	if cfg.AccessToken == "" {
		return nil, errors.New("mercadopago access token is required")
	}
	if cfg.WebhookToken == "" {
		return nil, errors.New("mercadopago webhook token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.mercadopago.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &Provider{
		api: &client{
			accessToken: cfg.AccessToken,
			baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
			httpClient:  &http.Client{Timeout: cfg.Timeout},
		},
		token:           []byte(cfg.WebhookToken),
		notificationURL: cfg.NotificationURL,
		sandbox:         cfg.Sandbox,
		now:             time.Now,
	}, nil
}

func (p *Provider) Name() string { return billing.ProviderMercadoPago }

// Authenticate compares the token query parameter in constant time.
func (p *Provider) Authenticate(r *http.Request, _ []byte) error {
	got := []byte(r.URL.Query().Get("token"))
	if len(got) == 0 || subtle.ConstantTimeCompare(got, p.token) != 1 {
		return billing.ErrUnauthorized
	}
	return nil
}

type notification struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

// Parse fetches the notified payment and converts approved payments into a
// confirmation. Fetch failures are transient so the delivery is retried.
func (p *Provider) Parse(ctx context.Context, body []byte) (*billing.PaymentConfirmation, error) {
	var n notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, errors.Join(billing.ErrInvalidPayload, err)
	}
	if n.Type != "payment" {
		return nil, fmt.Errorf("%w: %s", billing.ErrIgnoredEvent, n.Type)
	}
	id := string(bytes.Trim(n.Data.ID, `"`))
	if id == "" || id == "null" {
		return nil, fmt.Errorf("%w: data.id is missing", billing.ErrInvalidConfirmation)
	}

	pay, err := p.api.getPayment(ctx, id)
	if err != nil {
		if errors.Is(err, billing.ErrTransient) {
			return nil, err
		}
		return nil, errors.Join(billing.ErrTransient, err)
	}
	if pay.Status != StatusApproved {
		return nil, fmt.Errorf("%w: payment status %s", billing.ErrIgnoredEvent, pay.Status)
	}

	userID, err := uuid.Parse(pay.ExternalReference)
	if err != nil {
		return nil, fmt.Errorf("%w: external_reference: %w", billing.ErrInvalidConfirmation, err)
	}
	amount := coupon.ToMinor(pay.TransactionAmount)
	if amount <= 0 {
		return nil, fmt.Errorf("%w: transaction_amount must be positive", billing.ErrInvalidConfirmation)
	}

	meta := stringMap(pay.Metadata)
	occurred := p.now().UTC()
	if t, err := time.Parse(time.RFC3339Nano, pay.DateApproved); err == nil {
		occurred = t.UTC()
	}

	paymentID := id
	if pay.ID != 0 {
		paymentID = strconv.FormatInt(pay.ID, 10)
	}

	return &billing.PaymentConfirmation{
		Provider:          billing.ProviderMercadoPago,
		ProviderPaymentID: paymentID,
		UserID:            userID,
		AmountMinor:       amount,
		RawDescription:    pay.Description,
		OccurredAt:        occurred,
		CheckoutRef:       meta[billing.MetaCheckoutID],
		Metadata:          meta,
	}, nil
}

// CreateCheckout creates a checkout preference and returns its init point.
func (p *Provider) CreateCheckout(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	if req.AmountMinor <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", billing.ErrProviderRejected)
	}

	prefReq := preferenceRequest{
		Items: []preferenceItem{{
			ID:         string(req.PlanTier),
			Title:      req.PlanName,
			Quantity:   1,
			UnitPrice:  coupon.ToMajor(req.AmountMinor),
			CurrencyID: req.Currency,
		}},
		ExternalReference: req.UserID.String(),
		Metadata: map[string]string{
			billing.MetaUserID:     req.UserID.String(),
			billing.MetaCheckoutID: req.CheckoutID,
			billing.MetaPlanTier:   string(req.PlanTier),
		},
		BackURLs: backURLs{
			Success: req.SuccessURL,
			Failure: req.CancelURL,
			Pending: req.SuccessURL,
		},
		NotificationURL: p.notificationURL,
	}
	if req.SuccessURL != "" {
		prefReq.AutoReturn = StatusApproved
	}
	if email := firstNonEmpty(req.Billing.Email, req.Email); email != "" || req.Billing.Name != "" {
		prefReq.Payer = &preferencePayer{Name: req.Billing.Name, Email: email}
	}

	pref, err := p.api.createPreference(ctx, prefReq)
	if err != nil {
		return nil, err
	}

	url := pref.InitPoint
	if p.sandbox && pref.SandboxInitPoint != "" {
		url = pref.SandboxInitPoint
	}
	if url == "" {
		return nil, fmt.Errorf("%w: no init_point returned from mercadopago", billing.ErrProviderRejected)
	}

	return &billing.CheckoutSession{
		URL:       url,
		Reference: req.CheckoutID,
	}, nil
}

func stringMap(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
