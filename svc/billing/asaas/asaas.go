package asaas

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/equilibra/platform/svc/billing"
	"github.com/equilibra/platform/svc/coupon"
)

// Events that mean the payment was captured.
const (
	EventPaymentReceived  = "PAYMENT_RECEIVED"
	EventPaymentConfirmed = "PAYMENT_CONFIRMED"
)

const tokenHeader = "asaas-access-token"

// Config holds Asaas credentials. The provider is enabled when APIKey is set.
type Config struct {
	APIKey       string        `env:"ASAAS_API_KEY"`
	WebhookToken string        `env:"ASAAS_WEBHOOK_TOKEN"`
	BaseURL      string        `env:"ASAAS_BASE_URL" envDefault:"https://api.asaas.com"`
	Timeout      time.Duration `env:"ASAAS_TIMEOUT" envDefault:"15s"`
	// DueDays is how many days the generated invoice stays payable.
	DueDays int `env:"ASAAS_DUE_DAYS" envDefault:"3"`
}

func (c Config) Enabled() bool { return c.APIKey != "" }

// Provider implements billing.Provider for Asaas. Asaas has no free-form
// metadata, so the payment id doubles as the checkout reference.
type Provider struct {
	api     *client
	token   []byte
	dueDays int
	now     func() time.Time
}

var _ billing.Provider = (*Provider)(nil)

// New creates an Asaas provider. API key and webhook token are required.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("asaas API key is required")
	}
	if cfg.WebhookToken == "" {
		return nil, errors.New("asaas webhook token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.asaas.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.DueDays <= 0 {
		cfg.DueDays = 3
	}

	return &Provider{
		api: &client{
			apiKey:     cfg.APIKey,
			baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
			httpClient: &http.Client{Timeout: cfg.Timeout},
		},
		token:   []byte(cfg.WebhookToken),
		dueDays: cfg.DueDays,
		now:     time.Now,
	}, nil
}

func (p *Provider) Name() string { return billing.ProviderAsaas }

// Authenticate compares the asaas-access-token header in constant time.
func (p *Provider) Authenticate(r *http.Request, _ []byte) error {
	got := []byte(r.Header.Get(tokenHeader))
	if len(got) == 0 || subtle.ConstantTimeCompare(got, p.token) != 1 {
		return billing.ErrUnauthorized
	}
	return nil
}

type webhookEvent struct {
	ID      string   `json:"id"`
	Event   string   `json:"event"`
	Payment *payment `json:"payment"`
}

// Parse converts PAYMENT_RECEIVED and PAYMENT_CONFIRMED into a confirmation.
func (p *Provider) Parse(_ context.Context, body []byte) (*billing.PaymentConfirmation, error) {
	var ev webhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, errors.Join(billing.ErrInvalidPayload, err)
	}
	if ev.Event != EventPaymentReceived && ev.Event != EventPaymentConfirmed {
		return nil, fmt.Errorf("%w: %s", billing.ErrIgnoredEvent, ev.Event)
	}
	if ev.Payment == nil || ev.Payment.ID == "" {
		return nil, fmt.Errorf("%w: payment.id is missing", billing.ErrInvalidConfirmation)
	}

	pay := ev.Payment
	userID, err := uuid.Parse(pay.ExternalReference)
	if err != nil {
		return nil, fmt.Errorf("%w: payment.externalReference: %w", billing.ErrInvalidConfirmation, err)
	}
	amount := coupon.ToMinor(pay.Value)
	if amount <= 0 {
		return nil, fmt.Errorf("%w: payment.value must be positive", billing.ErrInvalidConfirmation)
	}

	return &billing.PaymentConfirmation{
		Provider:          billing.ProviderAsaas,
		ProviderPaymentID: pay.ID,
		UserID:            userID,
		AmountMinor:       amount,
		RawDescription:    pay.Description,
		OccurredAt:        occurredAt(pay, p.now),
		CheckoutRef:       pay.ID,
	}, nil
}

// CreateCheckout registers the payer as a customer and issues an invoice
// the user can pay with any method enabled on the account.
func (p *Provider) CreateCheckout(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	if req.AmountMinor <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", billing.ErrProviderRejected)
	}
	name := req.Billing.Name
	if name == "" {
		return nil, fmt.Errorf("%w: billing name is required", billing.ErrProviderRejected)
	}
	email := req.Billing.Email
	if email == "" {
		email = req.Email
	}

	cust, err := p.api.createCustomer(ctx, customerRequest{
		Name:              name,
		Email:             email,
		CpfCnpj:           digits(req.Billing.TaxID),
		MobilePhone:       digits(req.Billing.Phone),
		PostalCode:        digits(req.Billing.PostCode),
		ExternalReference: req.UserID.String(),
	})
	if err != nil {
		return nil, err
	}

	pay, err := p.api.createPayment(ctx, paymentRequest{
		Customer:          cust.ID,
		BillingType:       "UNDEFINED",
		Value:             coupon.ToMajor(req.AmountMinor),
		DueDate:           p.now().AddDate(0, 0, p.dueDays).Format(time.DateOnly),
		Description:       req.PlanName,
		ExternalReference: req.UserID.String(),
	})
	if err != nil {
		return nil, err
	}

	return &billing.CheckoutSession{
		URL:       pay.InvoiceURL,
		Reference: pay.ID,
	}, nil
}

func occurredAt(pay *payment, now func() time.Time) time.Time {
	for _, s := range []string{pay.ConfirmedDate, pay.PaymentDate} {
		if t, err := time.Parse(time.DateOnly, s); err == nil {
			return t.UTC()
		}
	}
	return now().UTC()
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
