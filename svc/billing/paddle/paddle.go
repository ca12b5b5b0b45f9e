package paddle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/google/uuid"

	"github.com/equilibra/platform/svc/billing"
)

// EventTransactionCompleted is the only event that confirms a captured payment.
const EventTransactionCompleted = "transaction.completed"

const signatureHeader = "Paddle-Signature"

// Config holds Paddle credentials. The provider is enabled when APIKey is set.
type Config struct {
	APIKey        string `env:"PADDLE_API_KEY"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
	// ProductID is the catalog product the per-checkout prices are attached to.
	ProductID string `env:"PADDLE_PRODUCT_ID"`
	BaseURL   string `env:"PADDLE_BASE_URL"`
}

func (c Config) Enabled() bool { return c.APIKey != "" }

// Provider implements billing.Provider for Paddle Billing.
type Provider struct {
	client    *paddle.SDK
	verifier  *paddle.WebhookVerifier
	productID string
}

var _ billing.Provider = (*Provider)(nil)

// New creates a Paddle provider. All credentials are required.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("paddle API key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("paddle webhook secret is required")
	}
	if cfg.ProductID == "" {
		return nil, errors.New("paddle product ID is required")
	}

	var opts []paddle.Option
	if cfg.BaseURL != "" {
		opts = append(opts, paddle.WithBaseURL(cfg.BaseURL))
	}

	var (
		client *paddle.SDK
		err    error
	)
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey, opts...)
	case "production", "":
		client, err = paddle.New(cfg.APIKey, opts...)
	default:
		return nil, fmt.Errorf("invalid paddle environment: %s", cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &Provider{
		client:    client,
		verifier:  paddle.NewWebhookVerifier(cfg.WebhookSecret),
		productID: cfg.ProductID,
	}, nil
}

func (p *Provider) Name() string { return billing.ProviderPaddle }

// Authenticate verifies the Paddle-Signature header against the raw body.
func (p *Provider) Authenticate(r *http.Request, body []byte) error {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, "/webhook", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request for verification: %w", err)
	}
	req.Header.Set(signatureHeader, r.Header.Get(signatureHeader))

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return errors.Join(billing.ErrUnauthorized, err)
	}
	if !valid {
		return billing.ErrUnauthorized
	}
	return nil
}

type webhookEvent struct {
	EventID    string      `json:"event_id"`
	EventType  string      `json:"event_type"`
	OccurredAt string      `json:"occurred_at"`
	Data       transaction `json:"data"`
}

type transaction struct {
	ID         string         `json:"id"`
	Status     string         `json:"status"`
	CustomData map[string]any `json:"custom_data"`
	Details    struct {
		Totals struct {
			GrandTotal   string `json:"grand_total"`
			CurrencyCode string `json:"currency_code"`
		} `json:"totals"`
	} `json:"details"`
	Items []struct {
		Price struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"price"`
	} `json:"items"`
}

// Parse converts a transaction.completed notification into a confirmation.
func (p *Provider) Parse(_ context.Context, body []byte) (*billing.PaymentConfirmation, error) {
	var ev webhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, errors.Join(billing.ErrInvalidPayload, err)
	}
	if ev.EventType != EventTransactionCompleted {
		return nil, fmt.Errorf("%w: %s", billing.ErrIgnoredEvent, ev.EventType)
	}

	tx := ev.Data
	if tx.ID == "" {
		return nil, fmt.Errorf("%w: data.id is missing", billing.ErrInvalidConfirmation)
	}

	meta := stringMap(tx.CustomData)
	userID, err := uuid.Parse(meta[billing.MetaUserID])
	if err != nil {
		return nil, fmt.Errorf("%w: custom_data.user_id: %w", billing.ErrInvalidConfirmation, err)
	}

	amount, err := strconv.ParseInt(tx.Details.Totals.GrandTotal, 10, 64)
	if err != nil || amount <= 0 {
		return nil, fmt.Errorf("%w: details.totals.grand_total %q", billing.ErrInvalidConfirmation, tx.Details.Totals.GrandTotal)
	}

	var desc string
	if len(tx.Items) > 0 {
		desc = tx.Items[0].Price.Description
		if desc == "" {
			desc = tx.Items[0].Price.Name
		}
	}

	occurred := time.Now().UTC()
	if ev.OccurredAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, ev.OccurredAt); err == nil {
			occurred = t.UTC()
		}
	}

	return &billing.PaymentConfirmation{
		Provider:          billing.ProviderPaddle,
		ProviderPaymentID: tx.ID,
		UserID:            userID,
		AmountMinor:       amount,
		RawDescription:    desc,
		OccurredAt:        occurred,
		CheckoutRef:       meta[billing.MetaCheckoutID],
		Metadata:          meta,
	}, nil
}

// CreateCheckout opens a transaction with a one-off price for the (possibly
// discounted) amount and returns its hosted checkout URL.
func (p *Provider) CreateCheckout(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	if req.AmountMinor <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", billing.ErrProviderRejected)
	}

	item := paddle.NewCreateTransactionItemsTransactionItemCreateWithPrice(&paddle.TransactionItemCreateWithPrice{
		Price: paddle.TransactionPriceCreateWithProductID{
			Description: req.PlanName,
			Name:        paddle.PtrTo(req.PlanName),
			UnitPrice: paddle.Money{
				Amount:       strconv.FormatInt(req.AmountMinor, 10),
				CurrencyCode: paddle.CurrencyCode(req.Currency),
			},
			Quantity:  paddle.PriceQuantity{Minimum: 1, Maximum: 1},
			ProductID: p.productID,
		},
		Quantity: 1,
	})

	txReq := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			billing.MetaUserID:     req.UserID.String(),
			billing.MetaCheckoutID: req.CheckoutID,
			billing.MetaPlanTier:   string(req.PlanTier),
		},
	}
	if req.Email != "" {
		txReq.CustomData["email"] = req.Email
	}
	if req.SuccessURL != "" {
		txReq.Checkout = &paddle.TransactionCheckout{
			URL: paddle.PtrTo(req.SuccessURL),
		}
	}

	tx, err := p.client.TransactionsClient.CreateTransaction(ctx, txReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Join(billing.ErrTransient, err)
		}
		return nil, errors.Join(billing.ErrProviderRejected, fmt.Errorf("failed to create paddle transaction: %w", err))
	}
	if tx.Checkout == nil || tx.Checkout.URL == nil || *tx.Checkout.URL == "" {
		return nil, fmt.Errorf("%w: no checkout URL returned from paddle", billing.ErrProviderRejected)
	}

	return &billing.CheckoutSession{
		URL:       *tx.Checkout.URL,
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
