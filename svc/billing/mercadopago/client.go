package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/equilibra/platform/svc/billing"
)

// client wraps the Mercado Pago REST API.
type client struct {
	accessToken string
	baseURL     string
	httpClient  *http.Client
}

type payment struct {
	ID                int64          `json:"id"`
	Status            string         `json:"status"`
	TransactionAmount float64        `json:"transaction_amount"`
	Description       string         `json:"description"`
	ExternalReference string         `json:"external_reference"`
	Metadata          map[string]any `json:"metadata"`
	DateApproved      string         `json:"date_approved"`
}

type preferenceItem struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type preferencePayer struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type backURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

type preferenceRequest struct {
	Items             []preferenceItem  `json:"items"`
	Payer             *preferencePayer  `json:"payer,omitempty"`
	ExternalReference string            `json:"external_reference"`
	Metadata          map[string]string `json:"metadata"`
	BackURLs          backURLs          `json:"back_urls"`
	AutoReturn        string            `json:"auto_return,omitempty"`
	NotificationURL   string            `json:"notification_url,omitempty"`
}

type preference struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

type apiError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Status  int    `json:"status"`
}

func (c *client) getPayment(ctx context.Context, id string) (*payment, error) {
	var out payment
	if err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, fmt.Errorf("get payment %s: %w", id, err)
	}
	return &out, nil
}

func (c *client) createPreference(ctx context.Context, req preferenceRequest) (*preference, error) {
	var out preference
	if err := c.do(ctx, http.MethodPost, "/checkout/preferences", req, &out); err != nil {
		return nil, fmt.Errorf("create preference: %w", err)
	}
	return &out, nil
}

func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Join(billing.ErrTransient, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Join(billing.ErrTransient, fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError, resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: mercadopago returned status %d", billing.ErrTransient, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("%w: %s", billing.ErrProviderRejected, apiErr.Message)
		}
		return fmt.Errorf("%w: mercadopago returned status %d", billing.ErrProviderRejected, resp.StatusCode)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
