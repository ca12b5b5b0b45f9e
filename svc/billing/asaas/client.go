package asaas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/equilibra/platform/svc/billing"
)

// client wraps the Asaas v3 REST API.
type client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

type apiError struct {
	Errors []struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"errors"`
}

func (e apiError) message() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, item := range e.Errors {
		msgs = append(msgs, item.Description)
	}
	return strings.Join(msgs, "; ")
}

type customerRequest struct {
	Name              string `json:"name"`
	Email             string `json:"email,omitempty"`
	CpfCnpj           string `json:"cpfCnpj,omitempty"`
	MobilePhone       string `json:"mobilePhone,omitempty"`
	PostalCode        string `json:"postalCode,omitempty"`
	ExternalReference string `json:"externalReference,omitempty"`
}

type customer struct {
	ID string `json:"id"`
}

type paymentRequest struct {
	Customer          string  `json:"customer"`
	BillingType       string  `json:"billingType"`
	Value             float64 `json:"value"`
	DueDate           string  `json:"dueDate"`
	Description       string  `json:"description,omitempty"`
	ExternalReference string  `json:"externalReference"`
}

type payment struct {
	ID                string  `json:"id"`
	Customer          string  `json:"customer"`
	Value             float64 `json:"value"`
	Description       string  `json:"description"`
	ExternalReference string  `json:"externalReference"`
	Status            string  `json:"status"`
	InvoiceURL        string  `json:"invoiceUrl"`
	ConfirmedDate     string  `json:"confirmedDate"`
	PaymentDate       string  `json:"paymentDate"`
}

func (c *client) createCustomer(ctx context.Context, req customerRequest) (*customer, error) {
	var out customer
	if err := c.post(ctx, "/v3/customers", req, &out); err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%w: create customer: missing customer id in response", billing.ErrProviderRejected)
	}
	return &out, nil
}

func (c *client) createPayment(ctx context.Context, req paymentRequest) (*payment, error) {
	var out payment
	if err := c.post(ctx, "/v3/payments", req, &out); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	if out.ID == "" || out.InvoiceURL == "" {
		return nil, fmt.Errorf("%w: create payment: missing invoice in response", billing.ErrProviderRejected)
	}
	return &out, nil
}

func (c *client) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("access_token", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Join(billing.ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Join(billing.ErrTransient, fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError, resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: asaas returned status %d", billing.ErrTransient, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && len(apiErr.Errors) > 0 {
			return fmt.Errorf("%w: %s", billing.ErrProviderRejected, apiErr.message())
		}
		return fmt.Errorf("%w: asaas returned status %d", billing.ErrProviderRejected, resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
