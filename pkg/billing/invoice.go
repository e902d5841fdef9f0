package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// InvoiceConfig holds configuration for the invoicing API client. An empty
// BaseURL disables invoicing and callers should fall back to NoopInvoiceClient.
type InvoiceConfig struct {
	BaseURL string        `env:"INVOICE_API_URL"`
	APIKey  string        `env:"INVOICE_API_KEY"`
	Timeout time.Duration `env:"INVOICE_API_TIMEOUT" envDefault:"10s"`
}

// HTTPInvoiceClient implements InvoiceClient against the in-house invoicing
// API. A successful charge produces one POST /invoices call.
type HTTPInvoiceClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPInvoiceClient creates an invoicing API client.
func NewHTTPInvoiceClient(cfg InvoiceConfig) (*HTTPInvoiceClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("billing: invoice API base URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPInvoiceClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type invoicePayload struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	ClientID       uuid.UUID `json:"client_id"`
	ContractID     string    `json:"contract_id"`
	IssuedAt       time.Time `json:"issued_at"`
	Amount         string    `json:"amount"`
	Currency       string    `json:"currency"`
}

type invoiceResponse struct {
	ID string `json:"id"`
}

// CreateInvoice records an invoice for a completed charge.
func (c *HTTPInvoiceClient) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	body, err := json.Marshal(invoicePayload{
		OrganizationID: req.OrganizationID,
		SubscriptionID: req.SubscriptionID,
		ClientID:       req.ClientID,
		ContractID:     req.ContractID,
		IssuedAt:       req.IssuedAt.UTC(),
		Amount:         req.Amount.StringFixed(2),
		Currency:       req.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("billing: marshal invoice request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/invoices", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("billing: build invoice request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("billing: invoice API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("billing: invoice API returned status %d", resp.StatusCode)
	}

	var out invoiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("billing: decode invoice response: %w", err)
	}
	return &Invoice{ID: out.ID}, nil
}

// NoopInvoiceClient satisfies InvoiceClient without an invoicing backend.
// Each call is logged so skipped invoices remain visible in the worker logs.
type NoopInvoiceClient struct {
	log *slog.Logger
}

// NewNoopInvoiceClient creates a no-op invoicing client.
func NewNoopInvoiceClient(log *slog.Logger) *NoopInvoiceClient {
	if log == nil {
		log = slog.Default()
	}
	return &NoopInvoiceClient{log: log}
}

func (c *NoopInvoiceClient) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	c.log.InfoContext(ctx, "invoicing disabled, skipping invoice",
		slog.String("subscription_id", req.SubscriptionID.String()),
		slog.String("amount", req.Amount.StringFixed(2)),
		slog.String("currency", req.Currency),
	)
	return &Invoice{ID: "noop-" + uuid.NewString()}, nil
}
