package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentIntentRequest describes a single charge to execute.
// Amounts are in the smallest currency unit, as payment providers expect.
type PaymentIntentRequest struct {
	OrganizationID   uuid.UUID
	AmountMinorUnits int64
	Currency         string
	IdempotencyKey   string
	Metadata         map[string]string
}

// PaymentIntent is the provider's reference for a created charge.
type PaymentIntent struct {
	ID string
}

// PaymentClient abstracts the payment provider. Any returned error is
// treated as a charge failure, including network and timeout errors;
// timeout policy is the implementation's responsibility.
type PaymentClient interface {
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntent, error)
}

// InvoiceRequest describes the invoice recorded for a completed charge.
type InvoiceRequest struct {
	OrganizationID uuid.UUID
	SubscriptionID uuid.UUID
	ClientID       uuid.UUID
	ContractID     string
	IssuedAt       time.Time
	Amount         decimal.Decimal
	Currency       string
}

// Invoice is the invoicing system's reference for a created invoice.
type Invoice struct {
	ID string
}

// InvoiceClient abstracts the invoicing subsystem.
type InvoiceClient interface {
	CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error)
}
