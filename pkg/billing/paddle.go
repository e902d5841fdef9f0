package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

// PaddleConfig holds configuration for the Paddle payment client.
// PriceIDs maps an ISO currency code to the Paddle catalog price used for
// recurring charges in that currency (e.g. "EUR:pri_xxx,USD:pri_yyy").
type PaddleConfig struct {
	APIKey      string            `env:"PADDLE_API_KEY,required"`
	Environment string            `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
	PriceIDs    map[string]string `env:"PADDLE_PRICE_IDS,required"`
}

// PaddlePaymentClient implements PaymentClient on Paddle. A payment intent
// maps to a Paddle transaction; the idempotency key and subscription id ride
// along as custom data so provider records can be correlated back to billing
// cycles.
type PaddlePaymentClient struct {
	client *paddle.SDK
	config PaddleConfig
}

// NewPaddlePaymentClient creates a Paddle payment client.
func NewPaddlePaymentClient(config PaddleConfig) (*PaddlePaymentClient, error) {
	if config.APIKey == "" {
		return nil, errors.New("billing: paddle API key is required")
	}
	if len(config.PriceIDs) == 0 {
		return nil, errors.New("billing: at least one paddle price ID is required")
	}

	var client *paddle.SDK
	var err error

	switch strings.ToLower(config.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(config.APIKey)
	case "production", "":
		client, err = paddle.New(config.APIKey)
	default:
		return nil, fmt.Errorf("billing: invalid paddle environment: %s", config.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("billing: create paddle client: %w", err)
	}

	return &PaddlePaymentClient{client: client, config: config}, nil
}

// CreatePaymentIntent creates a Paddle transaction for the charge.
func (p *PaddlePaymentClient) CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntent, error) {
	priceID, ok := p.config.PriceIDs[strings.ToUpper(req.Currency)]
	if !ok {
		return nil, fmt.Errorf("billing: no paddle price configured for currency %s", req.Currency)
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  priceID,
		Quantity: 1,
	})

	transactionReq := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			"idempotency_key":    req.IdempotencyKey,
			"organization_id":    req.OrganizationID.String(),
			"amount_minor_units": strconv.FormatInt(req.AmountMinorUnits, 10),
			"currency":           req.Currency,
		},
	}
	for k, v := range req.Metadata {
		transactionReq.CustomData[k] = v
	}

	transaction, err := p.client.TransactionsClient.CreateTransaction(ctx, transactionReq)
	if err != nil {
		return nil, fmt.Errorf("billing: create paddle transaction: %w", err)
	}

	return &PaymentIntent{ID: transaction.ID}, nil
}
