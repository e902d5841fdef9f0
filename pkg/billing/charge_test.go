package billing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/billing"
)

type mockPaymentClient struct {
	mock.Mock
}

func (m *mockPaymentClient) CreatePaymentIntent(ctx context.Context, req billing.PaymentIntentRequest) (*billing.PaymentIntent, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.PaymentIntent), args.Error(1)
}

type mockInvoiceClient struct {
	mock.Mock
}

func (m *mockInvoiceClient) CreateInvoice(ctx context.Context, req billing.InvoiceRequest) (*billing.Invoice, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Invoice), args.Error(1)
}

type chargeFixture struct {
	store       *billing.MemorySubscriptionStore
	history     *billing.MemoryHistoryStore
	idempotency *billing.MemoryIdempotencyStore
	events      *billing.MemoryEventChannel
	payments    *mockPaymentClient
	invoices    *mockInvoiceClient
	svc         *billing.ChargeService
	now         time.Time
	orgID       uuid.UUID
}

func newChargeFixture(t *testing.T, opts ...billing.ChargeOption) *chargeFixture {
	t.Helper()

	f := &chargeFixture{
		store:       billing.NewMemorySubscriptionStore(),
		history:     billing.NewMemoryHistoryStore(),
		idempotency: billing.NewMemoryIdempotencyStore(),
		events:      billing.NewMemoryEventChannel(),
		payments:    &mockPaymentClient{},
		invoices:    &mockInvoiceClient{},
		now:         date("2026-02-01T00:00:00Z"),
		orgID:       uuid.New(),
	}

	scheduling := billing.NewSchedulingService(f.store)
	lifecycle := billing.NewLifecycleService(f.store, f.history, billing.DefaultCatalog(),
		billing.WithLifecycleEvents(f.events),
		billing.WithLifecycleClock(billing.FixedClock(f.now)),
	)

	all := append([]billing.ChargeOption{
		billing.WithChargeEvents(f.events),
		billing.WithChargeClock(billing.FixedClock(f.now)),
	}, opts...)
	f.svc = billing.NewChargeService(f.store, scheduling, lifecycle, f.payments, f.invoices, f.idempotency, all...)
	return f
}

func (f *chargeFixture) seedDue(t *testing.T, mutate func(*billing.Subscription)) *billing.Subscription {
	t.Helper()

	sub := &billing.Subscription{
		ID:                 uuid.New(),
		OrganizationID:     f.orgID,
		ClientID:           uuid.New(),
		Plan:               billing.TierStarter,
		Frequency:          billing.FrequencyMonthly,
		Amount:             decimal.NewFromFloat(19.90),
		Currency:           "EUR",
		Source:             billing.SourceWeb,
		Status:             billing.StatusActive,
		CurrentPeriodStart: date("2026-01-01T00:00:00Z"),
		CurrentPeriodEnd:   date("2026-02-01T00:00:00Z"),
		NextChargeAt:       date("2026-02-01T00:00:00Z"),
	}
	if mutate != nil {
		mutate(sub)
	}
	require.NoError(t, f.store.Save(context.Background(), sub))
	return sub
}

func TestChargeService_ProcessCharges(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("successful charge advances schedule and resets retries", func(t *testing.T) {
		t.Parallel()
		f := newChargeFixture(t)
		sub := f.seedDue(t, func(s *billing.Subscription) { s.RetryCount = 2 })

		f.payments.On("CreatePaymentIntent", mock.Anything, mock.MatchedBy(func(req billing.PaymentIntentRequest) bool {
			return req.AmountMinorUnits == 1990 && req.Currency == "EUR"
		})).Return(&billing.PaymentIntent{ID: "pay_1"}, nil).Once()
		f.invoices.On("CreateInvoice", mock.Anything, mock.Anything).Return(&billing.Invoice{ID: "inv_1"}, nil).Once()

		report, err := f.svc.ProcessCharges(ctx, f.orgID)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Processed)
		assert.Equal(t, 1, report.Succeeded)
		require.Len(t, report.Results, 1)
		assert.Equal(t, billing.OutcomeCharged, report.Results[0].Outcome)
		assert.Equal(t, "pay_1", report.Results[0].PaymentID)
		assert.Equal(t, "inv_1", report.Results[0].InvoiceID)

		stored, err := f.store.Get(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, date("2026-03-01T00:00:00Z"), stored.NextChargeAt)
		assert.True(t, stored.NextChargeAt.After(sub.NextChargeAt))
		assert.Equal(t, 0, stored.RetryCount)
		assert.Equal(t, date("2026-02-01T00:00:00Z"), stored.CurrentPeriodStart)

		events := f.events.BySubject(billing.EventCharged)
		require.Len(t, events, 1)
		assert.Equal(t, "inv_1", events[0].Payload["invoice_id"])
		assert.Equal(t, "19.9", events[0].Payload["amount"])

		f.payments.AssertExpectations(t)
		f.invoices.AssertExpectations(t)
	})

	t.Run("same cycle is charged exactly once", func(t *testing.T) {
		t.Parallel()
		f := newChargeFixture(t)
		f.seedDue(t, nil)

		f.payments.On("CreatePaymentIntent", mock.Anything, mock.Anything).Return(&billing.PaymentIntent{ID: "pay_1"}, nil).Once()
		f.invoices.On("CreateInvoice", mock.Anything, mock.Anything).Return(&billing.Invoice{ID: "inv_1"}, nil).Once()

		first, err := f.svc.ProcessCharges(ctx, f.orgID)
		require.NoError(t, err)
		require.Equal(t, 1, first.Succeeded)

		// The subscription advanced to March, so the second run finds
		// nothing due. Reset the schedule to simulate a duplicate candidate
		// for the same cycle boundary.
		sub, err := f.store.Get(ctx, first.Results[0].SubscriptionID)
		require.NoError(t, err)
		sub.NextChargeAt = date("2026-02-01T00:00:00Z")
		require.NoError(t, f.store.Save(ctx, sub))

		second, err := f.svc.ProcessCharges(ctx, f.orgID)
		require.NoError(t, err)
		require.Len(t, second.Results, 1)
		assert.Equal(t, billing.OutcomeSkipped, second.Results[0].Outcome)
		assert.Equal(t, billing.SkipAlreadyCharged, second.Results[0].SkipReason)

		f.payments.AssertNumberOfCalls(t, "CreatePaymentIntent", 1)
	})

	t.Run("free plan is never charged", func(t *testing.T) {
		t.Parallel()
		f := newChargeFixture(t)
		f.seedDue(t, func(s *billing.Subscription) {
			s.Plan = billing.TierFree
			s.Amount = decimal.Zero
		})

		report, err := f.svc.ProcessCharges(ctx, f.orgID)
		require.NoError(t, err)
		require.Len(t, report.Results, 1)
		assert.Equal(t, billing.OutcomeSkipped, report.Results[0].Outcome)
		assert.Equal(t, billing.SkipFreePlanNoCharge, report.Results[0].SkipReason)
		f.payments.AssertNotCalled(t, "CreatePaymentIntent", mock.Anything, mock.Anything)
	})

	t.Run("store-sourced subscription is never charged", func(t *testing.T) {
		t.Parallel()
		f := newChargeFixture(t)
		f.seedDue(t, func(s *billing.Subscription) { s.Source = billing.SourceAppStore })

		report, err := f.svc.ProcessCharges(ctx, f.orgID)
		require.NoError(t, err)
		require.Len(t, report.Results, 1)
		assert.Equal(t, billing.SkipStoreSource, report.Results[0].SkipReason)
		f.payments.AssertNotCalled(t, "CreatePaymentIntent", mock.Anything, mock.Anything)
	})

	t.Run("failure below threshold keeps subscription active", func(t *testing.T) {
		t.Parallel()
		f := newChargeFixture(t)
		sub := f.seedDue(t, nil)

		f.payments.On("CreatePaymentIntent", mock.Anything, mock.Anything).Return(nil, errors.New("card declined")).Once()

		report, err := f.svc.ProcessCharges(ctx, f.orgID)
		require.NoError(t, err)
		require.Len(t, report.Results, 1)
		assert.Equal(t, billing.OutcomeFailed, report.Results[0].Outcome)
		assert.Equal(t, 1, report.Results[0].RetryCount)
		assert.Contains(t, report.Results[0].FailureReason, "card declined")

		stored, err := f.store.Get(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, stored.Status)
		assert.Equal(t, 1, stored.RetryCount)
		assert.Equal(t, sub.NextChargeAt, stored.NextChargeAt)

		events := f.events.BySubject(billing.EventChargeFailed)
		require.Len(t, events, 1)
		assert.Equal(t, false, events[0].Payload["escalated"])
	})

	t.Run("failure at threshold escalates to past_due", func(t *testing.T) {
		t.Parallel()
		f := newChargeFixture(t)
		sub := f.seedDue(t, func(s *billing.Subscription) { s.RetryCount = billing.DefaultMaxChargeRetries - 1 })

		f.payments.On("CreatePaymentIntent", mock.Anything, mock.Anything).Return(nil, errors.New("card declined")).Once()

		report, err := f.svc.ProcessCharges(ctx, f.orgID)
		require.NoError(t, err)
		require.Len(t, report.Results, 1)
		assert.Equal(t, billing.OutcomeFailed, report.Results[0].Outcome)

		stored, err := f.store.Get(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusPastDue, stored.Status)
		assert.Equal(t, billing.DefaultMaxChargeRetries, stored.RetryCount)

		recs := f.history.BySubscription(sub.ID)
		require.Len(t, recs, 1)
		assert.Equal(t, billing.StatusActive, recs[0].OldStatus)
		assert.Equal(t, billing.StatusPastDue, recs[0].NewStatus)
		assert.Equal(t, billing.ActorDunning, recs[0].TriggeredBy)
	})

	t.Run("failed charge frees the cycle for the next run", func(t *testing.T) {
		t.Parallel()
		f := newChargeFixture(t)
		f.seedDue(t, nil)

		f.payments.On("CreatePaymentIntent", mock.Anything, mock.Anything).Return(nil, errors.New("timeout")).Once()
		f.payments.On("CreatePaymentIntent", mock.Anything, mock.Anything).Return(&billing.PaymentIntent{ID: "pay_2"}, nil).Once()
		f.invoices.On("CreateInvoice", mock.Anything, mock.Anything).Return(&billing.Invoice{ID: "inv_2"}, nil).Once()

		first, err := f.svc.ProcessCharges(ctx, f.orgID)
		require.NoError(t, err)
		assert.Equal(t, 1, first.Failed)

		second, err := f.svc.ProcessCharges(ctx, f.orgID)
		require.NoError(t, err)
		assert.Equal(t, 1, second.Succeeded)

		f.payments.AssertNumberOfCalls(t, "CreatePaymentIntent", 2)
	})

	t.Run("one failing item does not abort the batch", func(t *testing.T) {
		t.Parallel()
		f := newChargeFixture(t)
		failing := f.seedDue(t, func(s *billing.Subscription) { s.NextChargeAt = date("2026-01-31T00:00:00Z") })
		f.seedDue(t, nil)

		f.payments.On("CreatePaymentIntent", mock.Anything, mock.MatchedBy(func(req billing.PaymentIntentRequest) bool {
			return req.Metadata["subscription_id"] == failing.ID.String()
		})).Return(nil, errors.New("provider down")).Once()
		f.payments.On("CreatePaymentIntent", mock.Anything, mock.Anything).Return(&billing.PaymentIntent{ID: "pay_ok"}, nil).Once()
		f.invoices.On("CreateInvoice", mock.Anything, mock.Anything).Return(&billing.Invoice{ID: "inv_ok"}, nil).Once()

		report, err := f.svc.ProcessCharges(ctx, f.orgID)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Processed)
		assert.Equal(t, 1, report.Succeeded)
		assert.Equal(t, 1, report.Failed)
	})

	t.Run("invoice failure surfaces without a retry bump", func(t *testing.T) {
		t.Parallel()
		f := newChargeFixture(t)
		sub := f.seedDue(t, nil)

		f.payments.On("CreatePaymentIntent", mock.Anything, mock.Anything).Return(&billing.PaymentIntent{ID: "pay_1"}, nil).Once()
		f.invoices.On("CreateInvoice", mock.Anything, mock.Anything).Return(nil, errors.New("invoicing down")).Once()

		report, err := f.svc.ProcessCharges(ctx, f.orgID)
		require.NoError(t, err)
		require.Len(t, report.Results, 1)
		assert.Equal(t, billing.OutcomeFailed, report.Results[0].Outcome)
		assert.Equal(t, "pay_1", report.Results[0].PaymentID)

		stored, err := f.store.Get(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, stored.RetryCount)
		assert.Equal(t, date("2026-03-01T00:00:00Z"), stored.NextChargeAt)
	})
}

func TestIdempotencyKey(t *testing.T) {
	t.Parallel()

	id := uuid.MustParse("f47ac10b-58cc-4372-a567-0e02b2c3d479")
	key := billing.IdempotencyKey(id, date("2026-02-01T00:00:00Z"))
	assert.Equal(t, "f47ac10b-58cc-4372-a567-0e02b2c3d479-2026-02-01T00:00:00Z", key)

	// Same subscription, same boundary, same key - regardless of clock skew
	// in the formatting location.
	other := billing.IdempotencyKey(id, date("2026-02-01T00:00:00Z").In(time.FixedZone("CET", 3600)))
	assert.Equal(t, key, other)
}
