package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// DefaultMaxChargeRetries is how many consecutive failed attempts a
// subscription survives before it is escalated to past_due.
const DefaultMaxChargeRetries = 3

// ChargeOutcome is the per-subscription result of a charge attempt.
type ChargeOutcome string

const (
	OutcomeCharged ChargeOutcome = "CHARGED"
	OutcomeFailed  ChargeOutcome = "FAILED"
	OutcomeSkipped ChargeOutcome = "SKIPPED"
)

// Skip reasons attached to SKIPPED charge results.
const (
	SkipStatusNotEligible = "STATUS_NOT_ELIGIBLE"
	SkipFreePlanNoCharge  = "FREE_PLAN_NO_CHARGE"
	SkipStoreSource       = "STORE_SOURCE_EXCLUDED"
	SkipAlreadyCharged    = "ALREADY_CHARGED"
)

// ChargeResult is the transient outcome of one charge attempt. It is
// returned to the caller, never persisted.
type ChargeResult struct {
	SubscriptionID uuid.UUID
	IdempotencyKey string
	Outcome        ChargeOutcome

	// Set on CHARGED.
	PaymentID string
	InvoiceID string

	// Set on FAILED.
	RetryCount    int
	FailureReason string

	// Set on SKIPPED.
	SkipReason string
}

// ChargeReport aggregates a batch invocation.
type ChargeReport struct {
	Processed int
	Succeeded int
	Failed    int
	Skipped   int
	Results   []ChargeResult
}

func (r *ChargeReport) add(res ChargeResult) {
	r.Processed++
	switch res.Outcome {
	case OutcomeCharged:
		r.Succeeded++
	case OutcomeFailed:
		r.Failed++
	default:
		r.Skipped++
	}
	r.Results = append(r.Results, res)
}

// IdempotencyKey ties one charge attempt to one subscription and one billing
// cycle boundary. However many times a batch runs, and however many duplicate
// candidates storage returns for the same boundary, the key is identical.
func IdempotencyKey(subscriptionID uuid.UUID, cycleBoundary time.Time) string {
	return fmt.Sprintf("%s-%s", subscriptionID, cycleBoundary.UTC().Format(time.RFC3339))
}

// ChargeService orchestrates the recurring charge cycle: it claims an
// idempotency key per billing cycle, creates the payment intent and invoice,
// advances the schedule on success, and escalates to past_due after
// exhausted retries.
type ChargeService struct {
	store       SubscriptionStore
	scheduling  *SchedulingService
	lifecycle   *LifecycleService
	payments    PaymentClient
	invoices    InvoiceClient
	idempotency IdempotencyStore
	events      EventChannel
	now         Clock
	log         *slog.Logger
	maxRetries  int
}

// ChargeOption configures a ChargeService.
type ChargeOption func(*ChargeService)

// WithChargeEvents sets the outbound event channel. Defaults to NoopChannel.
func WithChargeEvents(ch EventChannel) ChargeOption {
	return func(s *ChargeService) {
		if ch != nil {
			s.events = ch
		}
	}
}

// WithChargeClock overrides the time source, for deterministic tests.
func WithChargeClock(clock Clock) ChargeOption {
	return func(s *ChargeService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithChargeLogger sets the logger. Defaults to slog.Default().
func WithChargeLogger(log *slog.Logger) ChargeOption {
	return func(s *ChargeService) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMaxRetries sets the failed-attempt threshold for past_due escalation.
func WithMaxRetries(n int) ChargeOption {
	return func(s *ChargeService) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// NewChargeService creates a ChargeService.
// Panics if a required dependency is nil to fail fast during initialization.
func NewChargeService(
	store SubscriptionStore,
	scheduling *SchedulingService,
	lifecycle *LifecycleService,
	payments PaymentClient,
	invoices InvoiceClient,
	idempotency IdempotencyStore,
	opts ...ChargeOption,
) *ChargeService {
	if store == nil {
		panic("billing: SubscriptionStore is required")
	}
	if scheduling == nil {
		panic("billing: SchedulingService is required")
	}
	if lifecycle == nil {
		panic("billing: LifecycleService is required")
	}
	if payments == nil {
		panic("billing: PaymentClient is required")
	}
	if invoices == nil {
		panic("billing: InvoiceClient is required")
	}
	if idempotency == nil {
		panic("billing: IdempotencyStore is required")
	}

	s := &ChargeService{
		store:       store,
		scheduling:  scheduling,
		lifecycle:   lifecycle,
		payments:    payments,
		invoices:    invoices,
		idempotency: idempotency,
		events:      NoopChannel{},
		now:         SystemClock,
		log:         slog.Default(),
		maxRetries:  DefaultMaxChargeRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessCharges runs the recurring charge batch for one organisation.
// Per-item failures are isolated: one failing subscription never aborts the
// rest of the batch. A single "now" is used for the whole invocation.
func (s *ChargeService) ProcessCharges(ctx context.Context, orgID uuid.UUID) (*ChargeReport, error) {
	now := s.now()

	due, err := s.scheduling.DueForCharge(ctx, orgID, now)
	if err != nil {
		return nil, err
	}

	report := &ChargeReport{}
	for _, sub := range due {
		res := s.charge(ctx, sub, now, true)
		report.add(res)
		s.log.DebugContext(ctx, "charge processed",
			logger.SubscriptionID(res.SubscriptionID),
			logger.Outcome(string(res.Outcome)),
		)
	}

	s.log.InfoContext(ctx, "charge batch finished",
		logger.OrganizationID(orgID),
		slog.Int("processed", report.Processed),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", report.Failed),
		slog.Int("skipped", report.Skipped),
	)
	return report, nil
}

// ChargeSubscription executes the single-subscription charge path at the
// given instant. Unlike the batch, it does not require active status, so
// trial conversion can charge a subscription that is still trialing.
func (s *ChargeService) ChargeSubscription(ctx context.Context, sub *Subscription, now time.Time) ChargeResult {
	return s.charge(ctx, sub, now, false)
}

func (s *ChargeService) charge(ctx context.Context, sub *Subscription, now time.Time, requireActive bool) ChargeResult {
	if requireActive && sub.Status != StatusActive {
		return ChargeResult{SubscriptionID: sub.ID, Outcome: OutcomeSkipped, SkipReason: SkipStatusNotEligible}
	}
	if sub.Plan.IsFree() {
		return ChargeResult{SubscriptionID: sub.ID, Outcome: OutcomeSkipped, SkipReason: SkipFreePlanNoCharge}
	}
	if sub.Source.IsStore() {
		return ChargeResult{SubscriptionID: sub.ID, Outcome: OutcomeSkipped, SkipReason: SkipStoreSource}
	}

	// The cycle being closed. A converting trial has no next-charge
	// timestamp yet; its first paid cycle starts where the trial ended.
	// That instant is fixed, so retries of the same conversion always
	// derive the same idempotency key.
	boundary := sub.NextChargeAt
	if boundary.IsZero() {
		if sub.TrialEndsAt != nil {
			boundary = *sub.TrialEndsAt
		} else {
			boundary = now
		}
	}
	key := IdempotencyKey(sub.ID, boundary)

	claimed, err := s.idempotency.Claim(ctx, key)
	if err != nil {
		return ChargeResult{
			SubscriptionID: sub.ID,
			IdempotencyKey: key,
			Outcome:        OutcomeFailed,
			RetryCount:     sub.RetryCount,
			FailureReason:  fmt.Sprintf("idempotency claim: %v", err),
		}
	}
	if !claimed {
		return ChargeResult{SubscriptionID: sub.ID, IdempotencyKey: key, Outcome: OutcomeSkipped, SkipReason: SkipAlreadyCharged}
	}

	intent, err := s.payments.CreatePaymentIntent(ctx, PaymentIntentRequest{
		OrganizationID:   sub.OrganizationID,
		AmountMinorUnits: sub.AmountMinorUnits(),
		Currency:         sub.Currency,
		IdempotencyKey:   key,
		Metadata: map[string]string{
			"subscription_id": sub.ID.String(),
			"cycle_boundary":  isoTime(boundary),
		},
	})
	if err != nil {
		// Free the cycle for the next scheduled run; retry memory lives in
		// the subscription's retry count, not in the idempotency store.
		if rerr := s.idempotency.Release(ctx, key); rerr != nil {
			s.log.ErrorContext(ctx, "idempotency release failed",
				slog.String("key", key),
				logger.Error(rerr),
			)
		}
		return s.recordFailure(ctx, sub, key, now, err)
	}

	return s.recordSuccess(ctx, sub, key, boundary, now, intent)
}

// recordSuccess closes the charged cycle: advances the schedule, resets the
// retry count, persists, invoices, and publishes the charged event.
func (s *ChargeService) recordSuccess(ctx context.Context, sub *Subscription, key string, boundary, now time.Time, intent *PaymentIntent) ChargeResult {
	next, err := CalculateNextChargeAt(sub.Frequency, boundary)
	if err != nil {
		// Payment went through but the schedule cannot advance; surface the
		// inconsistency instead of charging the same cycle again.
		return ChargeResult{
			SubscriptionID: sub.ID,
			IdempotencyKey: key,
			Outcome:        OutcomeFailed,
			RetryCount:     sub.RetryCount,
			FailureReason:  fmt.Sprintf("advance next charge: %v", err),
		}
	}

	sub.CurrentPeriodStart = boundary
	sub.CurrentPeriodEnd = next
	sub.NextChargeAt = next
	sub.RetryCount = 0
	sub.UpdatedAt = now

	if err := s.store.Save(ctx, sub); err != nil {
		return ChargeResult{
			SubscriptionID: sub.ID,
			IdempotencyKey: key,
			Outcome:        OutcomeFailed,
			RetryCount:     sub.RetryCount,
			FailureReason:  fmt.Sprintf("persist subscription: %v", err),
		}
	}

	invoice, err := s.invoices.CreateInvoice(ctx, InvoiceRequest{
		OrganizationID: sub.OrganizationID,
		SubscriptionID: sub.ID,
		ClientID:       sub.ClientID,
		ContractID:     sub.ContractID,
		IssuedAt:       now,
		Amount:         sub.Amount,
		Currency:       sub.Currency,
	})
	if err != nil {
		// The charge itself is committed; the retry count stays untouched
		// because no charge attempt failed. Invoicing is reconciled manually.
		s.log.ErrorContext(ctx, "invoice creation failed",
			logger.SubscriptionID(sub.ID),
			slog.String("payment_id", intent.ID),
			logger.Error(err),
		)
		return ChargeResult{
			SubscriptionID: sub.ID,
			IdempotencyKey: key,
			Outcome:        OutcomeFailed,
			RetryCount:     sub.RetryCount,
			PaymentID:      intent.ID,
			FailureReason:  fmt.Sprintf("create invoice: %v", err),
		}
	}

	publishEvent(ctx, s.events, s.log, EventCharged, map[string]any{
		"subscription_id": sub.ID.String(),
		"organization_id": sub.OrganizationID.String(),
		"amount":          sub.Amount.String(),
		"currency":        sub.Currency,
		"payment_id":      intent.ID,
		"invoice_id":      invoice.ID,
		"charged_at":      isoTime(now),
		"next_charge_at":  isoTime(next),
	})

	return ChargeResult{
		SubscriptionID: sub.ID,
		IdempotencyKey: key,
		Outcome:        OutcomeCharged,
		PaymentID:      intent.ID,
		InvoiceID:      invoice.ID,
	}
}

// recordFailure bumps the retry count, escalates to past_due once the
// threshold is reached, and publishes the charge-failed event.
func (s *ChargeService) recordFailure(ctx context.Context, sub *Subscription, key string, now time.Time, cause error) ChargeResult {
	sub.RetryCount++
	sub.UpdatedAt = now

	escalate := sub.RetryCount >= s.maxRetries && sub.Status == StatusActive

	if err := s.store.Save(ctx, sub); err != nil {
		s.log.ErrorContext(ctx, "failed to persist retry count",
			logger.SubscriptionID(sub.ID),
			logger.Error(err),
		)
	}

	if escalate {
		if _, err := s.lifecycle.MarkPastDue(ctx, sub.ID, ActorDunning,
			fmt.Sprintf("charge failed %d times: %v", sub.RetryCount, cause)); err != nil {
			s.log.ErrorContext(ctx, "past_due escalation failed",
				logger.SubscriptionID(sub.ID),
				logger.Error(err),
			)
		} else {
			sub.Status = StatusPastDue
		}
	}

	publishEvent(ctx, s.events, s.log, EventChargeFailed, map[string]any{
		"subscription_id": sub.ID.String(),
		"organization_id": sub.OrganizationID.String(),
		"amount":          sub.Amount.String(),
		"currency":        sub.Currency,
		"retry_count":     sub.RetryCount,
		"escalated":       escalate,
		"reason":          cause.Error(),
		"failed_at":       isoTime(now),
	})

	return ChargeResult{
		SubscriptionID: sub.ID,
		IdempotencyKey: key,
		Outcome:        OutcomeFailed,
		RetryCount:     sub.RetryCount,
		FailureReason:  cause.Error(),
	}
}
