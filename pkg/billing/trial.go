package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// ConversionOutcome is the per-subscription result of a trial conversion.
type ConversionOutcome string

const (
	ConversionConverted ConversionOutcome = "CONVERTED"
	ConversionPastDue   ConversionOutcome = "PAST_DUE"
	ConversionSkipped   ConversionOutcome = "SKIPPED"
)

// ConversionType distinguishes how a trial converted.
type ConversionType string

const (
	ConversionFree ConversionType = "FREE"
	ConversionPaid ConversionType = "PAID"
)

// Skip reasons specific to trial conversion; charge skip reasons pass
// through unchanged.
const (
	SkipOrganizationMismatch = "ORGANIZATION_MISMATCH"
	SkipStatusNotTrial       = "STATUS_NOT_TRIAL"
	SkipTrialNotExpired      = "TRIAL_NOT_EXPIRED"
)

// ConversionResult is the transient outcome of one trial conversion attempt.
type ConversionResult struct {
	SubscriptionID uuid.UUID
	Outcome        ConversionOutcome
	Reason         string

	// Set on paid CONVERTED.
	PaymentID string
	InvoiceID string
}

// ConversionReport aggregates a batch invocation.
type ConversionReport struct {
	Processed      int
	Converted      int
	MovedToPastDue int
	Skipped        int
	Results        []ConversionResult
}

func (r *ConversionReport) add(res ConversionResult) {
	r.Processed++
	switch res.Outcome {
	case ConversionConverted:
		r.Converted++
	case ConversionPastDue:
		r.MovedToPastDue++
	default:
		r.Skipped++
	}
	r.Results = append(r.Results, res)
}

// TrialConversionService converts expired trials into active subscriptions:
// free tiers activate directly, paid tiers are charged through the
// single-subscription charge path first.
type TrialConversionService struct {
	scheduling *SchedulingService
	charges    *ChargeService
	lifecycle  *LifecycleService
	events     EventChannel
	now        Clock
	log        *slog.Logger
}

// TrialOption configures a TrialConversionService.
type TrialOption func(*TrialConversionService)

// WithTrialEvents sets the outbound event channel. Defaults to NoopChannel.
func WithTrialEvents(ch EventChannel) TrialOption {
	return func(s *TrialConversionService) {
		if ch != nil {
			s.events = ch
		}
	}
}

// WithTrialClock overrides the time source, for deterministic tests.
func WithTrialClock(clock Clock) TrialOption {
	return func(s *TrialConversionService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithTrialLogger sets the logger. Defaults to slog.Default().
func WithTrialLogger(log *slog.Logger) TrialOption {
	return func(s *TrialConversionService) {
		if log != nil {
			s.log = log
		}
	}
}

// NewTrialConversionService creates a TrialConversionService.
// Panics if a required dependency is nil to fail fast during initialization.
func NewTrialConversionService(scheduling *SchedulingService, charges *ChargeService, lifecycle *LifecycleService, opts ...TrialOption) *TrialConversionService {
	if scheduling == nil {
		panic("billing: SchedulingService is required")
	}
	if charges == nil {
		panic("billing: ChargeService is required")
	}
	if lifecycle == nil {
		panic("billing: LifecycleService is required")
	}

	s := &TrialConversionService{
		scheduling: scheduling,
		charges:    charges,
		lifecycle:  lifecycle,
		events:     NoopChannel{},
		now:        SystemClock,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessTrialConversions runs the trial conversion batch for one
// organisation. A failing item is folded into a SKIPPED result carrying the
// error; the batch never aborts on one subscription.
func (s *TrialConversionService) ProcessTrialConversions(ctx context.Context, orgID uuid.UUID) (*ConversionReport, error) {
	now := s.now()

	candidates, err := s.scheduling.DueForTrialConversion(ctx, orgID, now)
	if err != nil {
		return nil, err
	}

	report := &ConversionReport{}
	for _, sub := range candidates {
		res, err := s.convert(ctx, sub, orgID, now)
		if err != nil {
			res = ConversionResult{
				SubscriptionID: sub.ID,
				Outcome:        ConversionSkipped,
				Reason:         err.Error(),
			}
		}
		report.add(res)
		s.log.DebugContext(ctx, "trial conversion processed",
			logger.SubscriptionID(res.SubscriptionID),
			logger.Outcome(string(res.Outcome)),
		)
	}

	s.log.InfoContext(ctx, "trial conversion batch finished",
		logger.OrganizationID(orgID),
		slog.Int("processed", report.Processed),
		slog.Int("converted", report.Converted),
		slog.Int("past_due", report.MovedToPastDue),
		slog.Int("skipped", report.Skipped),
	)
	return report, nil
}

func (s *TrialConversionService) convert(ctx context.Context, sub *Subscription, orgID uuid.UUID, now time.Time) (ConversionResult, error) {
	if sub.OrganizationID != orgID {
		return ConversionResult{SubscriptionID: sub.ID, Outcome: ConversionSkipped, Reason: SkipOrganizationMismatch}, nil
	}
	if sub.Source.IsStore() {
		return ConversionResult{SubscriptionID: sub.ID, Outcome: ConversionSkipped, Reason: SkipStoreSource}, nil
	}
	if sub.Status != StatusTrial {
		return ConversionResult{SubscriptionID: sub.ID, Outcome: ConversionSkipped, Reason: SkipStatusNotTrial}, nil
	}
	if !sub.IsTrialExpiredAt(now) {
		return ConversionResult{SubscriptionID: sub.ID, Outcome: ConversionSkipped, Reason: SkipTrialNotExpired}, nil
	}

	if sub.Plan.IsFree() {
		if _, err := s.lifecycle.ActivateFromTrial(ctx, sub.ID, ActorSystem, "trial converted"); err != nil {
			return ConversionResult{}, err
		}
		s.publishConverted(ctx, sub, ConversionFree, now, "", "")
		return ConversionResult{
			SubscriptionID: sub.ID,
			Outcome:        ConversionConverted,
			Reason:         SkipFreePlanNoCharge,
		}, nil
	}

	// A schedule already advanced past the trial end means a previous run
	// charged this conversion and then failed before the activation stuck.
	// Finish the activation; charging again would double-bill the cycle.
	if sub.TrialEndsAt != nil && sub.NextChargeAt.After(*sub.TrialEndsAt) {
		if _, err := s.lifecycle.ActivateFromTrial(ctx, sub.ID, ActorSystem, "trial converted"); err != nil {
			return ConversionResult{}, err
		}
		s.publishConverted(ctx, sub, ConversionPaid, now, "", "")
		return ConversionResult{
			SubscriptionID: sub.ID,
			Outcome:        ConversionConverted,
		}, nil
	}

	charge := s.charges.ChargeSubscription(ctx, sub, now)
	switch charge.Outcome {
	case OutcomeCharged:
		if _, err := s.lifecycle.ActivateFromTrial(ctx, sub.ID, ActorSystem, "trial converted"); err != nil {
			return ConversionResult{}, err
		}
		s.publishConverted(ctx, sub, ConversionPaid, now, charge.PaymentID, charge.InvoiceID)
		return ConversionResult{
			SubscriptionID: sub.ID,
			Outcome:        ConversionConverted,
			PaymentID:      charge.PaymentID,
			InvoiceID:      charge.InvoiceID,
		}, nil

	case OutcomeFailed:
		// The subscription stays on the dunning path; it is not
		// force-transitioned here.
		return ConversionResult{
			SubscriptionID: sub.ID,
			Outcome:        ConversionPastDue,
			Reason:         charge.FailureReason,
		}, nil

	default:
		return ConversionResult{
			SubscriptionID: sub.ID,
			Outcome:        ConversionSkipped,
			Reason:         charge.SkipReason,
		}, nil
	}
}

func (s *TrialConversionService) publishConverted(ctx context.Context, sub *Subscription, ct ConversionType, now time.Time, paymentID, invoiceID string) {
	payload := map[string]any{
		"subscription_id": sub.ID.String(),
		"organization_id": sub.OrganizationID.String(),
		"plan":            string(sub.Plan),
		"conversion_type": string(ct),
		"converted_at":    isoTime(now),
	}
	if paymentID != "" {
		payload["payment_id"] = paymentID
	}
	if invoiceID != "" {
		payload["invoice_id"] = invoiceID
	}
	publishEvent(ctx, s.events, s.log, EventTrialConverted, payload)
}
