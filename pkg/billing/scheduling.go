package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CalculateNextChargeAt advances a billing period boundary by one cycle.
// Monthly adds one calendar month, annual one calendar year; the day of
// month is clamped to the last valid day of the target month, so
// Jan 31 + 1 month lands on Feb 28 (Feb 29 in a leap year) rather than
// rolling over into March.
func CalculateNextChargeAt(freq Frequency, periodEnd time.Time) (time.Time, error) {
	if periodEnd.IsZero() {
		return time.Time{}, ErrInvalidDate.With(map[string]any{"period_end": periodEnd})
	}

	switch freq {
	case FrequencyMonthly:
		return addClamped(periodEnd, 0, 1), nil
	case FrequencyAnnual:
		return addClamped(periodEnd, 1, 0), nil
	default:
		return time.Time{}, ErrFrequencyUnsupported.With(map[string]any{"frequency": string(freq)})
	}
}

// addClamped shifts t by whole years/months, clamping the day of month to
// the target month's length. time.Time.AddDate is unsuitable here: it
// normalizes Jan 31 + 1 month to Mar 2/3 instead of clamping to February.
func addClamped(t time.Time, years, months int) time.Time {
	year, month, day := t.Date()
	year += years
	month += time.Month(months)

	// First of the target month, then clamp the day to its length.
	first := time.Date(year, month, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysInMonth(first.Year(), first.Month()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// daysInMonth returns the number of days in the given month.
func daysInMonth(year int, month time.Month) int {
	// Day zero of the following month normalizes to this month's last day.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// SchedulingService decides when subscriptions are due. The store is allowed
// to over-return candidates; the eligibility predicates here are the source
// of truth.
type SchedulingService struct {
	store SubscriptionStore
}

// NewSchedulingService creates a SchedulingService.
// Panics if the store is nil to fail fast during initialization.
func NewSchedulingService(store SubscriptionStore) *SchedulingService {
	if store == nil {
		panic("billing: SubscriptionStore is required")
	}
	return &SchedulingService{store: store}
}

// CalculateNextChargeAt advances a period boundary by the given frequency.
func (s *SchedulingService) CalculateNextChargeAt(freq Frequency, periodEnd time.Time) (time.Time, error) {
	return CalculateNextChargeAt(freq, periodEnd)
}

// IsChargeEligible reports whether the subscription is due for a charge at
// the given instant: active with a next-charge timestamp that has passed.
func (s *SchedulingService) IsChargeEligible(sub *Subscription, now time.Time) bool {
	return sub.IsChargeDueAt(now)
}

// IsTrialExpired reports whether the subscription's trial has ended at the
// given instant.
func (s *SchedulingService) IsTrialExpired(sub *Subscription, now time.Time) bool {
	return sub.IsTrialExpiredAt(now)
}

// DueForCharge returns the organisation's subscriptions due for a charge
// before the given instant.
func (s *SchedulingService) DueForCharge(ctx context.Context, orgID uuid.UUID, before time.Time) ([]*Subscription, error) {
	candidates, err := s.store.DueForCharge(ctx, orgID, before)
	if err != nil {
		return nil, err
	}

	due := make([]*Subscription, 0, len(candidates))
	for _, sub := range candidates {
		if s.IsChargeEligible(sub, before) {
			due = append(due, sub)
		}
	}
	return due, nil
}

// DueForTrialConversion returns the organisation's trial subscriptions whose
// trial has expired at the given instant.
func (s *SchedulingService) DueForTrialConversion(ctx context.Context, orgID uuid.UUID, now time.Time) ([]*Subscription, error) {
	candidates, err := s.store.DueForTrialConversion(ctx, orgID)
	if err != nil {
		return nil, err
	}

	expired := make([]*Subscription, 0, len(candidates))
	for _, sub := range candidates {
		if s.IsTrialExpired(sub, now) {
			expired = append(expired, sub)
		}
	}
	return expired, nil
}
