package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status represents the lifecycle state of a subscription.
type Status string

const (
	StatusPending   Status = "pending"
	StatusTrial     Status = "trial"
	StatusActive    Status = "active"
	StatusPastDue   Status = "past_due"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Frequency represents how often a subscription is charged.
type Frequency string

const (
	FrequencyMonthly Frequency = "monthly"
	FrequencyAnnual  Frequency = "annual"
)

// Source identifies the sales channel a subscription was created through.
// Store-sourced subscriptions are billed by the store itself and are never
// charged or converted by this core.
type Source string

const (
	SourceWeb        Source = "web"
	SourceAppStore   Source = "app_store"
	SourceGooglePlay Source = "google_play"
)

// IsStore returns true for third-party app-store channels.
func (s Source) IsStore() bool {
	return s == SourceAppStore || s == SourceGooglePlay
}

// Subscription is the mutable aggregate owned by the billing core.
// It is mutated exclusively through LifecycleService transitions or the
// mechanical next-charge/retry-count writes inside ChargeService; terminal
// subscriptions are retained for audit, never hard-deleted.
type Subscription struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	ClientID       uuid.UUID
	ContractID     string // optional external contract reference

	Plan      PlanTier
	Frequency Frequency
	Amount    decimal.Decimal // decimal major units, e.g. 19.90
	Currency  string          // ISO 4217 code
	Source    Source

	Status             Status
	TrialStartsAt      *time.Time
	TrialEndsAt        *time.Time
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	NextChargeAt       time.Time
	RetryCount         int

	CancelAtPeriodEnd  bool
	CancelledAt        *time.Time
	CancellationReason string
	SuspendedAt        *time.Time
	SuspensionReason   string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

func (s *Subscription) IsTrialing() bool {
	return s.Status == StatusTrial
}

// IsChargeDueAt reports whether the subscription is due for a recurring
// charge at the given instant: active with a next-charge timestamp that has
// passed.
func (s *Subscription) IsChargeDueAt(now time.Time) bool {
	if s.Status != StatusActive || s.NextChargeAt.IsZero() {
		return false
	}
	return !s.NextChargeAt.After(now)
}

// IsTrialExpiredAt reports whether the trial period has ended at the given
// instant. Subscriptions without a trial end date never expire.
func (s *Subscription) IsTrialExpiredAt(now time.Time) bool {
	if s.Status != StatusTrial || s.TrialEndsAt == nil {
		return false
	}
	return !s.TrialEndsAt.After(now)
}

// AmountMinorUnits returns the subscription amount converted to the smallest
// currency unit (cents for most currencies), as payment providers expect.
func (s *Subscription) AmountMinorUnits() int64 {
	return s.Amount.Shift(2).Round(0).IntPart()
}
