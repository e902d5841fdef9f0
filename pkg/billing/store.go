package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SubscriptionStore defines the persistence port for the Subscription
// aggregate. The due-set queries may over-return candidates; SchedulingService
// is the source of truth for "due" and filters the result again.
type SubscriptionStore interface {
	// Get retrieves a subscription by id.
	// Returns ErrSubscriptionNotFound if no subscription exists.
	Get(ctx context.Context, id uuid.UUID) (*Subscription, error)

	// Save creates or updates a subscription.
	Save(ctx context.Context, sub *Subscription) error

	// DueForCharge returns the organisation's subscriptions whose
	// next-charge timestamp falls before the given instant.
	DueForCharge(ctx context.Context, orgID uuid.UUID, before time.Time) ([]*Subscription, error)

	// DueForTrialConversion returns the organisation's subscriptions that
	// carry a trial end date, regardless of whether it has passed yet.
	DueForTrialConversion(ctx context.Context, orgID uuid.UUID) ([]*Subscription, error)
}

// HistoryStore appends immutable transition records. Records are never
// mutated or deleted; terminal subscriptions keep their full trail for audit.
type HistoryStore interface {
	Create(ctx context.Context, rec *HistoryRecord) error
}

// IdempotencyStore guarantees at-most-one charge attempt per billing cycle.
//
// Claim must behave as an atomic compare-and-set: exactly one of any number
// of concurrent callers for the same key observes true. A charge is only
// attempted by the caller that won the claim; a failed payment releases the
// claim so the next scheduled run can retry the same cycle.
type IdempotencyStore interface {
	// IsProcessed reports whether the key has been claimed.
	IsProcessed(ctx context.Context, key string) (bool, error)

	// Claim atomically marks the key processed. Returns true if this call
	// claimed it, false if it was already claimed.
	Claim(ctx context.Context, key string) (bool, error)

	// Release removes a claim after a failed attempt.
	Release(ctx context.Context, key string) error
}
