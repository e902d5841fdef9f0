package billing

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
)

// LifecycleService executes guarded status transitions. Every manual or
// administrative status change funnels through it: the transition is
// validated against the status graph plus business preconditions, the
// subscription is persisted, an immutable history record is appended, and a
// status-specific event is published best-effort.
type LifecycleService struct {
	store   SubscriptionStore
	history HistoryStore
	plans   Catalog
	events  EventChannel
	now     Clock
	log     *slog.Logger
}

// LifecycleOption configures a LifecycleService.
type LifecycleOption func(*LifecycleService)

// WithLifecycleEvents sets the outbound event channel. Defaults to NoopChannel.
func WithLifecycleEvents(ch EventChannel) LifecycleOption {
	return func(s *LifecycleService) {
		if ch != nil {
			s.events = ch
		}
	}
}

// WithLifecycleClock overrides the time source, for deterministic tests.
func WithLifecycleClock(clock Clock) LifecycleOption {
	return func(s *LifecycleService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithLifecycleLogger sets the logger. Defaults to slog.Default().
func WithLifecycleLogger(log *slog.Logger) LifecycleOption {
	return func(s *LifecycleService) {
		if log != nil {
			s.log = log
		}
	}
}

// NewLifecycleService creates a LifecycleService.
// Panics if a required dependency is nil to fail fast during initialization.
func NewLifecycleService(store SubscriptionStore, history HistoryStore, plans Catalog, opts ...LifecycleOption) *LifecycleService {
	if store == nil {
		panic("billing: SubscriptionStore is required")
	}
	if history == nil {
		panic("billing: HistoryStore is required")
	}
	if plans == nil {
		panic("billing: plan Catalog is required")
	}

	s := &LifecycleService{
		store:   store,
		history: history,
		plans:   plans,
		events:  NoopChannel{},
		now:     SystemClock,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// transitionRequest parameterizes one guarded transition.
type transitionRequest struct {
	target      Status
	allowedFrom []Status
	// apply mutates the subscription for the target status. Returning an
	// error aborts the transition before anything is persisted.
	apply    func(sub *Subscription, now time.Time) error
	subject  string
	reason   string
	actor    Actor
	metadata map[string]any
}

// transition is the generic executor behind every named operation.
func (s *LifecycleService) transition(ctx context.Context, id uuid.UUID, req transitionRequest) (*Subscription, error) {
	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !slices.Contains(req.allowedFrom, sub.Status) {
		return nil, ErrInvalidStatusTransition.With(map[string]any{
			"subscription_id": sub.ID,
			"from":            string(sub.Status),
			"to":              string(req.target),
		})
	}

	now := s.now()
	if req.apply != nil {
		if err := req.apply(sub, now); err != nil {
			return nil, err
		}
	}

	oldStatus := sub.Status
	sub.Status = req.target
	sub.UpdatedAt = now

	if err := s.store.Save(ctx, sub); err != nil {
		return nil, err
	}

	rec := &HistoryRecord{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		OldStatus:      oldStatus,
		NewStatus:      req.target,
		Reason:         req.reason,
		TriggeredBy:    req.actor,
		Metadata:       req.metadata,
		CreatedAt:      now,
	}
	if err := s.history.Create(ctx, rec); err != nil {
		return nil, err
	}

	payload := map[string]any{
		"subscription_id": sub.ID.String(),
		"organization_id": sub.OrganizationID.String(),
		"old_status":      string(oldStatus),
		"new_status":      string(req.target),
		"reason":          req.reason,
		"triggered_by":    string(req.actor),
		"occurred_at":     isoTime(now),
	}
	publishEvent(ctx, s.events, s.log, req.subject, payload)

	s.log.InfoContext(ctx, "subscription transitioned",
		slog.String("subscription_id", sub.ID.String()),
		slog.String("from", string(oldStatus)),
		slog.String("to", string(req.target)),
		slog.String("triggered_by", string(req.actor)),
	)

	return sub, nil
}

// StartTrial moves a pending subscription into trial for the given number of
// days. Free-tier plans cannot trial; days must be positive.
func (s *LifecycleService) StartTrial(ctx context.Context, id uuid.UUID, days int, actor Actor, reason string) (*Subscription, error) {
	return s.transition(ctx, id, transitionRequest{
		target:      StatusTrial,
		allowedFrom: []Status{StatusPending},
		subject:     EventTrialStarted,
		reason:      reason,
		actor:       actor,
		metadata:    map[string]any{"trial_days": days},
		apply: func(sub *Subscription, now time.Time) error {
			if days <= 0 {
				return ErrTrialDaysInvalid.With(map[string]any{
					"subscription_id": sub.ID,
					"trial_days":      days,
				})
			}
			if sub.Plan.IsFree() {
				return ErrTrialNotAllowedForFreePlan.With(map[string]any{
					"subscription_id": sub.ID,
					"plan":            string(sub.Plan),
				})
			}
			start := now
			end := now.AddDate(0, 0, days)
			sub.TrialStartsAt = &start
			sub.TrialEndsAt = &end
			return nil
		},
	})
}

// ActivateFromPending activates a pending subscription. A paid plan whose
// tier grants trial days must go through the trial first; the free tier
// activates directly.
func (s *LifecycleService) ActivateFromPending(ctx context.Context, id uuid.UUID, actor Actor, reason string) (*Subscription, error) {
	return s.transition(ctx, id, transitionRequest{
		target:      StatusActive,
		allowedFrom: []Status{StatusPending},
		subject:     EventActivated,
		reason:      reason,
		actor:       actor,
		apply: func(sub *Subscription, now time.Time) error {
			if !sub.Plan.IsFree() && s.plans.TrialDays(sub.Plan) > 0 && sub.TrialEndsAt == nil {
				return ErrPendingToActiveRequiresTrial.With(map[string]any{
					"subscription_id": sub.ID,
					"plan":            string(sub.Plan),
					"trial_days":      s.plans.TrialDays(sub.Plan),
				})
			}
			return s.openPeriod(sub, now)
		},
	})
}

// ActivateFromTrial activates a subscription at the end of its trial,
// opening the first paid billing period.
func (s *LifecycleService) ActivateFromTrial(ctx context.Context, id uuid.UUID, actor Actor, reason string) (*Subscription, error) {
	return s.transition(ctx, id, transitionRequest{
		target:      StatusActive,
		allowedFrom: []Status{StatusTrial},
		subject:     EventActivated,
		reason:      reason,
		actor:       actor,
		apply: func(sub *Subscription, now time.Time) error {
			return s.openPeriod(sub, now)
		},
	})
}

// openPeriod starts a fresh billing period at the given instant. Free-tier
// subscriptions carry no next-charge timestamp. A period the conversion
// charge already opened is kept as-is: the schedule reflects what was paid
// for, not when the activation landed.
func (s *LifecycleService) openPeriod(sub *Subscription, now time.Time) error {
	if sub.Plan.IsFree() {
		sub.CurrentPeriodStart = now
		sub.CurrentPeriodEnd = time.Time{}
		sub.NextChargeAt = time.Time{}
		return nil
	}
	if sub.NextChargeAt.After(now) {
		return nil
	}

	sub.CurrentPeriodStart = now
	next, err := CalculateNextChargeAt(sub.Frequency, now)
	if err != nil {
		return err
	}
	sub.CurrentPeriodEnd = next
	sub.NextChargeAt = next
	return nil
}

// Suspend suspends an active subscription, recording when and why.
func (s *LifecycleService) Suspend(ctx context.Context, id uuid.UUID, actor Actor, reason string) (*Subscription, error) {
	return s.suspendFrom(ctx, id, StatusActive, actor, reason)
}

// SuspendFromPastDue suspends a past-due subscription after dunning gave up.
func (s *LifecycleService) SuspendFromPastDue(ctx context.Context, id uuid.UUID, actor Actor, reason string) (*Subscription, error) {
	return s.suspendFrom(ctx, id, StatusPastDue, actor, reason)
}

func (s *LifecycleService) suspendFrom(ctx context.Context, id uuid.UUID, from Status, actor Actor, reason string) (*Subscription, error) {
	return s.transition(ctx, id, transitionRequest{
		target:      StatusSuspended,
		allowedFrom: []Status{from},
		subject:     EventSuspended,
		reason:      reason,
		actor:       actor,
		apply: func(sub *Subscription, now time.Time) error {
			at := now
			sub.SuspendedAt = &at
			sub.SuspensionReason = reason
			return nil
		},
	})
}

// ReactivateFromSuspended returns a suspended subscription to active and
// clears the suspension marker.
func (s *LifecycleService) ReactivateFromSuspended(ctx context.Context, id uuid.UUID, actor Actor, reason string) (*Subscription, error) {
	return s.transition(ctx, id, transitionRequest{
		target:      StatusActive,
		allowedFrom: []Status{StatusSuspended},
		subject:     EventReactivated,
		reason:      reason,
		actor:       actor,
		apply: func(sub *Subscription, now time.Time) error {
			sub.SuspendedAt = nil
			sub.SuspensionReason = ""
			return nil
		},
	})
}

// ReactivateFromPastDue returns a past-due subscription to active, typically
// after the outstanding balance was settled out of band. The retry count is
// left untouched: it is reset only by a successful charge.
func (s *LifecycleService) ReactivateFromPastDue(ctx context.Context, id uuid.UUID, actor Actor, reason string) (*Subscription, error) {
	return s.transition(ctx, id, transitionRequest{
		target:      StatusActive,
		allowedFrom: []Status{StatusPastDue},
		subject:     EventReactivated,
		reason:      reason,
		actor:       actor,
	})
}

// MarkPastDue escalates an active subscription after its charge retries were
// exhausted.
func (s *LifecycleService) MarkPastDue(ctx context.Context, id uuid.UUID, actor Actor, reason string) (*Subscription, error) {
	return s.transition(ctx, id, transitionRequest{
		target:      StatusPastDue,
		allowedFrom: []Status{StatusActive},
		subject:     EventPastDue,
		reason:      reason,
		actor:       actor,
	})
}

// Cancel cancels a subscription. Unless deferred to the period end, the
// current period is closed immediately.
func (s *LifecycleService) Cancel(ctx context.Context, id uuid.UUID, atPeriodEnd bool, actor Actor, reason string) (*Subscription, error) {
	return s.transition(ctx, id, transitionRequest{
		target:      StatusCancelled,
		allowedFrom: []Status{StatusPending, StatusTrial, StatusActive, StatusSuspended, StatusPastDue},
		subject:     EventCancelled,
		reason:      reason,
		actor:       actor,
		metadata:    map[string]any{"at_period_end": atPeriodEnd},
		apply: func(sub *Subscription, now time.Time) error {
			at := now
			sub.CancelledAt = &at
			sub.CancellationReason = reason
			sub.CancelAtPeriodEnd = atPeriodEnd
			if !atPeriodEnd {
				sub.CurrentPeriodEnd = now
			}
			return nil
		},
	})
}

// Expire marks a subscription expired. Trials expire naturally; any other
// subscription must carry a recorded cancellation first, so expiry is the
// final step of a cancel-at-period-end.
func (s *LifecycleService) Expire(ctx context.Context, id uuid.UUID, actor Actor, reason string) (*Subscription, error) {
	return s.transition(ctx, id, transitionRequest{
		target:      StatusExpired,
		allowedFrom: []Status{StatusTrial, StatusActive, StatusPastDue},
		subject:     EventExpired,
		reason:      reason,
		actor:       actor,
		apply: func(sub *Subscription, now time.Time) error {
			if sub.Status != StatusTrial && sub.CancelledAt == nil {
				return ErrInvalidStatusTransition.With(map[string]any{
					"subscription_id": sub.ID,
					"from":            string(sub.Status),
					"to":              string(StatusExpired),
					"detail":          "expiry requires a recorded cancellation",
				})
			}
			if sub.CurrentPeriodEnd.IsZero() || sub.CurrentPeriodEnd.After(now) {
				sub.CurrentPeriodEnd = now
			}
			return nil
		},
	})
}
