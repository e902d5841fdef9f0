package billing

import (
	"context"
	"log/slog"
	"time"
)

// Event subjects published by the billing core. Payloads are flat
// JSON-serializable maps with ISO-8601 timestamps.
const (
	EventCharged        = "subscription.charged"
	EventChargeFailed   = "subscription.charge_failed"
	EventTrialConverted = "subscription.trial_converted"

	EventTrialStarted = "subscription.trial_started"
	EventActivated    = "subscription.activated"
	EventSuspended    = "subscription.suspended"
	EventReactivated  = "subscription.reactivated"
	EventPastDue      = "subscription.past_due"
	EventCancelled    = "subscription.cancelled"
	EventExpired      = "subscription.expired"
)

// EventChannel is the best-effort outbound notification bus. Publication is
// fire-and-forget from the core's point of view: a failed or unavailable
// channel never rolls back a committed state change.
type EventChannel interface {
	IsConnected() bool
	Publish(ctx context.Context, subject string, payload map[string]any) error
}

// NoopChannel is the default EventChannel: never connected, drops everything.
type NoopChannel struct{}

func (NoopChannel) IsConnected() bool { return false }

func (NoopChannel) Publish(ctx context.Context, subject string, payload map[string]any) error {
	return nil
}

// publishEvent emits a domain event if the channel is available. Failures are
// logged and swallowed.
func publishEvent(ctx context.Context, ch EventChannel, log *slog.Logger, subject string, payload map[string]any) {
	if ch == nil || !ch.IsConnected() {
		return
	}
	if err := ch.Publish(ctx, subject, payload); err != nil {
		log.WarnContext(ctx, "event publish failed",
			slog.String("subject", subject),
			slog.Any("error", err),
		)
	}
}

// isoTime formats a timestamp for event payloads.
func isoTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
