package billing

import (
	"time"

	"github.com/google/uuid"
)

// Actor classifies who or what triggered a lifecycle transition.
type Actor string

const (
	ActorSystem   Actor = "system"   // scheduled batch processing
	ActorUser     Actor = "user"     // end-user or administrator action
	ActorDunning  Actor = "dunning"  // retry/escalation after failed charges
	ActorProvider Actor = "provider" // upstream billing provider webhook
)

// HistoryRecord is one committed status transition. Records are append-only:
// created once per transition, never mutated or deleted.
type HistoryRecord struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	OldStatus      Status
	NewStatus      Status
	Reason         string
	TriggeredBy    Actor
	Metadata       map[string]any
	CreatedAt      time.Time
}
