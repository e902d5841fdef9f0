package billing

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemorySubscriptionStore is a thread-safe in-memory SubscriptionStore for
// tests and local development. Reads return copies so callers cannot mutate
// stored state without going through Save.
type MemorySubscriptionStore struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]*Subscription
}

func NewMemorySubscriptionStore() *MemorySubscriptionStore {
	return &MemorySubscriptionStore{subs: make(map[uuid.UUID]*Subscription)}
}

func (s *MemorySubscriptionStore) Get(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound.With(map[string]any{"subscription_id": id})
	}
	return copySubscription(sub), nil
}

func (s *MemorySubscriptionStore) Save(ctx context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.ID] = copySubscription(sub)
	return nil
}

func (s *MemorySubscriptionStore) DueForCharge(ctx context.Context, orgID uuid.UUID, before time.Time) ([]*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*Subscription
	for _, sub := range s.subs {
		if sub.OrganizationID != orgID || sub.NextChargeAt.IsZero() {
			continue
		}
		if !sub.NextChargeAt.After(before) {
			due = append(due, copySubscription(sub))
		}
	}
	return due, nil
}

func (s *MemorySubscriptionStore) DueForTrialConversion(ctx context.Context, orgID uuid.UUID) ([]*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []*Subscription
	for _, sub := range s.subs {
		if sub.OrganizationID == orgID && sub.TrialEndsAt != nil {
			candidates = append(candidates, copySubscription(sub))
		}
	}
	return candidates, nil
}

func copySubscription(sub *Subscription) *Subscription {
	c := *sub
	if sub.TrialStartsAt != nil {
		t := *sub.TrialStartsAt
		c.TrialStartsAt = &t
	}
	if sub.TrialEndsAt != nil {
		t := *sub.TrialEndsAt
		c.TrialEndsAt = &t
	}
	if sub.CancelledAt != nil {
		t := *sub.CancelledAt
		c.CancelledAt = &t
	}
	if sub.SuspendedAt != nil {
		t := *sub.SuspendedAt
		c.SuspendedAt = &t
	}
	return &c
}

// MemoryHistoryStore is a thread-safe in-memory HistoryStore.
type MemoryHistoryStore struct {
	mu      sync.RWMutex
	records []*HistoryRecord
}

func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{}
}

func (s *MemoryHistoryStore) Create(ctx context.Context, rec *HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *rec
	c.Metadata = maps.Clone(rec.Metadata)
	s.records = append(s.records, &c)
	return nil
}

// Records returns a snapshot of all appended records in insertion order.
func (s *MemoryHistoryStore) Records() []*HistoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*HistoryRecord, len(s.records))
	copy(out, s.records)
	return out
}

// BySubscription returns the history trail for one subscription.
func (s *MemoryHistoryStore) BySubscription(id uuid.UUID) []*HistoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*HistoryRecord
	for _, rec := range s.records {
		if rec.SubscriptionID == id {
			out = append(out, rec)
		}
	}
	return out
}

// MemoryIdempotencyStore is a thread-safe in-memory IdempotencyStore. The
// claim is a genuine compare-and-set under the store's mutex.
type MemoryIdempotencyStore struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{keys: make(map[string]struct{})}
}

func (s *MemoryIdempotencyStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[key]
	return ok, nil
}

func (s *MemoryIdempotencyStore) Claim(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[key]; ok {
		return false, nil
	}
	s.keys[key] = struct{}{}
	return true, nil
}

func (s *MemoryIdempotencyStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	return nil
}

// PublishedEvent is one event captured by MemoryEventChannel.
type PublishedEvent struct {
	Subject string
	Payload map[string]any
}

// MemoryEventChannel records published events for assertions in tests.
type MemoryEventChannel struct {
	mu     sync.Mutex
	events []PublishedEvent

	// PublishErr, when set, is returned by every Publish call.
	PublishErr error
}

func NewMemoryEventChannel() *MemoryEventChannel {
	return &MemoryEventChannel{}
}

func (c *MemoryEventChannel) IsConnected() bool { return true }

func (c *MemoryEventChannel) Publish(ctx context.Context, subject string, payload map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.PublishErr != nil {
		return c.PublishErr
	}
	c.events = append(c.events, PublishedEvent{Subject: subject, Payload: maps.Clone(payload)})
	return nil
}

// Events returns a snapshot of all published events in order.
func (c *MemoryEventChannel) Events() []PublishedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]PublishedEvent, len(c.events))
	copy(out, c.events)
	return out
}

// BySubject returns published events matching a subject.
func (c *MemoryEventChannel) BySubject(subject string) []PublishedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []PublishedEvent
	for _, e := range c.events {
		if e.Subject == subject {
			out = append(out, e)
		}
	}
	return out
}
