package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultIdempotencyTTL keeps claimed charge keys long enough to cover any
// realistic overlap of batch runs for one billing cycle.
const DefaultIdempotencyTTL = 45 * 24 * time.Hour

// RedisIdempotencyStore implements IdempotencyStore on Redis. The claim is
// SET NX, which is atomic on the server: exactly one of any number of
// concurrent claimers for a key wins.
type RedisIdempotencyStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisIdempotencyOption configures a RedisIdempotencyStore.
type RedisIdempotencyOption func(*RedisIdempotencyStore)

// WithIdempotencyTTL overrides the claim retention period.
func WithIdempotencyTTL(ttl time.Duration) RedisIdempotencyOption {
	return func(s *RedisIdempotencyStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithIdempotencyPrefix overrides the key namespace.
func WithIdempotencyPrefix(prefix string) RedisIdempotencyOption {
	return func(s *RedisIdempotencyStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// NewRedisIdempotencyStore creates a Redis-backed idempotency store.
// Panics if the client is nil to fail fast during initialization.
func NewRedisIdempotencyStore(client redis.UniversalClient, opts ...RedisIdempotencyOption) *RedisIdempotencyStore {
	if client == nil {
		panic("billing: redis client is required")
	}
	s := &RedisIdempotencyStore{
		client: client,
		prefix: "billing:charge:",
		ttl:    DefaultIdempotencyTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisIdempotencyStore) key(key string) string {
	return s.prefix + key
}

func (s *RedisIdempotencyStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("billing: idempotency lookup: %w", err)
	}
	return n > 0, nil
}

func (s *RedisIdempotencyStore) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(key), "1", s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("billing: idempotency claim: %w", err)
	}
	return ok, nil
}

func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("billing: idempotency release: %w", err)
	}
	return nil
}

// RedisEventChannel publishes billing events on Redis pub/sub. Delivery is
// best-effort by design: subscribers that are offline miss events.
type RedisEventChannel struct {
	client redis.UniversalClient
}

// NewRedisEventChannel creates a Redis-backed event channel.
// Panics if the client is nil to fail fast during initialization.
func NewRedisEventChannel(client redis.UniversalClient) *RedisEventChannel {
	if client == nil {
		panic("billing: redis client is required")
	}
	return &RedisEventChannel{client: client}
}

func (c *RedisEventChannel) IsConnected() bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return c.client.Ping(ctx).Err() == nil
}

func (c *RedisEventChannel) Publish(ctx context.Context, subject string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("billing: marshal event payload: %w", err)
	}
	if err := c.client.Publish(ctx, subject, body).Err(); err != nil {
		return fmt.Errorf("billing: publish event: %w", err)
	}
	return nil
}
