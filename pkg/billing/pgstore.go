package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGSubscriptionStore is the Postgres-backed SubscriptionStore.
type PGSubscriptionStore struct {
	pool *pgxpool.Pool
}

// NewPGSubscriptionStore creates a Postgres subscription store.
// Panics if the pool is nil to fail fast during initialization.
func NewPGSubscriptionStore(pool *pgxpool.Pool) *PGSubscriptionStore {
	if pool == nil {
		panic("billing: pgx pool is required")
	}
	return &PGSubscriptionStore{pool: pool}
}

const subscriptionColumns = `
	id, organization_id, client_id, contract_id,
	plan, frequency, amount, currency, source,
	status, trial_starts_at, trial_ends_at,
	current_period_start, current_period_end, next_charge_at, retry_count,
	cancel_at_period_end, cancelled_at, cancellation_reason,
	suspended_at, suspension_reason,
	created_at, updated_at`

func (s *PGSubscriptionStore) Get(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)

	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound.With(map[string]any{"subscription_id": id})
		}
		return nil, fmt.Errorf("billing: get subscription: %w", err)
	}
	return sub, nil
}

func (s *PGSubscriptionStore) Save(ctx context.Context, sub *Subscription) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
		ON CONFLICT (id) DO UPDATE SET
			plan = EXCLUDED.plan,
			frequency = EXCLUDED.frequency,
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			source = EXCLUDED.source,
			status = EXCLUDED.status,
			trial_starts_at = EXCLUDED.trial_starts_at,
			trial_ends_at = EXCLUDED.trial_ends_at,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			next_charge_at = EXCLUDED.next_charge_at,
			retry_count = EXCLUDED.retry_count,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			cancelled_at = EXCLUDED.cancelled_at,
			cancellation_reason = EXCLUDED.cancellation_reason,
			suspended_at = EXCLUDED.suspended_at,
			suspension_reason = EXCLUDED.suspension_reason,
			updated_at = EXCLUDED.updated_at`,
		sub.ID, sub.OrganizationID, sub.ClientID, sub.ContractID,
		string(sub.Plan), string(sub.Frequency), sub.Amount, sub.Currency, string(sub.Source),
		string(sub.Status), sub.TrialStartsAt, sub.TrialEndsAt,
		nullableTime(sub.CurrentPeriodStart), nullableTime(sub.CurrentPeriodEnd), nullableTime(sub.NextChargeAt), sub.RetryCount,
		sub.CancelAtPeriodEnd, sub.CancelledAt, sub.CancellationReason,
		sub.SuspendedAt, sub.SuspensionReason,
		sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("billing: save subscription: %w", err)
	}
	return nil
}

func (s *PGSubscriptionStore) DueForCharge(ctx context.Context, orgID uuid.UUID, before time.Time) ([]*Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+subscriptionColumns+`
		FROM subscriptions
		WHERE organization_id = $1
		  AND status = $2
		  AND next_charge_at IS NOT NULL
		  AND next_charge_at <= $3
		ORDER BY next_charge_at`,
		orgID, string(StatusActive), before)
	if err != nil {
		return nil, fmt.Errorf("billing: query due for charge: %w", err)
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

func (s *PGSubscriptionStore) DueForTrialConversion(ctx context.Context, orgID uuid.UUID) ([]*Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+subscriptionColumns+`
		FROM subscriptions
		WHERE organization_id = $1
		  AND status = $2
		  AND trial_ends_at IS NOT NULL
		ORDER BY trial_ends_at`,
		orgID, string(StatusTrial))
	if err != nil {
		return nil, fmt.Errorf("billing: query due for trial conversion: %w", err)
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

// OrganizationIDs returns every organisation that owns at least one
// subscription. Used by the billing worker to fan out batch runs; not part
// of the SubscriptionStore port.
func (s *PGSubscriptionStore) OrganizationIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT organization_id FROM subscriptions ORDER BY organization_id`)
	if err != nil {
		return nil, fmt.Errorf("billing: query organizations: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("billing: scan organization id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func collectSubscriptions(rows pgx.Rows) ([]*Subscription, error) {
	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("billing: scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var (
		sub                Subscription
		plan, freq, source string
		status             string
		periodStart        *time.Time
		periodEnd          *time.Time
		nextChargeAt       *time.Time
	)
	err := row.Scan(
		&sub.ID, &sub.OrganizationID, &sub.ClientID, &sub.ContractID,
		&plan, &freq, &sub.Amount, &sub.Currency, &source,
		&status, &sub.TrialStartsAt, &sub.TrialEndsAt,
		&periodStart, &periodEnd, &nextChargeAt, &sub.RetryCount,
		&sub.CancelAtPeriodEnd, &sub.CancelledAt, &sub.CancellationReason,
		&sub.SuspendedAt, &sub.SuspensionReason,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sub.Plan = PlanTier(plan)
	sub.Frequency = Frequency(freq)
	sub.Source = Source(source)
	sub.Status = Status(status)
	sub.CurrentPeriodStart = derefTime(periodStart)
	sub.CurrentPeriodEnd = derefTime(periodEnd)
	sub.NextChargeAt = derefTime(nextChargeAt)
	return &sub, nil
}

// nullableTime maps the zero time to NULL so partial schedules (pending and
// trial subscriptions) do not store a bogus year-one timestamp.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// PGHistoryStore is the Postgres-backed append-only HistoryStore.
type PGHistoryStore struct {
	pool *pgxpool.Pool
}

// NewPGHistoryStore creates a Postgres history store.
// Panics if the pool is nil to fail fast during initialization.
func NewPGHistoryStore(pool *pgxpool.Pool) *PGHistoryStore {
	if pool == nil {
		panic("billing: pgx pool is required")
	}
	return &PGHistoryStore{pool: pool}
}

func (s *PGHistoryStore) Create(ctx context.Context, rec *HistoryRecord) error {
	var metadata []byte
	if rec.Metadata != nil {
		var err error
		metadata, err = json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("billing: marshal history metadata: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscription_history
			(id, subscription_id, old_status, new_status, reason, triggered_by, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.SubscriptionID, string(rec.OldStatus), string(rec.NewStatus),
		rec.Reason, string(rec.TriggeredBy), metadata, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("billing: append history: %w", err)
	}
	return nil
}
