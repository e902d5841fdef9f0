package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/billing"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from billing.Status
		to   billing.Status
		want bool
	}{
		{"pending to active", billing.StatusPending, billing.StatusActive, true},
		{"pending to trial", billing.StatusPending, billing.StatusTrial, true},
		{"pending to cancelled", billing.StatusPending, billing.StatusCancelled, true},
		{"pending to suspended", billing.StatusPending, billing.StatusSuspended, false},
		{"trial to active", billing.StatusTrial, billing.StatusActive, true},
		{"trial to expired", billing.StatusTrial, billing.StatusExpired, true},
		{"trial to past_due", billing.StatusTrial, billing.StatusPastDue, false},
		{"active to suspended", billing.StatusActive, billing.StatusSuspended, true},
		{"active to past_due", billing.StatusActive, billing.StatusPastDue, true},
		{"active to cancelled", billing.StatusActive, billing.StatusCancelled, true},
		{"active to expired", billing.StatusActive, billing.StatusExpired, true},
		{"active to trial", billing.StatusActive, billing.StatusTrial, false},
		{"suspended to active", billing.StatusSuspended, billing.StatusActive, true},
		{"suspended to cancelled", billing.StatusSuspended, billing.StatusCancelled, true},
		{"suspended to expired", billing.StatusSuspended, billing.StatusExpired, false},
		{"past_due to active", billing.StatusPastDue, billing.StatusActive, true},
		{"past_due to suspended", billing.StatusPastDue, billing.StatusSuspended, true},
		{"past_due to cancelled", billing.StatusPastDue, billing.StatusCancelled, true},
		{"past_due to expired", billing.StatusPastDue, billing.StatusExpired, true},
		{"cancelled is terminal", billing.StatusCancelled, billing.StatusActive, false},
		{"expired is terminal", billing.StatusExpired, billing.StatusActive, false},
		{"unknown source", billing.Status("paused"), billing.StatusActive, false},
		{"unknown target", billing.StatusActive, billing.Status("archived"), false},
		{"both unknown", billing.Status(""), billing.Status(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, billing.CanTransition(tt.from, tt.to))
		})
	}
}

func TestTransitionTargets(t *testing.T) {
	t.Parallel()

	t.Run("sorted targets", func(t *testing.T) {
		t.Parallel()
		targets := billing.TransitionTargets(billing.StatusActive)
		require.Equal(t, []billing.Status{
			billing.StatusCancelled,
			billing.StatusExpired,
			billing.StatusPastDue,
			billing.StatusSuspended,
		}, targets)
	})

	t.Run("terminal statuses have none", func(t *testing.T) {
		t.Parallel()
		assert.Empty(t, billing.TransitionTargets(billing.StatusCancelled))
		assert.Empty(t, billing.TransitionTargets(billing.StatusExpired))
	})

	t.Run("unknown status has none", func(t *testing.T) {
		t.Parallel()
		assert.Empty(t, billing.TransitionTargets(billing.Status("paused")))
	})
}

func TestIsTerminal(t *testing.T) {
	t.Parallel()

	assert.True(t, billing.IsTerminal(billing.StatusCancelled))
	assert.True(t, billing.IsTerminal(billing.StatusExpired))
	assert.False(t, billing.IsTerminal(billing.StatusActive))
	assert.False(t, billing.IsTerminal(billing.StatusPending))
}
