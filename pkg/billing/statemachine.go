package billing

import "slices"

// transition is a directed edge in the subscription status graph.
type transition struct {
	From Status
	To   Status
}

// validTransitions is the canonical transition table. Cancelled and expired
// are terminal: no outgoing edges. Business preconditions beyond pure status
// legality (trial eligibility, cancellation prerequisites) live in
// LifecycleService, which may further restrict - but never widen - this
// table.
var validTransitions = map[transition]bool{
	{StatusPending, StatusActive}:    true,
	{StatusPending, StatusCancelled}: true,
	{StatusPending, StatusTrial}:     true,

	{StatusTrial, StatusActive}:    true,
	{StatusTrial, StatusCancelled}: true,
	{StatusTrial, StatusExpired}:   true,

	{StatusActive, StatusSuspended}: true,
	{StatusActive, StatusPastDue}:   true,
	{StatusActive, StatusCancelled}: true,
	{StatusActive, StatusExpired}:   true,

	{StatusSuspended, StatusActive}:    true,
	{StatusSuspended, StatusCancelled}: true,

	{StatusPastDue, StatusActive}:    true,
	{StatusPastDue, StatusSuspended}: true,
	{StatusPastDue, StatusCancelled}: true,
	{StatusPastDue, StatusExpired}:   true,
}

// CanTransition reports whether a direct transition between two statuses is
// legal. Unknown source or target statuses yield false rather than an error.
func CanTransition(from, to Status) bool {
	return validTransitions[transition{from, to}]
}

// TransitionTargets returns all statuses reachable in one step from the given
// status, sorted for deterministic callers. Terminal statuses return an empty
// slice.
func TransitionTargets(from Status) []Status {
	targets := make([]Status, 0)
	for t := range validTransitions {
		if t.From == from {
			targets = append(targets, t.To)
		}
	}
	slices.Sort(targets)
	return targets
}

// IsTerminal reports whether a status has no outgoing transitions.
func IsTerminal(s Status) bool {
	for t := range validTransitions {
		if t.From == s {
			return false
		}
	}
	return true
}
