package billing

import "time"

// Clock supplies the current instant to the billing services. Injecting it
// keeps scheduling and retry behavior reproducible: a whole batch invocation
// observes a single "now".
type Clock func() time.Time

// SystemClock returns the current UTC time.
func SystemClock() time.Time {
	return time.Now().UTC()
}

// FixedClock returns a Clock frozen at the given instant, for tests.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}
