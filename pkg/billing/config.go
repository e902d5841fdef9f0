package billing

import "time"

// Config carries the tunable knobs of the billing core, loaded from the
// environment by the worker.
type Config struct {
	// MaxChargeRetries is the failed-attempt count at which a subscription
	// escalates to past_due.
	MaxChargeRetries int `env:"BILLING_MAX_CHARGE_RETRIES" envDefault:"3"`

	// DefaultTrialDays is the trial length used when provisioning does not
	// specify one.
	DefaultTrialDays int `env:"BILLING_DEFAULT_TRIAL_DAYS" envDefault:"14"`

	// IdempotencyTTL is how long claimed charge keys are retained.
	IdempotencyTTL time.Duration `env:"BILLING_IDEMPOTENCY_TTL" envDefault:"1080h"`
}
