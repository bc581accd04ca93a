package billing

import "time"

// Defaults applied when the corresponding Config field is zero.
const (
	DefaultTrialDurationDays  = 14
	DefaultFailuresBeforeHalt = 3
	DefaultSweepInterval      = 15 * time.Minute
	DefaultSweepBatchSize     = 100
	DefaultConflictRetries    = 3
	DefaultBillingPeriod      = 30 * 24 * time.Hour
)

type Config struct {
	TrialDurationDays  int           `env:"BILLING_TRIAL_DURATION_DAYS" envDefault:"14"`  // TrialDurationDays is the length of the one-time trial window.
	FailuresBeforeHalt int           `env:"BILLING_FAILURES_BEFORE_HALT" envDefault:"3"`  // FailuresBeforeHalt is the number of consecutive capture failures before a subscription is halted.
	SweepInterval      time.Duration `env:"BILLING_SWEEP_INTERVAL" envDefault:"15m"`      // SweepInterval is how often the expiry sweeper runs.
	SweepBatchSize     int           `env:"BILLING_SWEEP_BATCH_SIZE" envDefault:"100"`    // SweepBatchSize caps the number of rows selected per sweep.
	ConflictRetries    int           `env:"BILLING_CONFLICT_RETRIES" envDefault:"3"`      // ConflictRetries bounds optimistic-concurrency retries before surfacing a transient failure.
	BillingPeriod      time.Duration `env:"BILLING_PERIOD" envDefault:"720h"`             // BillingPeriod is the length of one paid billing cycle.
}

// TrialDuration returns the trial window as a duration, falling back to the
// 14-day default when unset.
func (c Config) TrialDuration() time.Duration {
	days := c.TrialDurationDays
	if days <= 0 {
		days = DefaultTrialDurationDays
	}
	return time.Duration(days) * 24 * time.Hour
}
