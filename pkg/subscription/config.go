package subscription

import (
	"time"

	"github.com/dmitrymomot/subkit/pkg/session"
)

// Config holds lifecycle timing and policy knobs.
type Config struct {
	TrialDays               int           `env:"TRIAL_DAYS" envDefault:"10"`
	ProcessingGrace         time.Duration `env:"PROCESSING_GRACE" envDefault:"24h"`
	PaymentProcessingWindow time.Duration `env:"PAYMENT_PROCESSING_WINDOW" envDefault:"10m"`
	RecentCreateWindow      time.Duration `env:"RECENT_CREATE_WINDOW" envDefault:"10m"`
	UsageRetention          time.Duration `env:"USAGE_RETENTION" envDefault:"2160h"`
	// CompletedCleanupAfter clears provider bindings of ended subscriptions
	// after this long. Zero disables the cleanup.
	CompletedCleanupAfter time.Duration `env:"COMPLETED_CLEANUP_AFTER" envDefault:"0s"`
	PlansFile             string        `env:"PLANS_FILE"`
	DeadLetterAutoReplay  bool          `env:"DEADLETTER_AUTO_REPLAY" envDefault:"false"`

	Session session.Policy
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TrialDays:               10,
		ProcessingGrace:         24 * time.Hour,
		PaymentProcessingWindow: 10 * time.Minute,
		RecentCreateWindow:      10 * time.Minute,
		UsageRetention:          90 * 24 * time.Hour,
		Session:                 session.DefaultPolicy(),
	}
}

// TrialLength returns the trial duration.
func (c Config) TrialLength() time.Duration {
	return time.Duration(c.TrialDays) * 24 * time.Hour
}

// PlanSource returns the YAML plan table when PlansFile is set, otherwise the defaults.
func (c Config) PlanSource() PlanSource {
	if c.PlansFile != "" {
		return YAMLPlans{Path: c.PlansFile}
	}
	return DefaultPlans()
}
