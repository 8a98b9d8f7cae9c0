package redis

import "time"

type Config struct {
	ConnectionURL  string        `env:"REDIS_URL"`                                // ConnectionURL in the format "redis://:password@localhost:6379/0". Empty disables Redis.
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`      // RetryAttempts is the number of connection attempts.
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`     // RetryInterval is the pause between attempts.
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`   // ConnectTimeout bounds all attempts together.
	LedgerTTL      time.Duration `env:"REDIS_EVENT_LEDGER_TTL" envDefault:"168h"` // LedgerTTL is how long processed webhook keys are remembered.
}

// Enabled reports whether a connection URL is configured.
func (c Config) Enabled() bool {
	return c.ConnectionURL != ""
}
