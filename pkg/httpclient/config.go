package httpclient

import (
	"log/slog"
	"time"

	"github.com/tombee/switchyard/pkg/errors"
)

// Config configures a client built by New.
type Config struct {
	// Timeout bounds the whole request including retries. Must be > 0.
	Timeout time.Duration

	// RetryAttempts is the number of retries after the first try. 0 disables.
	RetryAttempts int

	// RetryBackoff is the delay before the first retry.
	RetryBackoff time.Duration

	// MaxBackoff caps the exponential delay.
	MaxBackoff time.Duration

	// UserAgent is sent when the request has none.
	UserAgent string

	// Logger receives request logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the settings used for collaborator calls.
func DefaultConfig() Config {
	return Config{
		Timeout:       30 * time.Second,
		RetryAttempts: 2,
		RetryBackoff:  100 * time.Millisecond,
		MaxBackoff:    5 * time.Second,
		UserAgent:     "switchyard/1.0",
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return &errors.ConfigError{Key: "timeout", Reason: "must be > 0"}
	}
	if c.RetryAttempts < 0 {
		return &errors.ConfigError{Key: "retry_attempts", Reason: "must be >= 0"}
	}
	if c.RetryAttempts > 0 {
		if c.RetryBackoff <= 0 {
			return &errors.ConfigError{Key: "retry_backoff", Reason: "must be > 0 when retries are enabled"}
		}
		if c.MaxBackoff < c.RetryBackoff {
			return &errors.ConfigError{Key: "max_backoff", Reason: "must be >= retry_backoff"}
		}
	}
	if c.UserAgent == "" {
		return &errors.ConfigError{Key: "user_agent", Reason: "is required"}
	}
	return nil
}
