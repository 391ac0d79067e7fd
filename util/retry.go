package util

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig bounds the exponential backoff used at the network boundary.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int `yaml:"max_attempts"`
	// InitialInterval is the wait before the second attempt.
	InitialInterval time.Duration `yaml:"initial_interval"`
	// MaxInterval caps a single wait.
	MaxInterval time.Duration `yaml:"max_interval"`
}

// DefaultRetryConfig returns three attempts starting at 200ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// StatusError is returned by HTTP helpers for a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.URL, e.StatusCode)
}

// Permanent marks err so Retry gives up immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// CheckStatus returns nil for a 2xx status. Client errors (4xx) are wrapped as
// permanent so they are not retried; everything else is retryable.
func CheckStatus(url string, code int) error {
	if code >= 200 && code < 300 {
		return nil
	}
	err := &StatusError{URL: url, StatusCode: code}
	if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
		return Permanent(err)
	}
	return err
}

// Retry runs op until it succeeds, returns a permanent error, the attempts are
// exhausted or ctx is done.
//
// Arguments:
//   - ctx: Cancels waiting between attempts.
//   - cfg: Attempt and interval bounds. Zero values fall back to DefaultRetryConfig.
//   - op: The operation to run.
//
// Returns:
//   - error: The last error returned by op, unwrapped from any permanent marker.
func Retry(ctx context.Context, cfg RetryConfig, op func() error) error {
	def := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.InitialInterval
	eb.MaxInterval = cfg.MaxInterval
	eb.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(cfg.MaxAttempts-1)), ctx)
	return backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		return op()
	}, policy)
}
