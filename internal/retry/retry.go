// Package retry provides exponential-backoff retries for external calls.
// Only failures classified transient by the faults package are retried;
// permanent failures propagate on the first attempt.
package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patchd/internal/faults"
	"github.com/fyrsmithlabs/patchd/internal/logging"
)

// Config configures retry behavior for external calls.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Default: 3
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt.
	// Default: 1 second
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts.
	// Default: 30 seconds
	MaxBackoff time.Duration
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.MaxAttempts == 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
}

// Do runs op, retrying transient failures with exponential backoff
// (initial * 2^(attempt-1), capped at MaxBackoff). Non-transient failures
// return immediately. The wait between attempts honors ctx cancellation.
func Do(ctx context.Context, cfg Config, op string, fn func(ctx context.Context) error) error {
	cfg.ApplyDefaults()

	log := logging.FromContext(ctx).Named("retry")
	backoff := cfg.InitialBackoff
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info(ctx, "operation recovered after retries",
					zap.String("op", op),
					zap.Int("attempts", attempt),
					zap.Duration("total_time", time.Since(start)),
				)
			}
			return nil
		}
		lastErr = err

		if !faults.IsTransient(err) {
			log.Debug(ctx, "error is not retryable",
				zap.String("op", op),
				zap.Error(err),
			)
			return err
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		log.Info(ctx, "retrying after transient error",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", cfg.MaxAttempts),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return faults.Wrap(op, faults.CodeUnrecoverable, fmt.Errorf("canceled during backoff: %w", ctx.Err()))
		case <-time.After(backoff):
			backoff *= 2
			if backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
		}
	}

	log.Warn(ctx, "operation failed after all retries exhausted",
		zap.String("op", op),
		zap.Int("total_attempts", cfg.MaxAttempts),
		zap.Duration("total_time", time.Since(start)),
		zap.Error(lastErr),
	)

	return faults.Wrap(op, faults.CodeTransient, fmt.Errorf("after %d attempts: %w", cfg.MaxAttempts, lastErr))
}
