// Package breaker implements a circuit breaker per named external
// dependency. After a run of consecutive failures the breaker opens and
// rejects calls without touching the dependency; after a cooldown it
// admits exactly one trial call whose outcome decides the next state.
package breaker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patchd/internal/faults"
	"github.com/fyrsmithlabs/patchd/internal/logging"
)

// State is the circuit state for one dependency.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config configures breaker behavior. Shared by all dependency keys.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit. Default: 5
	FailureThreshold int

	// Cooldown is how long an open circuit rejects calls before allowing
	// a trial. Default: 30 seconds
	Cooldown time.Duration
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.FailureThreshold == 0 {
		c.FailureThreshold = defaults.FailureThreshold
	}
	if c.Cooldown == 0 {
		c.Cooldown = defaults.Cooldown
	}
}

// circuit is the state for one dependency key. Guarded by Registry.mu.
type circuit struct {
	state               State
	consecutiveFailures int
	lastFailure         time.Time
	probing             bool
}

// Registry owns one circuit per dependency key. Circuits are created
// lazily on first use and never destroyed.
type Registry struct {
	cfg    Config
	logger *logging.Logger

	mu       sync.Mutex
	circuits map[string]*circuit
}

// NewRegistry creates a breaker registry.
func NewRegistry(cfg Config, logger *logging.Logger) *Registry {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Registry{
		cfg:      cfg,
		logger:   logger.Named("breaker"),
		circuits: make(map[string]*circuit),
	}
}

// Do runs fn guarded by the circuit for key. fn should span a complete
// call cycle (including any retries): its final outcome counts once
// against the failure tally.
func (r *Registry) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if err := r.admit(ctx, key); err != nil {
		return err
	}

	err := fn(ctx)
	r.record(ctx, key, err)
	return err
}

// State returns the current state for key, evaluating a lazy
// open-to-half-open transition first.
func (r *Registry) State(key string) State {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.circuits[key]
	if !ok {
		return StateClosed
	}
	r.refresh(c)
	return c.state
}

// admit decides whether a call may proceed and reserves the half-open
// trial slot when applicable.
func (r *Registry) admit(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.circuits[key]
	if !ok {
		c = &circuit{state: StateClosed}
		r.circuits[key] = c
	}

	r.refresh(c)

	switch c.state {
	case StateOpen:
		remaining := r.cfg.Cooldown - time.Since(c.lastFailure)
		if remaining < 0 {
			remaining = 0
		}
		return faults.Unavailable(key, remaining,
			faults.New(key, faults.CodeDependencyUnavailable, "circuit open, retry in %s", remaining.Round(time.Millisecond)))

	case StateHalfOpen:
		if c.probing {
			// Trial already in flight; only one probe at a time.
			return faults.Unavailable(key, r.cfg.Cooldown,
				faults.New(key, faults.CodeDependencyUnavailable, "circuit half-open, trial in progress"))
		}
		c.probing = true
	}

	return nil
}

// record updates circuit state with the outcome of a completed call.
func (r *Registry) record(ctx context.Context, key string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.circuits[key]
	wasProbe := c.probing
	c.probing = false

	if err == nil {
		if c.state != StateClosed {
			r.logger.Info(ctx, "circuit closed after successful trial", zap.String("dependency", key))
		}
		c.state = StateClosed
		c.consecutiveFailures = 0
		return
	}

	if wasProbe {
		// Failed trial: straight back to open, cooldown restarts.
		c.state = StateOpen
		c.lastFailure = time.Now()
		r.logger.Warn(ctx, "circuit re-opened after failed trial",
			zap.String("dependency", key),
			zap.Error(err),
		)
		return
	}

	c.consecutiveFailures++
	if c.consecutiveFailures >= r.cfg.FailureThreshold {
		c.state = StateOpen
		c.lastFailure = time.Now()
		r.logger.Warn(ctx, "circuit opened",
			zap.String("dependency", key),
			zap.Int("consecutive_failures", c.consecutiveFailures),
			zap.Duration("cooldown", r.cfg.Cooldown),
			zap.Error(err),
		)
	}
}

// refresh applies the lazy open-to-half-open transition. Caller holds mu.
func (r *Registry) refresh(c *circuit) {
	if c.state == StateOpen && time.Since(c.lastFailure) >= r.cfg.Cooldown {
		c.state = StateHalfOpen
	}
}
