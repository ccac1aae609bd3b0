// Package admission gates entry into the system: it tracks in-flight
// sessions per process and per client identity, rejects over-budget
// requests immediately, and garbage-collects slots whose sessions never
// released them.
package admission

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patchd/internal/faults"
	"github.com/fyrsmithlabs/patchd/internal/logging"
)

// RejectionReason identifies which budget a rejected request exceeded.
type RejectionReason string

const (
	GlobalLimitExceeded    RejectionReason = "global_limit_exceeded"
	PerClientLimitExceeded RejectionReason = "per_client_limit_exceeded"
)

// Rejection is returned when a request cannot be admitted. It satisfies
// error and is classified admission_rejected.
type Rejection struct {
	Reason       RejectionReason
	CurrentCount int
	Limit        int
	fault        *faults.Fault
}

func (r *Rejection) Error() string { return r.fault.Error() }
func (r *Rejection) Unwrap() error { return r.fault }

// Config configures admission budgets.
type Config struct {
	// GlobalLimit is the process-wide in-flight session budget.
	// Default: 10
	GlobalLimit int

	// PerClientLimit is the in-flight budget per client identity.
	// Default: 3
	PerClientLimit int

	// SlotTimeout is the age past which an unreleased slot is considered
	// abandoned and reclaimed. Default: 10 minutes
	SlotTimeout time.Duration
}

// DefaultConfig returns the default admission configuration.
func DefaultConfig() Config {
	return Config{
		GlobalLimit:    10,
		PerClientLimit: 3,
		SlotTimeout:    10 * time.Minute,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.GlobalLimit == 0 {
		c.GlobalLimit = defaults.GlobalLimit
	}
	if c.PerClientLimit == 0 {
		c.PerClientLimit = defaults.PerClientLimit
	}
	if c.SlotTimeout == 0 {
		c.SlotTimeout = defaults.SlotTimeout
	}
}

// Slot is one quota reservation for an in-flight session.
type Slot struct {
	ID        string
	SessionID string
	Repo      string
	Client    string
	StartedAt time.Time
}

// Controller owns the slot table. All access goes through its methods;
// the table is never exposed.
type Controller struct {
	cfg     Config
	logger  *logging.Logger
	metrics *Metrics

	mu    sync.Mutex
	slots map[string]*Slot
}

// NewController creates an admission controller. metrics may be nil.
func NewController(cfg Config, logger *logging.Logger, metrics *Metrics) *Controller {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Controller{
		cfg:     cfg,
		logger:  logger.Named("admission"),
		metrics: metrics,
		slots:   make(map[string]*Slot),
	}
}

// TryAdmit reserves a slot for a new session. Expired slots are reclaimed
// first so decisions reflect a live view. Rejected requests are not
// queued; they fail immediately.
func (c *Controller) TryAdmit(ctx context.Context, client, repo, sessionID string) (*Slot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reclaimLocked(ctx, time.Now())

	if len(c.slots) >= c.cfg.GlobalLimit {
		return nil, c.reject(ctx, GlobalLimitExceeded, client, len(c.slots), c.cfg.GlobalLimit)
	}

	clientCount := 0
	for _, s := range c.slots {
		if s.Client == client {
			clientCount++
		}
	}
	if clientCount >= c.cfg.PerClientLimit {
		return nil, c.reject(ctx, PerClientLimitExceeded, client, clientCount, c.cfg.PerClientLimit)
	}

	slot := &Slot{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Repo:      repo,
		Client:    client,
		StartedAt: time.Now(),
	}
	c.slots[slot.ID] = slot

	if c.metrics != nil {
		c.metrics.inflight.Set(float64(len(c.slots)))
		c.metrics.admitted.Inc()
	}
	c.logger.Debug(ctx, "slot admitted",
		zap.String("slot_id", slot.ID),
		zap.String("client", client),
		zap.Int("in_flight", len(c.slots)),
	)
	return slot, nil
}

// Release frees a slot. Idempotent: releasing an unknown or already
// released slot is a no-op, never an error.
func (c *Controller) Release(ctx context.Context, slotID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.slots[slotID]; !ok {
		return
	}
	delete(c.slots, slotID)

	if c.metrics != nil {
		c.metrics.inflight.Set(float64(len(c.slots)))
	}
	c.logger.Debug(ctx, "slot released",
		zap.String("slot_id", slotID),
		zap.Int("in_flight", len(c.slots)),
	)
}

// ReclaimExpired removes slots older than the slot timeout and returns
// how many were reclaimed. Also invoked internally before each admission
// decision.
func (c *Controller) ReclaimExpired(ctx context.Context, now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reclaimLocked(ctx, now)
}

// InFlight returns the current slot count.
func (c *Controller) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}

func (c *Controller) reclaimLocked(ctx context.Context, now time.Time) int {
	reclaimed := 0
	for id, s := range c.slots {
		if now.Sub(s.StartedAt) > c.cfg.SlotTimeout {
			delete(c.slots, id)
			reclaimed++
			c.logger.Warn(ctx, "reclaimed stale slot",
				zap.String("slot_id", id),
				zap.String("session_id", s.SessionID),
				zap.String("client", s.Client),
				zap.Duration("age", now.Sub(s.StartedAt)),
			)
		}
	}
	if reclaimed > 0 && c.metrics != nil {
		c.metrics.reclaimed.Add(float64(reclaimed))
		c.metrics.inflight.Set(float64(len(c.slots)))
	}
	return reclaimed
}

func (c *Controller) reject(ctx context.Context, reason RejectionReason, client string, count, limit int) *Rejection {
	if c.metrics != nil {
		c.metrics.rejected.WithLabelValues(string(reason)).Inc()
	}
	c.logger.Info(ctx, "admission rejected",
		zap.String("reason", string(reason)),
		zap.String("client", client),
		zap.Int("current", count),
		zap.Int("limit", limit),
	)
	return &Rejection{
		Reason:       reason,
		CurrentCount: count,
		Limit:        limit,
		fault: faults.New("try_admit", faults.CodeAdmissionRejected,
			"%s: %d of %d slots in use", reason, count, limit),
	}
}
