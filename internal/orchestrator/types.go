// Package orchestrator composes admission control, the session state
// machine, guarded external calls, and branch resolution into the
// end-to-end change-request workflow.
package orchestrator

import (
	"time"

	"github.com/fyrsmithlabs/patchd/internal/faults"
)

// Result is the terminal outcome of one session.
type Result struct {
	SessionID        string      `json:"session_id"`
	Success          bool        `json:"success"`
	ChangeRequestURL string      `json:"change_request_url,omitempty"`
	BranchName       string      `json:"branch_name,omitempty"`
	Summary          string      `json:"summary,omitempty"`
	ErrorCode        faults.Code `json:"error_code,omitempty"`
	Message          string      `json:"message,omitempty"`
	FinishedAt       time.Time   `json:"finished_at"`
}

// Config holds the orchestrator's fixed configuration surface.
type Config struct {
	// Budget is the wall-clock limit for one session end-to-end.
	// Default: 5 minutes
	Budget time.Duration

	// BaseBranch is the default target branch when a request omits one.
	// Default: main
	BaseBranch string
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		Budget:     5 * time.Minute,
		BaseBranch: "main",
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.Budget == 0 {
		c.Budget = defaults.Budget
	}
	if c.BaseBranch == "" {
		c.BaseBranch = defaults.BaseBranch
	}
}
