// Package session models one code-change request end-to-end: an ordered
// sequence of phases with terminal states, first-error capture, and the
// file-operation bookkeeping needed to open a change request.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Phase represents a distinct stage of a change-request session.
type Phase string

const (
	// PhaseAnalyzing inspects the repository and gathers conventions.
	PhaseAnalyzing Phase = "analyzing"

	// PhaseGenerating produces the set of file operations.
	PhaseGenerating Phase = "generating"

	// PhaseCommitting resolves the branch name and applies file writes.
	PhaseCommitting Phase = "committing"

	// PhaseOpeningChange opens the change request for the branch.
	PhaseOpeningChange Phase = "opening_change"

	// PhaseCompleted is the successful terminal state.
	PhaseCompleted Phase = "completed"

	// PhaseFailed is the failure terminal state, reachable from any
	// non-terminal phase.
	PhaseFailed Phase = "failed"
)

// Order returns the linear phases in execution order, terminals excluded.
func Order() []Phase {
	return []Phase{PhaseAnalyzing, PhaseGenerating, PhaseCommitting, PhaseOpeningChange}
}

// Terminal reports whether p permits no further transitions.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Session is one change-request workflow. It is owned exclusively by the
// worker goroutine running it; nothing here is safe for concurrent use.
type Session struct {
	ID            string
	Repo          string
	BaseBranch    string
	Prompt        string
	Client        string
	VerifyCommand string

	// BranchName is assigned once, before any file write, and is
	// immutable afterwards.
	BranchName string

	Phase Phase

	// CreatedFiles and ModifiedFiles are append-only and populated only
	// while committing.
	CreatedFiles  []string
	ModifiedFiles []string

	// Err holds the first failure verbatim. Never cleared, never
	// overwritten by later cleanup errors.
	Err error

	StartedAt  time.Time
	FinishedAt time.Time
}

// New creates a session for a validated request, entering PhaseAnalyzing.
func New(req Request) *Session {
	base := req.BaseBranch
	if base == "" {
		base = DefaultBaseBranch
	}
	return &Session{
		ID:            uuid.NewString(),
		Repo:          req.Repo,
		BaseBranch:    base,
		Prompt:        req.Prompt,
		Client:        req.Client,
		VerifyCommand: req.VerifyCommand,
		Phase:         PhaseAnalyzing,
		StartedAt:     time.Now(),
	}
}

// Transition advances to the next phase. Only the immediate successor in
// Order (or PhaseCompleted after PhaseOpeningChange) is reachable;
// PhaseFailed must go through Fail.
func (s *Session) Transition(next Phase) error {
	if s.Phase.Terminal() {
		return fmt.Errorf("session %s is terminal (%s), cannot enter %s", s.ID, s.Phase, next)
	}
	if next == PhaseFailed {
		return fmt.Errorf("use Fail to enter the failed state")
	}

	order := append(Order(), PhaseCompleted)
	currentIdx, nextIdx := -1, -1
	for i, p := range order {
		if p == s.Phase {
			currentIdx = i
		}
		if p == next {
			nextIdx = i
		}
	}
	if nextIdx == -1 {
		return fmt.Errorf("invalid target phase: %s", next)
	}
	if nextIdx != currentIdx+1 {
		return fmt.Errorf("cannot transition from %s to %s: phases are strictly ordered", s.Phase, next)
	}

	s.Phase = next
	if next == PhaseCompleted {
		s.FinishedAt = time.Now()
	}
	return nil
}

// Fail moves the session to PhaseFailed, retaining the first error. Calls
// on an already-terminal session are no-ops so cleanup failures can never
// clobber the original cause.
func (s *Session) Fail(err error) {
	if s.Phase.Terminal() {
		return
	}
	s.Phase = PhaseFailed
	s.Err = err
	s.FinishedAt = time.Now()
}

// SetBranch assigns the resolved branch name. The name is write-once.
func (s *Session) SetBranch(name string) error {
	if s.BranchName != "" {
		return fmt.Errorf("branch name already assigned: %s", s.BranchName)
	}
	if name == "" {
		return fmt.Errorf("branch name cannot be empty")
	}
	s.BranchName = name
	return nil
}

// RecordWrite appends a successfully applied file operation. Only legal
// while committing.
func (s *Session) RecordWrite(created bool, path string) error {
	if s.Phase != PhaseCommitting {
		return fmt.Errorf("file writes only occur while committing, session is %s", s.Phase)
	}
	if created {
		s.CreatedFiles = append(s.CreatedFiles, path)
	} else {
		s.ModifiedFiles = append(s.ModifiedFiles, path)
	}
	return nil
}

// WriteCount returns the number of applied file operations.
func (s *Session) WriteCount() int {
	return len(s.CreatedFiles) + len(s.ModifiedFiles)
}
