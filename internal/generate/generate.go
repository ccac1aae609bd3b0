// Package generate abstracts the analysis/generation service that turns a
// natural-language prompt into a concrete set of file operations. The
// service performs no retries of its own; the orchestrator guards it.
package generate

import (
	"context"
	"path"
	"strings"

	"github.com/fyrsmithlabs/patchd/internal/faults"
)

// Dependency is the circuit-breaker key for the generation service.
const Dependency = "generation"

// Action is the kind of file operation to perform.
type Action string

const (
	ActionCreate Action = "create"
	ActionModify Action = "modify"
)

// FileOp is one file operation with a target path and full content.
type FileOp struct {
	Action  Action `json:"action"`
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Analysis is the output of the analyze step: what the repository looks
// like and how it is conventionally written.
type Analysis struct {
	Structure    []string `json:"structure"`
	Conventions  string   `json:"conventions"`
	Dependencies []string `json:"dependencies"`
}

// ChangeSet is the output of the generate step.
type ChangeSet struct {
	Operations []FileOp `json:"operations"`
	Summary    string   `json:"summary"`
	Title      string   `json:"title"`
}

// AnalyzeRequest carries what the analyze step needs.
type AnalyzeRequest struct {
	Repo   string
	Prompt string
}

// GenerateRequest carries what the generate step needs.
type GenerateRequest struct {
	Repo     string
	Prompt   string
	Analysis *Analysis
}

// Service is the analysis/generation collaborator.
type Service interface {
	Analyze(ctx context.Context, req AnalyzeRequest) (*Analysis, error)
	Generate(ctx context.Context, req GenerateRequest) (*ChangeSet, error)
}

// Validate rejects empty change sets and operations that escape the
// repository root. A change set that fails validation is a permanent
// failure; re-asking the same model the same question is not a retry.
func (cs *ChangeSet) Validate() error {
	if len(cs.Operations) == 0 {
		return faults.New("validate_changeset", faults.CodeUnrecoverable, "generation produced no file operations")
	}
	for _, op := range cs.Operations {
		if op.Action != ActionCreate && op.Action != ActionModify {
			return faults.New("validate_changeset", faults.CodeUnrecoverable, "unknown action %q for %s", op.Action, op.Path)
		}
		if err := validatePath(op.Path); err != nil {
			return err
		}
	}
	return nil
}

// validatePath ensures a target stays inside the repository root.
func validatePath(p string) error {
	if p == "" {
		return faults.New("validate_changeset", faults.CodeUnrecoverable, "file operation with empty path")
	}
	if strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return faults.New("validate_changeset", faults.CodeUnrecoverable, "path %q must be repository-relative", p)
	}
	clean := path.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return faults.New("validate_changeset", faults.CodeUnrecoverable, "path %q escapes the repository root", p)
	}
	return nil
}
