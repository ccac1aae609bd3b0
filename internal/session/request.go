package session

import (
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/patchd/internal/faults"
)

const (
	// DefaultBaseBranch is used when a request omits the target branch.
	DefaultBaseBranch = "main"

	// MinPromptLength guards against accidental empty submissions; a
	// change request needs at least a sentence of intent.
	MinPromptLength = 10
)

// repoPattern matches a normalized "owner/name" repository identifier.
var repoPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+/[a-zA-Z0-9._-]+$`)

// Request is an incoming code-change request, prior to admission.
type Request struct {
	Prompt     string `json:"prompt"`
	Repo       string `json:"repository"`
	BaseBranch string `json:"base_branch,omitempty"`
	Client     string `json:"client,omitempty"`

	// VerifyCommand, when set, is run in a sandboxed working copy with
	// the generated changes applied, before anything is committed.
	VerifyCommand string `json:"verify_command,omitempty"`
}

// NormalizeRepo reduces a repository URL or slug to the opaque
// "owner/name" key used for collision scoping.
func NormalizeRepo(raw string) string {
	s := strings.TrimSpace(raw)
	for _, prefix := range []string{"https://", "http://", "git@"} {
		s = strings.TrimPrefix(s, prefix)
	}
	if idx := strings.IndexAny(s, ":/"); idx != -1 && strings.Contains(s[:idx], ".") {
		// Strip a leading host ("github.com/" or "github.com:").
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(s, ".git")
	return strings.Trim(s, "/")
}

// Validate checks the request before any admission slot is consumed.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return faults.New("validate_request", faults.CodeValidation, "prompt is required")
	}
	if len(strings.TrimSpace(r.Prompt)) < MinPromptLength {
		return faults.New("validate_request", faults.CodeValidation,
			"prompt too short: need at least %d characters", MinPromptLength)
	}

	r.Repo = NormalizeRepo(r.Repo)
	if !repoPattern.MatchString(r.Repo) {
		return faults.New("validate_request", faults.CodeValidation,
			"repository must be of the form owner/name, got %q", r.Repo)
	}

	if r.Client == "" {
		r.Client = "anonymous"
	}
	return nil
}
