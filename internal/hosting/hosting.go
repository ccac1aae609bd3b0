// Package hosting abstracts the code-hosting platform behind a small
// tool bridge. Callers sequence and guard these calls; the bridge itself
// performs no retries and guarantees no idempotency.
package hosting

import "context"

// Dependency is the circuit-breaker key for the hosting platform.
const Dependency = "hosting"

// FileWrite is one file operation to apply on a branch.
type FileWrite struct {
	Path    string
	Content string
	// Create distinguishes new files from modifications of existing ones.
	Create  bool
	Message string
}

// ChangeRequest describes the change request to open once a branch holds
// at least one commit.
type ChangeRequest struct {
	Title string
	Body  string
	Head  string
	Base  string
}

// Bridge is the code-hosting tool bridge. Each method is a single
// idempotent-intent call; callers must not repeat a confirmed success.
type Bridge interface {
	// BranchExists reports whether the named branch exists in repo.
	BranchExists(ctx context.Context, repo, name string) (bool, error)

	// CreateBranch creates a branch pointing at the head of from.
	CreateBranch(ctx context.Context, repo, name, from string) error

	// WriteFile commits one file write onto branch.
	WriteFile(ctx context.Context, repo, branch string, write FileWrite) error

	// OpenChangeRequest opens a change request and returns its URL.
	OpenChangeRequest(ctx context.Context, repo string, cr ChangeRequest) (string, error)

	// DeleteBranch removes a branch. Used for compensating cleanup.
	DeleteBranch(ctx context.Context, repo, name string) error
}
