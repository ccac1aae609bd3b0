// Package workspace manages per-session working copies and sandboxed
// command execution scoped to them. Each session gets its own clone
// under an isolated directory; commands never run outside it.
package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patchd/internal/config"
	"github.com/fyrsmithlabs/patchd/internal/faults"
	"github.com/fyrsmithlabs/patchd/internal/logging"
)

// Workspace is one session's working copy.
type Workspace struct {
	SessionID string
	Dir       string
}

// Manager creates and destroys workspaces under a common root.
type Manager struct {
	root   string
	token  config.Secret
	logger *logging.Logger
}

// NewManager creates a workspace manager. root defaults to a patchd
// directory under the system temp dir.
func NewManager(root string, token config.Secret, logger *logging.Logger) (*Manager, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "patchd-workspaces")
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("creating workspace root %s: %w", root, err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{root: root, token: token, logger: logger.Named("workspace")}, nil
}

// Clone creates a session workspace holding a shallow clone of repo at
// branch. repo is the normalized "owner/name" identifier.
func (m *Manager) Clone(ctx context.Context, sessionID, repo, branch string) (*Workspace, error) {
	dir := filepath.Join(m.root, sessionID)

	opts := &git.CloneOptions{
		URL:           fmt.Sprintf("https://github.com/%s.git", repo),
		ReferenceName: plumbing.NewBranchReferenceName(branch),
		SingleBranch:  true,
		Depth:         1,
	}
	if m.token.IsSet() {
		opts.Auth = &githttp.BasicAuth{Username: "x-access-token", Password: m.token.Value()}
	}

	if _, err := git.PlainCloneContext(ctx, dir, false, opts); err != nil {
		_ = os.RemoveAll(dir)
		return nil, faults.Wrap("clone_workspace", faults.CodeTransient,
			fmt.Errorf("cloning %s@%s: %w", repo, branch, err))
	}

	m.logger.Debug(ctx, "workspace cloned",
		zap.String("session_id", sessionID),
		zap.String("repo", repo),
		zap.String("branch", branch),
	)
	return &Workspace{SessionID: sessionID, Dir: dir}, nil
}

// Run executes a shell command rooted at the workspace directory and
// returns its combined output. Non-zero exits and cancellations surface
// as ordinary classified step errors.
func (m *Manager) Run(ctx context.Context, w *Workspace, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = w.Dir

	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return string(out), faults.Wrap("run_command", faults.CodeTransient,
				fmt.Errorf("command interrupted: %w", ctx.Err()))
		}
		return string(out), faults.Wrap("run_command", faults.CodeUnrecoverable,
			fmt.Errorf("command %q: %w: %s", command, err, out))
	}
	return string(out), nil
}

// Cleanup removes a session's workspace. Safe to call more than once.
func (m *Manager) Cleanup(ctx context.Context, w *Workspace) error {
	if w == nil || w.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(w.Dir); err != nil {
		return fmt.Errorf("removing workspace %s: %w", w.Dir, err)
	}
	m.logger.Debug(ctx, "workspace removed", zap.String("session_id", w.SessionID))
	return nil
}
