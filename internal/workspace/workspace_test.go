package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/patchd/internal/faults"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), "", nil)
	require.NoError(t, err)
	return m
}

func testWorkspace(t *testing.T) *Workspace {
	t.Helper()
	return &Workspace{SessionID: "sess-test", Dir: t.TempDir()}
}

func TestNewManager_CreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "workspaces")
	_, err := NewManager(root, "", nil)
	require.NoError(t, err)

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestRun_CapturesOutput(t *testing.T) {
	m := testManager(t)
	w := testWorkspace(t)

	out, err := m.Run(context.Background(), w, "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)
}

func TestRun_ScopedToWorkspaceDir(t *testing.T) {
	m := testManager(t)
	w := testWorkspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(w.Dir, "marker.txt"), []byte("x"), 0o600))

	out, err := m.Run(context.Background(), w, "ls")
	require.NoError(t, err)
	assert.Contains(t, out, "marker.txt")
}

func TestRun_NonZeroExitIsStepError(t *testing.T) {
	m := testManager(t)
	w := testWorkspace(t)

	_, err := m.Run(context.Background(), w, "exit 3")
	require.Error(t, err)
	assert.Equal(t, faults.CodeUnrecoverable, faults.CodeOf(err))
}

func TestRun_ContextCancellation(t *testing.T) {
	m := testManager(t)
	w := testWorkspace(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := m.Run(ctx, w, "sleep 5")
	require.Error(t, err)
	assert.Equal(t, faults.CodeTransient, faults.CodeOf(err))
}

func TestCleanup(t *testing.T) {
	m := testManager(t)
	w := testWorkspace(t)

	require.NoError(t, m.Cleanup(context.Background(), w))
	_, err := os.Stat(w.Dir)
	assert.True(t, os.IsNotExist(err))

	t.Run("idempotent", func(t *testing.T) {
		assert.NoError(t, m.Cleanup(context.Background(), w))
	})

	t.Run("nil workspace is a no-op", func(t *testing.T) {
		assert.NoError(t, m.Cleanup(context.Background(), nil))
	})
}
