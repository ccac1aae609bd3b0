package faults

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFault_Error(t *testing.T) {
	f := New("create_branch", CodeTransient, "dial tcp: timeout")
	assert.Contains(t, f.Error(), "create_branch failed")
	assert.Contains(t, f.Error(), "transient")
}

func TestWrap(t *testing.T) {
	t.Run("nil error yields nil", func(t *testing.T) {
		assert.NoError(t, Wrap("op", CodeTransient, nil))
	})

	t.Run("preserves error chain", func(t *testing.T) {
		base := errors.New("boom")
		wrapped := Wrap("generate_changes", CodeUnrecoverable, fmt.Errorf("outer: %w", base))
		require.Error(t, wrapped)
		assert.ErrorIs(t, wrapped, base)
		assert.Equal(t, CodeUnrecoverable, CodeOf(wrapped))
	})
}

func TestCodeOf(t *testing.T) {
	t.Run("unclassified errors are unrecoverable", func(t *testing.T) {
		assert.Equal(t, CodeUnrecoverable, CodeOf(errors.New("mystery")))
	})

	t.Run("finds fault through wrapping", func(t *testing.T) {
		inner := New("write_file", CodeTransient, "503")
		outer := fmt.Errorf("phase committing: %w", inner)
		assert.Equal(t, CodeTransient, CodeOf(outer))
		assert.True(t, IsTransient(outer))
	})
}

func TestUnavailable(t *testing.T) {
	f := Unavailable("hosting", 42*time.Second, errors.New("circuit open"))
	assert.Equal(t, CodeDependencyUnavailable, f.Code)
	assert.Equal(t, 42*time.Second, f.RetryAfter)
	assert.False(t, IsTransient(f))
}
