package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		logger, err := NewLogger(NewDefaultConfig())
		require.NoError(t, err)
		assert.NotNil(t, logger)
	})

	t.Run("invalid format rejected", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Format = "xml"
		_, err := NewLogger(cfg)
		assert.Error(t, err)
	})

	t.Run("negative caller skip rejected", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Caller.Skip = -1
		_, err := NewLogger(cfg)
		assert.Error(t, err)
	})
}

func TestConfig_Validate(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		assert.NoError(t, NewDefaultConfig().Validate())
	})

	t.Run("console format accepted", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Format = "console"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("empty field value rejected", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Fields = map[string]string{"env": ""}
		assert.Error(t, cfg.Validate())
	})
}

func TestContextCorrelation(t *testing.T) {
	ctx := context.Background()
	ctx = WithSessionID(ctx, "sess-123")
	ctx = WithRequestID(ctx, "req-456")
	ctx = WithClient(ctx, "client-a")

	assert.Equal(t, "sess-123", SessionIDFromContext(ctx))
	assert.Equal(t, "req-456", RequestIDFromContext(ctx))
	assert.Equal(t, "client-a", ClientFromContext(ctx))

	fields := ContextFields(ctx)
	assert.Len(t, fields, 3)
}

func TestFromContext(t *testing.T) {
	t.Run("returns nop when absent", func(t *testing.T) {
		logger := FromContext(context.Background())
		require.NotNil(t, logger)
		// Should not panic
		logger.Info(context.Background(), "ignored")
	})

	t.Run("round-trips through context", func(t *testing.T) {
		logger := NewNop().Named("test")
		ctx := WithLogger(context.Background(), logger)
		assert.Same(t, logger, FromContext(ctx))
	})
}

func TestNamedAndWith(t *testing.T) {
	logger := NewNop()
	child := logger.Named("admission").With()
	assert.NotNil(t, child)
	assert.Equal(t, logger.config, child.config)
}

func TestLevelsEnabled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Level = zapcore.WarnLevel
	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	// Debug below threshold: must not panic, simply dropped.
	logger.Debug(context.Background(), "dropped")
	logger.Warn(context.Background(), "kept")
}
