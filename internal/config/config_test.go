package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithFile_DefaultsOnly(t *testing.T) {
	cfg, err := LoadWithFile("")
	require.NoError(t, err)

	assert.Equal(t, 8484, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Admission.GlobalLimit)
	assert.Equal(t, 3, cfg.Admission.PerClientLimit)
	assert.Equal(t, 10*time.Minute, cfg.Admission.SlotTimeout.Duration())
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Breaker.Cooldown.Duration())
	assert.Equal(t, 5, cfg.Branch.MaxFallbackAttempts)
	assert.Equal(t, "main", cfg.Session.BaseBranch)
	assert.Equal(t, 5*time.Minute, cfg.Session.Budget.Duration())
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadWithFile_YAML(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9191
admission:
  global_limit: 20
  per_client_limit: 4
  slot_timeout: 2m
retry:
  max_attempts: 5
  initial_backoff: 500ms
breaker:
  cooldown: 45s
session:
  budget: 10m
  base_branch: develop
`)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 20, cfg.Admission.GlobalLimit)
	assert.Equal(t, 4, cfg.Admission.PerClientLimit)
	assert.Equal(t, 2*time.Minute, cfg.Admission.SlotTimeout.Duration())
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.InitialBackoff.Duration())
	assert.Equal(t, 45*time.Second, cfg.Breaker.Cooldown.Duration())
	assert.Equal(t, "develop", cfg.Session.BaseBranch)
	// Untouched fields keep defaults.
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
}

func TestLoadWithFile_RejectsInsecurePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o644))

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadWithFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8484, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		applyDefaults(cfg)
		return cfg
	}

	t.Run("defaults are valid", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("per-client limit above global rejected", func(t *testing.T) {
		cfg := base()
		cfg.Admission.PerClientLimit = cfg.Admission.GlobalLimit + 1
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad port rejected", func(t *testing.T) {
		cfg := base()
		cfg.Server.Port = 70000
		assert.Error(t, cfg.Validate())
	})

	t.Run("initial backoff above max rejected", func(t *testing.T) {
		cfg := base()
		cfg.Retry.InitialBackoff = Duration(time.Minute)
		cfg.Retry.MaxBackoff = Duration(time.Second)
		assert.Error(t, cfg.Validate())
	})
}

func TestDuration(t *testing.T) {
	t.Run("parses text", func(t *testing.T) {
		var d Duration
		require.NoError(t, d.UnmarshalText([]byte("90s")))
		assert.Equal(t, 90*time.Second, d.Duration())
	})

	t.Run("rejects negative", func(t *testing.T) {
		var d Duration
		assert.Error(t, d.UnmarshalText([]byte("-5s")))
	})

	t.Run("marshals to string", func(t *testing.T) {
		b, err := json.Marshal(Duration(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, `"1m0s"`, string(b))
	})
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("super-secret-token")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%s", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "super-secret-token", s.Value())
	assert.True(t, s.IsSet())

	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(b))

	t.Run("empty secret", func(t *testing.T) {
		var e Secret
		assert.Equal(t, "", e.String())
		assert.False(t, e.IsSet())
	})
}
