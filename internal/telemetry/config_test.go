package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/patchd/internal/config"
)

func TestConfigValidate(t *testing.T) {
	t.Run("disabled config is always valid", func(t *testing.T) {
		cfg := &Config{Enabled: false}
		assert.NoError(t, cfg.Validate())
	})

	t.Run("defaults are valid when enabled", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Enabled = true
		assert.NoError(t, cfg.Validate())
	})

	t.Run("enabled requires endpoint", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Enabled = true
		cfg.Endpoint = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown protocol rejected", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Enabled = true
		cfg.Protocol = "carrier-pigeon"
		assert.Error(t, cfg.Validate())
	})

	t.Run("insecure remote endpoint rejected", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Enabled = true
		cfg.Endpoint = "collector.example.com:4317"
		cfg.Insecure = true
		assert.Error(t, cfg.Validate())
	})

	t.Run("secure remote endpoint allowed", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Enabled = true
		cfg.Endpoint = "collector.example.com:4317"
		cfg.Insecure = false
		assert.NoError(t, cfg.Validate())
	})

	t.Run("nonpositive export interval rejected", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Enabled = true
		cfg.ExportInterval = config.Duration(0)
		assert.Error(t, cfg.Validate())
	})
}

func TestIsLocalEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		local    bool
	}{
		{"localhost:4317", true},
		{"127.0.0.1:4317", true},
		{"127.9.1.1:4317", true},
		{"[::1]:4317", true},
		{"::1", true},
		{"collector.example.com:4317", false},
		{"10.0.0.5:4317", false},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			cfg := &Config{Endpoint: tt.endpoint}
			assert.Equal(t, tt.local, cfg.isLocalEndpoint())
		})
	}
}

func TestInitDisabled(t *testing.T) {
	cfg := NewDefaultConfig()

	tel, err := Init(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, tel.Shutdown(ctx))
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "collector:4318", stripScheme("https://collector:4318"))
	assert.Equal(t, "collector:4318", stripScheme("http://collector:4318"))
	assert.Equal(t, "collector:4318", stripScheme("collector:4318"))
}
