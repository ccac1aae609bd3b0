// Package config provides configuration loading for patchd.
package config

import (
	"fmt"
	"time"
)

// Config is the full patchd configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Admission  AdmissionConfig  `koanf:"admission"`
	Retry      RetryConfig      `koanf:"retry"`
	Breaker    BreakerConfig    `koanf:"breaker"`
	Branch     BranchConfig     `koanf:"branch"`
	Session    SessionConfig    `koanf:"session"`
	Generation GenerationConfig `koanf:"generation"`
	Hosting    HostingConfig    `koanf:"hosting"`
	Workspace  WorkspaceConfig  `koanf:"workspace"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// AdmissionConfig bounds in-flight sessions.
type AdmissionConfig struct {
	GlobalLimit    int      `koanf:"global_limit"`
	PerClientLimit int      `koanf:"per_client_limit"`
	SlotTimeout    Duration `koanf:"slot_timeout"`
}

// RetryConfig controls external-call retries.
type RetryConfig struct {
	MaxAttempts    int      `koanf:"max_attempts"`
	InitialBackoff Duration `koanf:"initial_backoff"`
	MaxBackoff     Duration `koanf:"max_backoff"`
}

// BreakerConfig controls the per-dependency circuit breakers.
type BreakerConfig struct {
	FailureThreshold int      `koanf:"failure_threshold"`
	Cooldown         Duration `koanf:"cooldown"`
}

// BranchConfig controls branch-name resolution.
type BranchConfig struct {
	MaxFallbackAttempts int `koanf:"max_fallback_attempts"`
}

// SessionConfig controls per-session execution.
type SessionConfig struct {
	// Budget is the wall-clock limit for one session end-to-end.
	Budget     Duration `koanf:"budget"`
	BaseBranch string   `koanf:"base_branch"`
}

// GenerationConfig configures the analysis/generation service.
type GenerationConfig struct {
	APIKey  Secret `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
}

// HostingConfig configures the code-hosting bridge.
type HostingConfig struct {
	Token         Secret `koanf:"token"`
	BaseURL       string `koanf:"base_url"`
	WebhookSecret Secret `koanf:"webhook_secret"`
}

// WorkspaceConfig configures session working copies.
type WorkspaceConfig struct {
	Root string `koanf:"root"`
}

// TelemetryConfig configures OTLP metric export.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"`
	Insecure       bool     `koanf:"insecure"`
	ExportInterval Duration `koanf:"export_interval"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8484
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Admission.GlobalLimit == 0 {
		cfg.Admission.GlobalLimit = 10
	}
	if cfg.Admission.PerClientLimit == 0 {
		cfg.Admission.PerClientLimit = 3
	}
	if cfg.Admission.SlotTimeout == 0 {
		cfg.Admission.SlotTimeout = Duration(10 * time.Minute)
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialBackoff == 0 {
		cfg.Retry.InitialBackoff = Duration(time.Second)
	}
	if cfg.Retry.MaxBackoff == 0 {
		cfg.Retry.MaxBackoff = Duration(30 * time.Second)
	}

	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.Cooldown == 0 {
		cfg.Breaker.Cooldown = Duration(30 * time.Second)
	}

	if cfg.Branch.MaxFallbackAttempts == 0 {
		cfg.Branch.MaxFallbackAttempts = 5
	}

	if cfg.Session.Budget == 0 {
		cfg.Session.Budget = Duration(5 * time.Minute)
	}
	if cfg.Session.BaseBranch == "" {
		cfg.Session.BaseBranch = "main"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = Duration(15 * time.Second)
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	if c.Admission.GlobalLimit < 1 {
		return fmt.Errorf("admission global_limit must be >= 1, got %d", c.Admission.GlobalLimit)
	}
	if c.Admission.PerClientLimit < 1 {
		return fmt.Errorf("admission per_client_limit must be >= 1, got %d", c.Admission.PerClientLimit)
	}
	if c.Admission.PerClientLimit > c.Admission.GlobalLimit {
		return fmt.Errorf("admission per_client_limit (%d) cannot exceed global_limit (%d)",
			c.Admission.PerClientLimit, c.Admission.GlobalLimit)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.InitialBackoff.Duration() > c.Retry.MaxBackoff.Duration() {
		return fmt.Errorf("retry initial_backoff exceeds max_backoff")
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker failure_threshold must be >= 1, got %d", c.Breaker.FailureThreshold)
	}
	if c.Branch.MaxFallbackAttempts < 1 {
		return fmt.Errorf("branch max_fallback_attempts must be >= 1, got %d", c.Branch.MaxFallbackAttempts)
	}
	if c.Session.Budget.Duration() <= 0 {
		return fmt.Errorf("session budget must be > 0")
	}
	return nil
}
