package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/patchd/internal/admission"
	"github.com/fyrsmithlabs/patchd/internal/branch"
	"github.com/fyrsmithlabs/patchd/internal/breaker"
	"github.com/fyrsmithlabs/patchd/internal/config"
	"github.com/fyrsmithlabs/patchd/internal/generate"
	"github.com/fyrsmithlabs/patchd/internal/hosting"
	"github.com/fyrsmithlabs/patchd/internal/httpapi"
	"github.com/fyrsmithlabs/patchd/internal/logging"
	"github.com/fyrsmithlabs/patchd/internal/orchestrator"
	"github.com/fyrsmithlabs/patchd/internal/retry"
	"github.com/fyrsmithlabs/patchd/internal/telemetry"
	"github.com/fyrsmithlabs/patchd/internal/workspace"
)

// reclaimInterval is how often abandoned admission slots are swept.
const reclaimInterval = time.Minute

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the patchd daemon",
	Long: `Run the patchd daemon: the HTTP API, the GitHub webhook endpoint,
and the session workers.

Configuration is read from the optional config file, overridden by
PATCHD-style environment variables (HOSTING_TOKEN, GENERATION_API_KEY,
SERVER_PORT, ...).`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "path to config file (YAML)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info(ctx, "patchd starting",
		zap.String("version", version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
	)

	telCfg := telemetry.NewDefaultConfig()
	telCfg.Enabled = cfg.Telemetry.Enabled
	telCfg.Endpoint = cfg.Telemetry.Endpoint
	telCfg.Protocol = cfg.Telemetry.Protocol
	telCfg.Insecure = cfg.Telemetry.Insecure
	telCfg.ExportInterval = cfg.Telemetry.ExportInterval
	telCfg.ServiceVersion = version

	tel, err := telemetry.Init(ctx, telCfg)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn(ctx, "telemetry shutdown error", zap.Error(err))
		}
	}()

	if !cfg.Hosting.Token.IsSet() {
		return fmt.Errorf("hosting token not set (HOSTING_TOKEN)")
	}
	if !cfg.Generation.APIKey.IsSet() {
		return fmt.Errorf("generation api key not set (GENERATION_API_KEY)")
	}

	bridge, err := hosting.NewGitHubBridge(ctx, cfg.Hosting.Token, cfg.Hosting.BaseURL)
	if err != nil {
		return fmt.Errorf("creating hosting bridge: %w", err)
	}

	generator, err := generate.NewOpenAIService(cfg.Generation.APIKey, cfg.Generation.BaseURL, cfg.Generation.Model)
	if err != nil {
		return fmt.Errorf("creating generation service: %w", err)
	}

	workspaces, err := workspace.NewManager(cfg.Workspace.Root, cfg.Hosting.Token, logger)
	if err != nil {
		return fmt.Errorf("creating workspace manager: %w", err)
	}

	registry := prometheus.NewRegistry()
	admit := admission.NewController(admission.Config{
		GlobalLimit:    cfg.Admission.GlobalLimit,
		PerClientLimit: cfg.Admission.PerClientLimit,
		SlotTimeout:    cfg.Admission.SlotTimeout.Duration(),
	}, logger, admission.NewMetrics(registry))

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         cfg.Breaker.Cooldown.Duration(),
	}, logger)

	engine, err := orchestrator.NewEngine(orchestrator.Options{
		Config: orchestrator.Config{
			Budget:     cfg.Session.Budget.Duration(),
			BaseBranch: cfg.Session.BaseBranch,
		},
		Retry: retry.Config{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: cfg.Retry.InitialBackoff.Duration(),
			MaxBackoff:     cfg.Retry.MaxBackoff.Duration(),
		},
		Branch:     branch.Config{MaxFallbackAttempts: cfg.Branch.MaxFallbackAttempts},
		Admission:  admit,
		Breakers:   breakers,
		Bridge:     bridge,
		Generator:  generator,
		Workspaces: workspaces,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}

	server, err := httpapi.NewServer(engine, httpapi.Config{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		WebhookSecret: cfg.Hosting.WebhookSecret,
	}, logger, registry)
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	// Sweep slots whose sessions died without releasing.
	go func() {
		ticker := time.NewTicker(reclaimInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				admit.ReclaimExpired(ctx, now)
			}
		}
	}()

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "server shutdown error", zap.Error(err))
		return err
	}

	logger.Info(ctx, "server stopped gracefully")
	return nil
}

func buildLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	logCfg := logging.NewDefaultConfig()
	logCfg.Level = level
	logCfg.Format = cfg.Format
	return logging.NewLogger(logCfg)
}
