package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/dicomul/internal/logger"
	"github.com/marmos91/dicomul/internal/telemetry"
	"github.com/marmos91/dicomul/pkg/adapter/dicom"
	"github.com/marmos91/dicomul/pkg/api"
	"github.com/marmos91/dicomul/pkg/api/handlers"
	"github.com/marmos91/dicomul/pkg/config"
	"github.com/marmos91/dicomul/pkg/metrics"
	prommetrics "github.com/marmos91/dicomul/pkg/metrics/prometheus"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the DICOM acceptor",
	Long: `Start the dicomul acceptor with the specified configuration.

By default, the server runs in the background (daemon mode). Use --foreground
to run in the foreground for debugging or when managed by a process supervisor.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/dicomul/config.yaml. The policy section
is reloaded when the file changes; new associations use the new policy.

Examples:
  # Start in background (default)
  dicomul start

  # Start in foreground
  dicomul start --foreground

  # Start with custom config file
  dicomul start --config /etc/dicomul/config.yaml

  # Start with environment variable overrides
  DICOMUL_LOGGING_LEVEL=DEBUG dicomul start --foreground`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/dicomul/dicomul.pid)")
	startCmd.Flags().StringVar(&logFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/dicomul/dicomul.log)")
}

func runStart(cmd *cobra.Command, args []string) error {
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    "dicomul",
		ServiceVersion: Version,
		Tracing: telemetry.TracingConfig{
			Enabled:    cfg.Telemetry.Enabled,
			Endpoint:   cfg.Telemetry.Endpoint,
			Insecure:   cfg.Telemetry.Insecure,
			SampleRate: cfg.Telemetry.SampleRate,
		},
		Profiling: telemetry.ProfilingConfig{
			Enabled:      cfg.Telemetry.Profiling.Enabled,
			Endpoint:     cfg.Telemetry.Profiling.Endpoint,
			ProfileTypes: cfg.Telemetry.Profiling.ProfileTypes,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}()

	fmt.Println("dicomul - DICOM Upper Layer acceptor")
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", logger.KeyPath, getConfigSource(GetConfigFile()))
	if telemetry.TracingEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}
	if telemetry.ProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint)
	}

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("Metrics enabled", "path", "/metrics")
	}

	policy, err := cfg.AcceptorPolicy()
	if err != nil {
		return fmt.Errorf("invalid presentation context policy: %w", err)
	}

	var checks []handlers.StoreCheck
	opts := dicom.Options{
		Policy:          policy,
		EnforceIdentity: cfg.Identity.Enforce,
		Metrics:         prommetrics.NewAssociationMetrics(),
	}

	captureStore, err := config.CreateCaptureStore(ctx, cfg.Capture)
	if err != nil {
		return fmt.Errorf("failed to create capture store: %w", err)
	}
	if captureStore != nil {
		defer func() { _ = captureStore.Close() }()
		checks = append(checks, handlers.StoreCheck{Name: "capture", Type: cfg.Capture.Type, Check: captureStore.HealthCheck})
		opts.Capture = metrics.InstrumentStore(captureStore, cfg.Capture.Type, prommetrics.NewCaptureMetrics())
		opts.CaptureType = cfg.Capture.Type
		logger.Info("Capture store ready", logger.StoreType(cfg.Capture.Type))
	} else {
		logger.Info("Capture disabled")
	}

	deps := api.Deps{}
	auditStore, err := config.CreateAuditStore(ctx, cfg.Audit)
	if err != nil {
		return err
	}
	if auditStore != nil {
		defer func() { _ = auditStore.Close() }()
		pruneAudit(ctx, auditStore.Retention(), auditStore.Prune)
		checks = append(checks, handlers.StoreCheck{Name: "audit", Type: string(auditStore.Type()), Check: auditStore.HealthCheck})
		opts.Audit = auditStore
		deps.Audit = auditStore
		logger.Info("Audit log ready", "type", auditStore.Type())
	}

	tokens, err := config.CreateTokenService(cfg.Identity)
	if err != nil {
		return fmt.Errorf("failed to create token service: %w", err)
	}
	authenticator, authCloser, err := config.CreateAuthenticator(cfg.Identity, tokens)
	if err != nil {
		return err
	}
	defer func() { _ = authCloser.Close() }()
	if authenticator != nil {
		opts.Verifier = authenticator
		logger.Info("User identity verification enabled", "providers", len(authenticator.Providers()), "enforce", cfg.Identity.Enforce)
	}

	acceptor, err := dicom.New(cfg.Server, opts)
	if err != nil {
		return err
	}

	if path := watchedConfigPath(); path != "" {
		watcher := config.NewPolicyWatcher(path, acceptor.SetPolicy)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Warn("Policy hot-reload disabled", logger.Err(err))
			}
		}()
	}

	var apiServer *api.Server
	if cfg.API.IsEnabled() {
		deps.Associations = acceptor
		deps.Stores = checks
		deps.Tokens = tokens
		apiServer = api.NewServer(cfg.API, deps)
	}

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	serverDone := make(chan error, 2)
	go func() { serverDone <- acceptor.Serve(ctx) }()
	running := 1
	if apiServer != nil {
		go func() { serverDone <- apiServer.Start(ctx) }()
		running++
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("Server is running. Press Ctrl+C to stop.", "port", cfg.Server.Port, "ae_title", cfg.Policy.AETitle)

	var firstErr error
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown")
	case firstErr = <-serverDone:
		running--
		if firstErr != nil {
			logger.Error("Server error", logger.Err(firstErr))
		}
	}
	cancel()

	timeout := time.NewTimer(cfg.ShutdownTimeout + 5*time.Second)
	defer timeout.Stop()
	for ; running > 0; running-- {
		select {
		case err := <-serverDone:
			if err != nil && firstErr == nil {
				firstErr = err
				logger.Error("Server shutdown error", logger.Err(err))
			}
		case <-timeout.C:
			return fmt.Errorf("shutdown did not complete within %s", cfg.ShutdownTimeout)
		}
	}

	if firstErr == nil {
		logger.Info("Server stopped gracefully")
	}
	return firstErr
}

// watchedConfigPath returns the file the policy watcher follows, or "" when
// the server runs on defaults.
func watchedConfigPath() string {
	if path := GetConfigFile(); path != "" {
		return path
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return ""
}

// pruneAudit deletes audit rows older than retention. Zero keeps every row.
func pruneAudit(ctx context.Context, retention time.Duration, prune func(context.Context, time.Time) (int64, error)) {
	if retention <= 0 {
		return
	}
	n, err := prune(ctx, time.Now().Add(-retention))
	if err != nil {
		logger.Warn("Audit pruning failed", logger.Err(err))
		return
	}
	if n > 0 {
		logger.Info("Audit log pruned", "rows", n, "retention", retention)
	}
}
