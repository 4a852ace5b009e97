// Leadflow is the conversational lead-capture daemon.
//
// It serves the chat API, stores sessions in memory or Redis, and hands each
// completed lead to a notification sink (WhatsApp gateway, NATS JetStream or
// the log) and, when enabled, a SQL archive.
//
// Configuration is read from ~/.config/leadflow/config.yaml and LEADFLOW_*
// environment variables. See internal/config for details.
//
// Usage:
//
//	# Start with defaults (in-memory store, log sink)
//	leadflow
//
//	# Configure via environment
//	LEADFLOW_SESSION_STORE=redis LEADFLOW_NOTIFY_SINK=whatsapp leadflow
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/leadflow/internal/config"
	"github.com/fyrsmithlabs/leadflow/internal/conversation"
	httpserver "github.com/fyrsmithlabs/leadflow/internal/http"
	"github.com/fyrsmithlabs/leadflow/internal/logging"
	"github.com/fyrsmithlabs/leadflow/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "config file (default ~/.config/leadflow/config.yaml)")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  leadflow [-config path]   Start the leadflow daemon\n")
			fmt.Fprintf(os.Stderr, "  leadflow version          Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("leadflow by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires every component and blocks until ctx is cancelled, then shuts
// down in reverse order: HTTP first so no new turns start, then the
// dispatcher drains, then storage closes.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logger, err := initLogger(cfg, tel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zl := logger.Component("leadflow")

	if problems := tel.Problems(); len(problems) > 0 {
		logger.Warn(ctx, "telemetry degraded", zap.Errors("problems", problems))
	}

	logger.Info(ctx, "Starting leadflow",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("session_store", cfg.Session.Store),
		zap.String("ratelimit_backend", cfg.RateLimit.Backend),
		zap.String("notify_sink", cfg.Notify.Sink),
		zap.Bool("archive", cfg.Archive.Enabled))

	deps, err := initDependencies(ctx, cfg, zl)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	engine, err := initEngine(cfg, deps, tel, zl)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	opts := []httpserver.Option{
		httpserver.WithNotifications(deps.dispatcher),
		httpserver.WithGatherer(prometheus.DefaultGatherer),
		httpserver.WithHTTPMetrics(httpserver.NewHTTPMetrics(tel.Meter(httpInstrumentationName), logger.Component("http"))),
		httpserver.WithHealthCheck("sessions", deps.store),
		httpserver.WithVersion(version),
	}
	for name, p := range deps.checks {
		opts = append(opts, httpserver.WithHealthCheck(name, p))
	}
	srv, err := httpserver.NewServer(engine, logger.Component("http"), &httpserver.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		RequestTimeout: cfg.Server.RequestTimeout.Duration(),
	}, opts...)
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	bg, cancelBackground := context.WithCancel(ctx)
	defer cancelBackground()
	deps.startBackground(bg, cfg, zl)

	if cfg.Engine.FlowFile != "" {
		watcher, err := conversation.NewFlowWatcher(cfg.Engine.FlowFile, engine, zl)
		if err != nil {
			return fmt.Errorf("failed to create flow watcher: %w", err)
		}
		if err := watcher.Start(bg); err != nil {
			return fmt.Errorf("failed to watch flow file: %w", err)
		}
		defer watcher.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info(ctx, "Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("api_prefix", "/api/v1"),
		zap.String("metrics_endpoint", "/metrics"))

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info(ctx, "Shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "http shutdown", zap.Error(err))
	}
	cancelBackground()
	if err := deps.dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "notification dispatcher did not drain", zap.Error(err))
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "telemetry shutdown", zap.Error(err))
	}

	logger.Info(shutdownCtx, "Server shutdown complete")
	return serveErr
}

const httpInstrumentationName = "github.com/fyrsmithlabs/leadflow/internal/http"

// initLogger builds the structured logger, bridged to OTEL when telemetry
// provides a logger provider.
func initLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, err
	}
	logCfg.Fields = map[string]string{"service": cfg.Telemetry.ServiceName}
	provider := tel.LoggerProvider()
	logCfg.Output.OTEL = provider != nil
	return logging.NewLogger(logCfg, provider)
}
