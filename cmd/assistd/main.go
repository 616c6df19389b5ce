// Assistd is the plan-and-execute assistant daemon with an HTTP/SSE API.
//
// This binary loads configuration, wires the model gateway, tools and run
// registry, and serves them over HTTP until SIGINT or SIGTERM.
//
// Configuration is read from ~/.config/assistd/config.yaml and ASSISTD_*
// environment variables. See internal/config for details.
//
// Usage:
//
//	# Start the daemon with defaults
//	assistd
//
//	# Use another config file and port
//	ASSISTD_SERVER_PORT=9292 assistd --config /etc/assistd/config.yaml
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
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/assistd/internal/config"
	httpserver "github.com/fyrsmithlabs/assistd/internal/http"
	"github.com/fyrsmithlabs/assistd/internal/logging"
	"github.com/fyrsmithlabs/assistd/internal/services"
	"github.com/fyrsmithlabs/assistd/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// pruneInterval is how often finished runs past server.run_ttl are dropped.
const pruneInterval = time.Minute

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/assistd/config.yaml)")
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
			fmt.Fprintf(os.Stderr, "  assistd [--config path]   Start the assistd daemon\n")
			fmt.Fprintf(os.Stderr, "  assistd version           Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("assistd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until ctx is cancelled or the HTTP
// server fails.
//
// Startup order:
//  1. Loads and validates configuration
//  2. Initializes telemetry, then the logger bridged to it
//  3. Builds services (gateway, tools, driver, NATS, run registry)
//  4. Starts the run pruner and the HTTP server
//
// Shutdown stops the server, cancels in-flight runs, then releases
// services and flushes telemetry, all within server.shutdown_timeout.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logCfg, err := logging.FromAppConfig(cfg.Logging, tel.IsEnabled())
	if err != nil {
		return fmt.Errorf("invalid logging configuration: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Close() // Best-effort flush on shutdown
	}()

	logger.Info(ctx, "starting assistd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("provider", cfg.Gateway.Provider),
		zap.String("model", cfg.Gateway.Model),
		zap.String("strategy", cfg.Orchestrator.Strategy),
		zap.Bool("telemetry", tel.IsEnabled()),
	)

	svc, err := services.NewRegistry(ctx, cfg, services.Options{
		Logger: logger,
		Tracer: tel.Tracer("assistd"),
	})
	if err != nil {
		_ = tel.Shutdown(context.WithoutCancel(ctx))
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	srv, err := httpserver.NewServer(httpserver.Deps{
		Runs:     svc.Runs(),
		Runner:   svc.Driver(),
		Tools:    svc.Tools(),
		Scrubber: svc.Scrubber(),
		NATS:     svc.NATS(),
		Logger:   logger,
		Meter:    tel.Meter("assistd/http"),
	}, &httpserver.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		svc.Close()
		_ = tel.Shutdown(context.WithoutCancel(ctx))
		return fmt.Errorf("failed to create http server: %w", err)
	}

	pruneCtx, stopPruner := context.WithCancel(ctx)
	defer stopPruner()
	go svc.Runs().PruneEvery(pruneCtx, pruneInterval, cfg.Server.RunTTL.Duration())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		if errors.Is(serveErr, http.ErrServerClosed) {
			serveErr = nil
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := svc.Runs().Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("run shutdown: %w", err))
	}
	svc.Close()
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "telemetry shutdown failed", zap.Error(err))
	}

	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	return errors.Join(errs...)
}
