// Package main implements the assetportal entry point. Each running process
// joins the coordination endpoint as an instance; the first one to bind the
// endpoint additionally hosts the arbiter that owns the instance registry
// and forwards producer import data to whichever instance is active.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/assetportal/arbiter"
	"github.com/c360/assetportal/bootstrap"
	"github.com/c360/assetportal/client"
	"github.com/c360/assetportal/metric"
	"github.com/c360/assetportal/pkg/retry"
	"github.com/c360/assetportal/transport"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "assetportal"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Query {
		return runQuery(ctx, cfg)
	}

	// Supervision loop: losing the coordination channel sends the process
	// back through role establishment, where it may inherit the arbiter
	// role from a crashed peer.
	for {
		again, err := runSession(ctx, cfg, logger)
		if err != nil || !again {
			return err
		}
		logger.Warn("coordination channel lost, re-establishing role")
	}
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cfg := parseFlags()
	if err := validateFlags(cfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting assetportal coordination",
		"version", Version,
		"build_time", BuildTime,
		"endpoint", cfg.Endpoint,
		"role", cfg.Role)

	return cfg, logger, false, nil
}

// runSession establishes a role, participates until the channel is lost or
// the context ends, and reports whether another session should follow.
func runSession(ctx context.Context, cfg *CLIConfig, logger *slog.Logger) (again bool, err error) {
	role, listener, dial, err := establishRole(ctx, cfg, logger)
	if err != nil {
		return false, err
	}

	var hub *arbiter.Arbiter
	if role == bootstrap.RoleArbiter {
		hub, err = startArbiter(ctx, cfg, logger, listener)
		if err != nil {
			listener.Close()
			return false, err
		}
		defer func() {
			if stopErr := hub.Stop(); stopErr != nil {
				logger.Warn("arbiter stop failed", "error", stopErr)
			}
		}()
		// The arbiter-hosting process participates as a regular instance
		// over its own endpoint.
		dial = transport.Dial
	}

	disconnected := make(chan struct{})
	c := client.New(cfg.Endpoint, os.Getpid(), cfg.InstanceName,
		client.WithLogger(logger),
		client.WithDialer(dial),
		client.WithHeartbeatInterval(cfg.HeartbeatInterval),
		client.WithConnectRetry(retry.Connect()),
		client.OnImport(func(requests []json.RawMessage) {
			logger.Info("import requests received", "records", len(requests))
		}),
		client.OnDisconnect(func(error) {
			close(disconnected)
		}))

	if err := c.Connect(ctx); err != nil {
		return false, fmt.Errorf("join endpoint: %w", err)
	}
	defer func() {
		if closeErr := c.Close(); closeErr != nil {
			logger.Warn("client close failed", "error", closeErr)
		}
	}()

	if cfg.Claim {
		if err := c.Claim(ctx); err != nil {
			return false, fmt.Errorf("claim active status: %w", err)
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		return false, nil
	case <-disconnected:
		// Our own arbiter going away means Stop is already in progress;
		// only a secondary should chase a new arbiter.
		return role == bootstrap.RoleSecondary, nil
	}
}

// establishRole resolves whether this process hosts the arbiter. Forced
// roles skip the dial-else-bind negotiation.
func establishRole(
	ctx context.Context,
	cfg *CLIConfig,
	logger *slog.Logger,
) (bootstrap.Role, transport.Listener, func(string) (transport.Conn, error), error) {
	switch cfg.Role {
	case "arbiter":
		listener, err := transport.Listen(cfg.Endpoint)
		if err != nil {
			return 0, nil, nil, fmt.Errorf("bind endpoint: %w", err)
		}
		return bootstrap.RoleArbiter, listener, transport.Dial, nil

	case "secondary":
		return bootstrap.RoleSecondary, nil, transport.Dial, nil

	default:
		result, err := bootstrap.Establish(ctx, cfg.Endpoint, logger)
		if err != nil {
			return 0, nil, nil, fmt.Errorf("establish role: %w", err)
		}
		return result.Role, result.Listener, result.Dialer(), nil
	}
}

// startArbiter launches the hub plus its health and metrics servers.
func startArbiter(
	ctx context.Context,
	cfg *CLIConfig,
	logger *slog.Logger,
	listener transport.Listener,
) (*arbiter.Arbiter, error) {
	metrics := metric.NewMetrics()

	hub := arbiter.New(listener,
		arbiter.WithLogger(logger),
		arbiter.WithHeartbeatTimeout(cfg.HeartbeatTimeout),
		arbiter.WithSweepInterval(cfg.SweepInterval),
		arbiter.WithImportBufferCap(cfg.ImportBuffer),
		arbiter.WithProducerAddr(cfg.ProducerAddr),
		arbiter.WithMetrics(metrics))

	if err := hub.Start(ctx); err != nil {
		return nil, fmt.Errorf("start arbiter: %w", err)
	}

	if cfg.HealthPort > 0 {
		serveHTTP(logger, "health", "/healthz", cfg.HealthPort, hub.Monitor().Handler(appName))
	}
	if cfg.MetricsPort > 0 {
		serveHTTP(logger, "metrics", "/metrics", cfg.MetricsPort, metric.Handler(metric.NewRegistry(metrics)))
	}

	return hub, nil
}

// serveHTTP runs one auxiliary HTTP endpoint. These servers live for the
// rest of the process; a failed bind is logged rather than fatal so losing
// a diagnostic port cannot take coordination down.
func serveHTTP(logger *slog.Logger, name, path string, port int, handler http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(path, handler)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("serving "+name, "addr", srv.Addr, "path", path)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(name+" server failed", "error", err)
		}
	}()
}

// runQuery connects once, prints the coordination status as JSON, and exits.
func runQuery(ctx context.Context, cfg *CLIConfig) error {
	c := client.New(cfg.Endpoint, os.Getpid(), cfg.InstanceName,
		client.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("join endpoint: %w", err)
	}
	defer func() { _ = c.Close() }()

	status, err := c.QueryStatus(ctx)
	if err != nil {
		return fmt.Errorf("query status: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(status)
}
