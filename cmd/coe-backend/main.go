// Package main implements the entry point for the CoE backend gateway.
// The gateway turns stored flow definitions into live HTTP endpoints and
// bridges their execution to the external flow engine over NATS.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/HongGunKR/CoE-Backend/config"
	"github.com/HongGunKR/CoE-Backend/engine"
	"github.com/HongGunKR/CoE-Backend/flowstore"
	"github.com/HongGunKR/CoE-Backend/gateway"
	"github.com/HongGunKR/CoE-Backend/metric"
	"github.com/HongGunKR/CoE-Backend/natsclient"
	"github.com/HongGunKR/CoE-Backend/service"
)

// Build information constants
const (
	Version   = "1.0.0"
	BuildTime = "dev"
	appName   = "coe-backend"
)

func main() {
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
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting CoE backend gateway",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx := context.Background()

	natsClient, err := natsclient.NewClient(cfg.NATS.URL,
		natsclient.WithName(appName),
		natsclient.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}

	slog.Info("Connecting to NATS", "url", cfg.NATS.URL)
	if err := natsClient.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer func() { _ = natsClient.Close(ctx) }()

	metricsRegistry := metric.NewMetricsRegistry()

	manager, err := assembleGateway(ctx, cfg, natsClient, metricsRegistry, logger)
	if err != nil {
		return err
	}

	return runWithSignalHandling(ctx, manager, cliCfg.ShutdownTimeout)
}

// assembleGateway wires the store, engine bridge, route registry, and
// interception pipeline into a configured service manager
func assembleGateway(
	ctx context.Context,
	cfg *config.Config,
	natsClient *natsclient.Client,
	metricsRegistry *metric.MetricsRegistry,
	logger *slog.Logger,
) (*service.Manager, error) {
	store, err := flowstore.NewStore(ctx, natsClient, cfg.Flows.Bucket)
	if err != nil {
		return nil, fmt.Errorf("create flow store: %w", err)
	}

	flowEngine, err := engine.NewNATSEngine(natsClient, cfg.Flows.ExecuteSubject,
		engine.WithLogger(logger),
		engine.WithTimeout(cfg.Flows.ExecuteTimeout()))
	if err != nil {
		return nil, fmt.Errorf("create flow engine: %w", err)
	}

	metrics := metricsRegistry.CoreMetrics()
	bridge := gateway.NewBridge(flowEngine,
		gateway.WithBridgeLogger(logger),
		gateway.WithBridgeMetrics(metrics),
		gateway.WithBridgeTimeout(cfg.Flows.ExecuteTimeout()))

	interceptor := gateway.NewInterceptor(
		gateway.WithInterceptorLogger(logger),
		gateway.WithInterceptorMetrics(metrics))

	manager, err := service.NewManager(cfg,
		service.WithManagerLogger(logger),
		service.WithManagerNATS(natsClient),
		service.WithManagerMetrics(metricsRegistry),
		service.WithMiddleware(interceptor.Wrap))
	if err != nil {
		return nil, fmt.Errorf("create service manager: %w", err)
	}

	registry, err := gateway.NewRegistry(manager.Mux(), bridge,
		gateway.WithRegistryLogger(logger),
		gateway.WithRegistryMetrics(metrics),
		gateway.WithChangeHook(manager.InvalidateOpenAPIDocument))
	if err != nil {
		return nil, fmt.Errorf("create route registry: %w", err)
	}
	manager.SetRouteSource(registry.Routes)

	flowService, err := service.NewFlowService(store, registry,
		service.WithLogger(logger),
		service.WithNATS(natsClient),
		service.WithMetrics(metricsRegistry))
	if err != nil {
		return nil, fmt.Errorf("create flow service: %w", err)
	}

	if err := manager.Register(flowService, "/flows"); err != nil {
		return nil, fmt.Errorf("register flow service: %w", err)
	}

	return manager, nil
}

// runWithSignalHandling starts services and handles shutdown signals
func runWithSignalHandling(ctx context.Context, manager *service.Manager, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := manager.StartAll(signalCtx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	slog.Info("CoE backend gateway started")

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	if err := manager.StopAll(shutdownTimeout); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("CoE backend gateway shutdown complete")
	return nil
}

// loadConfig loads configuration from path, or defaults when empty
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.Load(path)
}
