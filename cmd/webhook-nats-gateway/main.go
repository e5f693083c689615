// Package main runs the webhook gateway: an HTTP surface forwarding webhooks
// to NATS JetStream, and a runtime consuming the service's own subjects.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/jetdream/webhook-nats-gateway/config"
	"github.com/jetdream/webhook-nats-gateway/gateway"
	gatewayhttp "github.com/jetdream/webhook-nats-gateway/gateway/http"
	"github.com/jetdream/webhook-nats-gateway/health"
	"github.com/jetdream/webhook-nats-gateway/metric"
	"github.com/jetdream/webhook-nats-gateway/natsclient"
	"github.com/jetdream/webhook-nats-gateway/pkg/retry"
	"github.com/jetdream/webhook-nats-gateway/processor/command"
	"github.com/jetdream/webhook-nats-gateway/reply"
	"github.com/jetdream/webhook-nats-gateway/service"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "webhook-nats-gateway"
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

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

// app holds what outlives a single runtime.
type app struct {
	cfg       *config.Config
	cli       *CLIConfig
	logger    *slog.Logger
	registry  *metric.MetricsRegistry
	jsMetrics *natsclient.JetStreamMetrics
	monitor   *health.Monitor
}

func run(args []string) error {
	cliCfg, err := parseFlags(args)
	if err != nil {
		return err
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp(cliCfg.flags)
		return nil
	}

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return err
	}

	logger := setupLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format, cfg.Service.ID)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		slog.Info("Configuration is valid", "config", cfg.String())
		return nil
	}

	slog.Info("Starting webhook gateway",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	registry := metric.NewMetricsRegistry()
	jsMetrics, err := natsclient.NewJetStreamMetrics(registry, 30*time.Second)
	if err != nil {
		return fmt.Errorf("register jetstream metrics: %w", err)
	}

	a := &app{
		cfg:       cfg,
		cli:       cliCfg,
		logger:    logger,
		registry:  registry,
		jsMetrics: jsMetrics,
		monitor:   health.NewMonitor(),
	}

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	// a stopped runtime ends the process, a resumed one is rebuilt
	for iteration := 0; ; iteration++ {
		outcome, err := a.runOnce(signalCtx, iteration > 0)
		if err != nil {
			return err
		}
		if outcome == service.OutcomeStopped {
			slog.Info("Webhook gateway stopped")
			return nil
		}
		slog.Info("Restarting runtime", "iteration", iteration+1)
	}
}

// loadConfig applies file, environment and log flags, in that order.
func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader().EnableValidation(false)
	cfg, err := loader.Load(cliCfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cliCfg.LogLevel != "" {
		cfg.Log.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Log.Format = cliCfg.LogFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// runOnce builds one runtime with its connection and HTTP server, and runs
// it until it ends or a signal arrives.
func (a *app) runOnce(ctx context.Context, reconnect bool) (service.Outcome, error) {
	cfg := a.cfg

	client, err := a.newNATSClient()
	if err != nil {
		return service.OutcomeStopped, err
	}

	policy := retry.Policy{MaxAttempts: 1}
	if reconnect {
		policy = retry.Reconnect()
	}
	slog.Info("Connecting to NATS", "servers", client.URL())
	if err := retry.Do(ctx, policy, client.Connect); err != nil {
		_ = client.Close(context.Background())
		if ctx.Err() != nil {
			return service.OutcomeStopped, nil
		}
		return service.OutcomeStopped, fmt.Errorf("connect to NATS: %w", err)
	}

	gw, err := service.New(service.Config{
		ServiceID:                cfg.Service.ID,
		AllowCreateServiceStream: cfg.Service.AllowCreateStream,
		FailuresLimit:            cfg.Service.FailuresLimit,
		AckWait:                  cfg.Service.AckWait.Std(),
		HeartbeatInterval:        cfg.Service.HeartbeatInterval.Std(),
		StopTimeout:              cfg.Service.StopTimeout.Std(),
	}, service.NewNATSTransport(client),
		command.NewProcessor(cfg.Service.ID, nil),
		service.WithMetrics(a.registry.CoreMetrics()),
		service.WithHealthMonitor(a.monitor),
	)
	if err != nil {
		_ = client.Close(context.Background())
		return service.OutcomeStopped, fmt.Errorf("create runtime: %w", err)
	}

	// a failed Start releases the connection itself
	if err := gw.Start(ctx); err != nil {
		return service.OutcomeStopped, fmt.Errorf("start runtime: %w", err)
	}

	stopRuntime := func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.StopTimeout.Std())
		defer cancel()
		if err := gw.Stop(stopCtx); err != nil {
			slog.Error("Runtime stop failed", "error", err)
		}
	}

	kv, err := client.OpenKVStore(ctx, cfg.EndpointsBucket())
	if err != nil {
		stopRuntime()
		return service.OutcomeStopped, fmt.Errorf("open endpoints bucket %s: %w", cfg.EndpointsBucket(), err)
	}

	router, err := gatewayhttp.NewRouter(gatewayhttp.Config{
		ServiceID:      cfg.Service.ID,
		Prefix:         cfg.HTTP.WebhookPath,
		MaxRequestSize: cfg.HTTP.MaxRequestSize,
	}, gateway.NewKVDescriptorStore(kv), gw, reply.NewCorrelator(client),
		gatewayhttp.WithMetrics(a.registry.CoreMetrics()),
	)
	if err != nil {
		stopRuntime()
		return service.OutcomeStopped, fmt.Errorf("create webhook router: %w", err)
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		stopRuntime()
		return service.OutcomeStopped, fmt.Errorf("listen on %s: %w", cfg.ListenAddr(), err)
	}
	server := newHTTPServer(cfg, router, a.monitor, a.registry)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()
	slog.Info("Webhook server listening",
		"addr", listener.Addr().String(),
		"webhook_path", cfg.HTTP.WebhookPath,
		"health_path", cfg.HTTP.HealthPath)

	gw.NotifyStarted(ctx)
	slog.Info("Everything is up and running", "endpoints_bucket", cfg.EndpointsBucket())

	select {
	case <-gw.Done():
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
		time.AfterFunc(a.cli.ShutdownTimeout, func() {
			slog.Error("Exiting forcefully", "timeout", a.cli.ShutdownTimeout)
			os.Exit(1)
		})
		shutdownHTTPServer(server, cfg.Service.StopTimeout.Std())
		stopRuntime()
		return service.OutcomeStopped, nil
	case err := <-serveErr:
		stopRuntime()
		return service.OutcomeStopped, fmt.Errorf("webhook server: %w", err)
	}

	shutdownHTTPServer(server, cfg.Service.StopTimeout.Std())
	return gw.Outcome(), nil
}

func (a *app) newNATSClient() (*natsclient.Client, error) {
	cfg := a.cfg
	opts := []natsclient.ClientOption{
		natsclient.WithName(cfg.Service.ID),
		natsclient.WithLogger(a.logger.With("component", "natsclient")),
		natsclient.WithDrainTimeout(cfg.Service.StopTimeout.Std()),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait.Std()),
		natsclient.WithJetStreamMetrics(a.jsMetrics),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			if healthy {
				a.monitor.UpdateHealthy("nats", "Connected")
			} else {
				a.monitor.UpdateUnhealthy("nats", "Disconnected")
			}
		}),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}
	if cfg.NATS.TLS.Enabled {
		opts = append(opts, natsclient.WithTLS(cfg.NATS.TLS.CertFile, cfg.NATS.TLS.KeyFile, cfg.NATS.TLS.CAFile))
	}

	client, err := natsclient.NewClient(cfg.NATS.URLs, opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}
	return client, nil
}
