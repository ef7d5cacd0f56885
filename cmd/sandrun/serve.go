package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/sandrun/internal/config"
	"github.com/jkaninda/sandrun/internal/executor"
	"github.com/jkaninda/sandrun/internal/gateway"
	"github.com/jkaninda/sandrun/internal/gateway/httpapi"
	"github.com/jkaninda/sandrun/internal/gateway/ws"
	"github.com/jkaninda/sandrun/internal/observability"
	"github.com/jkaninda/sandrun/internal/ratelimit"
	"github.com/jkaninda/sandrun/internal/scheduler"
	"github.com/jkaninda/sandrun/internal/storage"
)

const (
	wsPath          = "/v1/ws"
	shutdownTimeout = 30 * time.Second
	canaryTimeout   = 5 * time.Second
)

var (
	serveConfigPath string
	servePort       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and WebSocket gateway",
	RunE:  runServe,
}

func init() {
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&servePort, "port", "", "override HTTP listen address (e.g. :8080)")
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig(serveConfigPath)
	if err != nil {
		return err
	}
	if servePort != "" {
		if cfg.Gateways.HTTP == nil {
			cfg.Gateways.HTTP = &config.HTTPGatewayConfig{Enabled: true}
		}
		cfg.Gateways.HTTP.ListenAddr = servePort
	}
	if cfg.Gateways.HTTP == nil || !cfg.Gateways.HTTP.Enabled {
		return fmt.Errorf("no gateway enabled: set gateways.http.enabled in %s", serveConfigPath)
	}

	logger := newLogger(cfg.Log)
	logger.Info("starting sandrun gateway",
		slog.String("version", version),
		slog.String("sandbox", cfg.Sandbox.SandboxType()),
	)

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	store, err := initStore(cfg, logger)
	if err != nil {
		return err
	}
	sc.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	})

	gen, err := initCodegen(cfg, sc.Obs, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpCfg := cfg.Gateways.HTTP
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: httpCfg.RateLimit.RequestsPerMinute,
		BurstSize:         httpCfg.RateLimit.BurstSize,
	})

	health := sc.Obs.HealthOrNew(logger)
	addHealthChecks(health, cfg.Observability, sc.Executor, store)

	var tracer trace.Tracer
	if ts := sc.Obs.TracerOrNil(); ts != nil {
		tracer = ts.Tracer()
	}
	apiCfg := httpapi.Config{
		ListenAddr:     httpCfg.Addr(),
		EnableDocs:     httpCfg.EnableDocs,
		APIKeys:        httpCfg.APIKeyUserMapping,
		MaxRequestSize: httpCfg.MaxRequestSize(),
		Version:        version,
		HealthChecker:  health,
		Metrics:        sc.Obs.MetricsOrNil(),
		Tracer:         tracer,
	}
	if m := sc.Obs.MetricsOrNil(); m != nil {
		apiCfg.MetricsRegistry = m.Registry
		if o := cfg.Observability; o != nil && o.Metrics != nil {
			apiCfg.MetricsPath = o.Metrics.Path
		}
	}

	api := httpapi.NewGateway(apiCfg, sc.Executor, limiter, logger).
		WithFunctions(store.Functions())
	if gen != nil {
		api.WithCodegen(gen)
	}

	if wsCfg := cfg.Gateways.WebSocket; wsCfg != nil && wsCfg.Enabled {
		wsServer := ws.NewServer(sc.Executor, wsCfg, logger).
			WithAuth(api.Authenticator()).
			WithLimiter(limiter).
			WithMetrics(sc.Obs.MetricsOrNil())
		api.WithHandler(wsPath, wsServer.Handler())
		logger.Debug("websocket endpoint mounted", slog.String("path", wsPath))
	}

	stopScheduler := func() {}
	if cfg.SchedulerEnabled() {
		var schedMetrics *scheduler.Metrics
		if m := sc.Obs.MetricsOrNil(); m != nil {
			schedMetrics = scheduler.NewMetrics(m.Registry)
		}
		stopScheduler = scheduler.New(store.Functions(), sc.Executor, schedMetrics, scheduler.Config{
			PollInterval:  cfg.Scheduler.PollInterval(),
			MaxConcurrent: cfg.Scheduler.MaxConcurrent(),
		}, logger).Start(ctx)
	}
	defer stopScheduler()

	gateways := []gateway.Gateway{api}
	errs := make(chan error, len(gateways))
	for _, g := range gateways {
		go func(g gateway.Gateway) {
			errs <- g.Start(ctx)
		}(g)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down gateway")
	case err = <-errs:
		if err != nil {
			logger.Error("gateway error", slog.String("error", err.Error()))
		}
	}

	stopScheduler()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for i := len(gateways) - 1; i >= 0; i-- {
		if stopErr := gateways[i].Stop(shutdownCtx); stopErr != nil {
			logger.Error("stopping gateway", slog.String("error", stopErr.Error()))
		}
	}
	// Isolates still running after the listeners close are torn down by
	// their deadlines; wait for them so no process or container outlives us.
	if drainErr := sc.Supervisor.Drain(shutdownCtx); drainErr != nil {
		logger.Warn("isolates still live at shutdown",
			slog.Int64("live", sc.Supervisor.Live()),
			slog.String("error", drainErr.Error()),
		)
	}

	logger.Info("sandrun stopped")
	return err
}

// addHealthChecks registers the readiness checks: a canary execution through
// the supervisor and a store ping. Both are on unless the health section
// turns them off.
func addHealthChecks(h *observability.HealthChecker, cfg *config.ObservabilityConfig, exec executor.Service, store storage.Store) {
	includeSandbox, includeDB := true, true
	if cfg != nil && cfg.Health != nil {
		includeSandbox, includeDB = cfg.Health.IncludeSandbox, cfg.Health.IncludeDB
	}

	if includeSandbox {
		h.AddCheck("sandbox", func(ctx context.Context) error {
			return canary(ctx, exec)
		})
	}
	if includeDB && store != nil {
		h.AddCheck("storage", store.Ping)
	}
}

// canary runs "return 1;" and expects exactly 1 back.
func canary(ctx context.Context, exec executor.Service) error {
	ctx, cancel := context.WithTimeout(ctx, canaryTimeout)
	defer cancel()

	out := exec.Execute(ctx, executor.Request{BodySource: "return 1;"})
	if !out.OK() {
		return fmt.Errorf("canary failed: %w", out.Err())
	}
	got, err := out.ValueJSON()
	if err != nil {
		return fmt.Errorf("canary value: %w", err)
	}
	if string(got) != "1" {
		return fmt.Errorf("canary returned %s, want 1", got)
	}
	return nil
}
