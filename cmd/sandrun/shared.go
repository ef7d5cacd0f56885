package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jkaninda/sandrun/internal/codegen"
	"github.com/jkaninda/sandrun/internal/config"
	"github.com/jkaninda/sandrun/internal/executor"
	"github.com/jkaninda/sandrun/internal/llm"
	"github.com/jkaninda/sandrun/internal/llm/anthropic"
	"github.com/jkaninda/sandrun/internal/llm/gemini"
	"github.com/jkaninda/sandrun/internal/llm/openai"
	"github.com/jkaninda/sandrun/internal/observability"
	"github.com/jkaninda/sandrun/internal/sandbox"
	"github.com/jkaninda/sandrun/internal/serialize"
	"github.com/jkaninda/sandrun/internal/storage"
	pgstore "github.com/jkaninda/sandrun/internal/storage/postgres"
	sqlitestore "github.com/jkaninda/sandrun/internal/storage/sqlite"
	"github.com/jkaninda/sandrun/internal/supervisor"
	goutils "github.com/jkaninda/go-utils"
)

// SharedComponents holds everything the serve, run and mcp commands share.
type SharedComponents struct {
	Config     *config.Config
	Logger     *slog.Logger
	Obs        *observability.Observability
	Supervisor *supervisor.Supervisor
	Executor   executor.Service

	cleanups []func()
}

// Cleanup releases resources in reverse order of acquisition.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// loadConfig reads path, falling back to defaults when the file is absent.
func loadConfig(path string) (*config.Config, error) {
	return config.LoadOrDefault(goutils.Env("SANDRUN_CONFIG", path))
}

// newLogger builds the process logger from the log section. Logs go to
// stderr so stdout stays free for outcomes and the MCP transport.
func newLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// initShared wires observability, the sandbox, the supervisor and the executor.
func initShared(cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{Config: cfg, Logger: logger}

	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	if obs != nil {
		sc.Obs = obs
		sc.addCleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(ctx)
		})
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
			slog.Bool("anomaly", obs.Anomaly != nil),
		)
	}

	sbx, err := initSandbox(cfg, logger)
	if err != nil {
		return nil, err
	}

	sup := supervisor.New(sbx, supervisor.Config{
		Deadline:      cfg.Sandbox.Deadline(),
		TeardownGrace: cfg.Sandbox.TeardownGrace(),
		Limits:        sandboxLimits(cfg.Sandbox),
	}, logger)
	sc.Supervisor = sup
	if m := obs.MetricsOrNil(); m != nil {
		m.RegisterLiveIsolates(sup.Live)
	}

	exec := executor.New(sup, executor.Config{FunctionName: cfg.Executor.FunctionName}, logger)
	sc.Executor = observability.NewInstrumentedExecutor(exec, sup.SandboxType(),
		obs.MetricsOrNil(), obs.TracerOrNil(), obs.AnomalyOrNil())

	logger.Debug("executor initialized",
		slog.String("sandbox", sup.SandboxType()),
		slog.Duration("deadline", sup.Deadline()),
	)
	return sc, nil
}

// initSandbox creates the isolate backend named by sandbox.type.
func initSandbox(cfg *config.Config, logger *slog.Logger) (sandbox.Sandbox, error) {
	sc := cfg.Sandbox
	return sandbox.New(sandbox.Config{
		Type:        sc.SandboxType(),
		MaxIsolates: sc.MaxIsolates,
		Process: sandbox.ProcessConfig{
			Executable: sc.IsolateExecutable,
			Limits: sandbox.ResourceLimits{
				MaxCPUSeconds: sc.MaxCPUSeconds,
				MaxMemoryMB:   sc.MaxMemoryMB,
			},
		},
		Docker: sandbox.DockerConfig{
			Image:     sc.Docker.Image,
			MemoryMB:  sc.MaxMemoryMB,
			CPUCores:  sc.Docker.CPUCores,
			PIDsLimit: sc.Docker.PIDsLimit,
		},
	}, logger)
}

func sandboxLimits(sc config.SandboxConfig) sandbox.Limits {
	return sandbox.Limits{
		MaxCallStackSize: sc.MaxCallStack,
		MaxLogLines:      sc.MaxLogLines,
		MaxLogBytes:      sc.MaxLogBytes,
		Serialize: serialize.Options{
			MaxDepth:       sc.MaxResultDepth,
			MaxNodes:       sc.MaxResultNodes,
			MaxResultBytes: sc.MaxResultBytes,
		},
	}
}

// initStore opens the saved-function store (SQLite unless configured otherwise).
func initStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.StorageDriverName() {
	case storage.DriverPostgres:
		return initPostgresStore(cfg, logger)
	default:
		return initSQLiteStore(cfg, logger)
	}
}

func initSQLiteStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	dataDir := cfg.ResolvedDataDir()
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	sqliteCfg := sqlitestore.Config{Path: cfg.DatabasePath()}
	if cfg.Storage != nil && cfg.Storage.SQLite != nil {
		sqliteCfg.JournalMode = cfg.Storage.SQLite.JournalMode
	}

	store, err := sqlitestore.Open(sqliteCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing sqlite store: %w", err)
	}
	logger.Debug("sqlite store opened", slog.String("path", store.Path()))
	return store, nil
}

func initPostgresStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	pg := cfg.Storage.Postgres
	if pg == nil {
		pg = &config.PostgresStorageConfig{}
	}

	store, err := pgstore.Open(pgstore.Config{
		DSN:             goutils.Env("SANDRUN_DB_DSN", pg.DSN),
		MaxOpenConns:    pg.MaxOpenConns,
		MaxIdleConns:    pg.MaxIdleConns,
		ConnMaxLifetime: time.Duration(pg.ConnMaxLifetimeS) * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing postgres store: %w", err)
	}
	logger.Debug("postgres store opened")
	return store, nil
}

// initCodegen builds the code generator over the configured LLM providers.
// It returns nil when codegen is disabled.
func initCodegen(cfg *config.Config, obs *observability.Observability, logger *slog.Logger) (codegen.Service, error) {
	if !cfg.CodegenEnabled() {
		return nil, nil
	}

	provider, err := newLLMProvider(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing LLM provider: %w", err)
	}
	provider = observability.NewInstrumentedProvider(provider, obs.MetricsOrNil(), obs.TracerOrNil(), obs.AnomalyOrNil())

	gen := codegen.New(provider, codegen.Config{MaxTokens: cfg.Codegen.MaxTokens}, logger)
	logger.Debug("codegen initialized", slog.String("provider", gen.Provider()))
	return observability.NewInstrumentedGenerator(gen, obs.MetricsOrNil(), obs.TracerOrNil()), nil
}

// newLLMProvider creates the default provider, chained with any fallbacks.
func newLLMProvider(cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	primary, err := buildProvider(cfg.Providers.Default, cfg, logger)
	if err != nil {
		return nil, err
	}
	if len(cfg.Providers.Fallback) == 0 {
		return primary, nil
	}

	providers := []llm.Provider{primary}
	for _, name := range cfg.Providers.Fallback {
		fb, err := buildProvider(name, cfg, logger)
		if err != nil {
			logger.Warn("skipping fallback provider",
				slog.String("provider", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		providers = append(providers, fb)
	}
	if len(providers) == 1 {
		return primary, nil
	}
	return llm.NewFallbackProvider(providers, logger), nil
}

func buildProvider(name string, cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	p := cfg.Providers
	switch name {
	case "anthropic", "":
		return anthropic.NewClient(p.Anthropic.APIKey, p.Anthropic.Model, logger), nil
	case "openai":
		var opts []openai.Option
		if p.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.OpenAI.BaseURL))
		}
		return openai.NewClient(p.OpenAI.APIKey, p.OpenAI.Model, logger, opts...), nil
	case "gemini":
		var opts []gemini.Option
		if p.Gemini.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(p.Gemini.BaseURL))
		}
		return gemini.NewClient(p.Gemini.APIKey, p.Gemini.Model, logger, opts...), nil
	case "ollama":
		baseURL := p.Ollama.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return openai.NewClient("", p.Ollama.Model, logger,
			openai.WithBaseURL(baseURL),
			openai.WithName("ollama"),
		), nil
	default:
		return nil, fmt.Errorf("unknown provider: %q", name)
	}
}
