// Package config handles loading and validating sandrun configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for sandrun.
type Config struct {
	// DataDir holds the SQLite database. Default: ~/.sandrun.
	// Override: SANDRUN_DATA_DIR env var.
	DataDir   string          `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`
	Log       LogConfig       `json:"log" yaml:"log"`
	Sandbox   SandboxConfig   `json:"sandbox" yaml:"sandbox"`
	Executor  ExecutorConfig  `json:"executor" yaml:"executor"`
	Gateways  GatewaysConfig  `json:"gateways" yaml:"gateways"`
	Providers ProvidersConfig `json:"providers" yaml:"providers"`

	Codegen       *CodegenConfig       `json:"codegen,omitempty" yaml:"codegen,omitempty"`             // nil = code generation disabled
	Scheduler     *SchedulerConfig     `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`         // nil = scheduled functions never fire
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`             // nil = SQLite under the data directory
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info (default), warn, error
	Format string `json:"format" yaml:"format"` // json (default) or text
}

// SandboxConfig configures isolates and the supervisor.
type SandboxConfig struct {
	Type            string  `json:"type" yaml:"type"`                           // "inprocess" (default), "process" or "docker"
	DeadlineSeconds float64 `json:"deadline_seconds" yaml:"deadline_seconds"`   // Default: 10
	TeardownGraceMS int     `json:"teardown_grace_ms" yaml:"teardown_grace_ms"` // Default: 250
	MaxIsolates     int     `json:"max_isolates" yaml:"max_isolates"`           // inprocess only. 0 = unlimited
	MaxCallStack    int     `json:"max_call_stack" yaml:"max_call_stack"`       // Default: 4096
	MaxLogLines     int     `json:"max_log_lines" yaml:"max_log_lines"`         // Default: 100
	MaxLogBytes     int     `json:"max_log_bytes" yaml:"max_log_bytes"`         // Default: 65536
	MaxResultDepth  int     `json:"max_result_depth" yaml:"max_result_depth"`   // Default: 256
	MaxResultNodes  int     `json:"max_result_nodes" yaml:"max_result_nodes"`   // Default: 1000000
	MaxResultBytes  int     `json:"max_result_bytes" yaml:"max_result_bytes"`   // Default: 8 MiB
	MaxCPUSeconds   int     `json:"max_cpu_seconds" yaml:"max_cpu_seconds"`     // process only. Default: 30
	MaxMemoryMB     int     `json:"max_memory_mb" yaml:"max_memory_mb"`         // process and docker. Default: 512

	// IsolateExecutable is the binary the process sandbox re-executes.
	// Default: the running binary.
	IsolateExecutable string              `json:"isolate_executable,omitempty" yaml:"isolate_executable,omitempty"`
	Docker            DockerSandboxConfig `json:"docker" yaml:"docker"`
}

// Deadline returns the per-execution deadline with a default of 10s.
func (s SandboxConfig) Deadline() time.Duration {
	if s.DeadlineSeconds > 0 {
		return time.Duration(s.DeadlineSeconds * float64(time.Second))
	}
	return 10 * time.Second
}

// TeardownGrace returns the teardown grace with a default of 250ms.
func (s SandboxConfig) TeardownGrace() time.Duration {
	if s.TeardownGraceMS > 0 {
		return time.Duration(s.TeardownGraceMS) * time.Millisecond
	}
	return 250 * time.Millisecond
}

// SandboxType returns the backend name, defaulting to "inprocess".
func (s SandboxConfig) SandboxType() string {
	if s.Type != "" {
		return s.Type
	}
	return "inprocess"
}

// DockerSandboxConfig holds Docker-specific sandbox settings.
type DockerSandboxConfig struct {
	Image     string  `json:"image" yaml:"image"`           // Default: "jkaninda/sandrun:latest".
	CPUCores  float64 `json:"cpu_cores" yaml:"cpu_cores"`   // Docker --cpus flag (e.g. 0.5). 0 = 1.0 default.
	PIDsLimit int     `json:"pids_limit" yaml:"pids_limit"` // Docker --pids-limit flag. 0 = 64 default.
}

// ExecutorConfig configures request handling ahead of the supervisor.
type ExecutorConfig struct {
	FunctionName string `json:"function_name" yaml:"function_name"` // Default: "worker_function"
}

// GatewaysConfig defines which gateways are enabled. Nil means disabled.
type GatewaysConfig struct {
	HTTP      *HTTPGatewayConfig      `json:"http,omitempty" yaml:"http,omitempty"`
	WebSocket *WebSocketGatewayConfig `json:"websocket,omitempty" yaml:"websocket,omitempty"`
}

// HTTPGatewayConfig configures the HTTP API gateway.
type HTTPGatewayConfig struct {
	Enabled             bool              `json:"enabled" yaml:"enabled"`
	EnableDocs          bool              `json:"enable_docs" yaml:"enable_docs"`
	ListenAddr          string            `json:"listen_addr" yaml:"listen_addr"`                       // Default: ":8080"
	MaxRequestSizeBytes int64             `json:"max_request_size_bytes" yaml:"max_request_size_bytes"` // Default: 1 MiB
	APIKeyUserMapping   map[string]string `json:"api_key_user_mapping" yaml:"api_key_user_mapping"`     // API key → user ID. Empty = unauthenticated.
	RateLimit           RateLimitConfig   `json:"rate_limit" yaml:"rate_limit"`
}

// Addr returns the listen address with a default of ":8080".
func (h *HTTPGatewayConfig) Addr() string {
	if h != nil && h.ListenAddr != "" {
		return h.ListenAddr
	}
	return ":8080"
}

// MaxRequestSize returns the request body limit with a default of 1 MiB.
func (h *HTTPGatewayConfig) MaxRequestSize() int64 {
	if h != nil && h.MaxRequestSizeBytes > 0 {
		return h.MaxRequestSizeBytes
	}
	return 1 << 20
}

// WebSocketGatewayConfig configures the WebSocket run channel. It is served
// by the HTTP gateway's listener.
type WebSocketGatewayConfig struct {
	Enabled                  bool  `json:"enabled" yaml:"enabled"`
	MaxConcurrentPerConn     int   `json:"max_concurrent_per_conn" yaml:"max_concurrent_per_conn"`       // Default: 8
	HeartbeatIntervalSeconds int   `json:"heartbeat_interval_seconds" yaml:"heartbeat_interval_seconds"` // Default: 30
	MaxMessageBytes          int64 `json:"max_message_bytes" yaml:"max_message_bytes"`                   // Default: 1 MiB
}

// MaxConcurrent returns the per-connection execution cap with a default of 8.
func (w *WebSocketGatewayConfig) MaxConcurrent() int {
	if w != nil && w.MaxConcurrentPerConn > 0 {
		return w.MaxConcurrentPerConn
	}
	return 8
}

// WSHeartbeatInterval returns the ping interval with a default of 30s.
func (w *WebSocketGatewayConfig) WSHeartbeatInterval() time.Duration {
	if w != nil && w.HeartbeatIntervalSeconds > 0 {
		return time.Duration(w.HeartbeatIntervalSeconds) * time.Second
	}
	return 30 * time.Second
}

// ReadLimit returns the max inbound message size with a default of 1 MiB.
func (w *WebSocketGatewayConfig) ReadLimit() int64 {
	if w != nil && w.MaxMessageBytes > 0 {
		return w.MaxMessageBytes
	}
	return 1 << 20
}

// RateLimitConfig configures per-user rate limiting for a gateway.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"` // 0 = unlimited
	BurstSize         int `json:"burst_size" yaml:"burst_size"`
}

// CodegenConfig configures the code generation endpoint.
type CodegenConfig struct {
	Enabled   bool `json:"enabled" yaml:"enabled"`
	MaxTokens int  `json:"max_tokens" yaml:"max_tokens"` // Default: 1024
}

// SchedulerConfig configures periodic runs of saved functions that carry a
// schedule. Requires storage.
type SchedulerConfig struct {
	Enabled             bool `json:"enabled" yaml:"enabled"`
	PollIntervalSeconds int  `json:"poll_interval_seconds" yaml:"poll_interval_seconds"` // Default: 30.
	MaxConcurrentRuns   int  `json:"max_concurrent_runs" yaml:"max_concurrent_runs"`     // Default: 4.
}

// PollInterval returns the poll interval with a default of 30s.
func (s *SchedulerConfig) PollInterval() time.Duration {
	if s != nil && s.PollIntervalSeconds > 0 {
		return time.Duration(s.PollIntervalSeconds) * time.Second
	}
	return 30 * time.Second
}

// MaxConcurrent returns the concurrent run cap with a default of 4.
func (s *SchedulerConfig) MaxConcurrent() int {
	if s != nil && s.MaxConcurrentRuns > 0 {
		return s.MaxConcurrentRuns
	}
	return 4
}

// SchedulerEnabled reports whether scheduled functions fire.
func (c *Config) SchedulerEnabled() bool {
	return c.Scheduler != nil && c.Scheduler.Enabled
}

type ProvidersConfig struct {
	Default   string          `json:"default" yaml:"default"`                       // "anthropic", "openai", "gemini", "ollama". Empty = "anthropic".
	Fallback  []string        `json:"fallback,omitempty" yaml:"fallback,omitempty"` // Fallback providers tried in order when default fails.
	Anthropic AnthropicConfig `json:"anthropic" yaml:"anthropic"`
	OpenAI    OpenAIConfig    `json:"openai" yaml:"openai"`
	Gemini    GeminiConfig    `json:"gemini" yaml:"gemini"`
	Ollama    OllamaConfig    `json:"ollama" yaml:"ollama"`
}

type AnthropicConfig struct {
	APIKey string `json:"api_key" yaml:"api_key"`
	Model  string `json:"model" yaml:"model"`
}

type OpenAIConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to https://api.openai.com.
}

type GeminiConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to https://generativelanguage.googleapis.com.
}

type OllamaConfig struct {
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to http://localhost:11434.
}

// StorageConfig configures the saved-function store.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: <data_dir>/sandrun.db.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`                                 // Override: SANDRUN_DB_DSN env var.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// ObservabilityConfig configures metrics, tracing, health checks, and anomaly detection.
// When nil, all observability features are disabled.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Health  *HealthConfig  `json:"health,omitempty" yaml:"health,omitempty"`
	Anomaly *AnomalyConfig `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "sandrun"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// HealthConfig configures dependency health checks for readiness probes.
type HealthConfig struct {
	IncludeDB      bool `json:"include_db" yaml:"include_db"`
	IncludeSandbox bool `json:"include_sandbox" yaml:"include_sandbox"` // Run a canary execution.
}

// AnomalyConfig configures threshold-based anomaly detection.
type AnomalyConfig struct {
	Enabled              bool    `json:"enabled" yaml:"enabled"`
	ErrorRateThreshold   float64 `json:"error_rate_threshold" yaml:"error_rate_threshold"`       // e.g. 0.5 = 50% failed executions
	TimeoutRateThreshold float64 `json:"timeout_rate_threshold" yaml:"timeout_rate_threshold"` // e.g. 0.2 = 20% timed out
	WindowSeconds        int     `json:"window_seconds" yaml:"window_seconds"`                 // Sliding window. Default: 300
}

// Default returns a working configuration for local use without a file:
// in-process sandbox, HTTP and WebSocket gateways on :8080, SQLite storage.
func Default() *Config {
	cfg := &Config{
		Gateways: GatewaysConfig{
			HTTP:      &HTTPGatewayConfig{Enabled: true, ListenAddr: ":8080"},
			WebSocket: &WebSocketGatewayConfig{Enabled: true},
		},
	}
	applyEnv(cfg)
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}
	return cfg
}

// DefaultConfigPath returns the default config file path (~/.sandrun/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/sandrun.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".sandrun", "config.yaml")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything else for JSON.
// Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	applyEnv(&cfg)
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads path when it exists and falls back to Default when
// the file is absent. Any other error is returned.
func LoadOrDefault(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}
	if _, err := os.Stat(resolved); os.IsNotExist(err) {
		cfg := Default()
		if err := cfg.validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}
	return Load(path)
}

func applyEnv(cfg *Config) {
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		cfg.Providers.Anthropic.APIKey = envKey
	}
	if envKey := os.Getenv("OPENAI_API_KEY"); envKey != "" {
		cfg.Providers.OpenAI.APIKey = envKey
	}
	if envKey := os.Getenv("GEMINI_API_KEY"); envKey != "" {
		cfg.Providers.Gemini.APIKey = envKey
	}
	if v := os.Getenv("SANDRUN_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("SANDRUN_SANDBOX_TYPE"); v != "" {
		cfg.Sandbox.Type = v
	}
	if v := os.Getenv("SANDRUN_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SANDRUN_DB_DSN"); v != "" {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{Driver: "postgres"}
		}
		if cfg.Storage.Postgres == nil {
			cfg.Storage.Postgres = &PostgresStorageConfig{}
		}
		cfg.Storage.Postgres.DSN = v
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "data"
	}
	return filepath.Join(home, ".sandrun")
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		return defaultDataDir()
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the SQLite database path.
func (c *Config) DatabasePath() string {
	if c.Storage != nil && c.Storage.SQLite != nil && c.Storage.SQLite.Path != "" {
		if p, err := resolvePath(c.Storage.SQLite.Path); err == nil {
			return p
		}
		return c.Storage.SQLite.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "sandrun.db")
}

// StorageDriverName returns the effective storage driver name.
func (c *Config) StorageDriverName() string {
	return c.Storage.StorageDriver()
}

// CodegenEnabled reports whether the code generation endpoint is on.
func (c *Config) CodegenEnabled() bool {
	return c.Codegen != nil && c.Codegen.Enabled
}

func (c *Config) validate() error {
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not supported (use debug, info, warn or error)", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("log.format %q is not supported (use json or text)", c.Log.Format)
	}

	switch c.Sandbox.SandboxType() {
	case "inprocess", "process", "docker":
	default:
		return fmt.Errorf("sandbox.type %q is not supported (use inprocess, process or docker)", c.Sandbox.Type)
	}
	if c.Sandbox.DeadlineSeconds < 0 {
		return fmt.Errorf("sandbox.deadline_seconds must not be negative")
	}
	for name, v := range map[string]int{
		"teardown_grace_ms": c.Sandbox.TeardownGraceMS,
		"max_isolates":      c.Sandbox.MaxIsolates,
		"max_call_stack":    c.Sandbox.MaxCallStack,
		"max_log_lines":     c.Sandbox.MaxLogLines,
		"max_log_bytes":     c.Sandbox.MaxLogBytes,
		"max_result_depth":  c.Sandbox.MaxResultDepth,
		"max_result_nodes":  c.Sandbox.MaxResultNodes,
		"max_result_bytes":  c.Sandbox.MaxResultBytes,
		"max_cpu_seconds":   c.Sandbox.MaxCPUSeconds,
	} {
		if v < 0 {
			return fmt.Errorf("sandbox.%s must not be negative", name)
		}
	}
	if c.Sandbox.MaxIsolates > 0 && c.Sandbox.SandboxType() != "inprocess" {
		return fmt.Errorf("sandbox.max_isolates is only supported by the inprocess sandbox")
	}

	if c.Storage != nil {
		switch c.Storage.StorageDriver() {
		case "sqlite":
		case "postgres":
			if c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
				return fmt.Errorf("storage.postgres.dsn is required (set SANDRUN_DB_DSN env var)")
			}
		default:
			return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
		}
	}

	if h := c.Gateways.HTTP; h != nil {
		if h.RateLimit.RequestsPerMinute < 0 || h.RateLimit.BurstSize < 0 {
			return fmt.Errorf("gateways.http.rate_limit must not be negative")
		}
		for key, user := range h.APIKeyUserMapping {
			if key == "" || user == "" {
				return fmt.Errorf("gateways.http.api_key_user_mapping must not contain empty keys or users")
			}
		}
	}
	if ws := c.Gateways.WebSocket; ws != nil && ws.Enabled {
		if c.Gateways.HTTP == nil || !c.Gateways.HTTP.Enabled {
			return fmt.Errorf("gateways.websocket requires the http gateway to be enabled")
		}
	}

	if c.CodegenEnabled() {
		if c.Providers.Default == "" {
			c.Providers.Default = "anthropic"
		}
		if err := c.validateProvider(c.Providers.Default); err != nil {
			return err
		}
		for _, name := range c.Providers.Fallback {
			if err := c.validateProvider(name); err != nil {
				return fmt.Errorf("providers.fallback: %w", err)
			}
		}
	}

	if o := c.Observability; o != nil && o.Tracing != nil && o.Tracing.Enabled {
		if o.Tracing.SampleRate < 0 || o.Tracing.SampleRate > 1 {
			return fmt.Errorf("observability.tracing.sample_rate must be between 0 and 1")
		}
		switch o.Tracing.Protocol {
		case "", "grpc", "http":
		default:
			return fmt.Errorf("observability.tracing.protocol %q is not supported (use grpc or http)", o.Tracing.Protocol)
		}
	}
	return nil
}

// validateProvider checks that the named LLM provider has the required fields.
func (c *Config) validateProvider(name string) error {
	switch name {
	case "anthropic":
		if c.Providers.Anthropic.Model == "" {
			return fmt.Errorf("providers.anthropic.model is required")
		}
		if c.Providers.Anthropic.APIKey == "" {
			return fmt.Errorf("providers.anthropic.api_key is required (set ANTHROPIC_API_KEY env var)")
		}
	case "openai":
		if c.Providers.OpenAI.Model == "" {
			return fmt.Errorf("providers.openai.model is required")
		}
		if c.Providers.OpenAI.APIKey == "" {
			return fmt.Errorf("providers.openai.api_key is required (set OPENAI_API_KEY env var)")
		}
	case "gemini":
		if c.Providers.Gemini.Model == "" {
			return fmt.Errorf("providers.gemini.model is required")
		}
		if c.Providers.Gemini.APIKey == "" {
			return fmt.Errorf("providers.gemini.api_key is required (set GEMINI_API_KEY env var)")
		}
	case "ollama":
		if c.Providers.Ollama.Model == "" {
			return fmt.Errorf("providers.ollama.model is required")
		}
	default:
		return fmt.Errorf("providers.default %q is not supported (use anthropic, openai, gemini, or ollama)", name)
	}
	return nil
}
