// Package httpapi implements the HTTP API gateway for sandrun.
//
// Security:
//   - API key authentication on every /v1 request (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - Per-user rate limiting via token bucket on execution and codegen routes
//   - TLS expected via reverse proxy (not handled here)
//
// Every execution outcome, including failures, is a 200 response; the status
// code only reports problems with the HTTP request itself.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/okapi"

	"github.com/jkaninda/sandrun/internal/codegen"
	"github.com/jkaninda/sandrun/internal/executor"
	"github.com/jkaninda/sandrun/internal/gateway"
	"github.com/jkaninda/sandrun/internal/observability"
	"github.com/jkaninda/sandrun/internal/ratelimit"
	"github.com/jkaninda/sandrun/internal/storage"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	APIKeys        map[string]string // API key → user ID. Empty = unauthenticated.
	MaxRequestSize int64             // Maximum request body in bytes. 0 = 1 MB default.
	Version        string            // Reported in the OpenAPI document.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config  Config
	exec    executor.Service
	auth    *gateway.Authenticator
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	server  *http.Server

	codegen   codegen.Service       // nil = codegen disabled (404).
	functions storage.FunctionStore // nil = saved functions disabled.

	// Extra handlers mounted on the HTTP mux (e.g., the WebSocket endpoint).
	extraRoutes []extraRoute

	okapi *okapi.Okapi
	group *okapi.Group
}

// extraRoute stores an additional handler to be mounted on the HTTP mux.
type extraRoute struct {
	pattern string
	handler http.Handler
}

// NewGateway creates an HTTP API gateway.
func NewGateway(cfg Config, exec executor.Service, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	return &Gateway{
		config:  cfg,
		exec:    exec,
		auth:    gateway.NewAuthenticator(cfg.APIKeys),
		limiter: rl,
		logger:  logger,
		okapi:   okapi.New(okapi.WithMaxMultipartMemory(defaultMaxRequestSize)),
	}
}

// WithCodegen enables POST /v1/codegen.
func (g *Gateway) WithCodegen(gen codegen.Service) *Gateway {
	g.codegen = gen
	return g
}

// WithFunctions enables the saved-function routes.
func (g *Gateway) WithFunctions(store storage.FunctionStore) *Gateway {
	g.functions = store
	return g
}

// WithHandler mounts an additional GET handler on the HTTP mux at the given
// pattern, outside the authenticated group.
func (g *Gateway) WithHandler(pattern string, handler http.Handler) *Gateway {
	g.extraRoutes = append(g.extraRoutes, extraRoute{pattern: pattern, handler: handler})
	return g
}

// Authenticator returns the key → user resolver, shared with the WebSocket endpoint.
func (g *Gateway) Authenticator() *gateway.Authenticator {
	return g.auth
}

func (g *Gateway) withOpenAPIDocs() {
	version := g.config.Version
	if version == "" {
		version = "dev"
	}
	g.okapi.WithOpenAPIDocs(okapi.OpenAPI{Title: "sandrun", Version: version})
}

// routes registers every endpoint. It runs once, from Start.
func (g *Gateway) routes() {
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, next)
		})
	}
	g.okapi.UseMiddleware(g.limitBody)

	g.group = g.okapi.Group("/v1", g.authenticate)

	g.group.Post("/execute", g.handleExecute,
		okapi.DocSummary("Run a function body once in a fresh isolate"),
		okapi.DocTags("Execute"),
		okapi.DocRequestBody(executor.Request{}),
		okapi.DocResponse(OutcomeBody{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)
	g.group.Post("/preview", g.handlePreview,
		okapi.DocSummary("Show the assembled unit without running it"),
		okapi.DocTags("Execute"),
		okapi.DocRequestBody(executor.Request{}),
		okapi.DocResponse(PreviewResponse{}),
		okapi.DocResponse(http.StatusBadRequest, OutcomeBody{}),
	)
	g.group.Post("/codegen", g.handleCodegen,
		okapi.DocSummary("Generate a function body from a prompt"),
		okapi.DocTags("Codegen"),
		okapi.DocRequestBody(CodegenRequest{}),
		okapi.DocResponse(CodegenResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		okapi.DocResponse(http.StatusUnprocessableEntity, ErrorBody{}),
		okapi.DocResponse(http.StatusBadGateway, ErrorBody{}),
	)

	if g.functions != nil {
		g.functionRoutes()
	}

	for _, er := range g.extraRoutes {
		g.okapi.HandleStd("GET", er.pattern, er.handler.ServeHTTP)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.withOpenAPIDocs()
	}
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	g.routes()

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))
	err := g.okapi.StartServer(g.server)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

var _ gateway.Gateway = (*Gateway)(nil)

// --- Probes ---

// HealthResponse is the JSON response for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe.
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}
	status := g.config.HealthChecker.CheckReady(c.Context())
	return c.JSON(status.HTTPStatus(), status)
}

// --- Authentication and limits ---

// authenticate resolves the bearer key to a user id stored as "userID".
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		userID, err := g.auth.User(c.Header("Authorization"))
		if err != nil {
			return c.AbortUnauthorized(err.Error())
		}
		c.Set("userID", userID)
		return next(c)
	}
}

// allow applies the per-user rate limit. When it reports false the 429
// response has already been written and err is its result.
func (g *Gateway) allow(c *okapi.Context) (ok bool, err error) {
	if !g.limiter.Enabled() {
		return true, nil
	}
	if err = g.limiter.Allow(c.GetString("userID")); err != nil {
		if g.config.Metrics != nil {
			g.config.Metrics.RateLimitedTotal.WithLabelValues(observability.RouteLabel(c.Request().URL.Path)).Inc()
		}
		return false, c.AbortTooManyRequests("rate limit exceeded")
	}
	return true, nil
}

func (g *Gateway) limitBody(next http.Handler) http.Handler {
	limit := g.config.MaxRequestSize
	if limit <= 0 {
		limit = defaultMaxRequestSize
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next.ServeHTTP(w, r)
	})
}

// bindError maps a body decoding failure to 413 or 400.
func bindError(c *okapi.Context, err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return c.JSON(http.StatusRequestEntityTooLarge, ErrorBody{Error: "request body too large"})
	}
	return c.AbortBadRequest("invalid request body")
}
