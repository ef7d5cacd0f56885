package observability

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/sandrun/internal/codegen"
	"github.com/jkaninda/sandrun/internal/domain"
	"github.com/jkaninda/sandrun/internal/executor"
	"github.com/jkaninda/sandrun/internal/llm"
	"github.com/jkaninda/sandrun/internal/supervisor"
)

// --- InstrumentedExecutor ---

// InstrumentedExecutor wraps an executor.Service with metrics, tracing, and
// anomaly detection. Every outcome is recorded once, whether the request
// was rejected up front or ran in an isolate.
type InstrumentedExecutor struct {
	inner       executor.Service
	sandboxType string
	metrics     *MetricsCollector
	tracer      trace.Tracer
	anomaly     *AnomalyDetector
}

// NewInstrumentedExecutor wraps an executor with observability.
func NewInstrumentedExecutor(inner executor.Service, sandboxType string, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedExecutor {
	return &InstrumentedExecutor{
		inner:       inner,
		sandboxType: sandboxType,
		metrics:     metrics,
		tracer:      tracerOf(ts),
		anomaly:     anomaly,
	}
}

func (e *InstrumentedExecutor) Execute(ctx context.Context, req executor.Request) domain.Outcome {
	ctx, span := e.startSpan(ctx, req)
	defer span.End()

	start := time.Now()
	out := e.inner.Execute(ctx, req)
	e.record(span, out, time.Since(start))
	return out
}

func (e *InstrumentedExecutor) Start(ctx context.Context, req executor.Request) (*supervisor.Execution, error) {
	ctx, span := e.startSpan(ctx, req)
	start := time.Now()

	exec, err := e.inner.Start(ctx, req)
	if err != nil {
		e.record(span, domain.FailureFrom(err), time.Since(start))
		span.End()
		return nil, err
	}
	span.SetAttributes(attribute.String("execution.id", exec.ID()))
	go func() {
		defer span.End()
		<-exec.Done()
		out, _ := exec.Outcome()
		e.record(span, out, time.Since(start))
	}()
	return exec, nil
}

func (e *InstrumentedExecutor) Preview(req executor.Request) (string, error) {
	return e.inner.Preview(req)
}

func (e *InstrumentedExecutor) startSpan(ctx context.Context, req executor.Request) (context.Context, trace.Span) {
	return startSpan(ctx, e.tracer, spanExecute,
		attribute.String("sandbox.type", e.sandboxType),
		attribute.String("function.name", req.FunctionName),
		attribute.Int("function.body_bytes", len(req.BodySource)),
	)
}

func (e *InstrumentedExecutor) record(span trace.Span, out domain.Outcome, elapsed time.Duration) {
	status := outcomeStatus(out)
	span.SetAttributes(attribute.String("execution.status", status))
	if err := out.Err(); err != nil {
		recordSpanError(span, err)
	}

	if e.metrics != nil {
		e.metrics.ExecutionsTotal.WithLabelValues(e.sandboxType, status).Inc()
		e.metrics.ExecutionDuration.WithLabelValues(e.sandboxType).Observe(elapsed.Seconds())
	}

	op := "execute_" + e.sandboxType
	switch {
	case out.OK():
		e.anomaly.RecordSuccess(op)
	case out.Kind() == domain.KindTimeout:
		e.anomaly.RecordTimeout(op)
	default:
		e.anomaly.RecordError(op)
	}
}

// outcomeStatus is the metric label for out: "success" or the failure kind.
func outcomeStatus(out domain.Outcome) string {
	if out.OK() {
		return "success"
	}
	return string(out.Kind())
}

// --- InstrumentedGenerator ---

// InstrumentedGenerator wraps a codegen.Service with metrics and tracing.
type InstrumentedGenerator struct {
	inner   codegen.Service
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedGenerator wraps a code generator with observability.
func NewInstrumentedGenerator(inner codegen.Service, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedGenerator {
	return &InstrumentedGenerator{inner: inner, metrics: metrics, tracer: tracerOf(ts)}
}

func (g *InstrumentedGenerator) Provider() string { return g.inner.Provider() }

func (g *InstrumentedGenerator) Generate(ctx context.Context, req codegen.Request) (codegen.Result, error) {
	ctx, span := startSpan(ctx, g.tracer, spanCodegen,
		attribute.String("llm.provider", g.inner.Provider()),
		attribute.Int("codegen.prompt_bytes", len(req.Prompt)),
	)
	defer span.End()

	res, err := g.inner.Generate(ctx, req)
	status := "success"
	switch {
	case errors.Is(err, codegen.ErrInvalidBody):
		status = "invalid_body"
	case err != nil:
		status = "error"
	}
	if err != nil {
		recordSpanError(span, err)
	}
	if g.metrics != nil {
		g.metrics.CodegenRequestsTotal.WithLabelValues(g.inner.Provider(), status).Inc()
	}
	return res, err
}

// --- InstrumentedProvider ---

// InstrumentedProvider wraps an llm.Provider with metrics, tracing, and anomaly detection.
type InstrumentedProvider struct {
	inner   llm.Provider
	metrics *MetricsCollector
	tracer  trace.Tracer
	anomaly *AnomalyDetector
}

// NewInstrumentedProvider wraps an LLM provider with observability.
func NewInstrumentedProvider(inner llm.Provider, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedProvider {
	return &InstrumentedProvider{
		inner:   inner,
		metrics: metrics,
		tracer:  tracerOf(ts),
		anomaly: anomaly,
	}
}

func (p *InstrumentedProvider) Name() string { return p.inner.Name() }

func (p *InstrumentedProvider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	provider := p.inner.Name()
	ctx, span := startSpan(ctx, p.tracer, spanLLMComplete, attribute.String("llm.provider", provider))
	defer span.End()

	start := time.Now()
	resp, err := p.inner.Complete(ctx, req)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
		recordSpanError(span, err)
	}

	if p.metrics != nil {
		p.metrics.LLMRequestsTotal.WithLabelValues(provider, status).Inc()
		p.metrics.LLMRequestDuration.WithLabelValues(provider).Observe(duration)
		if resp != nil {
			p.metrics.LLMTokensUsed.WithLabelValues(provider, "input").Add(float64(resp.Usage.InputTokens))
			p.metrics.LLMTokensUsed.WithLabelValues(provider, "output").Add(float64(resp.Usage.OutputTokens))
		}
	}

	if err != nil {
		p.anomaly.RecordError("llm_request")
	} else {
		p.anomaly.RecordSuccess("llm_request")
	}
	return resp, err
}

// --- Compile-time interface checks ---

var (
	_ executor.Service = (*InstrumentedExecutor)(nil)
	_ codegen.Service  = (*InstrumentedGenerator)(nil)
	_ llm.Provider     = (*InstrumentedProvider)(nil)
)

// statusCode returns the HTTP status code as a string for metric labels.
func statusCode(code int) string {
	return strconv.Itoa(code)
}
