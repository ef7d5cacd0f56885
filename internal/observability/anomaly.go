package observability

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jkaninda/sandrun/internal/config"
)

// minSamples is the number of observations needed before rates are judged.
const minSamples = 5

// AnomalyDetector flags unusual failure and timeout rates over a sliding
// window. Detections are logged, nothing is blocked.
type AnomalyDetector struct {
	mu        sync.Mutex
	failures  map[string]*slidingWindow
	timeouts  map[string]*slidingWindow
	successes map[string]*slidingWindow
	cfg       *config.AnomalyConfig
	logger    *slog.Logger
}

type slidingWindow struct {
	entries []windowEntry
	window  time.Duration
}

type windowEntry struct {
	timestamp time.Time
	value     float64
}

// NewAnomalyDetector creates an anomaly detector from config.
func NewAnomalyDetector(cfg *config.AnomalyConfig, logger *slog.Logger) *AnomalyDetector {
	return &AnomalyDetector{
		failures:  make(map[string]*slidingWindow),
		timeouts:  make(map[string]*slidingWindow),
		successes: make(map[string]*slidingWindow),
		cfg:       cfg,
		logger:    logger,
	}
}

func (a *AnomalyDetector) windowDuration() time.Duration {
	secs := a.cfg.WindowSeconds
	if secs <= 0 {
		secs = 300
	}
	return time.Duration(secs) * time.Second
}

// RecordError records a failed operation.
func (a *AnomalyDetector) RecordError(operation string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.window(a.failures, operation).add(1)
	a.checkRate(operation, "error", a.failures, a.cfg.ErrorRateThreshold)
}

// RecordTimeout records an operation that hit its deadline. Timeouts also
// count as failures.
func (a *AnomalyDetector) RecordTimeout(operation string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.window(a.failures, operation).add(1)
	a.window(a.timeouts, operation).add(1)
	a.checkRate(operation, "timeout", a.timeouts, a.cfg.TimeoutRateThreshold)
	a.checkRate(operation, "error", a.failures, a.cfg.ErrorRateThreshold)
}

// RecordSuccess records a successful operation.
func (a *AnomalyDetector) RecordSuccess(operation string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.window(a.successes, operation).add(1)
}

// Rates returns the current failure and timeout rates for operation.
func (a *AnomalyDetector) Rates(operation string) (failure, timeout float64) {
	if a == nil {
		return 0, 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	total := a.total(operation)
	if total == 0 {
		return 0, 0
	}
	return a.window(a.failures, operation).sum() / total, a.window(a.timeouts, operation).sum() / total
}

// total is failures plus successes. Must be called with a.mu held.
func (a *AnomalyDetector) total(operation string) float64 {
	return a.window(a.failures, operation).sum() + a.window(a.successes, operation).sum()
}

// checkRate logs when bad/total exceeds threshold. Must be called with a.mu held.
func (a *AnomalyDetector) checkRate(operation, what string, bad map[string]*slidingWindow, threshold float64) {
	if threshold <= 0 {
		return
	}
	total := a.total(operation)
	if total < minSamples {
		return
	}
	n := a.window(bad, operation).sum()
	rate := n / total
	if rate > threshold && a.logger != nil {
		a.logger.Warn("anomaly detected: high "+what+" rate",
			slog.String("operation", operation),
			slog.Float64("rate", rate),
			slog.Float64("threshold", threshold),
			slog.Float64("count", n),
			slog.Float64("total", total),
		)
	}
}

func (a *AnomalyDetector) window(m map[string]*slidingWindow, key string) *slidingWindow {
	w, ok := m[key]
	if !ok {
		w = &slidingWindow{window: a.windowDuration()}
		m[key] = w
	}
	return w
}

// add appends a value and prunes expired entries.
func (w *slidingWindow) add(value float64) {
	now := time.Now()
	w.entries = append(w.entries, windowEntry{timestamp: now, value: value})
	w.prune(now)
}

// sum returns the total value within the window.
func (w *slidingWindow) sum() float64 {
	w.prune(time.Now())
	var total float64
	for _, e := range w.entries {
		total += e.value
	}
	return total
}

// prune removes entries older than the window duration.
func (w *slidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.entries) && w.entries[i].timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.entries = w.entries[i:]
	}
}
