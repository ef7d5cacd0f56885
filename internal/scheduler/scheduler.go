// Package scheduler runs saved functions that carry a cron schedule.
// It polls the function store and fires due functions through the executor,
// so scheduled runs get the same isolation and deadline as any other call.
// Outcomes are logged and counted, never stored.
//
// Next-run times live in memory: after a restart each schedule resumes from
// its next occurrence, and runs missed while the process was down are skipped.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/jkaninda/sandrun/internal/domain"
	"github.com/jkaninda/sandrun/internal/executor"
	"github.com/jkaninda/sandrun/internal/storage"
)

// Config configures a Scheduler.
type Config struct {
	PollInterval  time.Duration // Default: 30s.
	MaxConcurrent int           // Default: 4.
}

// Scheduler fires scheduled functions.
type Scheduler struct {
	functions storage.FunctionStore
	exec      executor.Service
	metrics   *Metrics
	logger    *slog.Logger
	config    Config
	now       func() time.Time

	mu   sync.Mutex
	next map[uuid.UUID]nextRun
}

type nextRun struct {
	expr     string
	schedule cron.Schedule
	at       time.Time
}

// New creates a Scheduler. metrics may be nil.
func New(functions storage.FunctionStore, exec executor.Service, metrics *Metrics, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	return &Scheduler{
		functions: functions,
		exec:      exec,
		metrics:   metrics,
		logger:    logger,
		config:    cfg,
		now:       func() time.Time { return time.Now().UTC() },
		next:      make(map[uuid.UUID]nextRun),
	}
}

// Start begins the scheduler loop. Returns a cancel function.
func (s *Scheduler) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		s.logger.InfoContext(ctx, "function scheduler started",
			slog.String("poll_interval", s.config.PollInterval.String()),
			slog.Int("max_concurrent", s.config.MaxConcurrent),
		)

		// Prime next-run times so the first tick does not fire everything.
		s.tick(ctx)

		ticker := time.NewTicker(s.config.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("function scheduler stopped")
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()

	return cancel
}

// tick runs one poll cycle and waits for the runs it fired.
func (s *Scheduler) tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.TickDuration.Observe(time.Since(start).Seconds())
		}
	}()

	fns, err := s.scheduled(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "listing scheduled functions", slog.String("error", err.Error()))
		return
	}

	due := s.due(fns, s.now())
	if len(due) == 0 {
		return
	}
	s.logger.InfoContext(ctx, "scheduled functions due", slog.Int("count", len(due)))

	sem := make(chan struct{}, s.config.MaxConcurrent)
	var wg sync.WaitGroup
	for i := range due {
		sem <- struct{}{}
		wg.Add(1)
		go func(fn domain.Function) {
			defer wg.Done()
			defer func() { <-sem }()
			s.fire(ctx, fn)
		}(due[i])
	}
	wg.Wait()
}

// scheduled pages through every function that has a schedule.
func (s *Scheduler) scheduled(ctx context.Context) ([]domain.Function, error) {
	var all []domain.Function
	opts := storage.ListOptions{Scheduled: true, Limit: storage.DefaultListLimit}
	for {
		page, err := s.functions.List(ctx, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < opts.PageSize() {
			return all, nil
		}
		opts.Offset += len(page)
	}
}

// due advances next-run times to now and returns the functions to fire.
// A function seen for the first time, or whose schedule changed, is not
// due until its next occurrence.
func (s *Scheduler) due(fns []domain.Function, now time.Time) []domain.Function {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[uuid.UUID]struct{}, len(fns))
	var due []domain.Function
	for _, fn := range fns {
		seen[fn.ID] = struct{}{}

		entry, ok := s.next[fn.ID]
		if !ok || entry.expr != fn.Schedule {
			sched, err := cron.ParseStandard(fn.Schedule)
			if err != nil {
				s.logger.Warn("skipping function with invalid schedule",
					slog.String("function_id", fn.ID.String()),
					slog.String("schedule", fn.Schedule),
					slog.String("error", err.Error()),
				)
				delete(s.next, fn.ID)
				continue
			}
			s.next[fn.ID] = nextRun{expr: fn.Schedule, schedule: sched, at: sched.Next(now)}
			continue
		}
		if now.Before(entry.at) {
			continue
		}
		entry.at = entry.schedule.Next(now)
		s.next[fn.ID] = entry
		due = append(due, fn)
	}

	for id := range s.next {
		if _, ok := seen[id]; !ok {
			delete(s.next, id)
		}
	}
	return due
}

// NextRun returns when id fires next, if it is scheduled.
func (s *Scheduler) NextRun(id uuid.UUID) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.next[id]
	return entry.at, ok
}

func (s *Scheduler) fire(ctx context.Context, fn domain.Function) {
	if s.metrics != nil {
		s.metrics.RunsFired.Inc()
	}

	out := s.exec.Execute(ctx, executor.Request{
		FunctionName:   fn.FunctionName,
		ParameterNames: fn.ParameterNames,
		BodySource:     fn.BodySource,
		ArgumentsText:  fn.ArgumentsText,
	})

	attrs := []any{
		slog.String("function_id", fn.ID.String()),
		slog.String("name", fn.Name),
		slog.Duration("duration", out.Duration()),
	}
	if out.OK() {
		if s.metrics != nil {
			s.metrics.RunsSucceeded.Inc()
		}
		s.logger.InfoContext(ctx, "scheduled run succeeded", attrs...)
		return
	}

	if s.metrics != nil {
		s.metrics.RunsFailed.WithLabelValues(string(out.Kind())).Inc()
	}
	attrs = append(attrs,
		slog.String("kind", string(out.Kind())),
		slog.String("error", out.Message()),
	)
	s.logger.WarnContext(ctx, "scheduled run failed", attrs...)
}
