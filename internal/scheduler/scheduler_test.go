package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/jkaninda/sandrun/internal/domain"
	"github.com/jkaninda/sandrun/internal/executor"
	"github.com/jkaninda/sandrun/internal/storage"
	"github.com/jkaninda/sandrun/internal/supervisor"
)

type memStore struct {
	fns []domain.Function
}

func (m *memStore) Create(context.Context, *domain.Function) error { return nil }
func (m *memStore) Get(context.Context, uuid.UUID) (*domain.Function, error) {
	return nil, storage.ErrNotFound
}
func (m *memStore) Update(context.Context, *domain.Function) error { return nil }
func (m *memStore) Delete(context.Context, uuid.UUID) error        { return nil }

func (m *memStore) List(_ context.Context, opts storage.ListOptions) ([]domain.Function, error) {
	var out []domain.Function
	for _, fn := range m.fns {
		if opts.Scheduled && fn.Schedule == "" {
			continue
		}
		out = append(out, fn)
	}
	if opts.Offset >= len(out) {
		return nil, nil
	}
	out = out[opts.Offset:]
	if len(out) > opts.PageSize() {
		out = out[:opts.PageSize()]
	}
	return out, nil
}

type recordingExecutor struct {
	mu    sync.Mutex
	calls []executor.Request
	out   domain.Outcome
}

func (r *recordingExecutor) Execute(_ context.Context, req executor.Request) domain.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, req)
	return r.out
}

func (r *recordingExecutor) Start(context.Context, executor.Request) (*supervisor.Execution, error) {
	return nil, errors.New("not supported")
}

func (r *recordingExecutor) Preview(executor.Request) (string, error) { return "", nil }

func (r *recordingExecutor) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newTestScheduler(store storage.FunctionStore, exec executor.Service, metrics *Metrics) (*Scheduler, *time.Time) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(store, exec, metrics, Config{}, logger)
	now := time.Date(2026, 3, 1, 10, 0, 30, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestTick_FiresOnSchedule(t *testing.T) {
	fn := domain.Function{
		ID:             uuid.New(),
		Name:           "every-minute",
		ParameterNames: "n",
		BodySource:     "return n * 2;",
		ArgumentsText:  "21",
		Schedule:       "* * * * *",
	}
	store := &memStore{fns: []domain.Function{fn, {ID: uuid.New(), Name: "manual", BodySource: "return 1;"}}}
	exec := &recordingExecutor{out: domain.Success(int64(42))}
	reg := prometheus.NewRegistry()
	s, now := newTestScheduler(store, exec, NewMetrics(reg))
	ctx := context.Background()

	// First sighting only primes the next run.
	s.tick(ctx)
	if got := exec.count(); got != 0 {
		t.Fatalf("runs after priming tick = %d, want 0", got)
	}
	next, ok := s.NextRun(fn.ID)
	if want := time.Date(2026, 3, 1, 10, 1, 0, 0, time.UTC); !ok || !next.Equal(want) {
		t.Fatalf("NextRun() = %v, %v, want %v", next, ok, want)
	}

	*now = now.Add(20 * time.Second) // 10:00:50, not due yet
	s.tick(ctx)
	if got := exec.count(); got != 0 {
		t.Fatalf("runs before next occurrence = %d, want 0", got)
	}

	*now = now.Add(15 * time.Second) // 10:01:05
	s.tick(ctx)
	if got := exec.count(); got != 1 {
		t.Fatalf("runs after occurrence = %d, want 1", got)
	}
	want := executor.Request{ParameterNames: "n", BodySource: "return n * 2;", ArgumentsText: "21"}
	if exec.calls[0] != want {
		t.Errorf("executed %+v, want %+v", exec.calls[0], want)
	}

	// Same minute again: already advanced.
	s.tick(ctx)
	if got := exec.count(); got != 1 {
		t.Errorf("runs after second tick in same minute = %d, want 1", got)
	}

	if got := counterValue(t, s.metrics.RunsFired); got != 1 {
		t.Errorf("runs_fired_total = %v, want 1", got)
	}
	if got := counterValue(t, s.metrics.RunsSucceeded); got != 1 {
		t.Errorf("runs_succeeded_total = %v, want 1", got)
	}
}

func TestTick_FailureCountedByKind(t *testing.T) {
	fn := domain.Function{ID: uuid.New(), Name: "boom", BodySource: "throw 1;", Schedule: "@every 1m"}
	exec := &recordingExecutor{out: domain.Failure(domain.KindRuntime, "Uncaught 1")}
	s, now := newTestScheduler(&memStore{fns: []domain.Function{fn}}, exec, NewMetrics(prometheus.NewRegistry()))

	s.tick(context.Background())
	*now = now.Add(2 * time.Minute)
	s.tick(context.Background())

	if got := counterValue(t, s.metrics.RunsFailed.WithLabelValues(string(domain.KindRuntime))); got != 1 {
		t.Errorf("runs_failed_total{kind=RuntimeError} = %v, want 1", got)
	}
}

func TestDue_ScheduleChangesAndRemovals(t *testing.T) {
	id := uuid.New()
	s, now := newTestScheduler(&memStore{}, &recordingExecutor{}, nil)

	s.due([]domain.Function{{ID: id, Schedule: "0 * * * *"}}, *now)
	first, _ := s.NextRun(id)
	if want := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC); !first.Equal(want) {
		t.Fatalf("NextRun() = %v, want %v", first, want)
	}

	// A changed schedule re-primes instead of firing.
	later := now.Add(2 * time.Hour)
	if due := s.due([]domain.Function{{ID: id, Schedule: "*/5 * * * *"}}, later); len(due) != 0 {
		t.Errorf("due() after schedule change = %d functions, want 0", len(due))
	}

	// A function no longer listed is forgotten.
	s.due(nil, later)
	if _, ok := s.NextRun(id); ok {
		t.Error("NextRun() still set for a function that is gone")
	}

	// An invalid stored schedule is skipped.
	if due := s.due([]domain.Function{{ID: id, Schedule: "not a cron"}}, later); len(due) != 0 {
		t.Errorf("due() with invalid schedule = %d functions, want 0", len(due))
	}
	if _, ok := s.NextRun(id); ok {
		t.Error("NextRun() set for an invalid schedule")
	}
}

func TestScheduled_Pages(t *testing.T) {
	store := &memStore{}
	for i := 0; i < storage.DefaultListLimit+5; i++ {
		store.fns = append(store.fns, domain.Function{ID: uuid.New(), BodySource: "return 1;", Schedule: "@hourly"})
	}
	s, _ := newTestScheduler(store, &recordingExecutor{}, nil)

	fns, err := s.scheduled(context.Background())
	if err != nil {
		t.Fatalf("scheduled() error = %v", err)
	}
	if len(fns) != storage.DefaultListLimit+5 {
		t.Errorf("scheduled() = %d functions, want %d", len(fns), storage.DefaultListLimit+5)
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("reading counter: %v", err)
	}
	return m.GetCounter().GetValue()
}
