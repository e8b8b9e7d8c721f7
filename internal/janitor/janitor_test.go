package janitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/haukened/exposuregate/internal/metrics"
)

// --- Fakes / Mocks ---

type fakeStore struct {
	mu      sync.Mutex
	count   int
	err     error
	calls   int
	cutoffs []time.Time
}

func (fs *fakeStore) DeleteBefore(_ context.Context, t time.Time) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.calls++
	fs.cutoffs = append(fs.cutoffs, t)
	return fs.count, fs.err
}

func (fs *fakeStore) callCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.calls
}

type fixedClock struct{ now time.Time }

func (f fixedClock) Now() time.Time { return f.now }

func TestJanitorCycleSuccess(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	fs := &fakeStore{count: 3}
	j := New(fs, nil, Config{Interval: time.Hour, Retention: 48 * time.Hour, Logger: slog.Default(), Clock: fixedClock{now}})
	j.runCycle(context.Background())
	mv := j.MetricsSnapshot()
	if mv.Deleted != 3 || mv.Cycles != 1 || mv.Failures != 0 {
		t.Fatalf("unexpected metrics %+v", mv)
	}
	if len(fs.cutoffs) != 1 || !fs.cutoffs[0].Equal(now.Add(-48*time.Hour)) {
		t.Fatalf("unexpected cutoff %v", fs.cutoffs)
	}
}

func TestJanitorCycleError(t *testing.T) {
	fs := &fakeStore{err: errors.New("boom")}
	j := New(fs, nil, Config{Interval: time.Hour, Logger: slog.Default()})
	j.runCycle(context.Background())
	mv := j.MetricsSnapshot()
	if mv.Deleted != 0 || mv.Cycles != 1 || mv.Failures != 1 {
		t.Fatalf("metrics after error %+v", mv)
	}
}

func TestJanitorContextCancelEarly(t *testing.T) {
	fs := &fakeStore{count: 5, err: context.Canceled}
	j := New(fs, nil, Config{Interval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	j.runCycle(ctx)
	mv := j.MetricsSnapshot()
	if mv.Deleted != 5 || mv.Failures != 1 {
		t.Fatalf("expected partial deletion counted, got %+v", mv)
	}
}

func TestStartStopLoop(t *testing.T) {
	fs := &fakeStore{count: 1}
	j := New(fs, nil, Config{Interval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	j.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	j.Stop()
	cancel()
	mv := j.MetricsSnapshot()
	if mv.Cycles == 0 {
		t.Fatalf("expected at least one cycle")
	}
	if fs.callCount() != int(mv.Cycles) {
		t.Fatalf("calls %d != cycles %d", fs.callCount(), mv.Cycles)
	}
}

func TestStartRunsImmediately(t *testing.T) {
	fs := &fakeStore{}
	j := New(fs, nil, Config{Interval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	j.Start(ctx)
	deadline := time.Now().Add(time.Second)
	for fs.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	j.Stop()
	if fs.callCount() == 0 {
		t.Fatalf("expected an initial cycle on start")
	}
}

func TestNewDefaults(t *testing.T) {
	j := New(&fakeStore{}, nil, Config{})
	if j.cfg.Interval <= 0 || j.cfg.Logger == nil || j.cfg.Clock == nil || j.cfg.Retention != DefaultRetention {
		t.Fatalf("defaults not applied %+v", j.cfg)
	}
	j.Stop() // never started
}

func TestStartAlreadyStarted(t *testing.T) {
	j := New(&fakeStore{}, nil, Config{Interval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	j.Start(ctx)
	tkr := j.ticker
	j.Start(ctx)
	if j.ticker != tkr {
		t.Fatalf("ticker replaced unexpectedly")
	}
	j.Stop()
}

// externalCollector captures emitted metrics for verification.
type externalCollector struct {
	mu       sync.Mutex
	counters map[string]int64
	observes map[string][]int64
}

func newExternalCollector() *externalCollector {
	return &externalCollector{counters: make(map[string]int64), observes: make(map[string][]int64)}
}

func (e *externalCollector) Inc(name string, delta int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.counters[name] += delta
}
func (e *externalCollector) Observe(name string, v int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observes[name] = append(e.observes[name], v)
}

func TestJanitorExternalMetrics(t *testing.T) {
	fs := &fakeStore{count: 4}
	ec := newExternalCollector()
	j := New(fs, ec, Config{Interval: time.Hour})
	j.runCycle(context.Background())
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if got := ec.counters[metrics.CounterRetentionDeleted]; got != 4 {
		t.Fatalf("expected external counter 4 got %d", got)
	}
	obs := ec.observes[metrics.SummaryJanitorDeletedPerCycle]
	if len(obs) != 1 || obs[0] != 4 {
		t.Fatalf("unexpected observations %+v", obs)
	}
}
