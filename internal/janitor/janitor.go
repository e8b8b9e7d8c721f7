// Package janitor implements background retention pruning of encounter
// samples and cached exposures. It runs independently from the request path
// so data older than the retention window disappears even while the host
// application is idle.
package janitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/haukened/exposuregate/internal/app"
	"github.com/haukened/exposuregate/internal/metrics"
)

// DefaultRetention is how long samples and exposures are kept.
const DefaultRetention = 14 * 24 * time.Hour

// Store abstracts the pruning operation the Janitor drives.
type Store interface {
	// DeleteBefore deletes rows older than t and returns the number removed.
	DeleteBefore(ctx context.Context, t time.Time) (int, error)
}

// Config holds tunables for the Janitor.
type Config struct {
	Interval  time.Duration // how often a cycle begins
	Retention time.Duration // rows older than now-Retention are deleted
	Logger    *slog.Logger  // optional logger (defaults to slog.Default())
	Clock     app.Clock     // optional clock (defaults to app.SystemClock)
}

// Metrics accumulates counters (in-memory) for operational insight.
type Metrics struct {
	mu                  sync.Mutex
	Cycles              uint64
	Deleted             uint64
	Failures            uint64
	CycleLastDurationMS int64
}

// MetricsView is a read-only snapshot safe to copy.
type MetricsView struct {
	Cycles              uint64
	Deleted             uint64
	Failures            uint64
	CycleLastDurationMS int64
}

func (m *Metrics) addDeleted(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	m.Deleted += uint64(n)
	m.mu.Unlock()
}

func (m *Metrics) addFailure() {
	m.mu.Lock()
	m.Failures++
	m.mu.Unlock()
}

func (m *Metrics) recordCycle(d time.Duration) {
	m.mu.Lock()
	m.Cycles++
	m.CycleLastDurationMS = d.Milliseconds()
	m.mu.Unlock()
}

// Janitor encapsulates the background pruning loop.
type Janitor struct {
	store   Store
	sink    app.Metrics
	cfg     Config
	metrics *Metrics

	ticker *time.Ticker
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// New constructs but does not start a Janitor. sink may be nil.
func New(store Store, sink app.Metrics, cfg Config) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = app.SystemClock{}
	}
	return &Janitor{
		store:   store,
		sink:    sink,
		cfg:     cfg,
		metrics: &Metrics{},
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the janitor loop in a new goroutine.
func (j *Janitor) Start(ctx context.Context) {
	if j.ticker != nil {
		return
	} // already started
	j.ticker = time.NewTicker(j.cfg.Interval)
	go j.loop(ctx)
}

// Stop signals the loop to exit and waits for completion. Stop on a Janitor
// that was never started returns immediately.
func (j *Janitor) Stop() {
	if j.ticker == nil {
		return
	}
	j.once.Do(func() { close(j.stopCh) })
	<-j.doneCh
}

// MetricsSnapshot returns a copy of current metrics.
func (j *Janitor) MetricsSnapshot() MetricsView {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()
	return MetricsView{
		Cycles:              j.metrics.Cycles,
		Deleted:             j.metrics.Deleted,
		Failures:            j.metrics.Failures,
		CycleLastDurationMS: j.metrics.CycleLastDurationMS,
	}
}

func (j *Janitor) loop(ctx context.Context) {
	log := j.cfg.Logger.With("domain", "janitor")
	defer func() {
		j.ticker.Stop()
		close(j.doneCh)
	}()
	j.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info("janitor stop", "reason", "context_cancel")
			return
		case <-j.stopCh:
			log.Info("janitor stop", "reason", "stop_signal")
			return
		case <-j.ticker.C:
			j.runCycle(ctx)
		}
	}
}

// runCycle performs one pruning pass.
func (j *Janitor) runCycle(ctx context.Context) {
	start := time.Now()
	log := j.cfg.Logger.With("domain", "janitor", "action", "cycle")
	cutoff := j.cfg.Clock.Now().Add(-j.cfg.Retention)
	count, err := j.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		j.metrics.addFailure()
		if !errors.Is(err, context.Canceled) {
			log.Error("prune", "error", err)
		}
	}
	j.metrics.addDeleted(count)
	if j.sink != nil {
		if count > 0 {
			j.sink.Inc(metrics.CounterRetentionDeleted, int64(count))
		}
		j.sink.Observe(metrics.SummaryJanitorDeletedPerCycle, int64(count))
	}
	j.metrics.recordCycle(time.Since(start))
	log.Info("cycle complete", "cutoff", cutoff, "deleted", count, "ms", time.Since(start).Milliseconds())
}
