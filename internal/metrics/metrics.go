// Package metrics provides a lightweight persistent metrics manager.
// It batches in-memory counter and summary observations and periodically
// flushes them to the agent's SQLite database. Only monotonic counters and
// simple (count,sum,min,max) summaries are supported. The tables are created
// by the sqlite migrations.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
)

// Names for counters used by the application.
const (
	CounterGateOK              = "gate_ok_total"
	CounterGateShowTerms       = "gate_show_terms_total"
	CounterGateShowUpdate      = "gate_show_update_total"
	CounterMatchPasses         = "match_passes_total"
	CounterMatchFailures       = "match_failures_total"
	CounterMatchCoalesced      = "match_coalesced_total"
	CounterMatchSkippedConsent = "match_skipped_consent_total"
	CounterExposuresMatched    = "exposures_matched_total"
	CounterEncountersRecorded  = "encounters_recorded_total"
	CounterRetentionDeleted    = "retention_deleted_total"
	CounterEventsDropped       = "metrics_events_dropped_total"
)

// Summary names.
const (
	SummaryMatchPassMS            = "match_pass_ms"
	SummaryExposuresPerPass       = "exposures_per_pass"
	SummaryJanitorDeletedPerCycle = "janitor_deleted_per_cycle"
)

// ErrorCounter names the counter for reported errors of the given kind.
func ErrorCounter(kind string) string {
	return "errors_" + strings.ToLower(kind) + "_total"
}

// Config controls flush cadence and logging.
type Config struct {
	FlushInterval time.Duration
	Logger        *slog.Logger
}

// Summary is a (count,sum,min,max) aggregate.
type Summary struct {
	Count int64 `json:"count" db:"count"`
	Sum   int64 `json:"sum" db:"sum"`
	Min   int64 `json:"min" db:"min"`
	Max   int64 `json:"max" db:"max"`
}

func (s *Summary) merge(o Summary) {
	if s.Count == 0 {
		*s = o
		return
	}
	s.Count += o.Count
	s.Sum += o.Sum
	if o.Min < s.Min {
		s.Min = o.Min
	}
	if o.Max > s.Max {
		s.Max = o.Max
	}
}

// Manager aggregates metric events and flushes them.
type Manager struct {
	cfg     Config
	db      *sqlx.DB
	events  chan event
	stop    chan struct{}
	done    chan struct{}
	started bool
	dropped atomic.Int64

	// in-memory deltas (protected by mu)
	mu        sync.Mutex
	counters  map[string]int64
	summaries map[string]Summary
}

type eventKind int

const (
	eventInc eventKind = iota + 1
	eventObserve
)

type event struct {
	kind eventKind
	name string
	v    int64
}

// New creates a Manager. Call Start to begin background flushing.
func New(db *sqlx.DB, cfg Config) *Manager {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		db:        db,
		events:    make(chan event, 1024),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		counters:  make(map[string]int64),
		summaries: make(map[string]Summary),
	}
}

// Start launches the background flush loop.
func (m *Manager) Start(ctx context.Context) {
	if m.started {
		return
	}
	m.started = true
	go m.loop(ctx)
}

// Stop signals the flush loop to exit, drains queued events and performs a
// final flush.
func (m *Manager) Stop(ctx context.Context) error {
	if m.started {
		close(m.stop)
		<-m.done
		m.started = false
	}
	m.drain()
	return m.flush(ctx)
}

// Inc increments a counter by delta (>=1).
func (m *Manager) Inc(name string, delta int64) {
	if delta <= 0 {
		return
	}
	m.enqueue(event{kind: eventInc, name: name, v: delta})
}

// Observe records a summary observation.
func (m *Manager) Observe(name string, value int64) {
	m.enqueue(event{kind: eventObserve, name: name, v: value})
}

func (m *Manager) enqueue(ev event) {
	select {
	case m.events <- ev:
	default:
		m.dropped.Add(1)
	}
}

func (m *Manager) loop(ctx context.Context) {
	log := m.cfg.Logger.With("domain", "metrics")
	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer func() {
		ticker.Stop()
		close(m.done)
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info("metrics stop", "reason", "context_cancel")
			return
		case <-m.stop:
			log.Info("metrics stop", "reason", "stop_signal")
			return
		case ev := <-m.events:
			m.apply(ev)
		case <-ticker.C:
			if err := m.flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("flush", "error", err)
			}
		}
	}
}

// drain applies events still queued in the channel.
func (m *Manager) drain() {
	for {
		select {
		case ev := <-m.events:
			m.apply(ev)
		default:
			return
		}
	}
}

func (m *Manager) apply(ev event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch ev.kind {
	case eventInc:
		m.counters[ev.name] += ev.v
	case eventObserve:
		agg := m.summaries[ev.name]
		agg.merge(Summary{Count: 1, Sum: ev.v, Min: ev.v, Max: ev.v})
		m.summaries[ev.name] = agg
	}
}

type counterRow struct {
	Name  string `db:"name"`
	Value int64  `db:"value"`
}

type summaryRow struct {
	Name string `db:"name"`
	Summary
}

// Snapshot returns persisted state with in-memory deltas layered on top.
func (m *Manager) Snapshot(ctx context.Context) (map[string]int64, map[string]Summary, error) {
	var crows []counterRow
	if err := m.db.SelectContext(ctx, &crows, `SELECT name, value FROM metrics_counters`); err != nil {
		return nil, nil, err
	}
	var srows []summaryRow
	if err := m.db.SelectContext(ctx, &srows, `SELECT name, count, sum, min, max FROM metrics_summaries`); err != nil {
		return nil, nil, err
	}
	counters := make(map[string]int64, len(crows))
	for _, r := range crows {
		counters[r.Name] = r.Value
	}
	summaries := make(map[string]Summary, len(srows))
	for _, r := range srows {
		summaries[r.Name] = r.Summary
	}
	m.mu.Lock()
	for n, v := range m.counters {
		counters[n] += v
	}
	for n, agg := range m.summaries {
		cur := summaries[n]
		cur.merge(agg)
		summaries[n] = cur
	}
	m.mu.Unlock()
	if d := m.dropped.Load(); d > 0 {
		counters[CounterEventsDropped] += d
	}
	return counters, summaries, nil
}

// flush writes in-memory deltas to SQLite in a single transaction and resets them.
func (m *Manager) flush(ctx context.Context) error {
	m.mu.Lock()
	if len(m.counters) == 0 && len(m.summaries) == 0 {
		m.mu.Unlock()
		return nil
	}
	cCopy := m.counters
	sCopy := m.summaries
	m.counters = make(map[string]int64)
	m.summaries = make(map[string]Summary)
	m.mu.Unlock()

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		m.restore(cCopy, sCopy)
		return err
	}
	for name, delta := range cCopy {
		if _, err := tx.ExecContext(ctx, `INSERT INTO metrics_counters(name,value) VALUES(?,?) ON CONFLICT(name) DO UPDATE SET value = value + excluded.value`, name, delta); err != nil {
			_ = tx.Rollback()
			m.restore(cCopy, sCopy)
			return err
		}
	}
	for name, agg := range sCopy {
		if _, err := tx.ExecContext(ctx, `INSERT INTO metrics_summaries(name,count,sum,min,max) VALUES(?,?,?,?,?) ON CONFLICT(name) DO UPDATE SET count = metrics_summaries.count + excluded.count, sum = metrics_summaries.sum + excluded.sum, min = MIN(metrics_summaries.min, excluded.min), max = MAX(metrics_summaries.max, excluded.max)`, name, agg.Count, agg.Sum, agg.Min, agg.Max); err != nil {
			_ = tx.Rollback()
			m.restore(cCopy, sCopy)
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		m.restore(cCopy, sCopy)
		return err
	}
	return nil
}

// restore puts unflushed deltas back so the next flush retries them.
func (m *Manager) restore(counters map[string]int64, summaries map[string]Summary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for n, v := range counters {
		m.counters[n] += v
	}
	for n, agg := range summaries {
		cur := m.summaries[n]
		cur.merge(agg)
		m.summaries[n] = cur
	}
}
