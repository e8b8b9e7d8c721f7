// Package scheduler drives periodic and on-demand match passes. At most one
// pass runs at a time and a pass only runs while the user's bluetooth consent
// is granted.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/haukened/exposuregate/internal/app"
	"github.com/haukened/exposuregate/internal/domain"
	"github.com/haukened/exposuregate/internal/metrics"
)

// DefaultInterval is the time between scheduled passes.
const DefaultInterval = 30 * time.Minute

var (
	// ErrConsentRequired means the bluetooth consent is not granted.
	ErrConsentRequired = errors.New("bluetooth consent required")
	// ErrCoalesced means another pass was already running.
	ErrCoalesced = errors.New("match pass already in flight")
)

// Matcher runs one match pass.
type Matcher interface {
	Match(ctx context.Context) ([]domain.ExposureRecord, error)
}

// ConsentChecker resolves the bluetooth consent. app.ConsentStore satisfies it.
type ConsentChecker interface {
	BLEConsent(ctx context.Context) domain.Consent
}

// Config holds tunables for the Scheduler.
type Config struct {
	Interval time.Duration
	Logger   *slog.Logger
}

// Pass is the outcome of a completed match pass.
type Pass struct {
	ID        string                  `json:"id"`
	Exposures []domain.ExposureRecord `json:"exposures"`
}

// Scheduler owns the match loop.
type Scheduler struct {
	matcher Matcher
	consent ConsentChecker
	sink    app.Metrics
	cfg     Config
	sem     *semaphore.Weighted

	ticker *time.Ticker
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// New constructs but does not start a Scheduler. sink may be nil.
func New(m Matcher, consent ConsentChecker, sink app.Metrics, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{
		matcher: m,
		consent: consent,
		sink:    sink,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Trigger runs a pass now. It returns ErrConsentRequired without consent and
// ErrCoalesced when a pass is already running.
func (s *Scheduler) Trigger(ctx context.Context) (Pass, error) {
	if s.consent.BLEConsent(ctx) != domain.ConsentGranted {
		s.inc(metrics.CounterMatchSkippedConsent)
		return Pass{}, ErrConsentRequired
	}
	if !s.sem.TryAcquire(1) {
		s.inc(metrics.CounterMatchCoalesced)
		return Pass{}, ErrCoalesced
	}
	defer s.sem.Release(1)

	pass := Pass{ID: uuid.NewString()}
	log := s.cfg.Logger.With("domain", "scheduler", "pass", pass.ID)
	start := time.Now()
	records, err := s.matcher.Match(ctx)
	pass.Exposures = records
	if err != nil {
		log.Warn("match pass failed", "error", err, "ms", time.Since(start).Milliseconds())
		return pass, err
	}
	log.Info("match pass complete", "exposures", len(records), "ms", time.Since(start).Milliseconds())
	return pass, nil
}

// Start launches the loop in a new goroutine. The first pass runs immediately.
func (s *Scheduler) Start(ctx context.Context) {
	if s.ticker != nil {
		return
	}
	s.ticker = time.NewTicker(s.cfg.Interval)
	go s.loop(ctx)
}

// Stop signals the loop to exit and waits for it. Stop on a Scheduler that was
// never started returns immediately.
func (s *Scheduler) Stop() {
	if s.ticker == nil {
		return
	}
	s.once.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

func (s *Scheduler) loop(ctx context.Context) {
	log := s.cfg.Logger.With("domain", "scheduler")
	defer func() {
		s.ticker.Stop()
		close(s.doneCh)
	}()
	s.tick(ctx, log)
	for {
		select {
		case <-ctx.Done():
			log.Info("scheduler stop", "reason", "context_cancel")
			return
		case <-s.stopCh:
			log.Info("scheduler stop", "reason", "stop_signal")
			return
		case <-s.ticker.C:
			s.tick(ctx, log)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, log *slog.Logger) {
	_, err := s.Trigger(ctx)
	switch {
	case errors.Is(err, ErrConsentRequired):
		log.Debug("match pass skipped", "reason", "consent")
	case errors.Is(err, ErrCoalesced):
		log.Debug("match pass skipped", "reason", "in_flight")
	}
}

func (s *Scheduler) inc(name string) {
	if s.sink != nil {
		s.sink.Inc(name, 1)
	}
}
