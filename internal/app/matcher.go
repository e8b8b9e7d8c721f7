package app

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/haukened/exposuregate/internal/domain"
	"github.com/haukened/exposuregate/internal/metrics"
	"github.com/haukened/exposuregate/internal/signedfetch"
)

// ProximityMatcher compares local encounters against the verified infection
// list. Callers are responsible for checking BLE consent first.
type ProximityMatcher struct {
	Source     DocumentSource
	Encounters EncounterSource
	Backend    MatchBackend
	Clock      Clock
	Reporter   ErrorReporter
	Metrics    Metrics
	ListURL    string
	// Lookback limits the samples handed to the backend. Zero means all.
	Lookback time.Duration

	fetches singleflight.Group
}

// Match runs one pass. On any failure the result is empty and the error,
// already reported, is returned alongside it. Unverified or partial data is
// never returned.
func (m *ProximityMatcher) Match(ctx context.Context) ([]domain.ExposureRecord, error) {
	start := time.Now()
	met := metricsOrNop(m.Metrics)
	records, err := m.match(ctx)
	met.Observe(metrics.SummaryMatchPassMS, time.Since(start).Milliseconds())
	if err != nil {
		met.Inc(metrics.CounterMatchFailures, 1)
		reporterOrNop(m.Reporter).Report(ctx, "match", err)
		return []domain.ExposureRecord{}, err
	}
	met.Inc(metrics.CounterMatchPasses, 1)
	met.Inc(metrics.CounterExposuresMatched, int64(len(records)))
	met.Observe(metrics.SummaryExposuresPerPass, int64(len(records)))
	return records, nil
}

func (m *ProximityMatcher) match(ctx context.Context) ([]domain.ExposureRecord, error) {
	list, err := m.fetchList(ctx)
	if err != nil {
		return nil, err
	}
	var since time.Time
	if m.Lookback > 0 {
		since = clockOrSystem(m.Clock).Now().Add(-m.Lookback)
	}
	samples, err := m.Encounters.Samples(ctx, since)
	if err != nil {
		return nil, err
	}
	records, err := m.Backend.Match(ctx, list, samples)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []domain.ExposureRecord{}
	}
	return records, nil
}

// fetchList shares one in-flight signed fetch between concurrent callers.
// A caller whose context ends stops waiting without cancelling the others.
func (m *ProximityMatcher) fetchList(ctx context.Context) (domain.ExposureList, error) {
	ch := m.fetches.DoChan(m.ListURL, func() (any, error) {
		return signedfetch.FetchJSON[domain.ExposureList](ctx, m.Source, m.ListURL)
	})
	select {
	case <-ctx.Done():
		return domain.ExposureList{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.ExposureList{}, res.Err
		}
		return res.Val.(domain.ExposureList), nil
	}
}

// FetchInfectionDataByConsent returns the exposures the backend already holds
// without fetching. Errors are reported and resolve to an empty slice.
func (m *ProximityMatcher) FetchInfectionDataByConsent(ctx context.Context) ([]domain.ExposureRecord, error) {
	records, err := m.Backend.CachedInfections(ctx)
	if err != nil {
		reporterOrNop(m.Reporter).Report(ctx, "match.cached", err)
		return []domain.ExposureRecord{}, err
	}
	if records == nil {
		records = []domain.ExposureRecord{}
	}
	return records, nil
}
