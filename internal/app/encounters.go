package app

import (
	"context"
	"fmt"

	"github.com/haukened/exposuregate/internal/domain"
	"github.com/haukened/exposuregate/internal/metrics"
)

// EncounterLog ingests samples pushed by the scanning collaborator.
type EncounterLog struct {
	Store    EncounterStore
	Consent  *ConsentStore
	Reporter ErrorReporter
	Metrics  Metrics
}

// Record validates and stores samples, then records the earliest timestamp
// as the first recorded point. The whole batch is rejected when any sample
// is invalid.
func (l *EncounterLog) Record(ctx context.Context, samples []domain.EncounterSample) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	earliest := samples[0].Timestamp
	for i, s := range samples {
		if !s.Valid() {
			return 0, fmt.Errorf("%w: index %d", domain.ErrInvalidSample, i)
		}
		if s.Timestamp.Before(earliest) {
			earliest = s.Timestamp
		}
	}
	n, err := l.Store.Append(ctx, samples)
	if err != nil {
		return 0, err
	}
	metricsOrNop(l.Metrics).Inc(metrics.CounterEncountersRecorded, int64(n))
	if l.Consent != nil {
		if err := l.Consent.RecordFirstEncounter(ctx, earliest); err != nil {
			reporterOrNop(l.Reporter).Report(ctx, "encounters.first_point", err)
		}
	}
	return n, nil
}
