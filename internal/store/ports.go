// Package store defines the persistence adapter ports used by the
// higher-level app.FlagStore implementation and the retention janitor. The
// ports isolate the concrete SQLite tables so they can be tested and evolved
// independently. Callers outside this package interact with Flags and
// Retention, or with the app ports the sqlite types satisfy directly.
package store

import (
	"context"
	"time"

	"github.com/haukened/exposuregate/internal/domain"
)

// KV is the raw key-value table behind the consent and terms flags.
type KV interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Put(ctx context.Context, key, value string) error
}

// EncounterIndex persists locally observed samples.
type EncounterIndex interface {
	Append(ctx context.Context, samples []domain.EncounterSample) (int, error)
	Samples(ctx context.Context, since time.Time) ([]domain.EncounterSample, error)
	// DeleteBefore removes samples observed before t and returns the count.
	DeleteBefore(ctx context.Context, t time.Time) (int, error)
}

// ExposureIndex is the cache of confirmed matches, keyed by fingerprint.
type ExposureIndex interface {
	// Upsert stores records not already present and returns how many were new.
	Upsert(ctx context.Context, records []domain.ExposureRecord) (int, error)
	List(ctx context.Context) ([]domain.ExposureRecord, error)
	// DeleteBefore removes records whose sample time precedes t.
	DeleteBefore(ctx context.Context, t time.Time) (int, error)
}
