// Package match is the local match backend. It compares encounter samples
// against a verified exposure list and caches confirmed matches so they can
// be served later without another signed fetch.
package match

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/haukened/exposuregate/internal/app"
	"github.com/haukened/exposuregate/internal/domain"
)

// DefaultRadiusMeters applies to features without a "radius" property.
const DefaultRadiusMeters = 50

// Property keys read from exposure features.
var (
	fromKeys = []string{"fromTime_utc", "fromTime"}
	toKeys   = []string{"toTime_utc", "toTime"}
)

// Cache stores matches by fingerprint. store.ExposureIndex satisfies it.
type Cache interface {
	Upsert(ctx context.Context, records []domain.ExposureRecord) (int, error)
	List(ctx context.Context) ([]domain.ExposureRecord, error)
}

// Config tunes the geo comparison.
type Config struct {
	DefaultRadiusMeters float64
	// TimeSlack widens every feature's time window on both ends.
	TimeSlack time.Duration
}

// Backend implements app.MatchBackend.
type Backend struct {
	cache Cache
	cfg   Config
	clock app.Clock
}

var _ app.MatchBackend = (*Backend)(nil)

// New returns a Backend caching into cache. A nil clock uses app.SystemClock.
func New(cache Cache, cfg Config, clock app.Clock) *Backend {
	if cfg.DefaultRadiusMeters <= 0 {
		cfg.DefaultRadiusMeters = DefaultRadiusMeters
	}
	if cfg.TimeSlack < 0 {
		cfg.TimeSlack = 0
	}
	if clock == nil {
		clock = app.SystemClock{}
	}
	return &Backend{cache: cache, cfg: cfg, clock: clock}
}

// Match returns at most one record per feature: the first token match, or
// failing that the earliest geo match. Records already cached are returned
// as cached, so repeated passes over the same inputs yield the same result.
func (b *Backend) Match(ctx context.Context, list domain.ExposureList, samples []domain.EncounterSample) ([]domain.ExposureRecord, error) {
	now := b.clock.Now()
	var found []domain.ExposureRecord
	for _, f := range list.Features {
		meta, ok := b.bestMatch(f, samples)
		if !ok {
			continue
		}
		fp, err := fingerprint(meta.Kind, f.Properties)
		if err != nil {
			return nil, err
		}
		meta.Fingerprint = fp
		meta.MatchedAt = now
		found = append(found, domain.ExposureRecord{Properties: f.Properties, Match: meta})
	}
	if len(found) == 0 {
		return []domain.ExposureRecord{}, nil
	}
	if _, err := b.cache.Upsert(ctx, found); err != nil {
		return nil, err
	}
	cached, err := b.cache.List(ctx)
	if err != nil {
		return nil, err
	}
	byFP := make(map[string]domain.ExposureRecord, len(cached))
	for _, r := range cached {
		byFP[r.Match.Fingerprint] = r
	}
	out := make([]domain.ExposureRecord, 0, len(found))
	seen := make(map[string]bool, len(found))
	for _, r := range found {
		if seen[r.Match.Fingerprint] {
			continue
		}
		seen[r.Match.Fingerprint] = true
		if c, ok := byFP[r.Match.Fingerprint]; ok {
			r = c
		}
		out = append(out, r)
	}
	return out, nil
}

// CachedInfections returns every cached match.
func (b *Backend) CachedInfections(ctx context.Context) ([]domain.ExposureRecord, error) {
	return b.cache.List(ctx)
}

func (b *Backend) bestMatch(f domain.ExposureFeature, samples []domain.EncounterSample) (domain.MatchMetadata, bool) {
	if tok, ok := domain.StringProperty(f.Properties, "token"); ok {
		for _, s := range samples {
			if s.Token == tok {
				return domain.MatchMetadata{Kind: domain.MatchToken, SampleTimestamp: s.Timestamp}, true
			}
		}
	}
	for _, s := range samples {
		if d, ok := b.geoMatch(f.Properties, s); ok {
			return domain.MatchMetadata{Kind: domain.MatchGeo, SampleTimestamp: s.Timestamp, DistanceMeters: d}, true
		}
	}
	return domain.MatchMetadata{}, false
}

// geoMatch requires a sample position within the feature radius and a sample
// time inside [from-slack, to+slack]. A feature without a start time never
// geo-matches; a missing end time leaves the window open.
func (b *Backend) geoMatch(props map[string]any, s domain.EncounterSample) (float64, bool) {
	if s.Coordinates == nil {
		return 0, false
	}
	lat, okLat := domain.NumberProperty(props, "lat")
	long, okLong := domain.NumberProperty(props, "long")
	if !okLat || !okLong {
		return 0, false
	}
	from, ok := domain.TimeProperty(props, fromKeys...)
	if !ok || s.Timestamp.Before(from.Add(-b.cfg.TimeSlack)) {
		return 0, false
	}
	if to, ok := domain.TimeProperty(props, toKeys...); ok && s.Timestamp.After(to.Add(b.cfg.TimeSlack)) {
		return 0, false
	}
	radius, ok := domain.NumberProperty(props, "radius")
	if !ok || radius <= 0 {
		radius = b.cfg.DefaultRadiusMeters
	}
	d := Haversine(lat, long, s.Coordinates.Lat, s.Coordinates.Long)
	if d > radius {
		return 0, false
	}
	return d, true
}

// fingerprint identifies a feature independently of map ordering.
func fingerprint(kind domain.MatchKind, props map[string]any) (string, error) {
	b, err := json.Marshal(props)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil)[:16]), nil
}
