package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haukened/exposuregate/internal/domain"
)

type fixedClock struct{ now time.Time }

func (f fixedClock) Now() time.Time { return f.now }

// memFlags is an in-memory FlagStore with a single lock.
type memFlags struct {
	mu     sync.Mutex
	data   map[string]string
	getErr error
	setErr error
	writes int
}

func newMemFlags() *memFlags { return &memFlags{data: map[string]string{}} }

func (m *memFlags) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return "", false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memFlags) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	m.writes++
	return nil
}

func (m *memFlags) Update(_ context.Context, key string, fn func(string, bool) (string, bool, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return m.getErr
	}
	cur, ok := m.data[key]
	next, write, err := fn(cur, ok)
	if err != nil || !write {
		return err
	}
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = next
	m.writes++
	return nil
}

func (m *memFlags) raw(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

// docSource serves verified payloads by URL.
type docSource struct {
	mu      sync.Mutex
	docs    map[string][]byte
	err     error
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (s *docSource) Fetch(ctx context.Context, url string) ([]byte, error) {
	s.calls.Add(1)
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.docs[url]
	if !ok {
		return nil, domain.ErrTransport
	}
	return b, nil
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

type fakePlatform struct {
	name       domain.Platform
	ble        domain.Consent
	bleErr     error
	battery    domain.Consent
	batteryErr error
}

func (p fakePlatform) Name() domain.Platform { return p.name }

func (p fakePlatform) SelectMinVersion(m domain.VersionManifest) (string, bool) {
	if p.name == domain.PlatformAndroid {
		return m.AndroidMinVersion, m.ForceAndroid
	}
	return m.IOSMinVersion, m.ForceIOS
}

func (p fakePlatform) BLEConsent(context.Context, ConsentProbe) (domain.Consent, error) {
	return p.ble, p.bleErr
}

func (p fakePlatform) BatteryConsent(context.Context, ConsentProbe) (domain.Consent, error) {
	return p.battery, p.batteryErr
}

type fakeDevice struct {
	version string
	err     error
}

func (d fakeDevice) AppVersion(context.Context) (string, error) { return d.version, d.err }

type reported struct {
	op  string
	err error
}

type recordingReporter struct {
	mu   sync.Mutex
	errs []reported
}

func (r *recordingReporter) Report(_ context.Context, op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, reported{op: op, err: err})
}

func (r *recordingReporter) has(target error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.errs {
		if errors.Is(e.err, target) {
			return true
		}
	}
	return false
}

type countingMetrics struct {
	mu       sync.Mutex
	counters map[string]int64
	observed map[string][]int64
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{counters: map[string]int64{}, observed: map[string][]int64{}}
}

func (c *countingMetrics) Inc(name string, delta int64) {
	c.mu.Lock()
	c.counters[name] += delta
	c.mu.Unlock()
}

func (c *countingMetrics) Observe(name string, v int64) {
	c.mu.Lock()
	c.observed[name] = append(c.observed[name], v)
	c.mu.Unlock()
}

func (c *countingMetrics) counter(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[name]
}

type memEncounters struct {
	mu        sync.Mutex
	samples   []domain.EncounterSample
	err       error
	appendErr error
	since     []time.Time
}

func (m *memEncounters) Samples(_ context.Context, since time.Time) ([]domain.EncounterSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.since = append(m.since, since)
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.EncounterSample
	for _, s := range m.samples {
		if !s.Timestamp.Before(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memEncounters) Append(_ context.Context, samples []domain.EncounterSample) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return 0, m.appendErr
	}
	m.samples = append(m.samples, samples...)
	return len(samples), nil
}

// tokenBackend matches features whose "token" equals a sample token and
// caches results by token.
type tokenBackend struct {
	mu       sync.Mutex
	cache    map[string]domain.ExposureRecord
	lists    []domain.ExposureList
	err      error
	cacheErr error
}

func (b *tokenBackend) Match(_ context.Context, list domain.ExposureList, samples []domain.EncounterSample) ([]domain.ExposureRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lists = append(b.lists, list)
	if b.err != nil {
		return nil, b.err
	}
	if b.cache == nil {
		b.cache = map[string]domain.ExposureRecord{}
	}
	var out []domain.ExposureRecord
	for _, f := range list.Features {
		tok, _ := domain.StringProperty(f.Properties, "token")
		for _, s := range samples {
			if tok != "" && s.Token == tok {
				rec := domain.ExposureRecord{Properties: f.Properties, Match: domain.MatchMetadata{Kind: domain.MatchToken, Fingerprint: tok, SampleTimestamp: s.Timestamp}}
				b.cache[tok] = rec
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

func (b *tokenBackend) CachedInfections(context.Context) ([]domain.ExposureRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cacheErr != nil {
		return nil, b.cacheErr
	}
	var out []domain.ExposureRecord
	for _, r := range b.cache {
		out = append(out, r)
	}
	return out, nil
}
