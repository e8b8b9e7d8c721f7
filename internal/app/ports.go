// Package app defines the use cases of the trust-and-consent gate and the
// "ports" (interfaces) they depend upon. It follows a hexagonal (ports &
// adapters) design: this package declares what the core needs, while adapter
// packages (signed fetcher, sqlite store, host-reported OS state, HTTP layer,
// scheduler) provide concrete implementations. No SQL, HTTP or OS calls
// belong here.
package app

import (
	"context"
	"time"

	"github.com/haukened/exposuregate/internal/domain"
)

// Clock abstracts time to enable deterministic testing of the day-based rules.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

// Now returns time.Now in UTC.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FlagStore is the persisted key-value store backing consent and terms state.
// Values are JSON documents stored as text.
type FlagStore interface {
	// Get returns the raw value of key and whether it is present.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set writes value under key.
	Set(ctx context.Context, key, value string) error

	// Update runs fn while holding the key's write lock. fn receives the
	// current value and reports the next value and whether to persist it.
	// Implementations must serialize concurrent Update and Set calls on the
	// same key.
	Update(ctx context.Context, key string, fn func(current string, ok bool) (next string, write bool, err error)) error
}

// DocumentSource yields verified payload bytes for a URL. A failed
// verification never yields bytes.
type DocumentSource interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// PermissionChecker queries the OS bluetooth permission.
type PermissionChecker interface {
	BluetoothPermission(ctx context.Context) (domain.PermissionStatus, error)
}

// BatteryOptimizer queries whether the OS is ignoring battery optimizations
// for the app.
type BatteryOptimizer interface {
	IgnoringBatteryOptimizations(ctx context.Context) (bool, error)
}

// DeviceInfo reports the running application's version string.
type DeviceInfo interface {
	AppVersion(ctx context.Context) (string, error)
}

// EncounterSource is the read side of the local sample log used by matching.
type EncounterSource interface {
	// Samples returns samples observed at or after since, oldest first.
	Samples(ctx context.Context, since time.Time) ([]domain.EncounterSample, error)
}

// EncounterStore persists samples reported by the scanning collaborator.
type EncounterStore interface {
	EncounterSource
	// Append stores samples and returns how many were written.
	Append(ctx context.Context, samples []domain.EncounterSample) (int, error)
}

// MatchBackend compares local samples against a verified exposure list and
// keeps the resulting records.
type MatchBackend interface {
	// Match returns the records found for list and samples. Implementations
	// must be idempotent for identical inputs.
	Match(ctx context.Context, list domain.ExposureList, samples []domain.EncounterSample) ([]domain.ExposureRecord, error)

	// CachedInfections returns the records accumulated by earlier passes.
	CachedInfections(ctx context.Context) ([]domain.ExposureRecord, error)
}

// ErrorReporter receives every error a component boundary swallows.
type ErrorReporter interface {
	Report(ctx context.Context, op string, err error)
}

// Metrics is the counter/summary sink. metrics.Manager satisfies it.
type Metrics interface {
	Inc(name string, delta int64)
	Observe(name string, value int64)
}

// ConsentProbe bundles the ports a Platform consults when resolving consent.
type ConsentProbe struct {
	Flags       FlagStore
	Permissions PermissionChecker
	Battery     BatteryOptimizer
}

// Platform is the per-OS capability selected at composition time.
type Platform interface {
	// Name identifies the platform.
	Name() domain.Platform

	// SelectMinVersion picks the manifest entries that apply to this platform.
	SelectMinVersion(m domain.VersionManifest) (minVersion string, force bool)

	// BLEConsent resolves the bluetooth consent.
	BLEConsent(ctx context.Context, p ConsentProbe) (domain.Consent, error)

	// BatteryConsent resolves the battery-optimization consent.
	BatteryConsent(ctx context.Context, p ConsentProbe) (domain.Consent, error)
}

type nopReporter struct{}

func (nopReporter) Report(context.Context, string, error) {}

type nopMetrics struct{}

func (nopMetrics) Inc(string, int64)     {}
func (nopMetrics) Observe(string, int64) {}

func reporterOrNop(r ErrorReporter) ErrorReporter {
	if r == nil {
		return nopReporter{}
	}
	return r
}

func metricsOrNop(m Metrics) Metrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}

func clockOrSystem(c Clock) Clock {
	if c == nil {
		return SystemClock{}
	}
	return c
}
