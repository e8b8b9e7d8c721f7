package app

import (
	"context"
	"time"

	"github.com/haukened/exposuregate/internal/domain"
)

// DefaultHideAfter is the age of the first recorded point after which the
// location history is hidden.
const DefaultHideAfter = 14 * 24 * time.Hour

// ConsentStore resolves and records the user's consent flags.
type ConsentStore struct {
	Store       FlagStore
	Permissions PermissionChecker
	Battery     BatteryOptimizer
	Platform    Platform
	Clock       Clock
	Reporter    ErrorReporter
	// HideAfter overrides DefaultHideAfter. Only whole days count.
	HideAfter time.Duration
}

func (s *ConsentStore) probe() ConsentProbe {
	return ConsentProbe{Flags: s.Store, Permissions: s.Permissions, Battery: s.Battery}
}

// BLEConsent resolves the bluetooth consent for the configured platform.
// Errors are reported and resolve to domain.ConsentUnknown.
func (s *ConsentStore) BLEConsent(ctx context.Context) domain.Consent {
	c, err := s.Platform.BLEConsent(ctx, s.probe())
	if err != nil {
		reporterOrNop(s.Reporter).Report(ctx, "consent.ble", err)
		return domain.ConsentUnknown
	}
	return c
}

// BatteryOptConsent resolves the battery-optimization consent. Errors are
// reported and resolve to domain.ConsentUnknown.
func (s *ConsentStore) BatteryOptConsent(ctx context.Context) domain.Consent {
	c, err := s.Platform.BatteryConsent(ctx, s.probe())
	if err != nil {
		reporterOrNop(s.Reporter).Report(ctx, "consent.battery", err)
		return domain.ConsentUnknown
	}
	return c
}

// ShouldHideLocationHistory is true when the user asked to hide the history or
// the first recorded point is more than HideAfter whole days old.
func (s *ConsentStore) ShouldHideLocationHistory(ctx context.Context) bool {
	rep := reporterOrNop(s.Reporter)
	hide, ok, err := GetFlag[bool](ctx, s.Store, KeyHideLocationHistory)
	if err != nil {
		rep.Report(ctx, "consent.hide_flag", err)
	} else if ok && hide {
		return true
	}
	firstMS, ok, err := GetFlag[int64](ctx, s.Store, KeyFirstPointTS)
	if err != nil {
		rep.Report(ctx, "consent.first_point", err)
		return false
	}
	if !ok {
		return false
	}
	limit := s.HideAfter
	if limit <= 0 {
		limit = DefaultHideAfter
	}
	elapsed := clockOrSystem(s.Clock).Now().Sub(time.UnixMilli(firstMS))
	return wholeDays(elapsed) > wholeDays(limit)
}

func wholeDays(d time.Duration) int64 {
	return int64(d / (24 * time.Hour))
}

// Flags returns the three flags at once.
func (s *ConsentStore) Flags(ctx context.Context) domain.ConsentFlags {
	return domain.ConsentFlags{
		BLE:                 s.BLEConsent(ctx),
		BatteryOpt:          s.BatteryOptConsent(ctx),
		HideLocationHistory: s.ShouldHideLocationHistory(ctx),
	}
}

// SetBLEConsent stores the user's answer to the bluetooth prompt.
func (s *ConsentStore) SetBLEConsent(ctx context.Context, granted bool) error {
	return SetFlag(ctx, s.Store, KeyBLEConsent, granted)
}

// SetBatteryOptConsent stores the user's answer to the battery prompt.
func (s *ConsentStore) SetBatteryOptConsent(ctx context.Context, granted bool) error {
	return SetFlag(ctx, s.Store, KeyBatteryConsent, granted)
}

// HideLocationHistory sets the explicit hide flag.
func (s *ConsentStore) HideLocationHistory(ctx context.Context) error {
	return SetFlag(ctx, s.Store, KeyHideLocationHistory, true)
}

// RecordFirstEncounter stores at as the first recorded point unless one is
// already stored. An earlier at replaces a later stored value.
func (s *ConsentStore) RecordFirstEncounter(ctx context.Context, at time.Time) error {
	ms := at.UnixMilli()
	return UpdateFlag(ctx, s.Store, KeyFirstPointTS, func(cur int64, ok bool) (int64, bool, error) {
		if ok && cur <= ms {
			return cur, false, nil
		}
		return ms, true, nil
	})
}
