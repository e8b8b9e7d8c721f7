// Package platform provides the per-OS consent and version capabilities
// selected at start-up.
package platform

import (
	"context"
	"fmt"

	"github.com/haukened/exposuregate/internal/app"
	"github.com/haukened/exposuregate/internal/domain"
)

// New returns the capability for p. bleEnabled mirrors the build-time switch
// that turns the bluetooth feature off entirely.
func New(p domain.Platform, bleEnabled bool) (app.Platform, error) {
	switch p {
	case domain.PlatformIOS:
		return IOS{BLEEnabled: bleEnabled}, nil
	case domain.PlatformAndroid:
		return Android{BLEEnabled: bleEnabled}, nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidPlatform, p)
	}
}

// storedBLE reads the remembered answer to the bluetooth prompt.
func storedBLE(ctx context.Context, fs app.FlagStore) (granted, ok bool, err error) {
	return app.GetFlag[bool](ctx, fs, app.KeyBLEConsent)
}

// IOS resolves consent from the OS permission first.
type IOS struct {
	BLEEnabled bool
}

var _ app.Platform = IOS{}

func (IOS) Name() domain.Platform { return domain.PlatformIOS }

func (IOS) SelectMinVersion(m domain.VersionManifest) (string, bool) {
	return m.IOSMinVersion, m.ForceIOS
}

// BLEConsent maps the OS permission. A granted permission defers to the
// stored answer, which defaults to granted.
func (p IOS) BLEConsent(ctx context.Context, probe app.ConsentProbe) (domain.Consent, error) {
	status, err := probe.Permissions.BluetoothPermission(ctx)
	if err != nil {
		return domain.ConsentUnknown, err
	}
	switch status {
	case domain.PermissionUnavailable, domain.PermissionBlocked:
		return domain.ConsentDenied, nil
	case domain.PermissionGranted:
		if !p.BLEEnabled {
			return domain.ConsentDenied, nil
		}
		granted, ok, err := storedBLE(ctx, probe.Flags)
		if err != nil {
			return domain.ConsentUnknown, err
		}
		if !ok {
			return domain.ConsentGranted, nil
		}
		return domain.ConsentFromBool(granted), nil
	default:
		return domain.ConsentUnknown, nil
	}
}

// BatteryConsent is always denied; iOS has no battery-optimization exemption.
func (IOS) BatteryConsent(context.Context, app.ConsentProbe) (domain.Consent, error) {
	return domain.ConsentDenied, nil
}

// Android resolves consent from stored answers, reconciling the battery
// answer with the live OS setting.
type Android struct {
	BLEEnabled bool
}

var _ app.Platform = Android{}

func (Android) Name() domain.Platform { return domain.PlatformAndroid }

func (Android) SelectMinVersion(m domain.VersionManifest) (string, bool) {
	return m.AndroidMinVersion, m.ForceAndroid
}

func (p Android) BLEConsent(ctx context.Context, probe app.ConsentProbe) (domain.Consent, error) {
	if !p.BLEEnabled {
		return domain.ConsentDenied, nil
	}
	granted, ok, err := storedBLE(ctx, probe.Flags)
	if err != nil || !ok {
		return domain.ConsentUnknown, err
	}
	return domain.ConsentFromBool(granted), nil
}

// BatteryConsent returns the live OS status once the user has answered, and
// rewrites the stored answer when the two disagree. The read, query and write
// run under the key's lock.
func (Android) BatteryConsent(ctx context.Context, probe app.ConsentProbe) (domain.Consent, error) {
	result := domain.ConsentUnknown
	err := app.UpdateFlag(ctx, probe.Flags, app.KeyBatteryConsent, func(stored bool, ok bool) (bool, bool, error) {
		if !ok {
			return false, false, nil
		}
		live, err := probe.Battery.IgnoringBatteryOptimizations(ctx)
		if err != nil {
			return false, false, err
		}
		result = domain.ConsentFromBool(live)
		return live, live != stored, nil
	})
	if err != nil {
		return domain.ConsentUnknown, err
	}
	return result, nil
}
