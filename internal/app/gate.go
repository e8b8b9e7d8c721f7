package app

import (
	"context"

	"github.com/haukened/exposuregate/internal/domain"
	"github.com/haukened/exposuregate/internal/metrics"
	"github.com/haukened/exposuregate/internal/signedfetch"
)

// VersionGate decides whether the running app may keep operating. It holds no
// state between calls; every Evaluate refetches the manifest.
type VersionGate struct {
	Source      DocumentSource
	Flags       FlagStore
	Platform    Platform
	Device      DeviceInfo
	Reporter    ErrorReporter
	Metrics     Metrics
	VersionsURL string
}

// Evaluate fetches the signed version manifest and returns the gate decision.
// Failures to fetch, verify or read local state never block the app: they are
// reported and the affected step is skipped.
func (g *VersionGate) Evaluate(ctx context.Context) domain.GateDecision {
	d := g.evaluate(ctx)
	m := metricsOrNop(g.Metrics)
	switch d.State {
	case domain.GateShowTerms:
		m.Inc(metrics.CounterGateShowTerms, 1)
	case domain.GateShowUpdate:
		m.Inc(metrics.CounterGateShowUpdate, 1)
	default:
		m.Inc(metrics.CounterGateOK, 1)
	}
	return d
}

func (g *VersionGate) evaluate(ctx context.Context) domain.GateDecision {
	rep := reporterOrNop(g.Reporter)
	doc, err := signedfetch.FetchJSON[domain.VersionsDocument](ctx, g.Source, g.VersionsURL)
	if err != nil {
		rep.Report(ctx, "gate.fetch", err)
		return domain.Allow()
	}
	manifest := doc.V2

	reprompt, err := g.checkTerms(ctx, manifest.TermsVersion)
	if err != nil {
		rep.Report(ctx, "gate.terms", err)
	}
	if reprompt {
		return domain.ShowTerms(manifest.TermsVersion)
	}

	minVersion, force := g.Platform.SelectMinVersion(manifest)
	local, err := g.Device.AppVersion(ctx)
	if err != nil {
		rep.Report(ctx, "gate.app_version", err)
		return domain.Allow()
	}
	if domain.IsOutdated(domain.ParseVersion(minVersion), domain.ParseVersion(local)) {
		return domain.ShowUpdate(force)
	}
	return domain.Allow()
}

// checkTerms reports whether the stored terms version is behind remote. An
// absent or zero stored version is an implicit accept and adopts remote.
func (g *VersionGate) checkTerms(ctx context.Context, remote int) (bool, error) {
	reprompt := false
	err := UpdateFlag(ctx, g.Flags, KeyTermsVersion, func(stored int, ok bool) (int, bool, error) {
		if !ok || stored == 0 {
			return remote, true, nil
		}
		reprompt = stored < remote
		return stored, false, nil
	})
	if err != nil {
		return false, err
	}
	return reprompt, nil
}

// AcceptTerms records that the user accepted version. The stored version never
// decreases.
func (g *VersionGate) AcceptTerms(ctx context.Context, version int) error {
	if version <= 0 {
		return domain.ErrInvalidTermsVersion
	}
	return UpdateFlag(ctx, g.Flags, KeyTermsVersion, func(stored int, ok bool) (int, bool, error) {
		if ok && stored >= version {
			return stored, false, nil
		}
		return version, true, nil
	})
}
