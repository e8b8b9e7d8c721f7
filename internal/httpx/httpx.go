// Package httpx contains the local HTTP delivery layer of the agent. The UI
// shell reads the gate decision and consent flags through it, the host shell
// reports OS state and pushes encounter samples, and either side may trigger a
// match pass. Handlers are split across files (gate.go, consent.go,
// match.go, host.go, health.go, errors.go).
package httpx

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/haukened/exposuregate/internal/domain"
	"github.com/haukened/exposuregate/internal/scheduler"
)

// DefaultMaxBody bounds JSON request bodies.
const DefaultMaxBody = 1 << 20

// GatePort is the subset of app.VersionGate used by the HTTP layer.
type GatePort interface {
	Evaluate(ctx context.Context) domain.GateDecision
	AcceptTerms(ctx context.Context, version int) error
}

// ConsentPort is the subset of app.ConsentStore used by the HTTP layer.
type ConsentPort interface {
	Flags(ctx context.Context) domain.ConsentFlags
	SetBLEConsent(ctx context.Context, granted bool) error
	SetBatteryOptConsent(ctx context.Context, granted bool) error
	HideLocationHistory(ctx context.Context) error
}

// EncounterPort ingests samples. app.EncounterLog satisfies it.
type EncounterPort interface {
	Record(ctx context.Context, samples []domain.EncounterSample) (int, error)
}

// MatchPort runs and reads match passes.
type MatchPort interface {
	Trigger(ctx context.Context) (scheduler.Pass, error)
}

// ExposurePort returns cached exposures. app.ProximityMatcher satisfies it.
type ExposurePort interface {
	FetchInfectionDataByConsent(ctx context.Context) ([]domain.ExposureRecord, error)
}

// HostPort receives OS state from the host shell. oshost.State satisfies it.
type HostPort interface {
	SetPermission(p domain.PermissionStatus) error
	SetBatteryIgnoring(ignoring bool)
	SetAppVersion(v string) error
}

// Handler wires HTTP endpoints to the application components.
// It is safe for concurrent use. Zero-value is not valid; construct via New.
type Handler struct {
	Gate       GatePort
	Consent    ConsentPort
	Encounters EncounterPort
	Matches    MatchPort
	Exposures  ExposurePort
	Host       HostPort
	Metrics    http.Handler                // optional, mounted at /metrics
	Readiness  func(context.Context) error // optional readiness probe
	MaxBody    int64                       // JSON body limit (0 => DefaultMaxBody)
}

// New returns a Handler with the required ports set. Optional fields may be
// assigned afterwards.
func New(gate GatePort, consent ConsentPort, encounters EncounterPort, matches MatchPort, exposures ExposurePort, host HostPort) *Handler {
	return &Handler{
		Gate:       gate,
		Consent:    consent,
		Encounters: encounters,
		Matches:    matches,
		Exposures:  exposures,
		Host:       host,
		MaxBody:    DefaultMaxBody,
	}
}

// Router constructs and returns an http.Handler with all routes mounted.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(CorrelationIDMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(h.secureHeaders)

	r.Get("/healthz", h.handleHealth)
	r.Get("/readyz", h.handleReady)
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/gate", h.handleGate)
		r.Post("/terms/accept", h.handleAcceptTerms)

		r.Get("/consent", h.handleConsent)
		r.Put("/consent/ble", h.handleSetBLEConsent)
		r.Put("/consent/battery", h.handleSetBatteryConsent)
		r.Post("/location-history/hide", h.handleHideLocationHistory)

		r.Post("/encounters", h.handleRecordEncounters)
		r.Post("/match", h.handleMatch)
		r.Get("/exposures", h.handleExposures)

		r.Route("/host", func(r chi.Router) {
			r.Put("/permission", h.handleHostPermission)
			r.Put("/battery", h.handleHostBattery)
			r.Put("/device", h.handleHostDevice)
		})
	})
	return r
}

// secureHeaders middleware adds standard security & cache control headers.
func (h *Handler) secureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")
		next.ServeHTTP(w, r)
	})
}
