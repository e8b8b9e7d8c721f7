// Package main provides the exposuregate binary: a local agent that verifies
// signed version and exposure documents, keeps the user's consent state and
// runs proximity match passes for the host application.
//
// The application flow:
//  1. Load defaults and apply environment variables; validate.
//  2. Create and lock the data directory.
//  3. Open and migrate the sqlite database.
//  4. Wire the gate, consent, matcher, scheduler and janitor.
//  5. Serve the local HTTP API until SIGINT/SIGTERM, then shut down in order.
package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/jmoiron/sqlx"

	"github.com/haukened/exposuregate/internal/app"
	"github.com/haukened/exposuregate/internal/config"
	"github.com/haukened/exposuregate/internal/httpx"
	"github.com/haukened/exposuregate/internal/janitor"
	"github.com/haukened/exposuregate/internal/match"
	"github.com/haukened/exposuregate/internal/metrics"
	"github.com/haukened/exposuregate/internal/observe"
	"github.com/haukened/exposuregate/internal/oshost"
	"github.com/haukened/exposuregate/internal/platform"
	"github.com/haukened/exposuregate/internal/scheduler"
	"github.com/haukened/exposuregate/internal/signedfetch"
	"github.com/haukened/exposuregate/internal/store"
	"github.com/haukened/exposuregate/internal/store/sqlite"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// errLocked means another agent holds the data directory.
var errLocked = errors.New("data directory is locked by another process")

func newLogger(cfg *config.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

func ensureDataDir(dir string) error {
	st, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return os.MkdirAll(dir, 0o700)
	case err != nil:
		return err
	case !st.IsDir():
		return fmt.Errorf("data path %s is not a directory", dir)
	}
	return nil
}

// lockDataDir takes the exclusive lock on the data directory. The returned
// func releases it.
func lockDataDir(path string) (func(), error) {
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, errLocked
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			slog.Error("release data dir lock", "path", path, "err", err)
		}
	}, nil
}

func loadTrustedKey(path string) (*ecdsa.PublicKey, error) {
	if path == "" {
		return signedfetch.DefaultTrustedKey()
	}
	return signedfetch.LoadPublicKey(path)
}

func newFetcher(cfg *config.Config) (*signedfetch.Fetcher, error) {
	key, err := loadTrustedKey(cfg.TrustedKeyPath)
	if err != nil {
		return nil, err
	}
	return signedfetch.New(signedfetch.Config{
		TrustedKey: key,
		Format:     cfg.EnvelopeFormat,
		MaxBytes:   int64(cfg.MaxDocumentBytes),
		UserAgent:  "exposuregate/" + version,
	}, &http.Client{Timeout: cfg.FetchTimeout})
}

// components is the wired object graph.
type components struct {
	metrics   *metrics.Manager
	scheduler *scheduler.Scheduler
	janitor   *janitor.Janitor
	handler   *httpx.Handler
}

func buildComponents(cfg *config.Config, db *sqlx.DB, source app.DocumentSource, logger *slog.Logger) (*components, error) {
	clock := app.SystemClock{}
	mgr := metrics.New(db, metrics.Config{FlushInterval: cfg.MetricsFlushInterval, Logger: logger})
	reporter := observe.New(logger, mgr, observe.WithCorrelation(httpx.GetCorrelationID))

	plat, err := platform.New(cfg.Platform, cfg.BLEEnabled)
	if err != nil {
		return nil, err
	}
	host := oshost.New(cfg.AppVersion)
	flags := store.NewFlags(sqlite.NewKV(db))
	encounters := sqlite.NewEncounters(db)
	exposures := sqlite.NewExposures(db)

	consent := &app.ConsentStore{
		Store:       flags,
		Permissions: host,
		Battery:     host,
		Platform:    plat,
		Clock:       clock,
		Reporter:    reporter,
		HideAfter:   cfg.HideHistoryAfter,
	}
	gate := &app.VersionGate{
		Source:      source,
		Flags:       flags,
		Platform:    plat,
		Device:      host,
		Reporter:    reporter,
		Metrics:     mgr,
		VersionsURL: cfg.VersionsURL,
	}
	backend := match.New(exposures, match.Config{
		DefaultRadiusMeters: cfg.MatchRadiusMeters,
		TimeSlack:           cfg.MatchTimeSlack,
	}, clock)
	matcher := &app.ProximityMatcher{
		Source:     source,
		Encounters: encounters,
		Backend:    backend,
		Clock:      clock,
		Reporter:   reporter,
		Metrics:    mgr,
		ListURL:    cfg.ExposureListURL,
		Lookback:   cfg.MatchLookback,
	}
	encounterLog := &app.EncounterLog{Store: encounters, Consent: consent, Reporter: reporter, Metrics: mgr}

	sched := scheduler.New(matcher, consent, mgr, scheduler.Config{Interval: cfg.MatchInterval, Logger: logger})
	jan := janitor.New(store.NewRetention(encounters, exposures), mgr, janitor.Config{
		Interval:  cfg.JanitorInterval,
		Retention: cfg.Retention,
		Logger:    logger,
		Clock:     clock,
	})

	h := httpx.New(gate, consent, encounterLog, sched, matcher, host)
	h.Metrics = metrics.Handler(mgr, cfg.MetricsToken)
	h.Readiness = db.PingContext

	return &components{metrics: mgr, scheduler: sched, janitor: jan, handler: h}, nil
}

func newServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.FetchTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// serve runs srv until ctx is cancelled, then shuts it down.
func serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := ensureDataDir(cfg.DataDir); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	unlock, err := lockDataDir(cfg.LockPath())
	if err != nil {
		return err
	}
	defer unlock()

	db, err := sqlite.Open(ctx, cfg.SQLiteDSN())
	if err != nil {
		return err
	}
	defer db.Close()

	fetcher, err := newFetcher(cfg)
	if err != nil {
		return fmt.Errorf("signed fetch: %w", err)
	}
	c, err := buildComponents(cfg, db, fetcher, logger)
	if err != nil {
		return err
	}

	c.metrics.Start(ctx)
	c.janitor.Start(ctx)
	c.scheduler.Start(ctx)

	srv := newServer(cfg, c.handler.Router())
	logger.Info("starting agent", "addr", cfg.Addr, "platform", cfg.Platform, "version", version, "pid", os.Getpid())
	serveErr := serve(ctx, srv)

	c.scheduler.Stop()
	c.janitor.Stop()
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.metrics.Stop(stopCtx); err != nil {
		logger.Error("metrics flush on shutdown", "err", err)
	}
	logger.Info("agent stopped")
	return serveErr
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx); err != nil {
		slog.Error("agent error", "err", err)
		stop()
		os.Exit(1)
	}
}
