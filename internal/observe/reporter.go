// Package observe turns errors swallowed at component boundaries into log
// records and per-kind counters.
package observe

import (
	"context"
	"errors"
	"log/slog"

	"github.com/haukened/exposuregate/internal/app"
	"github.com/haukened/exposuregate/internal/domain"
	"github.com/haukened/exposuregate/internal/metrics"
)

// Error kinds used for classification.
const (
	KindTransport  = "transport"
	KindSignature  = "signature"
	KindParse      = "parse"
	KindPermission = "permission"
	KindCanceled   = "canceled"
	KindOther      = "other"
)

// Kind classifies err by the domain sentinel it wraps.
func Kind(err error) string {
	switch {
	case errors.Is(err, domain.ErrSignatureInvalid):
		return KindSignature
	case errors.Is(err, domain.ErrTransport):
		return KindTransport
	case errors.Is(err, domain.ErrParse):
		return KindParse
	case errors.Is(err, domain.ErrPermissionQuery):
		return KindPermission
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindOther
	}
}

// Reporter implements app.ErrorReporter.
type Reporter struct {
	log         *slog.Logger
	metrics     app.Metrics
	correlation func(context.Context) (string, bool)
}

var _ app.ErrorReporter = (*Reporter)(nil)

// Option configures a Reporter.
type Option func(*Reporter)

// WithCorrelation adds the request correlation ID, when present, to every record.
func WithCorrelation(fn func(context.Context) (string, bool)) Option {
	return func(r *Reporter) { r.correlation = fn }
}

// New returns a Reporter. log defaults to slog.Default and m may be nil.
func New(log *slog.Logger, m app.Metrics, opts ...Option) *Reporter {
	if log == nil {
		log = slog.Default()
	}
	r := &Reporter{log: log.With("domain", "errors"), metrics: m}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Report logs err and bumps its kind counter. Signature failures log at
// error level, cancellations at debug, the rest at warn.
func (r *Reporter) Report(ctx context.Context, op string, err error) {
	if err == nil {
		return
	}
	kind := Kind(err)
	level := slog.LevelWarn
	switch kind {
	case KindSignature:
		level = slog.LevelError
	case KindCanceled:
		level = slog.LevelDebug
	}
	attrs := []slog.Attr{
		slog.String("op", op),
		slog.String("kind", kind),
		slog.String("error", err.Error()),
	}
	if r.correlation != nil {
		if cid, ok := r.correlation(ctx); ok {
			attrs = append(attrs, slog.String("cid", cid))
		}
	}
	r.log.LogAttrs(ctx, level, "component error", attrs...)
	if r.metrics != nil {
		r.metrics.Inc(metrics.ErrorCounter(kind), 1)
	}
}
