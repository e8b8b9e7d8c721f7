package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/exposuregate/internal/domain"
	"github.com/haukened/exposuregate/internal/metrics"
)

type counter struct{ counts map[string]int64 }

func (c *counter) Inc(name string, d int64) { c.counts[name] += d }
func (c *counter) Observe(string, int64)    {}

func TestKind(t *testing.T) {
	tests := map[error]string{
		fmt.Errorf("wrap: %w", domain.ErrSignatureInvalid): KindSignature,
		fmt.Errorf("wrap: %w", domain.ErrTransport):        KindTransport,
		domain.ErrParse:                                    KindParse,
		domain.ErrPermissionQuery:                          KindPermission,
		context.DeadlineExceeded:                           KindCanceled,
		errors.New("other"):                                KindOther,
	}
	for err, want := range tests {
		assert.Equal(t, want, Kind(err), err.Error())
	}
}

func TestReportLogsAndCounts(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c := &counter{counts: map[string]int64{}}
	r := New(log, c, WithCorrelation(func(context.Context) (string, bool) { return "cid-1", true }))

	r.Report(context.Background(), "gate.fetch", fmt.Errorf("GET x: %w", domain.ErrSignatureInvalid))
	r.Report(context.Background(), "gate.fetch", nil)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "ERROR", rec["level"])
	assert.Equal(t, "gate.fetch", rec["op"])
	assert.Equal(t, KindSignature, rec["kind"])
	assert.Equal(t, "cid-1", rec["cid"])
	assert.Equal(t, "errors", rec["domain"])
	assert.EqualValues(t, 1, c.counts[metrics.ErrorCounter(KindSignature)])
	assert.Len(t, c.counts, 1)
}

func TestReportLevels(t *testing.T) {
	var buf bytes.Buffer
	r := New(slog.New(slog.NewJSONHandler(&buf, nil)), nil)
	r.Report(context.Background(), "match", context.Canceled)
	assert.Zero(t, buf.Len(), "cancellation is debug only")
	r.Report(context.Background(), "consent.ble", domain.ErrPermissionQuery)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "WARN", rec["level"])
}
