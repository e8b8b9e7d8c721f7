package metrics

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// SnapshotProvider abstracts Manager for testing.
type SnapshotProvider interface {
	Snapshot(ctx context.Context) (map[string]int64, map[string]Summary, error)
}

// Handler returns an http.HandlerFunc that writes a JSON metrics snapshot.
// If token is non-empty, requests must include Authorization: Bearer <token>.
func Handler(provider SnapshotProvider, token string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token != "" {
			const prefix = "Bearer "
			hdr := r.Header.Get("Authorization")
			got, ok := strings.CutPrefix(hdr, prefix)
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		}
		counters, summaries, err := provider.Snapshot(r.Context())
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		resp := map[string]any{
			"counters":  counters,
			"summaries": summaries,
			"errors":    errorsByKind(counters),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// errorsByKind picks the reported-error counters out of counters, keyed by
// error kind.
func errorsByKind(counters map[string]int64) map[string]int64 {
	out := make(map[string]int64)
	for name, v := range counters {
		rest, ok := strings.CutPrefix(name, "errors_")
		if !ok {
			continue
		}
		if kind, ok := strings.CutSuffix(rest, "_total"); ok && kind != "" {
			out[kind] = v
		}
	}
	return out
}
