package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandleHealth(t *testing.T) {
	rr := httptest.NewRecorder()
	(&Handler{}).handleHealth(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("unexpected liveness response %d %q", rr.Code, rr.Body.String())
	}
}

func TestHandleReady(t *testing.T) {
	tests := []struct {
		name      string
		readiness func(context.Context) error
		code      int
		body      string
	}{
		{"no probe", nil, http.StatusOK, "ready"},
		{"probe ok", func(context.Context) error { return nil }, http.StatusOK, "ready"},
		{"db unavailable", func(context.Context) error { return errors.New("db unavailable") }, http.StatusServiceUnavailable, "not ready"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &Handler{Readiness: tt.readiness}
			rr := httptest.NewRecorder()
			h.handleReady(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rr.Code != tt.code {
				t.Fatalf("expected status %d, got %d", tt.code, rr.Code)
			}
			if !strings.Contains(rr.Body.String(), tt.body) {
				t.Fatalf("expected body to contain %q, got %q", tt.body, rr.Body.String())
			}
		})
	}
}

// TestHandleReadyPassesRequestContext ensures the probe sees the request's context.
func TestHandleReadyPassesRequestContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := &Handler{Readiness: func(ctx context.Context) error { return ctx.Err() }}
	rr := httptest.NewRecorder()
	h.handleReady(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for canceled probe, got %d", rr.Code)
	}
}
