package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/haukened/exposuregate/internal/domain"
	"github.com/haukened/exposuregate/internal/scheduler"
)

// writeJSON writes v as a JSON body with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body with given status code.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, struct {
		Error string `json:"error"`
	}{Error: msg})
	if cid, ok := GetCorrelationID(ctx); ok {
		slog.Debug("wrote error response", "cid", cid, "status", code, "msg", msg)
	}
}

// decodeJSON reads a bounded JSON body into v and writes the error response
// itself when that fails.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	limit := h.MaxBody
	if limit <= 0 {
		limit = DefaultMaxBody
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "body too large")
			return false
		}
		h.writeError(r.Context(), w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

// mapServiceError maps domain and component errors to HTTP responses.
func (h *Handler) mapServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	cid, _ := GetCorrelationID(ctx)
	switch {
	case errors.Is(err, scheduler.ErrConsentRequired):
		slog.Info("service error", "cid", cid, "code", "consent_required")
		h.writeError(ctx, w, http.StatusConflict, "bluetooth consent required")
	case errors.Is(err, domain.ErrInvalidSample):
		slog.Warn("service error", "cid", cid, "code", "invalid_sample")
		h.writeError(ctx, w, http.StatusBadRequest, "invalid sample")
	case errors.Is(err, domain.ErrInvalidTermsVersion):
		slog.Warn("service error", "cid", cid, "code", "invalid_terms_version")
		h.writeError(ctx, w, http.StatusBadRequest, "invalid terms version")
	case errors.Is(err, domain.ErrInvalidConsent):
		slog.Warn("service error", "cid", cid, "code", "invalid_consent")
		h.writeError(ctx, w, http.StatusBadRequest, "invalid consent")
	case errors.Is(err, domain.ErrInvalidPermission):
		slog.Warn("service error", "cid", cid, "code", "invalid_permission")
		h.writeError(ctx, w, http.StatusBadRequest, "invalid permission status")
	case errors.Is(err, domain.ErrSignatureInvalid):
		slog.Warn("service error", "cid", cid, "code", "signature_invalid")
		h.writeError(ctx, w, http.StatusBadGateway, "exposure list signature invalid")
	case errors.Is(err, domain.ErrTransport), errors.Is(err, domain.ErrParse):
		slog.Warn("service error", "cid", cid, "code", "upstream")
		h.writeError(ctx, w, http.StatusBadGateway, "exposure list unavailable")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		slog.Info("service error", "cid", cid, "code", "canceled")
		h.writeError(ctx, w, http.StatusServiceUnavailable, "canceled")
	default:
		// Internal / unexpected: do not log raw error string to avoid leaking paths.
		slog.Error("unhandled service error", "cid", cid, "code", "unhandled")
		h.writeError(ctx, w, http.StatusInternalServerError, "internal")
	}
}
