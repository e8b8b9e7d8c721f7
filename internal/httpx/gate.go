package httpx

import (
	"net/http"
)

type acceptTermsRequest struct {
	Version int `json:"version"`
}

// handleGate returns the foreground gate decision. The gate never fails; a
// failed fetch yields an "ok" decision.
func (h *Handler) handleGate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Gate.Evaluate(r.Context()))
}

// handleAcceptTerms records that the user accepted a terms version.
func (h *Handler) handleAcceptTerms(w http.ResponseWriter, r *http.Request) {
	var req acceptTermsRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if err := h.Gate.AcceptTerms(r.Context(), req.Version); err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
