package httpx

import (
	"context"
	"net/http"

	"github.com/haukened/exposuregate/internal/domain"
)

type consentRequest struct {
	Granted *bool `json:"granted"`
}

func (h *Handler) handleConsent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Consent.Flags(r.Context()))
}

func (h *Handler) handleSetBLEConsent(w http.ResponseWriter, r *http.Request) {
	h.setConsent(w, r, h.Consent.SetBLEConsent)
}

func (h *Handler) handleSetBatteryConsent(w http.ResponseWriter, r *http.Request) {
	h.setConsent(w, r, h.Consent.SetBatteryOptConsent)
}

// setConsent stores the user's answer and replies with the resolved flags,
// which may differ from the answer once the OS state is applied.
func (h *Handler) setConsent(w http.ResponseWriter, r *http.Request, set func(context.Context, bool) error) {
	var req consentRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.Granted == nil {
		h.mapServiceError(r.Context(), w, domain.ErrInvalidConsent)
		return
	}
	if err := set(r.Context(), *req.Granted); err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Consent.Flags(r.Context()))
}

func (h *Handler) handleHideLocationHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.Consent.HideLocationHistory(r.Context()); err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
