package httpx

import (
	"net/http"

	"github.com/haukened/exposuregate/internal/domain"
)

type permissionRequest struct {
	Status string `json:"status"`
}

type batteryRequest struct {
	Ignoring *bool `json:"ignoring"`
}

type deviceRequest struct {
	AppVersion string `json:"app_version"`
}

func (h *Handler) handleHostPermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	status, err := domain.ParsePermissionStatus(req.Status)
	if err == nil {
		err = h.Host.SetPermission(status)
	}
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleHostBattery(w http.ResponseWriter, r *http.Request) {
	var req batteryRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.Ignoring == nil {
		h.writeError(r.Context(), w, http.StatusBadRequest, "ignoring is required")
		return
	}
	h.Host.SetBatteryIgnoring(*req.Ignoring)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleHostDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if err := h.Host.SetAppVersion(req.AppVersion); err != nil {
		h.writeError(r.Context(), w, http.StatusBadRequest, "app_version is required")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
