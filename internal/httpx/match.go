package httpx

import (
	"errors"
	"net/http"

	"github.com/haukened/exposuregate/internal/domain"
	"github.com/haukened/exposuregate/internal/scheduler"
)

type recordResponse struct {
	Recorded int `json:"recorded"`
}

type exposureView struct {
	domain.ExposureRecord
	Region domain.MapRegion `json:"region"`
}

type passResponse struct {
	ID        string         `json:"id"`
	Exposures []exposureView `json:"exposures"`
}

func exposureViews(records []domain.ExposureRecord) []exposureView {
	out := make([]exposureView, 0, len(records))
	for _, rec := range records {
		out = append(out, exposureView{ExposureRecord: rec, Region: rec.Region()})
	}
	return out
}

// handleRecordEncounters ingests a batch of samples from the scanner.
func (h *Handler) handleRecordEncounters(w http.ResponseWriter, r *http.Request) {
	var samples []domain.EncounterSample
	if !h.decodeJSON(w, r, &samples) {
		return
	}
	n, err := h.Encounters.Record(r.Context(), samples)
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, recordResponse{Recorded: n})
}

// handleMatch runs a match pass now. A pass already in flight answers 202
// without starting another.
func (h *Handler) handleMatch(w http.ResponseWriter, r *http.Request) {
	pass, err := h.Matches.Trigger(r.Context())
	if errors.Is(err, scheduler.ErrCoalesced) {
		writeJSON(w, http.StatusAccepted, struct {
			Status string `json:"status"`
		}{Status: "in_flight"})
		return
	}
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, passResponse{ID: pass.ID, Exposures: exposureViews(pass.Exposures)})
}

// handleExposures lists cached exposures. A failed read is already reported
// and answers with an empty list.
func (h *Handler) handleExposures(w http.ResponseWriter, r *http.Request) {
	records, _ := h.Exposures.FetchInfectionDataByConsent(r.Context())
	writeJSON(w, http.StatusOK, exposureViews(records))
}
