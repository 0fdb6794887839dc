package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"medtrack/internal/adherence"
)

type ScheduleHandler struct {
	Tracker *adherence.Tracker
}

func (h *ScheduleHandler) date(r *http.Request) string {
	if d := strings.TrimSpace(r.URL.Query().Get("date")); d != "" {
		return d
	}
	return h.Tracker.Today()
}

func (h *ScheduleHandler) ForDate(w http.ResponseWriter, r *http.Request) {
	ss, err := h.Tracker.SchedulesForDate(r.Context(), h.date(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ss == nil {
		ss = []adherence.MedicationSchedule{}
	}
	writeJSON(w, http.StatusOK, ss)
}

func (h *ScheduleHandler) Next(w http.ResponseWriter, r *http.Request) {
	s, err := h.Tracker.NextPendingDose(r.Context(), h.date(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Today is the grouped day view.
func (h *ScheduleHandler) Today(w http.ResponseWriter, r *http.Request) {
	out, err := h.Tracker.MedicationsForDate(r.Context(), h.date(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type resolveReq struct {
	Notes string `json:"notes"`
}

func (h *ScheduleHandler) Take(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.Tracker.MarkTaken)
}

func (h *ScheduleHandler) Skip(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.Tracker.MarkSkipped)
}

type resolveFunc func(ctx context.Context, scheduleID, notes string) (*adherence.MedicationSchedule, error)

func (h *ScheduleHandler) resolve(w http.ResponseWriter, r *http.Request, fn resolveFunc) {
	var req resolveReq
	if err := decode(r, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	s, err := fn(r.Context(), chi.URLParam(r, "id"), req.Notes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
