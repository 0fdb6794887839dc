package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"medtrack/internal/adherence"
)

type MedicationHandler struct {
	Tracker   *adherence.Tracker
	Reminders *adherence.Coordinator
}

type medicationReq struct {
	Name         string   `json:"name"`
	Dosage       string   `json:"dosage"`
	Frequency    []string `json:"frequency"`
	Instructions string   `json:"instructions"`
}

func (req medicationReq) medication(id string) adherence.Medication {
	return adherence.Medication{
		ID:           id,
		Name:         req.Name,
		Dosage:       req.Dosage,
		Frequency:    req.Frequency,
		Instructions: req.Instructions,
	}
}

func (h *MedicationHandler) List(w http.ResponseWriter, r *http.Request) {
	ms, err := h.Tracker.ListMedications(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ms == nil {
		ms = []adherence.Medication{}
	}
	writeJSON(w, http.StatusOK, ms)
}

func (h *MedicationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req medicationReq
	if err := decode(r, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	m, err := h.Tracker.AddMedication(r.Context(), req.medication(""))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, medicationResp{Medication: m, RemindersScheduled: h.syncReminders(r, m.ID)})
}

func (h *MedicationHandler) Get(w http.ResponseWriter, r *http.Request) {
	m, err := h.Tracker.GetMedication(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *MedicationHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req medicationReq
	if err := decode(r, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	m, err := h.Tracker.UpdateMedication(r.Context(), req.medication(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, medicationResp{Medication: m, RemindersScheduled: h.syncReminders(r, m.ID)})
}

func (h *MedicationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Tracker.DeleteMedication(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// medicationResp reports whether reminders followed the write. When false the
// client should retry POST /medications/{id}/reminders.
type medicationResp struct {
	*adherence.Medication
	RemindersScheduled bool `json:"reminders_scheduled"`
}

// syncReminders runs after the medication write has committed. A failure
// here leaves the medication in place; reminders can be rescheduled.
func (h *MedicationHandler) syncReminders(r *http.Request, id string) bool {
	if h.Reminders == nil {
		return false
	}
	if _, err := h.Reminders.ScheduleAll(r.Context(), id); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Str("medication", id).Msg("reminders not scheduled")
		return false
	}
	return true
}

type logDoseReq struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

func (h *MedicationHandler) LogDose(w http.ResponseWriter, r *http.Request) {
	var req logDoseReq
	if err := decode(r, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	status := adherence.Status(strings.ToUpper(strings.TrimSpace(req.Status)))
	rec, err := h.Tracker.LogDose(r.Context(), chi.URLParam(r, "id"), status, req.Notes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *MedicationHandler) History(w http.ResponseWriter, r *http.Request) {
	start, end := h.dateRange(r)
	rs, err := h.Tracker.AdherenceHistory(r.Context(), chi.URLParam(r, "id"), start, end)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rs == nil {
		rs = []adherence.AdherenceRecord{}
	}
	writeJSON(w, http.StatusOK, rs)
}

func (h *MedicationHandler) Rate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	start, end := h.dateRange(r)
	if _, err := h.Tracker.GetMedication(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	rate, err := h.Tracker.AdherenceRate(r.Context(), id, start, end)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"medication_id": id,
		"start":         start,
		"end":           end,
		"rate":          rate,
	})
}

// dateRange defaults to the week ending today.
func (h *MedicationHandler) dateRange(r *http.Request) (string, string) {
	q := r.URL.Query()
	end := strings.TrimSpace(q.Get("end"))
	if end == "" {
		end = h.Tracker.Today()
	}
	start := strings.TrimSpace(q.Get("start"))
	if start == "" {
		if d, err := time.Parse(adherence.DateLayout, end); err == nil {
			start = d.AddDate(0, 0, -(adherence.RateWindowDays - 1)).Format(adherence.DateLayout)
		} else {
			start = end
		}
	}
	return start, end
}
