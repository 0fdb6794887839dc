package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"medtrack/internal/adherence"
)

type ReminderHandler struct {
	Reminders *adherence.Coordinator
}

type scheduleReminderReq struct {
	ScheduledTime string `json:"scheduled_time"`
}

// Schedule sets one reminder when a time is given, otherwise aligns all
// reminders with the medication's frequency.
func (h *ReminderHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleReminderReq
	if err := decode(r, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")
	t := strings.TrimSpace(req.ScheduledTime)
	if t == "" {
		rs, err := h.Reminders.ScheduleAll(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rs)
		return
	}
	rem, err := h.Reminders.ScheduleReminder(r.Context(), id, t)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rem)
}

func (h *ReminderHandler) ForMedication(w http.ResponseWriter, r *http.Request) {
	rs, err := h.Reminders.Reminders(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rs == nil {
		rs = []adherence.MedicationReminder{}
	}
	writeJSON(w, http.StatusOK, rs)
}

func (h *ReminderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.Reminders.CancelReminder(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type snoozeReq struct {
	Minutes int `json:"minutes"`
}

func (h *ReminderHandler) Snooze(w http.ResponseWriter, r *http.Request) {
	var req snoozeReq
	if err := decode(r, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	ok, err := h.Reminders.SnoozeReminder(r.Context(), chi.URLParam(r, "id"), req.Minutes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"snoozed": ok})
}

func (h *ReminderHandler) Active(w http.ResponseWriter, r *http.Request) {
	rs, err := h.Reminders.ActiveReminders(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rs == nil {
		rs = []adherence.MedicationReminder{}
	}
	writeJSON(w, http.StatusOK, rs)
}

// Trigger is called by an external scheduler. A 5xx tells it to retry.
func (h *ReminderHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req adherence.TriggerRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	res, err := h.Reminders.Trigger(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
