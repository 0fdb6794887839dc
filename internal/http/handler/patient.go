package handler

import (
	"net/http"

	"medtrack/internal/adherence"
)

type PatientHandler struct {
	Profiles *adherence.Profiles
}

type patientReq struct {
	Name             string   `json:"name"`
	Email            string   `json:"email"`
	Age              int      `json:"age"`
	Conditions       []string `json:"conditions"`
	EmergencyContact string   `json:"emergency_contact"`
	ShareDataEnabled bool     `json:"share_data_enabled"`
}

func (req patientReq) patient() adherence.Patient {
	return adherence.Patient{
		Name:             req.Name,
		Email:            req.Email,
		Age:              req.Age,
		Conditions:       req.Conditions,
		EmergencyContact: req.EmergencyContact,
		ShareDataEnabled: req.ShareDataEnabled,
	}
}

func (h *PatientHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.Profiles.CurrentPatient(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *PatientHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req patientReq
	if err := decode(r, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	p, err := h.Profiles.CreatePatient(r.Context(), req.patient())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *PatientHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req patientReq
	if err := decode(r, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	p, err := h.Profiles.UpdatePatient(r.Context(), req.patient())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
