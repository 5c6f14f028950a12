package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
)

type handlers struct {
	appointments AppointmentService
	availability AvailabilityService
	chat         ChatService
	log          *zap.Logger
	maxResults   int
}

func (h *handlers) bookAppointment(w http.ResponseWriter, r *http.Request) {
	var req BookAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
		return
	}
	windowID, err := uuid.Parse(req.WorkWindowID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_work_window_id", "work_window_id must be a valid UUID")
		return
	}

	appt, err := h.appointments.Book(r.Context(), appointment.BookRequest{
		PatientID:    patientID,
		WorkWindowID: windowID,
		Start:        req.StartTime,
		Reason:       req.Reason,
		Channel:      appointment.Channel(req.Channel),
		Source:       appointment.SourceAPI,
	})
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	patientID, err := uuid.Parse(r.URL.Query().Get("patient_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
		return
	}

	list, err := h.appointments.ListForPatient(r.Context(), patientID)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}

	resp := make([]AppointmentResponse, 0, len(list))
	for i := range list {
		resp = append(resp, toAppointmentResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}

	appt, err := h.appointments.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) appointmentHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}

	rows, err := h.appointments.History(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}

	resp := make([]HistoryResponse, 0, len(rows))
	for _, row := range rows {
		resp = append(resp, toHistoryResponse(row))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) confirmAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}

	appt, err := h.appointments.Confirm(r.Context(), id, appointment.SourceAPI)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}

	appt, err := h.appointments.Cancel(r.Context(), id, appointment.SourceAPI)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) rescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}

	var req RescheduleAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	windowID, err := uuid.Parse(req.WorkWindowID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_work_window_id", "work_window_id must be a valid UUID")
		return
	}

	appt, err := h.appointments.Reschedule(r.Context(), appointment.RescheduleRequest{
		AppointmentID: id,
		WorkWindowID:  windowID,
		Start:         req.StartTime,
		Source:        appointment.SourceAPI,
	})
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

// getAvailability lists categories when no category is given.
func (h *handlers) getAvailability(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	if category == "" {
		cats, err := h.availability.Categories(r.Context())
		if err != nil {
			writeDomainError(w, r, h.log, err)
			return
		}
		writeJSON(w, http.StatusOK, CategoriesResponse{Categories: cats})
		return
	}

	limit := h.maxResults
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	slots, err := h.availability.AvailabilityFor(r.Context(), category, limit)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, AvailabilityResponse{Category: category, Count: len(slots), Slots: slots})
}

func appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}
