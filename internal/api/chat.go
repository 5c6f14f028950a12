package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func (h *handlers) initSession(w http.ResponseWriter, r *http.Request) {
	var req InitSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
		return
	}

	s, err := h.chat.InitSession(r.Context(), req.UserID, patientID)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(s))
}

func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.chat.Session(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(s))
}

func (h *handlers) postMessage(w http.ResponseWriter, r *http.Request) {
	var req ChatMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	reply, err := h.chat.HandleTurn(r.Context(), chi.URLParam(r, "userID"), req.Message)
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toChatReply(reply))
}

func (h *handlers) refreshSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.chat.Refresh(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(s))
}

func (h *handlers) clearHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.chat.ClearHistory(r.Context(), chi.URLParam(r, "userID")); err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) endSession(w http.ResponseWriter, r *http.Request) {
	if err := h.chat.EndSession(r.Context(), chi.URLParam(r, "userID")); err != nil {
		writeDomainError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
