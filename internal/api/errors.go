package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/conversation"
)

const retryMessage = "temporarily unavailable, please try again"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeDomainError maps the error taxonomy onto HTTP. Infrastructure and
// unknown errors are logged and answered with generic text only.
func writeDomainError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	var (
		invalid    *appointment.ValidationError
		missing    *appointment.NotFoundError
		conflict   *appointment.ConflictError
		transition *appointment.InvalidTransitionError
	)

	switch {
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, "validation_error", invalid.Error())
	case errors.As(err, &missing):
		writeError(w, http.StatusNotFound, strings.ReplaceAll(string(missing.Kind), " ", "_")+"_not_found", missing.Error())
	case errors.As(err, &conflict):
		resp := ErrorResponse{Error: string(conflict.Kind) + "_conflict", Details: conflict.Error()}
		if conflict.Kind == appointment.ConflictStaleSlot {
			resp.Error = string(conflict.Kind)
		}
		if conflict.Conflicting != nil {
			id := conflict.Conflicting.ID
			resp.ConflictingID = &id
		}
		writeJSON(w, http.StatusConflict, resp)
	case errors.As(err, &transition):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:         "invalid_state_transition",
			Details:       transition.Error(),
			CurrentStatus: string(transition.Current),
		})
	case errors.Is(err, conversation.ErrSessionNotInitialized):
		writeError(w, http.StatusNotFound, "session_not_initialized", err.Error())
	case errors.Is(err, conversation.ErrSessionClosed):
		writeError(w, http.StatusConflict, "session_closed", err.Error())
	case errors.Is(err, conversation.ErrSessionBusy):
		writeError(w, http.StatusConflict, "session_busy", err.Error())
	case errors.Is(err, appointment.ErrInfrastructure):
		log.Error("request failed", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "unavailable", retryMessage)
	default:
		log.Error("unexpected error", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
