package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/availability"
	"github.com/hackgods/clinic-appointment-scheduling/internal/conversation"
)

type BookAppointmentRequest struct {
	PatientID    string    `json:"patient_id"`
	WorkWindowID string    `json:"work_window_id"`
	StartTime    time.Time `json:"start_time"`
	Reason       string    `json:"reason,omitempty"`
	Channel      string    `json:"channel,omitempty"`
}

type RescheduleAppointmentRequest struct {
	WorkWindowID string    `json:"work_window_id"`
	StartTime    time.Time `json:"start_time"`
}

type AppointmentResponse struct {
	ID             uuid.UUID `json:"id"`
	PatientID      uuid.UUID `json:"patient_id"`
	ProfessionalID uuid.UUID `json:"professional_id"`
	WorkWindowID   uuid.UUID `json:"work_window_id"`
	UnitID         uuid.UUID `json:"unit_id"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	Status         string    `json:"status"`
	Reason         string    `json:"reason"`
	Channel        string    `json:"channel"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:             a.ID,
		PatientID:      a.PatientID,
		ProfessionalID: a.ProfessionalID,
		WorkWindowID:   a.WorkWindowID,
		UnitID:         a.UnitID,
		StartTime:      a.StartTime,
		EndTime:        a.EndTime,
		Status:         string(a.Status),
		Reason:         a.Reason,
		Channel:        string(a.Channel),
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

type HistoryResponse struct {
	ID           int64      `json:"id"`
	OldStatus    *string    `json:"old_status"`
	NewStatus    string     `json:"new_status"`
	OldStartTime *time.Time `json:"old_start_time"`
	NewStartTime time.Time  `json:"new_start_time"`
	OldEndTime   *time.Time `json:"old_end_time"`
	NewEndTime   time.Time  `json:"new_end_time"`
	Reason       string     `json:"reason"`
	ChangedAt    time.Time  `json:"changed_at"`
}

func toHistoryResponse(h appointment.History) HistoryResponse {
	resp := HistoryResponse{
		ID:           h.ID,
		NewStatus:    string(h.NewStatus),
		OldStartTime: h.OldStartTime,
		NewStartTime: h.NewStartTime,
		OldEndTime:   h.OldEndTime,
		NewEndTime:   h.NewEndTime,
		Reason:       h.Reason,
		ChangedAt:    h.ChangedAt,
	}
	if h.OldStatus != nil {
		s := string(*h.OldStatus)
		resp.OldStatus = &s
	}
	return resp
}

type AvailabilityResponse struct {
	Category string                       `json:"category"`
	Count    int                          `json:"count"`
	Slots    []availability.AvailableSlot `json:"slots"`
}

type CategoriesResponse struct {
	Categories []string `json:"categories"`
}

type InitSessionRequest struct {
	UserID    string `json:"user_id"`
	PatientID string `json:"patient_id"`
}

type ChatMessageRequest struct {
	Message string `json:"message"`
}

type SessionResponse struct {
	UserID       string                `json:"user_id"`
	PatientID    uuid.UUID             `json:"patient_id"`
	PatientName  string                `json:"patient_name"`
	State        string                `json:"state"`
	Appointments []AppointmentResponse `json:"appointments"`
	Availability map[string]int        `json:"availability"`
	GeneratedAt  time.Time             `json:"generated_at"`
	Messages     int                   `json:"messages"`
}

func toSessionResponse(s *conversation.Session) SessionResponse {
	resp := SessionResponse{
		UserID:       s.UserID,
		PatientID:    s.PatientID,
		PatientName:  s.PatientName,
		State:        string(s.State),
		Appointments: make([]AppointmentResponse, 0, len(s.Appointments)),
		Availability: make(map[string]int, len(s.Snapshot.ByCategory)),
		GeneratedAt:  s.Snapshot.GeneratedAt,
		Messages:     len(s.Transcript),
	}
	for _, a := range s.Appointments {
		resp.Appointments = append(resp.Appointments, toAppointmentResponse(&a.Appointment))
	}
	for cat, slots := range s.Snapshot.ByCategory {
		resp.Availability[cat] = len(slots)
	}
	return resp
}

type ChatReplyResponse struct {
	Text        string                `json:"text"`
	State       string                `json:"state"`
	Action      string                `json:"action,omitempty"`
	Options     []conversation.Option `json:"options,omitempty"`
	Appointment *AppointmentResponse  `json:"appointment,omitempty"`
	Retry       bool                  `json:"retry,omitempty"`
}

func toChatReply(r conversation.Reply) ChatReplyResponse {
	resp := ChatReplyResponse{
		Text:    r.Text,
		State:   string(r.State),
		Action:  string(r.Action),
		Options: r.Options,
		Retry:   r.Retry,
	}
	if r.Appointment != nil {
		a := toAppointmentResponse(r.Appointment)
		resp.Appointment = &a
	}
	return resp
}

type ErrorResponse struct {
	Error         string     `json:"error"`
	Details       string     `json:"details,omitempty"`
	ConflictingID *uuid.UUID `json:"conflicting_appointment_id,omitempty"`
	CurrentStatus string     `json:"current_status,omitempty"`
}
