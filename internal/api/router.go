package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/availability"
	"github.com/hackgods/clinic-appointment-scheduling/internal/conversation"
)

type AppointmentService interface {
	Book(ctx context.Context, req appointment.BookRequest) (*appointment.Appointment, error)
	Confirm(ctx context.Context, id uuid.UUID, src appointment.Source) (*appointment.Appointment, error)
	Reschedule(ctx context.Context, req appointment.RescheduleRequest) (*appointment.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, src appointment.Source) (*appointment.Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ListForPatient(ctx context.Context, patientID uuid.UUID) ([]appointment.Appointment, error)
	History(ctx context.Context, appointmentID uuid.UUID) ([]appointment.History, error)
}

type AvailabilityService interface {
	Categories(ctx context.Context) ([]string, error)
	AvailabilityFor(ctx context.Context, category string, max int) ([]availability.AvailableSlot, error)
}

type ChatService interface {
	InitSession(ctx context.Context, userID string, patientID uuid.UUID) (*conversation.Session, error)
	HandleTurn(ctx context.Context, userID, utterance string) (conversation.Reply, error)
	Refresh(ctx context.Context, userID string) (*conversation.Session, error)
	Session(ctx context.Context, userID string) (*conversation.Session, error)
	ClearHistory(ctx context.Context, userID string) error
	EndSession(ctx context.Context, userID string) error
}

type RouterConfig struct {
	Appointments AppointmentService
	Availability AvailabilityService
	Chat         ChatService
	Logger       *zap.Logger
	PgPool       *pgxpool.Pool
	Redis        *redis.Client
	Env          string
	Version      string
	MaxResults   int // default page size for availability
	ChatPerMin   int
	ChatBurst    int
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "api"))

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log))

	var pg, rdb Check
	if cfg.PgPool != nil {
		pg = cfg.PgPool.Ping
	}
	if cfg.Redis != nil {
		rdb = func(ctx context.Context) error { return cfg.Redis.Ping(ctx).Err() }
	}
	health := NewHealthHandler(pg, rdb, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	h := &handlers{
		appointments: cfg.Appointments,
		availability: cfg.Availability,
		chat:         cfg.Chat,
		log:          log,
		maxResults:   cfg.MaxResults,
	}
	if h.maxResults <= 0 {
		h.maxResults = 15
	}

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", h.bookAppointment)
		r.Get("/", h.listAppointments)
		r.Get("/{id}", h.getAppointment)
		r.Get("/{id}/history", h.appointmentHistory)
		r.Post("/{id}/confirm", h.confirmAppointment)
		r.Post("/{id}/reschedule", h.rescheduleAppointment)
		r.Post("/{id}/cancel", h.cancelAppointment)
	})

	r.Get("/availability", h.getAvailability)

	r.Route("/chat/sessions", func(r chi.Router) {
		r.Post("/", h.initSession)
		r.Get("/{userID}", h.getSession)
		r.With(ChatRateLimit(cfg.ChatPerMin, cfg.ChatBurst)).Post("/{userID}/messages", h.postMessage)
		r.Post("/{userID}/refresh", h.refreshSession)
		r.Delete("/{userID}/history", h.clearHistory)
		r.Delete("/{userID}", h.endSession)
	})

	return r
}
