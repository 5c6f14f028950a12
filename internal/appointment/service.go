package appointment

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/clock"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/lock"
)

const defaultReason = "General consultation"

const (
	opBook       = "book"
	opConfirm    = "confirm"
	opReschedule = "reschedule"
	opCancel     = "cancel"
)

// Service is the booking transaction manager. Every mutation checks its
// preconditions and writes the appointment together with one history row
// inside a single serializable transaction, under per-patient and
// per-professional-day locks.
type Service struct {
	repo   Repository
	locker lock.Locker
	clock  clock.Clock
	cfg    config.Config
	log    *zap.Logger
}

func NewService(repo Repository, locker lock.Locker, clk clock.Clock, cfg config.Config, logger *zap.Logger) *Service {
	if cfg.SlotDuration <= 0 {
		cfg.SlotDuration = 30 * time.Minute
	}
	return &Service{
		repo:   repo,
		locker: locker,
		clock:  clk,
		cfg:    cfg,
		log:    logger.With(zap.String("component", "booking")),
	}
}

type BookRequest struct {
	PatientID    uuid.UUID
	WorkWindowID uuid.UUID
	Start        time.Time
	Reason       string
	Channel      Channel
	Source       Source
}

type RescheduleRequest struct {
	AppointmentID uuid.UUID
	WorkWindowID  uuid.UUID
	Start         time.Time
	Source        Source
}

func (r *BookRequest) validate() error {
	switch {
	case r.PatientID == uuid.Nil:
		return &ValidationError{Field: "patient_id", Reason: "is required"}
	case r.WorkWindowID == uuid.Nil:
		return &ValidationError{Field: "work_window_id", Reason: "is required"}
	case r.Start.IsZero():
		return &ValidationError{Field: "start", Reason: "is required"}
	}
	switch r.Channel {
	case "":
		r.Channel = ChannelInPerson
	case ChannelInPerson, ChannelRemote:
	default:
		return &ValidationError{Field: "channel", Reason: fmt.Sprintf("unknown channel %q", r.Channel)}
	}
	r.Reason = strings.TrimSpace(r.Reason)
	return nil
}

func (r *RescheduleRequest) validate() error {
	switch {
	case r.AppointmentID == uuid.Nil:
		return &ValidationError{Field: "appointment_id", Reason: "is required"}
	case r.WorkWindowID == uuid.Nil:
		return &ValidationError{Field: "work_window_id", Reason: "is required"}
	case r.Start.IsZero():
		return &ValidationError{Field: "start", Reason: "is required"}
	}
	return nil
}

// Book creates a requested appointment for the slot starting at req.Start.
func (s *Service) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	start := req.Start.In(s.clock.Location())
	end := start.Add(s.cfg.SlotDuration)
	if err := s.checkFuture(start); err != nil {
		return nil, err
	}

	window, err := s.repo.GetWorkWindowByID(ctx, req.WorkWindowID)
	if err != nil {
		return nil, Infra("load work window", err)
	}

	var created *Appointment
	keys := s.lockKeys(req.PatientID, window.ProfessionalID, start, end)

	err = lock.WithLocks(ctx, s.locker, keys, func(ctx context.Context) error {
		return s.repo.InTx(ctx, func(ctx context.Context, q Queries) error {
			if _, err := q.GetPatientByID(ctx, req.PatientID); err != nil {
				return err
			}

			w, err := q.GetWorkWindowByID(ctx, req.WorkWindowID)
			if err != nil {
				return err
			}
			if err := s.checkSlot(ctx, q, w, req.PatientID, start, end, nil); err != nil {
				return err
			}

			unitID, err := s.resolveUnit(ctx, q, w)
			if err != nil {
				return err
			}

			reason := req.Reason
			if reason == "" {
				reason = defaultReason
				prof, err := q.GetProfessionalByID(ctx, w.ProfessionalID)
				if err != nil {
					return err
				}
				if prof.Specialty != "" {
					reason = prof.Specialty
				}
			}

			appt := &Appointment{
				PatientID:      req.PatientID,
				ProfessionalID: w.ProfessionalID,
				WorkWindowID:   w.ID,
				UnitID:         unitID,
				StartTime:      start,
				EndTime:        end,
				Status:         StatusRequested,
				Reason:         reason,
				Channel:        req.Channel,
			}
			if err := q.CreateAppointment(ctx, appt); err != nil {
				return err
			}

			if err := q.InsertHistory(ctx, &History{
				AppointmentID: appt.ID,
				NewStatus:     StatusRequested,
				NewStartTime:  appt.StartTime,
				NewEndTime:    appt.EndTime,
				Reason:        historyReason(req.Source, "appointment booked"),
			}); err != nil {
				return err
			}

			created = appt
			return nil
		})
	})
	if err != nil {
		return nil, s.fail(opBook, err)
	}

	s.log.Info("appointment booked",
		zap.String("appointment_id", created.ID.String()),
		zap.String("patient_id", created.PatientID.String()),
		zap.String("professional_id", created.ProfessionalID.String()),
		zap.Time("start", created.StartTime),
	)
	return created, nil
}

// Confirm moves a requested appointment to confirmed.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID, src Source) (*Appointment, error) {
	return s.transition(ctx, opConfirm, id, func(ctx context.Context, q Queries, a *Appointment) (bool, error) {
		if a.Status != StatusRequested {
			return false, &InvalidTransitionError{Operation: opConfirm, Current: a.Status}
		}
		return true, s.writeStatus(ctx, q, a, StatusConfirmed, historyReason(src, "appointment confirmed"))
	})
}

// Cancel moves a requested or confirmed appointment to cancelled. Cancelling
// an already cancelled appointment succeeds without writing anything.
// fulfilled and no_show are terminal like cancelled, so cancelling them is an
// InvalidTransitionError rather than a rewrite of the visit's outcome.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, src Source) (*Appointment, error) {
	return s.transition(ctx, opCancel, id, func(ctx context.Context, q Queries, a *Appointment) (bool, error) {
		if a.Status == StatusCancelled {
			return false, nil
		}
		if a.Status.Terminal() {
			return false, &InvalidTransitionError{Operation: opCancel, Current: a.Status}
		}
		return true, s.writeStatus(ctx, q, a, StatusCancelled, historyReason(src, "appointment cancelled"))
	})
}

// Reschedule moves an active appointment to a new slot, possibly in another
// work window with another professional. The status is kept.
func (s *Service) Reschedule(ctx context.Context, req RescheduleRequest) (*Appointment, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	start := req.Start.In(s.clock.Location())
	end := start.Add(s.cfg.SlotDuration)
	if err := s.checkFuture(start); err != nil {
		return nil, err
	}

	current, err := s.repo.GetAppointmentByID(ctx, req.AppointmentID)
	if err != nil {
		return nil, Infra("load appointment", err)
	}
	window, err := s.repo.GetWorkWindowByID(ctx, req.WorkWindowID)
	if err != nil {
		return nil, Infra("load work window", err)
	}

	var updated *Appointment
	keys := s.lockKeys(current.PatientID, window.ProfessionalID, start, end)

	err = lock.WithLocks(ctx, s.locker, keys, func(ctx context.Context) error {
		return s.repo.InTx(ctx, func(ctx context.Context, q Queries) error {
			a, err := q.GetAppointmentByID(ctx, req.AppointmentID)
			if err != nil {
				return err
			}
			if a.Status != StatusRequested && a.Status != StatusConfirmed {
				return &InvalidTransitionError{Operation: opReschedule, Current: a.Status}
			}

			w, err := q.GetWorkWindowByID(ctx, req.WorkWindowID)
			if err != nil {
				return err
			}
			if err := s.checkSlot(ctx, q, w, a.PatientID, start, end, &a.ID); err != nil {
				return err
			}

			unitID, err := s.resolveUnit(ctx, q, w)
			if err != nil {
				return err
			}

			oldStatus, oldStart, oldEnd := a.Status, a.StartTime, a.EndTime

			a.ProfessionalID = w.ProfessionalID
			a.WorkWindowID = w.ID
			a.UnitID = unitID
			a.StartTime = start
			a.EndTime = end
			if err := q.UpdateAppointment(ctx, a); err != nil {
				return err
			}

			if err := q.InsertHistory(ctx, &History{
				AppointmentID: a.ID,
				OldStatus:     &oldStatus,
				NewStatus:     a.Status,
				OldStartTime:  &oldStart,
				NewStartTime:  a.StartTime,
				OldEndTime:    &oldEnd,
				NewEndTime:    a.EndTime,
				Reason:        historyReason(req.Source, "appointment rescheduled"),
			}); err != nil {
				return err
			}

			updated = a
			return nil
		})
	})
	if err != nil {
		return nil, s.fail(opReschedule, err)
	}

	s.log.Info("appointment rescheduled",
		zap.String("appointment_id", updated.ID.String()),
		zap.String("professional_id", updated.ProfessionalID.String()),
		zap.Time("start", updated.StartTime),
	)
	return updated, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, Infra("load appointment", err)
	}
	return a, nil
}

func (s *Service) Patient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.repo.GetPatientByID(ctx, id)
	if err != nil {
		return nil, Infra("load patient", err)
	}
	return p, nil
}

func (s *Service) Professional(ctx context.Context, id uuid.UUID) (*Professional, error) {
	p, err := s.repo.GetProfessionalByID(ctx, id)
	if err != nil {
		return nil, Infra("load professional", err)
	}
	return p, nil
}

// ListForPatient returns the patient's active appointments ordered by start.
func (s *Service) ListForPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error) {
	if _, err := s.Patient(ctx, patientID); err != nil {
		return nil, err
	}
	list, err := s.repo.ListAppointmentsByPatient(ctx, patientID)
	if err != nil {
		return nil, Infra("list patient appointments", err)
	}
	return list, nil
}

func (s *Service) History(ctx context.Context, appointmentID uuid.UUID) ([]History, error) {
	if _, err := s.Get(ctx, appointmentID); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListHistory(ctx, appointmentID)
	if err != nil {
		return nil, Infra("list appointment history", err)
	}
	return rows, nil
}

// CloseElapsedWindows is called periodically by the window closer.
func (s *Service) CloseElapsedWindows(ctx context.Context) (int64, error) {
	n, err := s.repo.CloseElapsedWorkWindows(ctx, s.clock.Now())
	if err != nil {
		return 0, Infra("close elapsed work windows", err)
	}
	if n > 0 {
		s.log.Info("closed elapsed work windows", zap.Int64("count", n))
	}
	return n, nil
}

// transition runs a status-only change under the patient's lock. apply
// reports whether it wrote anything.
func (s *Service) transition(ctx context.Context, op string, id uuid.UUID,
	apply func(ctx context.Context, q Queries, a *Appointment) (bool, error)) (*Appointment, error) {

	current, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, Infra("load appointment", err)
	}

	var (
		result  *Appointment
		changed bool
	)
	err = s.locker.WithLock(ctx, patientKey(current.PatientID), func(ctx context.Context) error {
		return s.repo.InTx(ctx, func(ctx context.Context, q Queries) error {
			a, err := q.GetAppointmentByID(ctx, id)
			if err != nil {
				return err
			}
			changed, err = apply(ctx, q, a)
			if err != nil {
				return err
			}
			result = a
			return nil
		})
	})
	if err != nil {
		return nil, s.fail(op, err)
	}

	if changed {
		s.log.Info("appointment status changed",
			zap.String("appointment_id", result.ID.String()),
			zap.String("operation", op),
			zap.String("status", string(result.Status)),
		)
	}
	return result, nil
}

func (s *Service) writeStatus(ctx context.Context, q Queries, a *Appointment, to AppointmentStatus, reason string) error {
	from, start, end := a.Status, a.StartTime, a.EndTime
	a.Status = to
	if err := q.UpdateAppointment(ctx, a); err != nil {
		return err
	}
	return q.InsertHistory(ctx, &History{
		AppointmentID: a.ID,
		OldStatus:     &from,
		NewStatus:     to,
		OldStartTime:  &start,
		NewStartTime:  start,
		OldEndTime:    &end,
		NewEndTime:    end,
		Reason:        reason,
	})
}

// checkSlot runs the booking preconditions in order: open window, slot
// inside window, patient free, professional free.
func (s *Service) checkSlot(ctx context.Context, q Queries, w *WorkWindow, patientID uuid.UUID, start, end time.Time, exclude *uuid.UUID) error {
	if w.State != WindowOpen {
		return &ValidationError{Field: "work_window_id", Reason: fmt.Sprintf("work window is %s", w.State)}
	}
	if !start.Before(end) || start.Before(w.StartTime) || end.After(w.EndTime) {
		return &ValidationError{Field: "start", Reason: "slot must lie within the work window"}
	}

	detector := NewOverlapDetector(q)

	if a, err := detector.Find(ctx, DimensionPatient, patientID, start, end, exclude); err != nil {
		return err
	} else if a != nil {
		return &ConflictError{Kind: ConflictPatient, Conflicting: a}
	}

	if a, err := detector.Find(ctx, DimensionProfessional, w.ProfessionalID, start, end, exclude); err != nil {
		return err
	} else if a != nil {
		return &ConflictError{Kind: ConflictProfessional, Conflicting: a}
	}
	return nil
}

// resolveUnit falls back to the default unit for windows without one.
func (s *Service) resolveUnit(ctx context.Context, q Queries, w *WorkWindow) (uuid.UUID, error) {
	if w.UnitID != nil {
		return *w.UnitID, nil
	}

	unit, err := q.GetDefaultUnit(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return uuid.Nil, &InfrastructureError{Op: "resolve care unit", Err: errors.New("no active care unit configured")}
		}
		return uuid.Nil, err
	}

	s.log.Warn("work window has no care unit, using default",
		zap.String("work_window_id", w.ID.String()),
		zap.String("unit_id", unit.ID.String()),
	)
	return unit.ID, nil
}

func (s *Service) checkFuture(start time.Time) error {
	if start.Before(s.clock.Now()) {
		return &ValidationError{Field: "start", Reason: "must not be in the past"}
	}
	return nil
}

// fail normalizes errors leaving a mutation.
func (s *Service) fail(op string, err error) error {
	if errors.Is(err, lock.ErrNotAcquired) {
		s.log.Warn("lock not acquired", zap.String("operation", op))
		return &ConflictError{Kind: ConflictStaleSlot}
	}
	err = Infra(op+" appointment", err)
	if errors.Is(err, ErrInfrastructure) {
		s.log.Error("appointment mutation failed", zap.String("operation", op), zap.Error(err))
	}
	return err
}

// lockKeys orders keys patient first, then each civil day the interval touches.
func (s *Service) lockKeys(patientID, professionalID uuid.UUID, start, end time.Time) []string {
	loc := s.clock.Location()
	keys := []string{patientKey(patientID)}

	first := start.In(loc).Format(time.DateOnly)
	last := end.Add(-time.Nanosecond).In(loc).Format(time.DateOnly)
	keys = append(keys, professionalDayKey(professionalID, first))
	if last != first {
		keys = append(keys, professionalDayKey(professionalID, last))
	}
	return slices.Compact(keys)
}

func patientKey(id uuid.UUID) string {
	return "patient:" + id.String()
}

func professionalDayKey(id uuid.UUID, day string) string {
	return "professional:" + id.String() + ":" + day
}

func historyReason(src Source, action string) string {
	if src == "" {
		src = SourceAPI
	}
	return string(src) + ": " + action
}
