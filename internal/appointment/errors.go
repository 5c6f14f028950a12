package appointment

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrValidation             = errors.New("validation failed")
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("scheduling conflict")
	ErrPatientConflict        = errors.New("patient already has an appointment in this interval")
	ErrProfessionalConflict   = errors.New("professional already has an appointment in this interval")
	ErrStaleSlot              = errors.New("slot was taken concurrently")
	ErrInvalidStateTransition = errors.New("invalid status transition")
	ErrInfrastructure         = errors.New("infrastructure failure")
)

// ValidationError is returned before persistence is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type EntityKind string

const (
	KindPatient      EntityKind = "patient"
	KindProfessional EntityKind = "professional"
	KindWorkWindow   EntityKind = "work window"
	KindAppointment  EntityKind = "appointment"
	KindCareUnit     EntityKind = "care unit"
)

type NotFoundError struct {
	Kind EntityKind
	ID   uuid.UUID
}

func (e *NotFoundError) Error() string {
	if e.ID == uuid.Nil {
		return fmt.Sprintf("%s not found", e.Kind)
	}
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

type ConflictKind string

const (
	ConflictPatient      ConflictKind = "patient"
	ConflictProfessional ConflictKind = "professional"
	ConflictStaleSlot    ConflictKind = "stale_slot"
)

// ConflictError carries the appointment that blocks the requested interval,
// when one is known, so callers can offer an alternative.
type ConflictError struct {
	Kind        ConflictKind
	Conflicting *Appointment
}

func (e *ConflictError) Error() string {
	var base error
	switch e.Kind {
	case ConflictPatient:
		base = ErrPatientConflict
	case ConflictProfessional:
		base = ErrProfessionalConflict
	default:
		base = ErrStaleSlot
	}
	if e.Conflicting == nil {
		return base.Error()
	}
	return fmt.Sprintf("%s (appointment %s, %s - %s)", base, e.Conflicting.ID,
		e.Conflicting.StartTime.Format("2006-01-02 15:04"), e.Conflicting.EndTime.Format("15:04"))
}

func (e *ConflictError) Is(target error) bool {
	switch target {
	case ErrConflict:
		return true
	case ErrPatientConflict:
		return e.Kind == ConflictPatient
	case ErrProfessionalConflict:
		return e.Kind == ConflictProfessional
	case ErrStaleSlot:
		return e.Kind == ConflictStaleSlot
	}
	return false
}

type InvalidTransitionError struct {
	Operation string
	Current   AppointmentStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s appointment in status %q", e.Operation, e.Current)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidStateTransition }

// InfrastructureError wraps storage or collaborator failures. Its message is
// for logs only and must not reach end users.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

func (e *InfrastructureError) Is(target error) bool { return target == ErrInfrastructure }

// Infra wraps err as an InfrastructureError unless it already belongs to the domain taxonomy.
func Infra(op string, err error) error {
	if err == nil {
		return nil
	}
	if isDomainError(err) {
		return err
	}
	return &InfrastructureError{Op: op, Err: err}
}

func isDomainError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInvalidStateTransition) ||
		errors.Is(err, ErrInfrastructure)
}
