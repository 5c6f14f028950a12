package conversation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
)

const humanLayout = "Mon Jan 2 15:04"

func human(t time.Time) string {
	return t.Format(humanLayout)
}

func describeOptions(category string, total int, opts []Option) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s has %d available slots. The earliest are:\n", category, total)
	for _, o := range opts {
		fmt.Fprintf(&b, "%d) %s with %s\n", o.Number, human(o.Slot.Start), o.Slot.ProfessionalName)
	}
	b.WriteString("Which one would you like?")
	return b.String()
}

func describeAppointments(list []AppointmentView) string {
	if len(list) == 0 {
		return "You have no active appointments."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You have %d active appointments:\n", len(list))
	for i, a := range list {
		fmt.Fprintf(&b, "%d) %s", i+1, human(a.StartTime))
		if a.ProfessionalName != "" {
			fmt.Fprintf(&b, " with %s", a.ProfessionalName)
		}
		fmt.Fprintf(&b, " (%s)\n", a.Status)
	}
	return strings.TrimRight(b.String(), "\n")
}

func describeSuccess(kind ActionKind, a *appointment.Appointment) string {
	switch kind {
	case ActionBook:
		return fmt.Sprintf("Your appointment on %s is requested.", human(a.StartTime))
	case ActionConfirm:
		return fmt.Sprintf("Your appointment on %s is confirmed.", human(a.StartTime))
	case ActionReschedule:
		return fmt.Sprintf("Your appointment is now on %s.", human(a.StartTime))
	case ActionCancel:
		return fmt.Sprintf("Your appointment on %s is cancelled.", human(a.StartTime))
	}
	return "Done."
}

// describeFailure turns a domain error into text safe to show the user.
func describeFailure(err error) string {
	var (
		conflict   *appointment.ConflictError
		transition *appointment.InvalidTransitionError
		invalid    *appointment.ValidationError
	)
	switch {
	case errors.Is(err, appointment.ErrPatientConflict) && errors.As(err, &conflict) && conflict.Conflicting != nil:
		return fmt.Sprintf("You already have an appointment on %s at that time. Please pick another option.",
			human(conflict.Conflicting.StartTime))
	case errors.Is(err, appointment.ErrPatientConflict):
		return "You already have an appointment at that time. Please pick another option."
	case errors.Is(err, appointment.ErrConflict):
		return "That slot is no longer available. Please pick another option or ask for fresh availability."
	case errors.As(err, &transition):
		return fmt.Sprintf("That appointment is %s, so it cannot be %s.", transition.Current, pastTense(transition.Operation))
	case errors.As(err, &invalid):
		return fmt.Sprintf("I could not do that: %s %s.", strings.ReplaceAll(invalid.Field, "_", " "), invalid.Reason)
	case errors.Is(err, appointment.ErrNotFound):
		return "I could not find that appointment."
	}
	return retryText
}

func pastTense(op string) string {
	switch op {
	case "confirm":
		return "confirmed"
	case "cancel":
		return "cancelled"
	case "reschedule":
		return "rescheduled"
	}
	return op + "ed"
}
