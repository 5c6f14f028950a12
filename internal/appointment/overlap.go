package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Overlaps reports whether [aStart, aEnd) and [bStart, bEnd) share any instant.
// Intervals that only touch at an endpoint do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

func subjectOf(a Appointment, dim Dimension) uuid.UUID {
	if dim == DimensionPatient {
		return a.PatientID
	}
	return a.ProfessionalID
}

// FirstOverlap scans an in-memory list the same way FindOverlapping queries
// storage: blocking statuses only, matching subject, optional self-exclusion.
func FirstOverlap(list []Appointment, dim Dimension, subjectID uuid.UUID, start, end time.Time, exclude *uuid.UUID) *Appointment {
	var found *Appointment
	for i := range list {
		a := list[i]
		if !a.Status.Blocking() || subjectOf(a, dim) != subjectID {
			continue
		}
		if exclude != nil && a.ID == *exclude {
			continue
		}
		if !Overlaps(start, end, a.StartTime, a.EndTime) {
			continue
		}
		if found == nil || a.StartTime.Before(found.StartTime) {
			found = &a
		}
	}
	return found
}

// OverlapDetector answers "is this interval free" for a patient or a professional.
type OverlapDetector struct {
	q Queries
}

func NewOverlapDetector(q Queries) *OverlapDetector {
	return &OverlapDetector{q: q}
}

// Find returns the blocking appointment that collides with [start, end), or nil.
func (d *OverlapDetector) Find(ctx context.Context, dim Dimension, subjectID uuid.UUID, start, end time.Time, exclude *uuid.UUID) (*Appointment, error) {
	a, err := d.q.FindOverlapping(ctx, dim, subjectID, start, end, exclude)
	if err != nil {
		return nil, Infra("find overlapping appointment", err)
	}
	return a, nil
}

func (d *OverlapDetector) HasOverlap(ctx context.Context, dim Dimension, subjectID uuid.UUID, start, end time.Time, exclude *uuid.UUID) (bool, error) {
	a, err := d.Find(ctx, dim, subjectID, start, end, exclude)
	if err != nil {
		return false, err
	}
	return a != nil, nil
}
