// Package slots decomposes a work window into fixed-length bookable slots.
package slots

import (
	"iter"
	"time"
)

// DefaultDuration is the clinic's standard appointment length.
const DefaultDuration = 30 * time.Minute

// Slot is a half-open interval [Start, End).
type Slot struct {
	Start time.Time
	End   time.Time
}

// Generate yields consecutive slots of length d starting at windowStart.
// A trailing remainder shorter than d is dropped. The sequence is finite,
// has no side effects and may be ranged over any number of times.
//
// Arithmetic runs on absolute instants; callers pass times already placed in
// the clinic's location so Start/End render in clinic wall-clock time.
func Generate(windowStart, windowEnd time.Time, d time.Duration) iter.Seq[Slot] {
	return func(yield func(Slot) bool) {
		if d <= 0 || !windowEnd.After(windowStart) {
			return
		}
		for t := windowStart; !t.Add(d).After(windowEnd); t = t.Add(d) {
			if !yield(Slot{Start: t, End: t.Add(d)}) {
				return
			}
		}
	}
}

// Count returns how many slots Generate would yield.
func Count(windowStart, windowEnd time.Time, d time.Duration) int {
	if d <= 0 || !windowEnd.After(windowStart) {
		return 0
	}
	return int(windowEnd.Sub(windowStart) / d)
}

// Collect materializes the sequence.
func Collect(seq iter.Seq[Slot]) []Slot {
	var out []Slot
	for s := range seq {
		out = append(out, s)
	}
	return out
}

// InLocation generates slots for a window whose bounds are first expressed in loc.
func InLocation(windowStart, windowEnd time.Time, d time.Duration, loc *time.Location) iter.Seq[Slot] {
	if loc == nil {
		loc = time.UTC
	}
	return Generate(windowStart.In(loc), windowEnd.In(loc), d)
}

// Contains reports whether [start, end) lies inside [windowStart, windowEnd).
func Contains(windowStart, windowEnd, start, end time.Time) bool {
	return !start.Before(windowStart) && !end.After(windowEnd) && end.After(start)
}
