// Package availability combines slot generation and overlap filtering across
// professionals into per-category snapshots of bookable slots.
package availability

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/clock"
	"github.com/hackgods/clinic-appointment-scheduling/internal/slots"
)

// fanOut caps concurrent storage reads per request.
const fanOut = 8

// AvailableSlot carries everything needed to book the slot directly.
type AvailableSlot struct {
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	ProfessionalID   uuid.UUID `json:"professional_id"`
	ProfessionalName string    `json:"professional_name"`
	WorkWindowID     uuid.UUID `json:"work_window_id"`
	Category         string    `json:"category"`
}

// Snapshot is availability for every category at one instant.
type Snapshot struct {
	GeneratedAt time.Time                  `json:"generated_at"`
	ByCategory  map[string][]AvailableSlot `json:"by_category"`
}

// Categories returns the snapshot's categories in sorted order.
func (s Snapshot) Categories() []string {
	return slices.Sorted(maps.Keys(s.ByCategory))
}

func (s Snapshot) Total() int {
	n := 0
	for _, list := range s.ByCategory {
		n += len(list)
	}
	return n
}

// Without returns a copy with the slot starting at start in the given window
// removed from every category.
func (s Snapshot) Without(workWindowID uuid.UUID, start time.Time) Snapshot {
	out := Snapshot{GeneratedAt: s.GeneratedAt, ByCategory: make(map[string][]AvailableSlot, len(s.ByCategory))}
	for cat, list := range s.ByCategory {
		kept := make([]AvailableSlot, 0, len(list))
		for _, slot := range list {
			if slot.WorkWindowID == workWindowID && slot.Start.Equal(start) {
				continue
			}
			kept = append(kept, slot)
		}
		out.ByCategory[cat] = kept
	}
	return out
}

type Aggregator struct {
	q     appointment.Queries
	clock clock.Clock
	slot  time.Duration
	log   *zap.Logger
}

func NewAggregator(q appointment.Queries, clk clock.Clock, slotDuration time.Duration, logger *zap.Logger) *Aggregator {
	if slotDuration <= 0 {
		slotDuration = slots.DefaultDuration
	}
	return &Aggregator{
		q:     q,
		clock: clk,
		slot:  slotDuration,
		log:   logger.With(zap.String("component", "availability")),
	}
}

// Categories lists the specialties of active professionals.
func (a *Aggregator) Categories(ctx context.Context) ([]string, error) {
	cats, err := a.q.ListSpecialties(ctx)
	if err != nil {
		return nil, appointment.Infra("list categories", err)
	}
	return cats, nil
}

// AvailabilityFor returns up to max free future slots in category, ordered by start.
func (a *Aggregator) AvailabilityFor(ctx context.Context, category string, max int) ([]AvailableSlot, error) {
	if category == "" {
		return nil, &appointment.ValidationError{Field: "category", Reason: "is required"}
	}
	if max <= 0 {
		return nil, &appointment.ValidationError{Field: "limit", Reason: "must be > 0"}
	}
	return a.availabilityAt(ctx, a.clock.Now(), category, max)
}

// Snapshot computes availability for every category. Each call is a full re-scan.
func (a *Aggregator) Snapshot(ctx context.Context, max int) (Snapshot, error) {
	if max <= 0 {
		return Snapshot{}, &appointment.ValidationError{Field: "limit", Reason: "must be > 0"}
	}

	cats, err := a.Categories(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	now := a.clock.Now()
	snap := Snapshot{GeneratedAt: now, ByCategory: make(map[string][]AvailableSlot, len(cats))}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOut)

	for _, cat := range cats {
		g.Go(func() error {
			list, err := a.availabilityAt(gctx, now, cat, max)
			if err != nil {
				return err
			}
			mu.Lock()
			snap.ByCategory[cat] = list
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	a.log.Debug("availability snapshot computed",
		zap.Int("categories", len(cats)),
		zap.Int("slots", snap.Total()),
	)
	return snap, nil
}

func (a *Aggregator) availabilityAt(ctx context.Context, now time.Time, category string, max int) ([]AvailableSlot, error) {
	profs, err := a.q.ListActiveProfessionals(ctx, category)
	if err != nil {
		return nil, appointment.Infra("list professionals", err)
	}

	var (
		mu  sync.Mutex
		all []AvailableSlot
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOut)

	for _, prof := range profs {
		g.Go(func() error {
			found, err := a.forProfessional(gctx, now, prof, category, max)
			if err != nil {
				return err
			}
			mu.Lock()
			all = append(all, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sortSlots(all)
	if len(all) > max {
		all = all[:max]
	}
	if all == nil {
		all = []AvailableSlot{}
	}
	return all, nil
}

// forProfessional returns at most max of the professional's earliest free slots.
func (a *Aggregator) forProfessional(ctx context.Context, now time.Time, prof appointment.Professional, category string, max int) ([]AvailableSlot, error) {
	ids := []uuid.UUID{prof.ID}

	windows, err := a.q.ListOpenWorkWindows(ctx, ids, now)
	if err != nil {
		return nil, appointment.Infra("list work windows", err)
	}
	if len(windows) == 0 {
		return nil, nil
	}

	booked, err := a.q.ListBlockingAppointments(ctx, ids, now)
	if err != nil {
		return nil, appointment.Infra("list appointments", err)
	}

	loc := a.clock.Location()
	seen := make(map[int64]struct{})
	var out []AvailableSlot

	for _, w := range windows {
		taken := 0
		for s := range slots.InLocation(w.StartTime, w.EndTime, a.slot, loc) {
			if taken >= max {
				break
			}
			if s.Start.Before(now) {
				continue
			}
			if appointment.FirstOverlap(booked, appointment.DimensionProfessional, prof.ID, s.Start, s.End, nil) != nil {
				continue
			}
			// overlapping windows of one professional yield the same slot once
			key := s.Start.UnixNano()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			out = append(out, AvailableSlot{
				Start:            s.Start,
				End:              s.End,
				ProfessionalID:   prof.ID,
				ProfessionalName: prof.FullName(),
				WorkWindowID:     w.ID,
				Category:         category,
			})
			taken++
		}
	}

	sortSlots(out)
	if len(out) > max {
		out = out[:max]
	}
	return out, nil
}

func sortSlots(list []AvailableSlot) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].Start.Equal(list[j].Start) {
			return list[i].Start.Before(list[j].Start)
		}
		if list[i].ProfessionalName != list[j].ProfessionalName {
			return list[i].ProfessionalName < list[j].ProfessionalName
		}
		return list[i].ProfessionalID.String() < list[j].ProfessionalID.String()
	})
}
