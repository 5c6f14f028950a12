package appointment

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps every record in process memory. Transactions run one
// at a time against a private copy that replaces the live state only when fn
// succeeds, which makes them serializable and all-or-nothing.
type MemoryRepository struct {
	mu    sync.Mutex
	state *memState
	fail  func(op string) error
}

type memState struct {
	patients      map[uuid.UUID]Patient
	professionals map[uuid.UUID]Professional
	units         []CareUnit
	windows       map[uuid.UUID]WorkWindow
	appointments  map[uuid.UUID]Appointment
	history       []History
	nextHistoryID int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		state: &memState{
			patients:      make(map[uuid.UUID]Patient),
			professionals: make(map[uuid.UUID]Professional),
			windows:       make(map[uuid.UUID]WorkWindow),
			appointments:  make(map[uuid.UUID]Appointment),
		},
	}
}

func (s *memState) clone() *memState {
	return &memState{
		patients:      maps.Clone(s.patients),
		professionals: maps.Clone(s.professionals),
		units:         slices.Clone(s.units),
		windows:       maps.Clone(s.windows),
		appointments:  maps.Clone(s.appointments),
		history:       slices.Clone(s.history),
		nextHistoryID: s.nextHistoryID,
	}
}

// FailOn installs a hook consulted before every write; a non-nil return
// aborts that write. Used to exercise rollback paths.
func (r *MemoryRepository) FailOn(hook func(op string) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = hook
}

func (r *MemoryRepository) queries() memQueries {
	return memQueries{s: r.state, fail: r.fail}
}

func (r *MemoryRepository) InTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := r.state.clone()
	if err := fn(ctx, memQueries{s: work, fail: r.fail}); err != nil {
		return err
	}
	r.state = work
	return nil
}

// Seeding helpers. Zero ids and timestamps are filled in.

func (r *MemoryRepository) AddPatient(p Patient) Patient {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	stamp(&p.CreatedAt, &p.UpdatedAt)
	r.state.patients[p.ID] = p
	return p
}

func (r *MemoryRepository) AddProfessional(p Professional) Professional {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	stamp(&p.CreatedAt, &p.UpdatedAt)
	r.state.professionals[p.ID] = p
	return p
}

func (r *MemoryRepository) AddUnit(u CareUnit) CareUnit {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	r.state.units = append(r.state.units, u)
	return u
}

func (r *MemoryRepository) AddWorkWindow(w WorkWindow) WorkWindow {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.State == "" {
		w.State = WindowOpen
	}
	stamp(&w.CreatedAt, &w.UpdatedAt)
	r.state.windows[w.ID] = w
	return w
}

// AddAppointment stores a without validation or history.
func (r *MemoryRepository) AddAppointment(a Appointment) Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	stamp(&a.CreatedAt, &a.UpdatedAt)
	r.state.appointments[a.ID] = a
	return a
}

func stamp(created, updated *time.Time) {
	now := time.Now()
	if created.IsZero() {
		*created = now
	}
	if updated.IsZero() {
		*updated = *created
	}
}

// Queries outside a transaction see the last committed state.

func (r *MemoryRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queries().GetPatientByID(ctx, id)
}

func (r *MemoryRepository) GetProfessionalByID(ctx context.Context, id uuid.UUID) (*Professional, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queries().GetProfessionalByID(ctx, id)
}

func (r *MemoryRepository) ListActiveProfessionals(ctx context.Context, specialty string) ([]Professional, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queries().ListActiveProfessionals(ctx, specialty)
}

func (r *MemoryRepository) ListSpecialties(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queries().ListSpecialties(ctx)
}

func (r *MemoryRepository) GetWorkWindowByID(ctx context.Context, id uuid.UUID) (*WorkWindow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queries().GetWorkWindowByID(ctx, id)
}

func (r *MemoryRepository) ListOpenWorkWindows(ctx context.Context, professionalIDs []uuid.UUID, endingAfter time.Time) ([]WorkWindow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queries().ListOpenWorkWindows(ctx, professionalIDs, endingAfter)
}

func (r *MemoryRepository) CloseElapsedWorkWindows(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queries().CloseElapsedWorkWindows(ctx, now)
}

func (r *MemoryRepository) GetDefaultUnit(ctx context.Context) (*CareUnit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queries().GetDefaultUnit(ctx)
}

func (r *MemoryRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queries().GetAppointmentByID(ctx, id)
}

func (r *MemoryRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queries().ListAppointmentsByPatient(ctx, patientID)
}

func (r *MemoryRepository) ListBlockingAppointments(ctx context.Context, professionalIDs []uuid.UUID, from time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queries().ListBlockingAppointments(ctx, professionalIDs, from)
}

func (r *MemoryRepository) FindOverlapping(ctx context.Context, dim Dimension, subjectID uuid.UUID, start, end time.Time, exclude *uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queries().FindOverlapping(ctx, dim, subjectID, start, end, exclude)
}

func (r *MemoryRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queries().CreateAppointment(ctx, a)
}

func (r *MemoryRepository) UpdateAppointment(ctx context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queries().UpdateAppointment(ctx, a)
}

func (r *MemoryRepository) InsertHistory(ctx context.Context, h *History) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queries().InsertHistory(ctx, h)
}

func (r *MemoryRepository) ListHistory(ctx context.Context, appointmentID uuid.UUID) ([]History, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queries().ListHistory(ctx, appointmentID)
}

// memQueries operates on one state without locking; the owner holds the mutex.
type memQueries struct {
	s    *memState
	fail func(op string) error
}

func (q memQueries) check(op string) error {
	if q.fail == nil {
		return nil
	}
	return q.fail(op)
}

func (q memQueries) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := q.s.patients[id]
	if !ok {
		return nil, &NotFoundError{Kind: KindPatient, ID: id}
	}
	return &p, nil
}

func (q memQueries) GetProfessionalByID(_ context.Context, id uuid.UUID) (*Professional, error) {
	p, ok := q.s.professionals[id]
	if !ok {
		return nil, &NotFoundError{Kind: KindProfessional, ID: id}
	}
	return &p, nil
}

func (q memQueries) ListActiveProfessionals(_ context.Context, specialty string) ([]Professional, error) {
	var out []Professional
	for _, p := range q.s.professionals {
		if p.Active && (specialty == "" || p.Specialty == specialty) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Surnames != out[j].Surnames {
			return out[i].Surnames < out[j].Surnames
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (q memQueries) ListSpecialties(_ context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	for _, p := range q.s.professionals {
		if p.Active && p.Specialty != "" {
			seen[p.Specialty] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(seen)), nil
}

func (q memQueries) GetWorkWindowByID(_ context.Context, id uuid.UUID) (*WorkWindow, error) {
	w, ok := q.s.windows[id]
	if !ok {
		return nil, &NotFoundError{Kind: KindWorkWindow, ID: id}
	}
	return &w, nil
}

func (q memQueries) ListOpenWorkWindows(_ context.Context, professionalIDs []uuid.UUID, endingAfter time.Time) ([]WorkWindow, error) {
	var out []WorkWindow
	for _, w := range q.s.windows {
		if w.State != WindowOpen || !w.EndTime.After(endingAfter) {
			continue
		}
		if !slices.Contains(professionalIDs, w.ProfessionalID) {
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (q memQueries) CloseElapsedWorkWindows(_ context.Context, now time.Time) (int64, error) {
	if err := q.check("CloseElapsedWorkWindows"); err != nil {
		return 0, err
	}
	var n int64
	for id, w := range q.s.windows {
		if w.State == WindowOpen && !w.EndTime.After(now) {
			w.State = WindowClosed
			w.UpdatedAt = now
			q.s.windows[id] = w
			n++
		}
	}
	return n, nil
}

func (q memQueries) GetDefaultUnit(_ context.Context) (*CareUnit, error) {
	var found *CareUnit
	for i := range q.s.units {
		u := q.s.units[i]
		if !u.Active {
			continue
		}
		if found == nil || u.CreatedAt.Before(found.CreatedAt) {
			found = &u
		}
	}
	if found == nil {
		return nil, &NotFoundError{Kind: KindCareUnit}
	}
	return found, nil
}

func (q memQueries) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := q.s.appointments[id]
	if !ok {
		return nil, &NotFoundError{Kind: KindAppointment, ID: id}
	}
	return &a, nil
}

func (q memQueries) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID) ([]Appointment, error) {
	var out []Appointment
	for _, a := range q.s.appointments {
		if a.PatientID == patientID && a.Status.Blocking() {
			out = append(out, a)
		}
	}
	sortByStart(out)
	return out, nil
}

func (q memQueries) ListBlockingAppointments(_ context.Context, professionalIDs []uuid.UUID, from time.Time) ([]Appointment, error) {
	var out []Appointment
	for _, a := range q.s.appointments {
		if a.Status.Blocking() && a.EndTime.After(from) && slices.Contains(professionalIDs, a.ProfessionalID) {
			out = append(out, a)
		}
	}
	sortByStart(out)
	return out, nil
}

func (q memQueries) FindOverlapping(_ context.Context, dim Dimension, subjectID uuid.UUID, start, end time.Time, exclude *uuid.UUID) (*Appointment, error) {
	all := slices.Collect(maps.Values(q.s.appointments))
	return FirstOverlap(all, dim, subjectID, start, end, exclude), nil
}

func (q memQueries) CreateAppointment(_ context.Context, a *Appointment) error {
	if err := q.check("CreateAppointment"); err != nil {
		return err
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	stamp(&a.CreatedAt, &a.UpdatedAt)
	q.s.appointments[a.ID] = *a
	return nil
}

func (q memQueries) UpdateAppointment(_ context.Context, a *Appointment) error {
	if err := q.check("UpdateAppointment"); err != nil {
		return err
	}
	if _, ok := q.s.appointments[a.ID]; !ok {
		return &NotFoundError{Kind: KindAppointment, ID: a.ID}
	}
	a.UpdatedAt = time.Now()
	q.s.appointments[a.ID] = *a
	return nil
}

func (q memQueries) InsertHistory(_ context.Context, h *History) error {
	if err := q.check("InsertHistory"); err != nil {
		return err
	}
	q.s.nextHistoryID++
	h.ID = q.s.nextHistoryID
	if h.ChangedAt.IsZero() {
		h.ChangedAt = time.Now()
	}
	q.s.history = append(q.s.history, *h)
	return nil
}

func (q memQueries) ListHistory(_ context.Context, appointmentID uuid.UUID) ([]History, error) {
	var out []History
	for _, h := range q.s.history {
		if h.AppointmentID == appointmentID {
			out = append(out, h)
		}
	}
	return out, nil
}

func sortByStart(list []Appointment) {
	sort.Slice(list, func(i, j int) bool { return list[i].StartTime.Before(list[j].StartTime) })
}
