package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// serializationFailure is SQLSTATE 40001, raised when a SERIALIZABLE
// transaction loses a race against a concurrent writer.
const serializationFailure = "40001"

// dbtx is satisfied by both the pool and a transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pgQueries
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{
		pgQueries: pgQueries{db: pool},
		pool:      pool,
	}
}

// InTx runs fn inside a SERIALIZABLE transaction. A serialization failure at
// any point, commit included, is reported as a stale slot conflict.
func (r *PgRepository) InTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, pgQueries{db: tx}); err != nil {
		return mapTxError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapTxError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

func mapTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == serializationFailure {
		return &ConflictError{Kind: ConflictStaleSlot}
	}
	return err
}

type pgQueries struct {
	db dbtx
}

// Helpers

const (
	patientColumns      = `id, names, surnames, document_type, document_id, email, phone, created_at, updated_at`
	professionalColumns = `id, names, surnames, specialty, active, created_at, updated_at`
	windowColumns       = `id, professional_id, unit_id, start_time, end_time, state, created_at, updated_at`
	appointmentColumns  = `id, patient_id, professional_id, work_window_id, unit_id, start_time, end_time, status, reason, channel, created_at, updated_at`
	historyColumns      = `id, appointment_id, old_status, new_status, old_start_time, new_start_time, old_end_time, new_end_time, reason, changed_at`
)

func notFound(err error, kind EntityKind, id uuid.UUID) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return &NotFoundError{Kind: kind, ID: id}
	}
	return err
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID,
		&p.Names,
		&p.Surnames,
		&p.DocumentType,
		&p.DocumentID,
		&p.Email,
		&p.Phone,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanProfessional(row pgx.Row) (*Professional, error) {
	var p Professional
	err := row.Scan(
		&p.ID,
		&p.Names,
		&p.Surnames,
		&p.Specialty,
		&p.Active,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanWorkWindow(row pgx.Row) (*WorkWindow, error) {
	var w WorkWindow
	err := row.Scan(
		&w.ID,
		&w.ProfessionalID,
		&w.UnitID,
		&w.StartTime,
		&w.EndTime,
		&w.State,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.ProfessionalID,
		&a.WorkWindowID,
		&a.UnitID,
		&a.StartTime,
		&a.EndTime,
		&a.Status,
		&a.Reason,
		&a.Channel,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanHistory(row pgx.Row) (*History, error) {
	var h History
	err := row.Scan(
		&h.ID,
		&h.AppointmentID,
		&h.OldStatus,
		&h.NewStatus,
		&h.OldStartTime,
		&h.NewStartTime,
		&h.OldEndTime,
		&h.NewEndTime,
		&h.Reason,
		&h.ChangedAt,
	)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// collect drains rows through scan.
func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	var result []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Interface methods

func (q pgQueries) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := q.db.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = $1`, id)
	p, err := scanPatient(row)
	if err != nil {
		return nil, notFound(err, KindPatient, id)
	}
	return p, nil
}

func (q pgQueries) GetProfessionalByID(ctx context.Context, id uuid.UUID) (*Professional, error) {
	row := q.db.QueryRow(ctx, `SELECT `+professionalColumns+` FROM professionals WHERE id = $1`, id)
	p, err := scanProfessional(row)
	if err != nil {
		return nil, notFound(err, KindProfessional, id)
	}
	return p, nil
}

func (q pgQueries) ListActiveProfessionals(ctx context.Context, specialty string) ([]Professional, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+professionalColumns+`
		FROM professionals
		WHERE active AND ($1 = '' OR specialty = $1)
		ORDER BY surnames, id
	`, specialty)
	if err != nil {
		return nil, fmt.Errorf("list professionals: %w", err)
	}
	return collect(rows, scanProfessional)
}

func (q pgQueries) ListSpecialties(ctx context.Context) ([]string, error) {
	rows, err := q.db.Query(ctx, `
		SELECT DISTINCT specialty
		FROM professionals
		WHERE active AND specialty <> ''
		ORDER BY specialty
	`)
	if err != nil {
		return nil, fmt.Errorf("list specialties: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (q pgQueries) GetWorkWindowByID(ctx context.Context, id uuid.UUID) (*WorkWindow, error) {
	row := q.db.QueryRow(ctx, `SELECT `+windowColumns+` FROM work_windows WHERE id = $1`, id)
	w, err := scanWorkWindow(row)
	if err != nil {
		return nil, notFound(err, KindWorkWindow, id)
	}
	return w, nil
}

func (q pgQueries) ListOpenWorkWindows(ctx context.Context, professionalIDs []uuid.UUID, endingAfter time.Time) ([]WorkWindow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+windowColumns+`
		FROM work_windows
		WHERE professional_id = ANY($1)
		  AND state = 'open'
		  AND end_time > $2
		ORDER BY start_time
	`, professionalIDs, endingAfter)
	if err != nil {
		return nil, fmt.Errorf("list open work windows: %w", err)
	}
	return collect(rows, scanWorkWindow)
}

func (q pgQueries) CloseElapsedWorkWindows(ctx context.Context, now time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE work_windows
		SET state = 'closed',
		    updated_at = now()
		WHERE state = 'open'
		  AND end_time <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("close elapsed work windows: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (q pgQueries) GetDefaultUnit(ctx context.Context) (*CareUnit, error) {
	var u CareUnit
	err := q.db.QueryRow(ctx, `
		SELECT id, name, active, created_at
		FROM care_units
		WHERE active
		ORDER BY created_at, id
		LIMIT 1
	`).Scan(&u.ID, &u.Name, &u.Active, &u.CreatedAt)
	if err != nil {
		return nil, notFound(err, KindCareUnit, uuid.Nil)
	}
	return &u, nil
}

func (q pgQueries) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := q.db.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	a, err := scanAppointment(row)
	if err != nil {
		return nil, notFound(err, KindAppointment, id)
	}
	return a, nil
}

func (q pgQueries) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		  AND status NOT IN ('cancelled', 'no_show')
		ORDER BY start_time
	`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list patient appointments: %w", err)
	}
	return collect(rows, scanAppointment)
}

func (q pgQueries) ListBlockingAppointments(ctx context.Context, professionalIDs []uuid.UUID, from time.Time) ([]Appointment, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE professional_id = ANY($1)
		  AND status NOT IN ('cancelled', 'no_show')
		  AND end_time > $2
		ORDER BY start_time
	`, professionalIDs, from)
	if err != nil {
		return nil, fmt.Errorf("list professional appointments: %w", err)
	}
	return collect(rows, scanAppointment)
}

func (q pgQueries) FindOverlapping(ctx context.Context, dim Dimension, subjectID uuid.UUID, start, end time.Time, exclude *uuid.UUID) (*Appointment, error) {
	column := "professional_id"
	if dim == DimensionPatient {
		column = "patient_id"
	}

	row := q.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE `+column+` = $1
		  AND status NOT IN ('cancelled', 'no_show')
		  AND start_time < $3
		  AND $2 < end_time
		  AND ($4::uuid IS NULL OR id <> $4)
		ORDER BY start_time
		LIMIT 1
	`, subjectID, start, end, exclude)

	a, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find overlapping %s appointment: %w", dim, err)
	}
	return a, nil
}

func (q pgQueries) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := q.db.QueryRow(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.PatientID, a.ProfessionalID, a.WorkWindowID, a.UnitID,
		a.StartTime, a.EndTime, a.Status, a.Reason, a.Channel)

	created, err := scanAppointment(row)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	*a = *created
	return nil
}

func (q pgQueries) UpdateAppointment(ctx context.Context, a *Appointment) error {
	row := q.db.QueryRow(ctx, `
		UPDATE appointments
		SET professional_id = $2,
		    work_window_id = $3,
		    unit_id = $4,
		    start_time = $5,
		    end_time = $6,
		    status = $7,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns,
		a.ID, a.ProfessionalID, a.WorkWindowID, a.UnitID, a.StartTime, a.EndTime, a.Status)

	updated, err := scanAppointment(row)
	if err != nil {
		return notFound(err, KindAppointment, a.ID)
	}
	*a = *updated
	return nil
}

func (q pgQueries) InsertHistory(ctx context.Context, h *History) error {
	err := q.db.QueryRow(ctx, `
		INSERT INTO appointment_history
			(appointment_id, old_status, new_status, old_start_time, new_start_time, old_end_time, new_end_time, reason, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, now()))
		RETURNING id, changed_at
	`, h.AppointmentID, h.OldStatus, h.NewStatus, h.OldStartTime, h.NewStartTime,
		h.OldEndTime, h.NewEndTime, h.Reason, nullableTime(h.ChangedAt)).Scan(&h.ID, &h.ChangedAt)
	if err != nil {
		return fmt.Errorf("insert appointment history: %w", err)
	}
	return nil
}

func (q pgQueries) ListHistory(ctx context.Context, appointmentID uuid.UUID) ([]History, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+historyColumns+`
		FROM appointment_history
		WHERE appointment_id = $1
		ORDER BY changed_at, id
	`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("list appointment history: %w", err)
	}
	return collect(rows, scanHistory)
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
