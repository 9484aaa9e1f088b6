package availability

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// Time and date columns are read back through to_char and written as text
// casts so the domain types never depend on pgtype encodings.

// =========== Schedule Repository ===========

type scheduleRepoPG struct{ pool *pgxpool.Pool }

func NewScheduleRepoPG(pool *pgxpool.Pool) ScheduleRepository { return &scheduleRepoPG{pool: pool} }

func (r *scheduleRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *scheduleRepoPG) GetWeekly(ctx context.Context, doctorID uuid.UUID) (*WeeklySchedule, error) {
	ws := NewWeeklySchedule(doctorID)

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT weekday, enabled FROM weekday_schedule WHERE doctor_id = $1`, doctorID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var wd int16
		var enabled bool
		if err := rows.Scan(&wd, &enabled); err != nil {
			rows.Close()
			return nil, err
		}
		if Weekday(wd).Valid() {
			ws.Days[wd].Enabled = enabled
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.conn(ctx).Query(ctx, `
		SELECT id, weekday, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'), active
		FROM schedule_time_range WHERE doctor_id = $1
		ORDER BY weekday, start_time, end_time`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			tr         TimeRange
			wd         int16
			start, end string
		)
		if err := rows.Scan(&tr.ID, &wd, &start, &end, &tr.Active); err != nil {
			return nil, err
		}
		if tr.Start, err = ParseTimeOfDay(start); err != nil {
			return nil, err
		}
		if tr.End, err = ParseTimeOfDay(end); err != nil {
			return nil, err
		}
		if Weekday(wd).Valid() {
			ws.Days[wd].TimeRanges = append(ws.Days[wd].TimeRanges, tr)
		}
	}
	return ws, rows.Err()
}

func (r *scheduleRepoPG) SetEnabled(ctx context.Context, doctorID uuid.UUID, weekday Weekday, enabled bool) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO weekday_schedule (doctor_id, weekday, enabled)
		VALUES ($1, $2, $3)
		ON CONFLICT (doctor_id, weekday) DO UPDATE SET enabled = EXCLUDED.enabled, updated_at = NOW()`,
		doctorID, int16(weekday), enabled)
	return err
}

func (r *scheduleRepoPG) CreateRange(ctx context.Context, doctorID uuid.UUID, weekday Weekday, tr *TimeRange) error {
	if tr.ID == uuid.Nil {
		tr.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO schedule_time_range (id, doctor_id, weekday, start_time, end_time, active)
		VALUES ($1, $2, $3, $4::time, $5::time, $6)`,
		tr.ID, doctorID, int16(weekday), tr.Start.String(), tr.End.String(), tr.Active)
	return err
}

func (r *scheduleRepoPG) UpdateRange(ctx context.Context, doctorID uuid.UUID, weekday Weekday, tr *TimeRange) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE schedule_time_range SET start_time = $4::time, end_time = $5::time, active = $6, updated_at = NOW()
		WHERE id = $1 AND doctor_id = $2 AND weekday = $3`,
		tr.ID, doctorID, int16(weekday), tr.Start.String(), tr.End.String(), tr.Active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Resource: "time range", ID: tr.ID.String()}
	}
	return nil
}

func (r *scheduleRepoPG) DeleteRange(ctx context.Context, doctorID uuid.UUID, weekday Weekday, rangeID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM schedule_time_range WHERE id = $1 AND doctor_id = $2 AND weekday = $3`,
		rangeID, doctorID, int16(weekday))
	return err
}

// =========== Exception Repository ===========

type exceptionRepoPG struct{ pool *pgxpool.Pool }

func NewExceptionRepoPG(pool *pgxpool.Pool) ExceptionRepository { return &exceptionRepoPG{pool: pool} }

func (r *exceptionRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const exceptionCols = `id, doctor_id, to_char(exception_date, 'YYYY-MM-DD'), kind,
	to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'), reason, created_at`

func (r *exceptionRepoPG) scanException(row pgx.Row) (*Exception, error) {
	var (
		e          Exception
		date, kind string
		start, end *string
	)
	if err := row.Scan(&e.ID, &e.DoctorID, &date, &kind, &start, &end, &e.Reason, &e.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if e.Date, err = ParseDate(date); err != nil {
		return nil, err
	}
	e.Kind = ExceptionKind(kind)
	if start != nil {
		t, err := ParseTimeOfDay(*start)
		if err != nil {
			return nil, err
		}
		e.Start = &t
	}
	if end != nil {
		t, err := ParseTimeOfDay(*end)
		if err != nil {
			return nil, err
		}
		e.End = &t
	}
	return &e, nil
}

func optionalTime(t *TimeOfDay) *string {
	if t == nil {
		return nil
	}
	s := t.String()
	return &s
}

func (r *exceptionRepoPG) Create(ctx context.Context, e *Exception) error {
	e.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO schedule_exception (id, doctor_id, exception_date, kind, start_time, end_time, reason)
		VALUES ($1, $2, $3::date, $4, $5::time, $6::time, $7)
		RETURNING created_at`,
		e.ID, e.DoctorID, e.Date.String(), string(e.Kind), optionalTime(e.Start), optionalTime(e.End), e.Reason,
	).Scan(&e.CreatedAt)
}

func (r *exceptionRepoPG) Delete(ctx context.Context, id uuid.UUID) (*Exception, error) {
	e, err := r.scanException(r.conn(ctx).QueryRow(ctx,
		`DELETE FROM schedule_exception WHERE id = $1 RETURNING `+exceptionCols, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (r *exceptionRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, window *DateRange) ([]*Exception, error) {
	query := `SELECT ` + exceptionCols + ` FROM schedule_exception WHERE doctor_id = $1`
	args := []interface{}{doctorID}
	idx := 2

	if window != nil && !window.From.IsZero() {
		query += fmt.Sprintf(` AND exception_date >= $%d::date`, idx)
		args = append(args, window.From.String())
		idx++
	}
	if window != nil && !window.To.IsZero() {
		query += fmt.Sprintf(` AND exception_date <= $%d::date`, idx)
		args = append(args, window.To.String())
	}
	query += ` ORDER BY exception_date, start_time NULLS FIRST, created_at`

	return r.list(ctx, query, args...)
}

func (r *exceptionRepoPG) ListByDate(ctx context.Context, doctorID uuid.UUID, date Date) ([]*Exception, error) {
	return r.list(ctx, `SELECT `+exceptionCols+` FROM schedule_exception
		WHERE doctor_id = $1 AND exception_date = $2::date
		ORDER BY start_time NULLS FIRST, created_at`, doctorID, date.String())
}

func (r *exceptionRepoPG) list(ctx context.Context, query string, args ...interface{}) ([]*Exception, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Exception
	for rows.Next() {
		e, err := r.scanException(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

// =========== Booking Repository ===========

type bookingRepoPG struct{ pool *pgxpool.Pool }

func NewBookingRepoPG(pool *pgxpool.Pool) BookingRepository { return &bookingRepoPG{pool: pool} }

func (r *bookingRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const bookingCols = `id, doctor_id, patient_id, to_char(booking_date, 'YYYY-MM-DD'),
	to_char(booking_time, 'HH24:MI'), starts_at, status, notes, created_at, updated_at`

func (r *bookingRepoPG) scanBooking(row pgx.Row) (*Booking, error) {
	var (
		b            Booking
		date, tm, st string
	)
	if err := row.Scan(&b.ID, &b.DoctorID, &b.PatientID, &date, &tm, &b.StartsAt, &st,
		&b.Notes, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if b.Date, err = ParseDate(date); err != nil {
		return nil, err
	}
	if b.Time, err = ParseTimeOfDay(tm); err != nil {
		return nil, err
	}
	b.Status = BookingStatus(st)
	return &b, nil
}

func (r *bookingRepoPG) Create(ctx context.Context, b *Booking) error {
	b.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO booking (id, doctor_id, patient_id, booking_date, booking_time, starts_at, status, notes)
		VALUES ($1, $2, $3, $4::date, $5::time, $6, $7, $8)
		RETURNING created_at, updated_at`,
		b.ID, b.DoctorID, b.PatientID, b.Date.String(), b.Time.String(), b.StartsAt, string(b.Status), b.Notes,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
}

func (r *bookingRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := r.scanBooking(r.conn(ctx).QueryRow(ctx, `SELECT `+bookingCols+` FROM booking WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Resource: "booking", ID: id.String()}
	}
	return b, err
}

func (r *bookingRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status BookingStatus) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE booking SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Resource: "booking", ID: id.String()}
	}
	return nil
}

func (r *bookingRepoPG) List(ctx context.Context, filter BookingFilter, limit, offset int) ([]*Booking, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if filter.DoctorID != uuid.Nil {
		where += fmt.Sprintf(` AND doctor_id = $%d`, idx)
		args = append(args, filter.DoctorID)
		idx++
	}
	if filter.PatientID != uuid.Nil {
		where += fmt.Sprintf(` AND patient_id = $%d`, idx)
		args = append(args, filter.PatientID)
		idx++
	}
	if !filter.Date.IsZero() {
		where += fmt.Sprintf(` AND booking_date = $%d::date`, idx)
		args = append(args, filter.Date.String())
		idx++
	}
	if filter.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, string(filter.Status))
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM booking`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + bookingCols + ` FROM booking` + where +
		fmt.Sprintf(` ORDER BY starts_at LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Booking
	for rows.Next() {
		b, err := r.scanBooking(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	return items, total, rows.Err()
}
