package availability

import (
	"context"

	"github.com/google/uuid"
)

// ScheduleRepository persists weekday flags and recurring time ranges.
type ScheduleRepository interface {
	// GetWeekly returns whatever rows exist. Missing weekdays are filled in
	// by the store, not the repository.
	GetWeekly(ctx context.Context, doctorID uuid.UUID) (*WeeklySchedule, error)
	SetEnabled(ctx context.Context, doctorID uuid.UUID, weekday Weekday, enabled bool) error
	CreateRange(ctx context.Context, doctorID uuid.UUID, weekday Weekday, r *TimeRange) error
	// UpdateRange returns a *NotFoundError when no row matches.
	UpdateRange(ctx context.Context, doctorID uuid.UUID, weekday Weekday, r *TimeRange) error
	DeleteRange(ctx context.Context, doctorID uuid.UUID, weekday Weekday, rangeID uuid.UUID) error
}

type ExceptionRepository interface {
	Create(ctx context.Context, e *Exception) error
	// Delete returns the removed row, or nil when nothing matched.
	Delete(ctx context.Context, id uuid.UUID) (*Exception, error)
	// ListByDoctor returns all exceptions when window is nil.
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, window *DateRange) ([]*Exception, error)
	ListByDate(ctx context.Context, doctorID uuid.UUID, date Date) ([]*Exception, error)
}

type BookingRepository interface {
	Create(ctx context.Context, b *Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status BookingStatus) error
	List(ctx context.Context, filter BookingFilter, limit, offset int) ([]*Booking, int, error)
}
