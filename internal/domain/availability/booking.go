package availability

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BookingService is the entry gate to the booking collaborator. It owns no
// booking state: every booking lives in the repository.
type BookingService struct {
	repo      BookingRepository
	validator *Validator
	clock     Clock
	publisher EventPublisher
	logger    zerolog.Logger
}

func NewBookingService(repo BookingRepository, validator *Validator, clock Clock, logger zerolog.Logger) *BookingService {
	return &BookingService{repo: repo, validator: validator, clock: clock, publisher: nopPublisher{}, logger: logger}
}

func (s *BookingService) SetPublisher(p EventPublisher) {
	if p == nil {
		p = nopPublisher{}
	}
	s.publisher = p
}

// Book re-validates the requested slot and, when it is still offered,
// creates a booking in status scheduled. A rejected request returns a nil
// booking, the verdict and a nil error.
func (s *BookingService) Book(ctx context.Context, req BookingRequest) (*Booking, Verdict, error) {
	if req.DoctorID == uuid.Nil {
		return nil, Verdict{}, &ValidationError{Field: "doctor_id", Message: "doctor_id is required"}
	}
	if req.PatientID == uuid.Nil {
		return nil, Verdict{}, &ValidationError{Field: "patient_id", Message: "patient_id is required"}
	}
	if req.Date.IsZero() {
		return nil, Verdict{}, &ValidationError{Field: "date", Message: "date is required"}
	}
	if req.Time == nil {
		return nil, Verdict{}, &ValidationError{Field: "time", Message: "time is required"}
	}

	verdict, err := s.validator.ValidateBookingRequest(ctx, req.DoctorID, req.Date, *req.Time)
	if err != nil {
		return nil, Verdict{}, err
	}
	if !verdict.Accepted {
		return nil, verdict, nil
	}

	b := &Booking{
		DoctorID:  req.DoctorID,
		PatientID: req.PatientID,
		Date:      req.Date,
		Time:      *req.Time,
		StartsAt:  req.Date.At(*req.Time, s.clock.Location()),
		Status:    StatusScheduled,
		Notes:     req.Notes,
	}
	if err := s.repo.Create(ctx, b); err != nil {
		return nil, verdict, fmt.Errorf("create booking: %w", err)
	}

	s.logger.Info().
		Str("booking_id", b.ID.String()).
		Str("doctor_id", b.DoctorID.String()).
		Time("starts_at", b.StartsAt).
		Msg("booking created")
	s.publish(ctx, EventBookingCreated, b)
	return b, verdict, nil
}

func (s *BookingService) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *BookingService) ListBookings(ctx context.Context, filter BookingFilter, limit, offset int) ([]*Booking, int, error) {
	return s.repo.List(ctx, filter, limit, offset)
}

// UpdateStatus moves a booking along its lifecycle. Terminal states
// (completed, cancelled, no-show) cannot be left.
func (s *BookingService) UpdateStatus(ctx context.Context, id uuid.UUID, next BookingStatus) (*Booking, error) {
	if _, err := ParseBookingStatus(string(next)); err != nil {
		return nil, err
	}
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status == next {
		return b, nil
	}
	if !b.Status.CanTransition(next) {
		return nil, &ValidationError{
			Field:   "status",
			Message: fmt.Sprintf("cannot move booking from %s to %s", b.Status, next),
		}
	}
	if err := s.repo.UpdateStatus(ctx, id, next); err != nil {
		return nil, fmt.Errorf("update booking status: %w", err)
	}
	if b, err = s.repo.GetByID(ctx, id); err != nil {
		return nil, fmt.Errorf("reload booking: %w", err)
	}
	s.publish(ctx, EventBookingUpdated, b)
	return b, nil
}

func (s *BookingService) publish(ctx context.Context, kind string, b *Booking) {
	evt := newEvent(kind, b.DoctorID, "booking", b)
	if err := s.publisher.PublishChange(ctx, evt); err != nil {
		s.logger.Warn().Err(err).Str("booking_id", b.ID.String()).Msg("publish booking change")
	}
}
