package availability

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MaxBlockSpanDays is the longest inclusive span BlockDateRange accepts.
const MaxBlockSpanDays = 366

type ExceptionStore struct {
	repo      ExceptionRepository
	publisher EventPublisher
	logger    zerolog.Logger
}

func NewExceptionStore(repo ExceptionRepository, logger zerolog.Logger) *ExceptionStore {
	return &ExceptionStore{repo: repo, publisher: nopPublisher{}, logger: logger}
}

func (s *ExceptionStore) SetPublisher(p EventPublisher) {
	if p == nil {
		p = nopPublisher{}
	}
	s.publisher = p
}

// ListExceptions returns the doctor's exceptions ordered by date and start.
// A nil window returns everything.
func (s *ExceptionStore) ListExceptions(ctx context.Context, doctorID uuid.UUID, window *DateRange) ([]*Exception, error) {
	items, err := s.repo.ListByDoctor(ctx, doctorID, window)
	if err != nil {
		return nil, fmt.Errorf("list exceptions: %w", err)
	}
	sortExceptions(items)
	return items, nil
}

// ExceptionsOn returns the exceptions that apply to a single date.
func (s *ExceptionStore) ExceptionsOn(ctx context.Context, doctorID uuid.UUID, date Date) ([]*Exception, error) {
	items, err := s.repo.ListByDate(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("list exceptions for %s: %w", date, err)
	}
	sortExceptions(items)
	return items, nil
}

// CreateException requires start and end to be both present (partial) or
// both absent (full day).
func (s *ExceptionStore) CreateException(ctx context.Context, in ExceptionInput) (*Exception, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	kind, _ := ParseExceptionKind(string(in.Kind))
	e := &Exception{
		DoctorID: in.DoctorID,
		Date:     in.Date,
		Kind:     kind,
		Start:    in.Start,
		End:      in.End,
		Reason:   in.Reason,
	}
	if err := s.repo.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("create exception: %w", err)
	}
	s.logger.Debug().
		Str("doctor_id", e.DoctorID.String()).
		Str("date", e.Date.String()).
		Str("kind", string(e.Kind)).
		Bool("full_day", e.FullDay()).
		Msg("exception created")
	s.publish(ctx, e.DoctorID, "exception.created", e)
	return e, nil
}

// DeleteException is idempotent.
func (s *ExceptionStore) DeleteException(ctx context.Context, id uuid.UUID) error {
	removed, err := s.repo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete exception: %w", err)
	}
	if removed != nil {
		s.publish(ctx, removed.DoctorID, "exception.deleted", removed)
	}
	return nil
}

// BlockDateRange creates one full-day BLOCK per date in [from, to]. Days are
// independent; a failure on one day leaves the others in place.
func (s *ExceptionStore) BlockDateRange(ctx context.Context, doctorID uuid.UUID, from, to Date, reason *string) (*BatchResult, error) {
	if doctorID == uuid.Nil {
		return nil, &ValidationError{Field: "doctor_id", Message: "doctor_id is required"}
	}
	if from.IsZero() || to.IsZero() {
		return nil, &ValidationError{Field: "date", Message: "start and end dates are required"}
	}
	if to.Before(from) {
		return nil, &ValidationError{Field: "date", Message: fmt.Sprintf("end date %s is before start date %s", to, from)}
	}
	if from.AddDays(MaxBlockSpanDays - 1).Before(to) {
		return nil, &ValidationError{Field: "date", Message: fmt.Sprintf("range may span at most %d days", MaxBlockSpanDays)}
	}

	result := &BatchResult{}
	for d := from; !d.After(to); d = d.AddDays(1) {
		e := &Exception{DoctorID: doctorID, Date: d, Kind: ExceptionBlock, Reason: reason}
		if err := s.repo.Create(ctx, e); err != nil {
			result.fail(d.String(), err)
			continue
		}
		result.ok()
	}

	if result.Failed > 0 {
		s.logger.Warn().
			Str("doctor_id", doctorID.String()).
			Str("from", from.String()).
			Str("to", to.String()).
			Int("failed", result.Failed).
			Msg("date range block incomplete")
	}
	if result.Succeeded > 0 {
		s.publish(ctx, doctorID, "exception.range_blocked", map[string]string{
			"from": from.String(), "to": to.String(),
		})
	}
	return result, nil
}

func (s *ExceptionStore) publish(ctx context.Context, doctorID uuid.UUID, source string, payload interface{}) {
	evt := newEvent(EventAvailabilityChanged, doctorID, source, payload)
	if err := s.publisher.PublishChange(ctx, evt); err != nil {
		s.logger.Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("publish exception change")
	}
}

func sortExceptions(items []*Exception) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if c := a.Date.Compare(b.Date); c != 0 {
			return c < 0
		}
		as, bs := TimeOfDay(-1), TimeOfDay(-1)
		if a.Start != nil {
			as = *a.Start
		}
		if b.Start != nil {
			bs = *b.Start
		}
		if as != bs {
			return as < bs
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}
