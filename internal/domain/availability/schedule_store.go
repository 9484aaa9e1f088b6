package availability

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ScheduleStore owns the weekly recurring schedule of every doctor.
// Mutators return the updated snapshot so callers never keep their own copy.
type ScheduleStore struct {
	repo      ScheduleRepository
	publisher EventPublisher
	logger    zerolog.Logger
}

func NewScheduleStore(repo ScheduleRepository, logger zerolog.Logger) *ScheduleStore {
	return &ScheduleStore{repo: repo, publisher: nopPublisher{}, logger: logger}
}

// SetPublisher wires change notifications. A nil publisher disables them.
func (s *ScheduleStore) SetPublisher(p EventPublisher) {
	if p == nil {
		p = nopPublisher{}
	}
	s.publisher = p
}

// GetWeeklySchedule always returns seven entries. Weekdays without rows
// come back disabled with no ranges.
func (s *ScheduleStore) GetWeeklySchedule(ctx context.Context, doctorID uuid.UUID) (*WeeklySchedule, error) {
	stored, err := s.repo.GetWeekly(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load weekly schedule: %w", err)
	}
	ws := NewWeeklySchedule(doctorID)
	if stored == nil {
		return ws, nil
	}
	for _, wd := range AllWeekdays() {
		day := stored.Days[wd]
		ws.Days[wd].Enabled = day.Enabled
		if len(day.TimeRanges) > 0 {
			ranges := make([]TimeRange, len(day.TimeRanges))
			copy(ranges, day.TimeRanges)
			sortRanges(ranges)
			ws.Days[wd].TimeRanges = ranges
		}
	}
	return ws, nil
}

// UpsertTimeRange replaces the range with r.ID, or appends r under a new id
// when r.ID is nil.
func (s *ScheduleStore) UpsertTimeRange(ctx context.Context, doctorID uuid.UUID, weekday Weekday, r TimeRange) (*WeeklySchedule, error) {
	if err := validateScheduleKey(doctorID, weekday); err != nil {
		return nil, err
	}
	if err := s.upsert(ctx, doctorID, weekday, &r); err != nil {
		return nil, err
	}
	s.logger.Debug().
		Str("doctor_id", doctorID.String()).
		Str("weekday", weekday.String()).
		Str("range_id", r.ID.String()).
		Msg("time range saved")
	s.publish(ctx, doctorID, "schedule.range_saved", r)
	return s.GetWeeklySchedule(ctx, doctorID)
}

// RemoveTimeRange is idempotent: removing an unknown range is not an error.
func (s *ScheduleStore) RemoveTimeRange(ctx context.Context, doctorID uuid.UUID, weekday Weekday, rangeID uuid.UUID) (*WeeklySchedule, error) {
	if err := validateScheduleKey(doctorID, weekday); err != nil {
		return nil, err
	}
	if err := s.repo.DeleteRange(ctx, doctorID, weekday, rangeID); err != nil {
		return nil, fmt.Errorf("delete time range: %w", err)
	}
	s.publish(ctx, doctorID, "schedule.range_removed", map[string]string{"range_id": rangeID.String()})
	return s.GetWeeklySchedule(ctx, doctorID)
}

// SetWeekdayEnabled toggles a whole weekday without touching its ranges.
func (s *ScheduleStore) SetWeekdayEnabled(ctx context.Context, doctorID uuid.UUID, weekday Weekday, enabled bool) (*WeeklySchedule, error) {
	if err := validateScheduleKey(doctorID, weekday); err != nil {
		return nil, err
	}
	if err := s.repo.SetEnabled(ctx, doctorID, weekday, enabled); err != nil {
		return nil, fmt.Errorf("set weekday enabled: %w", err)
	}
	s.publish(ctx, doctorID, "schedule.weekday_toggled", map[string]interface{}{
		"weekday": weekday, "enabled": enabled,
	})
	return s.GetWeeklySchedule(ctx, doctorID)
}

// SaveWeeklySchedule replaces the listed weekdays with the given state. A
// weekday listed twice only applies its first entry. Every flag, upsert and removal is its own unit: failures are collected
// and earlier successes stay in place.
func (s *ScheduleStore) SaveWeeklySchedule(ctx context.Context, doctorID uuid.UUID, days []WeekdaySchedule) (*BatchResult, error) {
	if doctorID == uuid.Nil {
		return nil, &ValidationError{Field: "doctor_id", Message: "doctor_id is required"}
	}
	current, err := s.GetWeeklySchedule(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{}
	seen := make(map[Weekday]bool, len(days))
	for _, day := range days {
		wd := day.Weekday
		if !wd.Valid() {
			result.fail(fmt.Sprintf("weekday %d", int(wd)), &ValidationError{Field: "weekday", Message: "unknown weekday"})
			continue
		}
		// a second entry would diff against the snapshot and undo the first
		if seen[wd] {
			result.fail(wd.String(), &ValidationError{Field: "weekday", Message: fmt.Sprintf("%s listed more than once", wd)})
			continue
		}
		seen[wd] = true

		if err := s.repo.SetEnabled(ctx, doctorID, wd, day.Enabled); err != nil {
			result.fail(wd.String()+"/enabled", err)
		} else {
			result.ok()
		}

		keep := make(map[uuid.UUID]bool, len(day.TimeRanges))
		for i := range day.TimeRanges {
			r := day.TimeRanges[i]
			unit := fmt.Sprintf("%s/range[%d]", wd, i)
			if err := s.upsert(ctx, doctorID, wd, &r); err != nil {
				result.fail(unit, err)
				if r.ID != uuid.Nil {
					// a failed update must not cascade into a delete
					keep[r.ID] = true
				}
				continue
			}
			keep[r.ID] = true
			result.ok()
		}

		for _, existing := range current.Days[wd].TimeRanges {
			if keep[existing.ID] {
				continue
			}
			unit := fmt.Sprintf("%s/remove/%s", wd, existing.ID)
			if err := s.repo.DeleteRange(ctx, doctorID, wd, existing.ID); err != nil {
				result.fail(unit, err)
				continue
			}
			result.ok()
		}
	}

	if result.Failed > 0 {
		s.logger.Warn().
			Str("doctor_id", doctorID.String()).
			Int("succeeded", result.Succeeded).
			Int("failed", result.Failed).
			Msg("weekly schedule saved with failures")
	}
	if result.Succeeded > 0 {
		s.publish(ctx, doctorID, "schedule.saved", result)
	}
	return result, nil
}

func (s *ScheduleStore) upsert(ctx context.Context, doctorID uuid.UUID, weekday Weekday, r *TimeRange) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.ID == uuid.Nil {
		if err := s.repo.CreateRange(ctx, doctorID, weekday, r); err != nil {
			return fmt.Errorf("create time range: %w", err)
		}
		return nil
	}
	if err := s.repo.UpdateRange(ctx, doctorID, weekday, r); err != nil {
		if IsNotFound(err) {
			return err
		}
		return fmt.Errorf("update time range: %w", err)
	}
	return nil
}

func (s *ScheduleStore) publish(ctx context.Context, doctorID uuid.UUID, source string, payload interface{}) {
	evt := newEvent(EventAvailabilityChanged, doctorID, source, payload)
	if err := s.publisher.PublishChange(ctx, evt); err != nil {
		s.logger.Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("publish schedule change")
	}
}

func validateScheduleKey(doctorID uuid.UUID, weekday Weekday) error {
	if doctorID == uuid.Nil {
		return &ValidationError{Field: "doctor_id", Message: "doctor_id is required"}
	}
	if !weekday.Valid() {
		return &ValidationError{Field: "weekday", Message: fmt.Sprintf("unknown weekday %d", int(weekday))}
	}
	return nil
}
