package availability

import (
	"context"

	"github.com/google/uuid"
)

// RejectionReason explains why a date or time is not bookable.
type RejectionReason string

const (
	ReasonPastDate       RejectionReason = "PAST_DATE"
	ReasonDayDisabled    RejectionReason = "DAY_DISABLED"
	ReasonDateBlocked    RejectionReason = "DATE_BLOCKED"
	ReasonTimeNotOffered RejectionReason = "TIME_NOT_OFFERED"
)

// Resolution is the outcome of resolving one doctor/date pair. Closed is
// set when a whole-date rule emptied the result; it is empty when the
// weekday's ranges were evaluated, even if none survived.
type Resolution struct {
	Date   Date            `json:"date"`
	Slots  []ResolvedSlot  `json:"slots"`
	Closed RejectionReason `json:"closed,omitempty"`
}

// Offers reports whether t is one of the resolved start times.
func (r Resolution) Offers(t TimeOfDay) bool {
	for _, s := range r.Slots {
		if s.StartTime == t {
			return true
		}
	}
	return false
}

func closed(date Date, reason RejectionReason) Resolution {
	return Resolution{Date: date, Slots: []ResolvedSlot{}, Closed: reason}
}

// Resolve computes the bookable start times for date from a weekly
// schedule and that doctor's exceptions. It has no side effects and never
// fails.
//
// Rules, in order: past dates are closed; a disabled weekday is closed; a
// full-day BLOCK closes the date and outranks any RELEASE; each partial
// BLOCK drops every active range it overlaps (ranges are never split);
// surviving range starts are the slots, ascending, with equal starts
// collapsed. RELEASE exceptions do not add availability.
func Resolve(schedule *WeeklySchedule, exceptions []*Exception, date, today Date) Resolution {
	if date.Before(today) {
		return closed(date, ReasonPastDate)
	}
	if schedule == nil {
		return closed(date, ReasonDayDisabled)
	}

	day := schedule.Days[date.Weekday()]
	if !day.Enabled {
		return closed(date, ReasonDayDisabled)
	}

	active := make([]TimeRange, 0, len(day.TimeRanges))
	for _, r := range day.TimeRanges {
		if r.Active {
			active = append(active, r)
		}
	}
	sortRanges(active)

	var blocks []*Exception
	for _, e := range exceptions {
		if e == nil || e.Date != date || e.Kind != ExceptionBlock {
			continue
		}
		if e.FullDay() {
			return closed(date, ReasonDateBlocked)
		}
		if e.Start != nil && e.End != nil {
			blocks = append(blocks, e)
		}
	}

	slots := make([]ResolvedSlot, 0, len(active))
	for _, r := range active {
		if blockedBy(r, blocks) {
			continue
		}
		if n := len(slots); n > 0 && slots[n-1].StartTime == r.Start {
			continue
		}
		slots = append(slots, ResolvedSlot{Date: date, StartTime: r.Start})
	}
	return Resolution{Date: date, Slots: slots}
}

func blockedBy(r TimeRange, blocks []*Exception) bool {
	for _, b := range blocks {
		if r.overlaps(*b.Start, *b.End) {
			return true
		}
	}
	return false
}

// Resolver reads the current store state and applies Resolve. It keeps no
// state between calls.
type Resolver struct {
	schedules  *ScheduleStore
	exceptions *ExceptionStore
	clock      Clock
}

func NewResolver(schedules *ScheduleStore, exceptions *ExceptionStore, clock Clock) *Resolver {
	return &Resolver{schedules: schedules, exceptions: exceptions, clock: clock}
}

// ResolveAvailableSlots returns the ordered bookable start times for a
// doctor on date. The only errors come from reading the stores.
func (r *Resolver) ResolveAvailableSlots(ctx context.Context, doctorID uuid.UUID, date Date) ([]ResolvedSlot, error) {
	res, err := r.Resolve(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	return res.Slots, nil
}

// Resolve is ResolveAvailableSlots with the closing reason attached.
func (r *Resolver) Resolve(ctx context.Context, doctorID uuid.UUID, date Date) (Resolution, error) {
	today := r.clock.Today()
	if date.Before(today) {
		return closed(date, ReasonPastDate), nil
	}
	schedule, err := r.schedules.GetWeeklySchedule(ctx, doctorID)
	if err != nil {
		return Resolution{}, err
	}
	if !schedule.Days[date.Weekday()].Enabled {
		return closed(date, ReasonDayDisabled), nil
	}
	exceptions, err := r.exceptions.ExceptionsOn(ctx, doctorID, date)
	if err != nil {
		return Resolution{}, err
	}
	return Resolve(schedule, exceptions, date, today), nil
}

// Today exposes the resolver's notion of the current local date.
func (r *Resolver) Today() Date {
	return r.clock.Today()
}
