package availability

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements every repository interface in process, guarded by
// a single RWMutex. It backs tests and the server's --memory mode.
type MemoryStore struct {
	mu         sync.RWMutex
	enabled    map[uuid.UUID]*[7]bool
	ranges     map[uuid.UUID]map[Weekday][]TimeRange
	exceptions map[uuid.UUID]*Exception
	bookings   map[uuid.UUID]*Booking
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		enabled:    make(map[uuid.UUID]*[7]bool),
		ranges:     make(map[uuid.UUID]map[Weekday][]TimeRange),
		exceptions: make(map[uuid.UUID]*Exception),
		bookings:   make(map[uuid.UUID]*Booking),
	}
}

// Schedules, Exceptions and Bookings expose the repository views over the
// shared state.
func (m *MemoryStore) Schedules() ScheduleRepository   { return memorySchedules{m} }
func (m *MemoryStore) Exceptions() ExceptionRepository { return memoryExceptions{m} }
func (m *MemoryStore) Bookings() BookingRepository     { return memoryBookings{m} }

type memorySchedules struct{ m *MemoryStore }

func (s memorySchedules) GetWeekly(_ context.Context, doctorID uuid.UUID) (*WeeklySchedule, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()

	ws := NewWeeklySchedule(doctorID)
	flags := s.m.enabled[doctorID]
	for _, wd := range AllWeekdays() {
		if flags != nil {
			ws.Days[wd].Enabled = flags[wd]
		}
		stored := s.m.ranges[doctorID][wd]
		ws.Days[wd].TimeRanges = append([]TimeRange{}, stored...)
	}
	return ws, nil
}

func (s memorySchedules) SetEnabled(_ context.Context, doctorID uuid.UUID, weekday Weekday, enabled bool) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	flags, ok := s.m.enabled[doctorID]
	if !ok {
		flags = &[7]bool{}
		s.m.enabled[doctorID] = flags
	}
	flags[weekday] = enabled
	return nil
}

func (s memorySchedules) CreateRange(_ context.Context, doctorID uuid.UUID, weekday Weekday, r *TimeRange) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	byDay, ok := s.m.ranges[doctorID]
	if !ok {
		byDay = make(map[Weekday][]TimeRange)
		s.m.ranges[doctorID] = byDay
	}
	byDay[weekday] = append(byDay[weekday], *r)
	return nil
}

func (s memorySchedules) UpdateRange(_ context.Context, doctorID uuid.UUID, weekday Weekday, r *TimeRange) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	day := s.m.ranges[doctorID][weekday]
	for i := range day {
		if day[i].ID == r.ID {
			day[i] = *r
			return nil
		}
	}
	return &NotFoundError{Resource: "time range", ID: r.ID.String()}
}

func (s memorySchedules) DeleteRange(_ context.Context, doctorID uuid.UUID, weekday Weekday, rangeID uuid.UUID) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	byDay := s.m.ranges[doctorID]
	if byDay == nil {
		return nil
	}
	day := byDay[weekday]
	kept := day[:0]
	for _, r := range day {
		if r.ID != rangeID {
			kept = append(kept, r)
		}
	}
	byDay[weekday] = kept
	return nil
}

type memoryExceptions struct{ m *MemoryStore }

func (s memoryExceptions) Create(_ context.Context, e *Exception) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	e.ID = uuid.New()
	e.CreatedAt = time.Now()
	cp := *e
	s.m.exceptions[e.ID] = &cp
	return nil
}

func (s memoryExceptions) Delete(_ context.Context, id uuid.UUID) (*Exception, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	e, ok := s.m.exceptions[id]
	if !ok {
		return nil, nil
	}
	delete(s.m.exceptions, id)
	return e, nil
}

func (s memoryExceptions) ListByDoctor(_ context.Context, doctorID uuid.UUID, window *DateRange) ([]*Exception, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()

	var result []*Exception
	for _, e := range s.m.exceptions {
		if e.DoctorID != doctorID {
			continue
		}
		if window != nil && !window.Contains(e.Date) {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	return result, nil
}

func (s memoryExceptions) ListByDate(ctx context.Context, doctorID uuid.UUID, date Date) ([]*Exception, error) {
	return s.ListByDoctor(ctx, doctorID, &DateRange{From: date, To: date})
}

type memoryBookings struct{ m *MemoryStore }

func (b memoryBookings) Create(_ context.Context, bk *Booking) error {
	b.m.mu.Lock()
	defer b.m.mu.Unlock()

	bk.ID = uuid.New()
	bk.CreatedAt = time.Now()
	bk.UpdatedAt = bk.CreatedAt
	cp := *bk
	b.m.bookings[bk.ID] = &cp
	return nil
}

func (b memoryBookings) GetByID(_ context.Context, id uuid.UUID) (*Booking, error) {
	b.m.mu.RLock()
	defer b.m.mu.RUnlock()

	bk, ok := b.m.bookings[id]
	if !ok {
		return nil, &NotFoundError{Resource: "booking", ID: id.String()}
	}
	cp := *bk
	return &cp, nil
}

func (b memoryBookings) UpdateStatus(_ context.Context, id uuid.UUID, status BookingStatus) error {
	b.m.mu.Lock()
	defer b.m.mu.Unlock()

	bk, ok := b.m.bookings[id]
	if !ok {
		return &NotFoundError{Resource: "booking", ID: id.String()}
	}
	bk.Status = status
	bk.UpdatedAt = time.Now()
	return nil
}

func (b memoryBookings) List(_ context.Context, filter BookingFilter, limit, offset int) ([]*Booking, int, error) {
	b.m.mu.RLock()
	defer b.m.mu.RUnlock()

	var matched []*Booking
	for _, bk := range b.m.bookings {
		if filter.DoctorID != uuid.Nil && bk.DoctorID != filter.DoctorID {
			continue
		}
		if filter.PatientID != uuid.Nil && bk.PatientID != filter.PatientID {
			continue
		}
		if !filter.Date.IsZero() && bk.Date != filter.Date {
			continue
		}
		if filter.Status != "" && bk.Status != filter.Status {
			continue
		}
		cp := *bk
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartsAt.Before(matched[j].StartsAt)
	})

	total := len(matched)
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return matched[offset:end], total, nil
}
