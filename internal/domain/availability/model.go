package availability

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Weekday is the closed set of days a recurring schedule is keyed by.
// Values line up with time.Weekday (Sunday = 0).
type Weekday int

const (
	Sunday Weekday = iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

var weekdayCodes = [7]string{"SUN", "MON", "TUE", "WED", "THU", "FRI", "SAT"}

var weekdayAliases = map[string]Weekday{
	"sun": Sunday, "sunday": Sunday,
	"mon": Monday, "monday": Monday,
	"tue": Tuesday, "tuesday": Tuesday,
	"wed": Wednesday, "wednesday": Wednesday,
	"thu": Thursday, "thursday": Thursday,
	"fri": Friday, "friday": Friday,
	"sat": Saturday, "saturday": Saturday,
}

// AllWeekdays lists the weekdays in schedule order.
func AllWeekdays() []Weekday {
	return []Weekday{Sunday, Monday, Tuesday, Wednesday, Thursday, Friday, Saturday}
}

// ParseWeekday accepts "MON", "monday" or "1".
func ParseWeekday(s string) (Weekday, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if wd, ok := weekdayAliases[key]; ok {
		return wd, nil
	}
	if n, err := strconv.Atoi(key); err == nil && n >= 0 && n <= 6 {
		return Weekday(n), nil
	}
	return 0, &ValidationError{Field: "weekday", Message: fmt.Sprintf("unknown weekday %q", s)}
}

func (w Weekday) Valid() bool { return w >= Sunday && w <= Saturday }

func (w Weekday) String() string {
	if !w.Valid() {
		return fmt.Sprintf("Weekday(%d)", int(w))
	}
	return weekdayCodes[w]
}

func (w Weekday) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.String())
}

func (w *Weekday) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("weekday must be a string or number")
		}
		s = strconv.Itoa(n)
	}
	wd, err := ParseWeekday(s)
	if err != nil {
		return err
	}
	*w = wd
	return nil
}

// TimeOfDay is a wall-clock time stored as minutes since midnight.
type TimeOfDay int

// EndOfDay is "24:00", usable only as the end of a range.
const EndOfDay TimeOfDay = 24 * 60

// ParseTimeOfDay accepts "HH:MM" and "HH:MM:SS". Seconds are discarded.
// "24:00" parses to EndOfDay.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	if s == "24:00" || s == "24:00:00" {
		return EndOfDay, nil
	}
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay(t.Hour()*60 + t.Minute()), nil
		}
	}
	return 0, &ValidationError{Field: "time", Message: fmt.Sprintf("invalid time of day %q, expected HH:MM", s)}
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("time of day must be a string")
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Date is a calendar date with no zone, interpreted in the clinic's
// local time.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "2006-01-02"

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, &ValidationError{Field: "date", Message: fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", s)}
	}
	return DateOf(t), nil
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) IsZero() bool { return d == Date{} }

// In returns midnight of d in loc.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) Weekday() Weekday {
	return Weekday(d.In(time.UTC).Weekday())
}

func (d Date) AddDays(n int) Date {
	return DateOf(d.In(time.UTC).AddDate(0, 0, n))
}

func (d Date) Compare(other Date) int {
	a, b := d.In(time.UTC), other.In(time.UTC)
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

func (d Date) Before(other Date) bool { return d.Compare(other) < 0 }
func (d Date) After(other Date) bool  { return d.Compare(other) > 0 }

// At combines the date and a time of day into an instant in loc.
func (d Date) At(t TimeOfDay, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, t.Hour(), t.Minute(), 0, 0, loc)
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date must be a string")
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DateRange is an inclusive window of dates. A zero From or To leaves that
// side open.
type DateRange struct {
	From Date
	To   Date
}

func (r DateRange) Contains(d Date) bool {
	if !r.From.IsZero() && d.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && d.After(r.To) {
		return false
	}
	return true
}

// TimeRange is one recurring offering window on a weekday.
type TimeRange struct {
	ID     uuid.UUID `json:"id"`
	Start  TimeOfDay `json:"start"`
	End    TimeOfDay `json:"end"`
	Active bool      `json:"active"`
}

func (r TimeRange) Validate() error {
	if r.Start < 0 || r.End > EndOfDay {
		return &ValidationError{Field: "time_range", Message: "time range must fall within one day"}
	}
	if r.Start >= r.End {
		return &ValidationError{Field: "time_range", Message: fmt.Sprintf("start %s must be before end %s", r.Start, r.End)}
	}
	return nil
}

// overlaps reports whether the half-open intervals [start,end) intersect.
func (r TimeRange) overlaps(start, end TimeOfDay) bool {
	return r.Start < end && start < r.End
}

// WeekdaySchedule is the recurring template for one weekday.
type WeekdaySchedule struct {
	Weekday    Weekday     `json:"weekday"`
	Enabled    bool        `json:"enabled"`
	TimeRanges []TimeRange `json:"time_ranges"`
}

// WeeklySchedule holds exactly one entry per weekday, indexed by Weekday.
type WeeklySchedule struct {
	DoctorID uuid.UUID          `json:"doctor_id"`
	Days     [7]WeekdaySchedule `json:"days"`
}

// NewWeeklySchedule returns the "fully unavailable" default.
func NewWeeklySchedule(doctorID uuid.UUID) *WeeklySchedule {
	ws := &WeeklySchedule{DoctorID: doctorID}
	for _, wd := range AllWeekdays() {
		ws.Days[wd] = WeekdaySchedule{Weekday: wd, TimeRanges: []TimeRange{}}
	}
	return ws
}

func (ws *WeeklySchedule) Day(wd Weekday) WeekdaySchedule {
	return ws.Days[wd]
}

// sortRanges orders ranges by start, then end, then id so reads are stable.
func sortRanges(ranges []TimeRange) {
	sort.SliceStable(ranges, func(i, j int) bool {
		a, b := ranges[i], ranges[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End < b.End
		}
		return a.ID.String() < b.ID.String()
	})
}

// ExceptionKind says whether an exception removes or adds availability.
type ExceptionKind string

const (
	ExceptionBlock   ExceptionKind = "BLOCK"
	ExceptionRelease ExceptionKind = "RELEASE"
)

func ParseExceptionKind(s string) (ExceptionKind, error) {
	switch ExceptionKind(strings.ToUpper(strings.TrimSpace(s))) {
	case ExceptionBlock:
		return ExceptionBlock, nil
	case ExceptionRelease:
		return ExceptionRelease, nil
	}
	return "", &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown exception kind %q", s)}
}

// Exception is a date-specific override of the weekly schedule. Start and
// End are both nil for a whole-day exception.
type Exception struct {
	ID        uuid.UUID     `json:"id"`
	DoctorID  uuid.UUID     `json:"doctor_id"`
	Date      Date          `json:"date"`
	Kind      ExceptionKind `json:"kind"`
	Start     *TimeOfDay    `json:"start,omitempty"`
	End       *TimeOfDay    `json:"end,omitempty"`
	Reason    *string       `json:"reason,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

func (e *Exception) FullDay() bool {
	return e.Start == nil && e.End == nil
}

// ExceptionInput is the request shape for CreateException.
type ExceptionInput struct {
	DoctorID uuid.UUID     `json:"doctor_id"`
	Date     Date          `json:"date"`
	Kind     ExceptionKind `json:"kind"`
	Start    *TimeOfDay    `json:"start,omitempty"`
	End      *TimeOfDay    `json:"end,omitempty"`
	Reason   *string       `json:"reason,omitempty"`
}

func (in ExceptionInput) Validate() error {
	if in.DoctorID == uuid.Nil {
		return &ValidationError{Field: "doctor_id", Message: "doctor_id is required"}
	}
	if in.Date.IsZero() {
		return &ValidationError{Field: "date", Message: "date is required"}
	}
	if _, err := ParseExceptionKind(string(in.Kind)); err != nil {
		return err
	}
	if (in.Start == nil) != (in.End == nil) {
		return &ValidationError{Field: "start", Message: "start and end must be given together or not at all"}
	}
	if in.Start != nil {
		if err := (TimeRange{Start: *in.Start, End: *in.End}).Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ResolvedSlot is a bookable start time on a specific date.
type ResolvedSlot struct {
	Date      Date      `json:"date"`
	StartTime TimeOfDay `json:"start_time"`
}

// BookingStatus is the lifecycle state of an appointment.
type BookingStatus string

const (
	StatusScheduled BookingStatus = "scheduled"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCompleted BookingStatus = "completed"
	StatusCancelled BookingStatus = "cancelled"
	StatusNoShow    BookingStatus = "no-show"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	StatusScheduled: {StatusConfirmed, StatusCancelled, StatusNoShow},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusNoShow},
}

func ParseBookingStatus(s string) (BookingStatus, error) {
	st := BookingStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusScheduled, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return st, nil
	}
	return "", &ValidationError{Field: "status", Message: fmt.Sprintf("invalid booking status %q", s)}
}

// CanTransition reports whether a booking may move from s to next.
func (s BookingStatus) CanTransition(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Booking is an appointment created once a slot is chosen.
type Booking struct {
	ID        uuid.UUID     `json:"id"`
	DoctorID  uuid.UUID     `json:"doctor_id"`
	PatientID uuid.UUID     `json:"patient_id"`
	Date      Date          `json:"date"`
	Time      TimeOfDay     `json:"time"`
	StartsAt  time.Time     `json:"starts_at"`
	Status    BookingStatus `json:"status"`
	Notes     *string       `json:"notes,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// BookingRequest is the validated tuple handed to the booking collaborator.
type BookingRequest struct {
	DoctorID  uuid.UUID  `json:"doctor_id"`
	PatientID uuid.UUID  `json:"patient_id"`
	Date      Date       `json:"date"`
	Time      *TimeOfDay `json:"time"`
	Notes     *string    `json:"notes,omitempty"`
}

// BookingFilter narrows ListBookings. Zero fields are ignored.
type BookingFilter struct {
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Date      Date
	Status    BookingStatus
}
