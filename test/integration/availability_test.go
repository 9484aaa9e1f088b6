//go:build integration

package integration

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/domain/availability"
)

// 2099-01-05 is a Monday.
const futureMonday = "2099-01-05"

func seedMonday(t *testing.T, ctx context.Context, svc *availability.Service, doctorID uuid.UUID) *availability.WeeklySchedule {
	t.Helper()
	if _, err := svc.Schedules.SetWeekdayEnabled(ctx, doctorID, availability.Monday, true); err != nil {
		t.Fatalf("enable monday: %v", err)
	}
	for _, r := range [][2]string{{"09:00", "10:00"}, {"10:00", "11:00"}, {"14:00", "15:00"}} {
		tr := availability.TimeRange{Start: mustTime(t, r[0]), End: mustTime(t, r[1]), Active: true}
		if _, err := svc.Schedules.UpsertTimeRange(ctx, doctorID, availability.Monday, tr); err != nil {
			t.Fatalf("add range %v: %v", r, err)
		}
	}
	ws, err := svc.Schedules.GetWeeklySchedule(ctx, doctorID)
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	return ws
}

func slotTimes(slots []availability.ResolvedSlot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.StartTime.String())
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestScheduleStorePG(t *testing.T) {
	ctx := context.Background()
	tenantID := uniqueTenantID("sched")
	createTenantSchema(t, ctx, tenantID)
	defer dropTenantSchema(t, ctx, tenantID)

	svc := newPGService()
	doctorID := uuid.New()

	t.Run("DefaultIsFullyUnavailable", func(t *testing.T) {
		err := withTenantConn(ctx, tenantID, func(ctx context.Context) error {
			ws, err := svc.Schedules.GetWeeklySchedule(ctx, uuid.New())
			if err != nil {
				return err
			}
			for _, wd := range availability.AllWeekdays() {
				day := ws.Day(wd)
				if day.Enabled || len(day.TimeRanges) != 0 {
					t.Errorf("%s: expected disabled with no ranges, got %+v", wd, day)
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("get schedule: %v", err)
		}
	})

	t.Run("RangesPersistSorted", func(t *testing.T) {
		err := withTenantConn(ctx, tenantID, func(ctx context.Context) error {
			ws := seedMonday(t, ctx, svc, doctorID)
			day := ws.Day(availability.Monday)
			if !day.Enabled {
				t.Error("expected monday enabled")
			}
			if len(day.TimeRanges) != 3 {
				t.Fatalf("expected 3 ranges, got %d", len(day.TimeRanges))
			}
			if day.TimeRanges[0].Start.String() != "09:00" || day.TimeRanges[2].Start.String() != "14:00" {
				t.Errorf("ranges not sorted by start: %+v", day.TimeRanges)
			}
			if ws.Day(availability.Tuesday).Enabled {
				t.Error("tuesday must stay disabled")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	})

	t.Run("UpdateAndRemoveRange", func(t *testing.T) {
		err := withTenantConn(ctx, tenantID, func(ctx context.Context) error {
			ws, err := svc.Schedules.GetWeeklySchedule(ctx, doctorID)
			if err != nil {
				return err
			}
			first := ws.Day(availability.Monday).TimeRanges[0]
			first.Start = mustTime(t, "08:30")
			ws, err = svc.Schedules.UpsertTimeRange(ctx, doctorID, availability.Monday, first)
			if err != nil {
				return err
			}
			if got := ws.Day(availability.Monday).TimeRanges[0]; got.ID != first.ID || got.Start.String() != "08:30" {
				t.Errorf("expected updated range %s at 08:30, got %+v", first.ID, got)
			}

			ws, err = svc.Schedules.RemoveTimeRange(ctx, doctorID, availability.Monday, first.ID)
			if err != nil {
				return err
			}
			if n := len(ws.Day(availability.Monday).TimeRanges); n != 2 {
				t.Errorf("expected 2 ranges after removal, got %d", n)
			}

			// removing again is a no-op
			if _, err := svc.Schedules.RemoveTimeRange(ctx, doctorID, availability.Monday, first.ID); err != nil {
				t.Errorf("second removal: %v", err)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("update/remove: %v", err)
		}
	})

	t.Run("UpdateUnknownRangeIsNotFound", func(t *testing.T) {
		err := withTenantConn(ctx, tenantID, func(ctx context.Context) error {
			tr := availability.TimeRange{ID: uuid.New(), Start: mustTime(t, "12:00"), End: mustTime(t, "13:00"), Active: true}
			_, err := svc.Schedules.UpsertTimeRange(ctx, doctorID, availability.Monday, tr)
			if !availability.IsNotFound(err) {
				t.Errorf("expected not found, got %v", err)
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	})

	t.Run("SaveWeeklyScheduleReplacesDay", func(t *testing.T) {
		err := withTenantConn(ctx, tenantID, func(ctx context.Context) error {
			res, err := svc.Schedules.SaveWeeklySchedule(ctx, doctorID, []availability.WeekdaySchedule{
				{
					Weekday: availability.Monday,
					Enabled: true,
					TimeRanges: []availability.TimeRange{
						{Start: mustTime(t, "16:00"), End: mustTime(t, "17:00"), Active: true},
					},
				},
				{Weekday: availability.Friday, Enabled: true},
			})
			if err != nil {
				return err
			}
			if res.Failed != 0 {
				t.Errorf("expected no failures, got %+v", res.Errors)
			}

			ws, err := svc.Schedules.GetWeeklySchedule(ctx, doctorID)
			if err != nil {
				return err
			}
			mon := ws.Day(availability.Monday)
			if len(mon.TimeRanges) != 1 || mon.TimeRanges[0].Start.String() != "16:00" {
				t.Errorf("expected monday to hold only 16:00, got %+v", mon.TimeRanges)
			}
			if !ws.Day(availability.Friday).Enabled {
				t.Error("expected friday enabled")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("save weekly: %v", err)
		}
	})

	t.Run("SaveWeeklySchedulePartialFailure", func(t *testing.T) {
		err := withTenantConn(ctx, tenantID, func(ctx context.Context) error {
			res, err := svc.Schedules.SaveWeeklySchedule(ctx, doctorID, []availability.WeekdaySchedule{
				{
					Weekday: availability.Wednesday,
					Enabled: true,
					TimeRanges: []availability.TimeRange{
						{Start: mustTime(t, "09:00"), End: mustTime(t, "10:00"), Active: true},
						{Start: mustTime(t, "11:00"), End: mustTime(t, "10:00"), Active: true},
					},
				},
			})
			if err != nil {
				return err
			}
			if res.Failed != 1 || !res.Partial() {
				t.Errorf("expected one failed unit, got %+v", res)
			}
			ws, err := svc.Schedules.GetWeeklySchedule(ctx, doctorID)
			if err != nil {
				return err
			}
			if n := len(ws.Day(availability.Wednesday).TimeRanges); n != 1 {
				t.Errorf("expected the valid range to persist, got %d ranges", n)
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	})
}

func TestExceptionStorePG(t *testing.T) {
	ctx := context.Background()
	tenantID := uniqueTenantID("exc")
	createTenantSchema(t, ctx, tenantID)
	defer dropTenantSchema(t, ctx, tenantID)

	svc := newPGService()
	doctorID := uuid.New()
	monday := mustDate(t, futureMonday)

	t.Run("CreateListDelete", func(t *testing.T) {
		err := withTenantConn(ctx, tenantID, func(ctx context.Context) error {
			start, end := mustTime(t, "09:00"), mustTime(t, "09:30")
			partial, err := svc.Exceptions.CreateException(ctx, availability.ExceptionInput{
				DoctorID: doctorID, Date: monday, Kind: availability.ExceptionBlock,
				Start: &start, End: &end, Reason: ptrStr("meeting"),
			})
			if err != nil {
				return err
			}
			if partial.ID == uuid.Nil || partial.FullDay() {
				t.Errorf("expected a stored partial exception, got %+v", partial)
			}

			items, err := svc.Exceptions.ExceptionsOn(ctx, doctorID, monday)
			if err != nil {
				return err
			}
			if len(items) != 1 || items[0].Reason == nil || *items[0].Reason != "meeting" {
				t.Fatalf("expected the meeting exception, got %+v", items)
			}
			if items[0].Start == nil || items[0].Start.String() != "09:00" {
				t.Errorf("expected start 09:00, got %v", items[0].Start)
			}

			if err := svc.Exceptions.DeleteException(ctx, partial.ID); err != nil {
				return err
			}
			items, err = svc.Exceptions.ExceptionsOn(ctx, doctorID, monday)
			if err != nil {
				return err
			}
			if len(items) != 0 {
				t.Errorf("expected no exceptions after delete, got %d", len(items))
			}

			if err := svc.Exceptions.DeleteException(ctx, partial.ID); err != nil {
				t.Errorf("second delete should be a no-op, got %v", err)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("exception lifecycle: %v", err)
		}
	})

	t.Run("BlockDateRange", func(t *testing.T) {
		err := withTenantConn(ctx, tenantID, func(ctx context.Context) error {
			from := monday.AddDays(7)
			to := from.AddDays(4)
			res, err := svc.Exceptions.BlockDateRange(ctx, doctorID, from, to, ptrStr("vacation"))
			if err != nil {
				return err
			}
			if res.Succeeded != 5 || res.Failed != 0 {
				t.Errorf("expected 5 blocked days, got %+v", res)
			}

			window := &availability.DateRange{From: from, To: to}
			items, err := svc.Exceptions.ListExceptions(ctx, doctorID, window)
			if err != nil {
				return err
			}
			if len(items) != 5 {
				t.Fatalf("expected 5 exceptions in window, got %d", len(items))
			}
			for i, e := range items {
				if !e.FullDay() || e.Kind != availability.ExceptionBlock {
					t.Errorf("item %d: expected full-day block, got %+v", i, e)
				}
				if e.Date != from.AddDays(i) {
					t.Errorf("item %d: expected %s, got %s", i, from.AddDays(i), e.Date)
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("block range: %v", err)
		}
	})

	t.Run("BlockDateRangeRejectsInvertedRange", func(t *testing.T) {
		err := withTenantConn(ctx, tenantID, func(ctx context.Context) error {
			_, err := svc.Exceptions.BlockDateRange(ctx, doctorID, monday.AddDays(3), monday, nil)
			if !availability.IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	})
}

func TestResolveAndBookPG(t *testing.T) {
	ctx := context.Background()
	tenantID := uniqueTenantID("book")
	createTenantSchema(t, ctx, tenantID)
	defer dropTenantSchema(t, ctx, tenantID)

	svc := newPGService()
	doctorID := uuid.New()
	patientID := uuid.New()
	monday := mustDate(t, futureMonday)

	err := withTenantConn(ctx, tenantID, func(ctx context.Context) error {
		seedMonday(t, ctx, svc, doctorID)

		slots, err := svc.Resolver.ResolveAvailableSlots(ctx, doctorID, monday)
		if err != nil {
			return err
		}
		if got := slotTimes(slots); !equalStrings(got, []string{"09:00", "10:00", "14:00"}) {
			t.Errorf("expected [09:00 10:00 14:00], got %v", got)
		}

		start, end := mustTime(t, "09:30"), mustTime(t, "10:30")
		if _, err := svc.Exceptions.CreateException(ctx, availability.ExceptionInput{
			DoctorID: doctorID, Date: monday, Kind: availability.ExceptionBlock, Start: &start, End: &end,
		}); err != nil {
			return err
		}
		slots, err = svc.Resolver.ResolveAvailableSlots(ctx, doctorID, monday)
		if err != nil {
			return err
		}
		if got := slotTimes(slots); !equalStrings(got, []string{"14:00"}) {
			t.Errorf("expected partial block to leave [14:00], got %v", got)
		}

		tuesday := monday.AddDays(1)
		verdict, err := svc.Validator.ValidateBookingRequest(ctx, doctorID, tuesday, mustTime(t, "09:00"))
		if err != nil {
			return err
		}
		if verdict.Accepted || verdict.Reason != availability.ReasonDayDisabled {
			t.Errorf("expected DAY_DISABLED, got %+v", verdict)
		}

		b, verdict, err := svc.Bookings.Book(ctx, availability.BookingRequest{
			DoctorID: doctorID, PatientID: patientID, Date: monday, Time: mustTimePtr(t, "14:00"),
		})
		if err != nil {
			return err
		}
		if !verdict.Accepted || b == nil {
			t.Fatalf("expected booking accepted, got %+v", verdict)
		}
		if b.Status != availability.StatusScheduled {
			t.Errorf("expected scheduled, got %s", b.Status)
		}

		_, verdict, err = svc.Bookings.Book(ctx, availability.BookingRequest{
			DoctorID: doctorID, PatientID: patientID, Date: monday, Time: mustTimePtr(t, "09:00"),
		})
		if err != nil {
			return err
		}
		if verdict.Accepted || verdict.Reason != availability.ReasonTimeNotOffered {
			t.Errorf("expected TIME_NOT_OFFERED for blocked slot, got %+v", verdict)
		}

		got, err := svc.Bookings.GetBooking(ctx, b.ID)
		if err != nil {
			return err
		}
		if got.Date != monday || got.Time.String() != "14:00" || got.PatientID != patientID {
			t.Errorf("round-trip mismatch: %+v", got)
		}

		list, total, err := svc.Bookings.ListBookings(ctx, availability.BookingFilter{DoctorID: doctorID}, 10, 0)
		if err != nil {
			return err
		}
		if total != 1 || len(list) != 1 {
			t.Errorf("expected 1 booking, got total=%d len=%d", total, len(list))
		}

		updated, err := svc.Bookings.UpdateStatus(ctx, b.ID, availability.StatusConfirmed)
		if err != nil {
			return err
		}
		if updated.Status != availability.StatusConfirmed {
			t.Errorf("expected confirmed, got %s", updated.Status)
		}
		if _, err := svc.Bookings.UpdateStatus(ctx, b.ID, availability.StatusScheduled); !availability.IsValidation(err) {
			t.Errorf("expected validation error for confirmed -> scheduled, got %v", err)
		}

		if _, err := svc.Exceptions.BlockDateRange(ctx, doctorID, monday, monday, nil); err != nil {
			return err
		}
		res, err := svc.Resolver.Resolve(ctx, doctorID, monday)
		if err != nil {
			return err
		}
		if res.Closed != availability.ReasonDateBlocked || len(res.Slots) != 0 {
			t.Errorf("expected DATE_BLOCKED with no slots, got %+v", res)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("resolve and book: %v", err)
	}
}
