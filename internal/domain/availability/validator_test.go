package availability

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestValidator_AcceptsExactlyResolvedTimes(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	doctor := uuid.New()
	seedDay(t, svc, doctor, Wednesday, "09:00-10:00", "09:30-12:00", "15:00-16:00")
	date := mustDate(t, "2025-06-11")

	slots, err := svc.Resolver.ResolveAvailableSlots(ctx, doctor, date)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	offered := make(map[TimeOfDay]bool, len(slots))
	for _, s := range slots {
		offered[s.StartTime] = true
	}

	for m := 0; m < 24*60; m += 15 {
		tod := TimeOfDay(m)
		v, err := svc.Validator.ValidateBookingRequest(ctx, doctor, date, tod)
		if err != nil {
			t.Fatalf("validate %s: %v", tod, err)
		}
		if offered[tod] {
			if !v.Accepted {
				t.Errorf("%s is offered but was rejected with %s", tod, v.Reason)
			}
			continue
		}
		if v.Accepted || v.Reason != ReasonTimeNotOffered {
			t.Errorf("%s: expected TIME_NOT_OFFERED, got %+v", tod, v)
		}
	}
}

func TestValidator_Reasons(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	doctor := uuid.New()
	seedDay(t, svc, doctor, Monday, "09:00-10:00")
	seedDay(t, svc, doctor, Friday, "09:00-10:00")

	blocked := mustDate(t, "2025-06-20") // Friday
	if _, err := svc.Exceptions.CreateException(ctx, ExceptionInput{
		DoctorID: doctor, Date: blocked, Kind: ExceptionBlock,
	}); err != nil {
		t.Fatalf("create exception: %v", err)
	}

	tests := []struct {
		name string
		date string
		time string
		want RejectionReason
	}{
		{"past date", "2025-06-09", "09:00", ReasonPastDate},
		{"disabled weekday", "2025-06-11", "09:00", ReasonDayDisabled},
		{"full day block", "2025-06-20", "09:00", ReasonDateBlocked},
		{"time not offered", "2025-06-16", "09:15", ReasonTimeNotOffered},
		{"accepted", "2025-06-16", "09:00", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := svc.Validator.ValidateBookingRequest(ctx, doctor, mustDate(t, tt.date), mustTime(t, tt.time))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.want == "" {
				if !v.Accepted {
					t.Errorf("expected acceptance, got %s", v.Reason)
				}
				return
			}
			if v.Accepted {
				t.Fatalf("expected rejection %s, got acceptance", tt.want)
			}
			if v.Reason != tt.want {
				t.Errorf("expected %s, got %s", tt.want, v.Reason)
			}
		})
	}
}

func TestValidator_IgnoresExistingBookings(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	doctor := uuid.New()
	seedDay(t, svc, doctor, Tuesday, "09:00-10:00")
	date := mustDate(t, "2025-06-17")

	for i := 0; i < 2; i++ {
		_, v, err := svc.Bookings.Book(ctx, BookingRequest{
			DoctorID: doctor, PatientID: uuid.New(), Date: date, Time: tptr(mustTime(t, "09:00")),
		})
		if err != nil {
			t.Fatalf("book #%d: %v", i, err)
		}
		if !v.Accepted {
			t.Fatalf("book #%d rejected: %s", i, v.Reason)
		}
	}
}
