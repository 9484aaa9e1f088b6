// Package availability resolves which appointment start times a doctor
// offers on a given date and gates booking creation on that answer.
//
// A doctor's availability is a weekly recurring schedule (seven weekdays,
// each with an enabled flag and any number of time ranges) overlaid with
// date-specific exceptions. Resolution is pure once the schedule and the
// exceptions for the date have been read; all persistent state lives
// behind the repository interfaces.
package availability

import (
	"github.com/rs/zerolog"
)

// Service bundles the stores, resolver, validator and booking gate that
// make up the availability domain.
type Service struct {
	Schedules  *ScheduleStore
	Exceptions *ExceptionStore
	Resolver   *Resolver
	Validator  *Validator
	Bookings   *BookingService
}

func NewService(sched ScheduleRepository, exc ExceptionRepository, book BookingRepository, clock Clock, logger zerolog.Logger) *Service {
	schedules := NewScheduleStore(sched, logger.With().Str("component", "schedule_store").Logger())
	exceptions := NewExceptionStore(exc, logger.With().Str("component", "exception_store").Logger())
	resolver := NewResolver(schedules, exceptions, clock)
	validator := NewValidator(resolver, logger.With().Str("component", "booking_validator").Logger())
	bookings := NewBookingService(book, validator, clock, logger.With().Str("component", "bookings").Logger())
	return &Service{
		Schedules:  schedules,
		Exceptions: exceptions,
		Resolver:   resolver,
		Validator:  validator,
		Bookings:   bookings,
	}
}

// SetPublisher routes change events from every mutator to p.
func (s *Service) SetPublisher(p EventPublisher) {
	s.Schedules.SetPublisher(p)
	s.Exceptions.SetPublisher(p)
	s.Bookings.SetPublisher(p)
}
