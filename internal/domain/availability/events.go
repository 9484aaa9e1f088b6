package availability

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventAvailabilityChanged = "availability.changed"
	EventBookingCreated      = "booking.created"
	EventBookingUpdated      = "booking.updated"
)

// ChangeEvent tells observers that a doctor's offerable slots may differ
// from what they last fetched.
type ChangeEvent struct {
	Type      string          `json:"type"`
	DoctorID  uuid.UUID       `json:"doctor_id"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Topic is the subscription key observers use for one doctor.
func (e ChangeEvent) Topic() string {
	return DoctorTopic(e.DoctorID)
}

func DoctorTopic(doctorID uuid.UUID) string {
	return "doctor/" + doctorID.String()
}

// EventPublisher receives change events after successful mutations.
// Publishing failures never fail the mutation itself.
type EventPublisher interface {
	PublishChange(ctx context.Context, event ChangeEvent) error
}

type nopPublisher struct{}

func (nopPublisher) PublishChange(context.Context, ChangeEvent) error { return nil }

func newEvent(kind string, doctorID uuid.UUID, source string, payload interface{}) ChangeEvent {
	evt := ChangeEvent{
		Type:      kind,
		DoctorID:  doctorID,
		Source:    source,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			evt.Data = data
		}
	}
	return evt
}
