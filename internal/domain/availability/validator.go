package availability

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Verdict is the typed result of a booking check. A rejection is not an
// error.
type Verdict struct {
	Accepted bool            `json:"accepted"`
	Reason   RejectionReason `json:"reason,omitempty"`
}

func accept() Verdict { return Verdict{Accepted: true} }

func reject(reason RejectionReason) Verdict { return Verdict{Reason: reason} }

// Validator gates booking creation on slot membership. It resolves fresh
// on every call and does not look at existing bookings.
type Validator struct {
	resolver *Resolver
	logger   zerolog.Logger
}

func NewValidator(resolver *Resolver, logger zerolog.Logger) *Validator {
	return &Validator{resolver: resolver, logger: logger}
}

func (v *Validator) ValidateBookingRequest(ctx context.Context, doctorID uuid.UUID, date Date, t TimeOfDay) (Verdict, error) {
	res, err := v.resolver.Resolve(ctx, doctorID, date)
	if err != nil {
		return Verdict{}, err
	}
	verdict := verdictFor(res, t)
	if !verdict.Accepted {
		v.logger.Info().
			Str("doctor_id", doctorID.String()).
			Str("date", date.String()).
			Str("time", t.String()).
			Str("reason", string(verdict.Reason)).
			Msg("booking request rejected")
	}
	return verdict, nil
}

func verdictFor(res Resolution, t TimeOfDay) Verdict {
	if res.Closed != "" {
		return reject(res.Closed)
	}
	if !res.Offers(t) {
		return reject(ReasonTimeNotOffered)
	}
	return accept()
}
