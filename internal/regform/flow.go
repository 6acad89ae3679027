package regform

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kirinyoku/joynous/internal/domain"
	"github.com/kirinyoku/joynous/internal/pricing"
)

type State string

const (
	StateCollecting      State = "collecting_details"
	StateReviewing       State = "reviewing_pricing"
	StateAwaitingPayment State = "awaiting_payment"
	StateCaptured        State = "captured"
	StateFailed          State = "failed"
)

var (
	ErrFlowLocked        = errors.New("registration can no longer be edited")
	ErrInvalidTransition = errors.New("invalid registration step")
	ErrTicketIndex       = errors.New("ticket index out of range")
)

// Flow is one attendee's registration session for an event.
type Flow struct {
	ID             uuid.UUID         `json:"id"`
	ClientID       string            `json:"client_id"`
	EventID        int64             `json:"event_id"`
	State          State             `json:"state"`
	Form           Form              `json:"form"`
	Coupons        pricing.Selection `json:"coupons"`
	RegistrationID *uuid.UUID        `json:"registration_id,omitempty"`
	Error          string            `json:"error,omitempty"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func NewFlow(clientID string, eventID int64) *Flow {
	return &Flow{
		ID:       uuid.New(),
		ClientID: clientID,
		EventID:  eventID,
		State:    StateCollecting,
		Form: Form{
			TicketQuantity: 1,
			TicketNames:    []string{""},
		},
	}
}

func (f *Flow) editable() error {
	if f.State == StateCollecting || f.State == StateReviewing {
		return nil
	}
	return fmt.Errorf("%w: step %s", ErrFlowLocked, f.State)
}

// UpdateDetails replaces the attendee details. Changing details while
// reviewing sends the flow back to collecting so they are validated again.
func (f *Flow) UpdateDetails(d Details) error {
	if err := f.editable(); err != nil {
		return err
	}

	f.Form.Details = d.normalized()
	f.State = StateCollecting

	return nil
}

// SetQuantity clamps q to [1, remaining] and resizes the ticket names.
func (f *Flow) SetQuantity(q, remaining int) error {
	if err := f.editable(); err != nil {
		return err
	}

	q = min(max(q, 1), max(1, remaining))

	f.Form.TicketQuantity = q
	f.Form.TicketNames = resizeNames(f.Form.TicketNames, q)

	return nil
}

func (f *Flow) Increment(remaining int) error {
	if f.Form.TicketQuantity >= remaining {
		return f.editable()
	}
	return f.SetQuantity(f.Form.TicketQuantity+1, remaining)
}

func (f *Flow) Decrement() error {
	if err := f.editable(); err != nil {
		return err
	}
	if f.Form.TicketQuantity <= 1 {
		f.Form.TicketNames = resizeNames(f.Form.TicketNames, 1)
		f.Form.TicketQuantity = 1
		return nil
	}
	f.Form.TicketQuantity--
	f.Form.TicketNames = resizeNames(f.Form.TicketNames, f.Form.TicketQuantity)
	return nil
}

func (f *Flow) SetTicketName(i int, name string) error {
	if err := f.editable(); err != nil {
		return err
	}
	if i < 0 || i >= len(f.Form.TicketNames) {
		return fmt.Errorf("%w: %d", ErrTicketIndex, i)
	}
	f.Form.TicketNames[i] = name
	return nil
}

// EditCoupons returns the selection for editing when the flow allows it.
func (f *Flow) EditCoupons() (*pricing.Selection, error) {
	if err := f.editable(); err != nil {
		return nil, err
	}
	return &f.Coupons, nil
}

// Review validates the form and moves to pricing review.
func (f *Flow) Review(remaining int) error {
	if err := f.editable(); err != nil {
		return err
	}

	f.Form.Details = f.Form.Details.normalized()
	if err := Validate(f.Form, remaining); err != nil {
		return err
	}

	f.State = StateReviewing
	f.Error = ""

	return nil
}

// Back returns from pricing review to the details step keeping all input.
func (f *Flow) Back() error {
	switch f.State {
	case StateCollecting:
		return nil
	case StateReviewing:
		f.State = StateCollecting
		return nil
	default:
		return fmt.Errorf("%w: back from %s", ErrInvalidTransition, f.State)
	}
}

func (f *Flow) AwaitPayment(registrationID uuid.UUID) error {
	if f.State != StateReviewing {
		return fmt.Errorf("%w: checkout from %s", ErrInvalidTransition, f.State)
	}

	f.State = StateAwaitingPayment
	f.RegistrationID = &registrationID
	f.Error = ""

	return nil
}

// Resolve moves a flow waiting for payment to its outcome. Pending
// registrations leave the flow untouched.
func (f *Flow) Resolve(status domain.RegistrationStatus, reason string) error {
	if f.State != StateAwaitingPayment {
		return fmt.Errorf("%w: resolve from %s", ErrInvalidTransition, f.State)
	}

	switch status {
	case domain.StatusCaptured:
		f.State = StateCaptured
		f.Error = ""
	case domain.StatusFailed:
		f.State = StateFailed
		f.Error = reason
	}

	return nil
}

// Retry starts a new payment attempt after a failure.
func (f *Flow) Retry() error {
	if f.State != StateFailed {
		return fmt.Errorf("%w: retry from %s", ErrInvalidTransition, f.State)
	}

	f.State = StateReviewing
	f.RegistrationID = nil
	f.Error = ""

	return nil
}

func resizeNames(names []string, n int) []string {
	if len(names) >= n {
		return names[:n:n]
	}

	out := make([]string, n)
	copy(out, names)

	return out
}
