package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	CurrencyINR = "INR"

	// Payment statuses reported by the processor.
	ProcessorAuthorized = "authorized"
	ProcessorCaptured   = "captured"
	ProcessorFailed     = "failed"
	ProcessorRefunded   = "refunded"
)

// ErrPaymentDeclined is returned by processors that refused a capture.
var ErrPaymentDeclined = errors.New("payment declined by processor")

// ProcessorPayment is the processor's view of a payment.
type ProcessorPayment struct {
	ID          string
	Status      string
	AmountMinor int64
	Currency    string
	Description string
}

// Confirmation carries what the attendee is told after a successful capture.
type Confirmation struct {
	RegistrationID   uuid.UUID `json:"registration_id"`
	RecipientEmail   string    `json:"recipient_email"`
	RecipientName    string    `json:"recipient_name"`
	EventName        string    `json:"event_name"`
	EventDate        time.Time `json:"event_date"`
	Venue            string    `json:"venue"`
	TicketQuantity   int       `json:"ticket_quantity"`
	TicketNames      []string  `json:"ticket_names"`
	Amount           int       `json:"amount"`
	PaymentReference string    `json:"payment_reference"`
}
