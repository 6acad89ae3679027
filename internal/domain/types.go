package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	KindEvent EventKind = "event"
	KindTrip  EventKind = "trip"
)

func (k EventKind) Valid() bool {
	return k == KindEvent || k == KindTrip
}

// Event is a bookable event or trip. Seats are counted, not assigned.
type Event struct {
	ID              int64      `json:"id"`
	Kind            EventKind  `json:"kind"`
	Slug            string     `json:"slug"`
	Name            string     `json:"name"`
	StartsAt        time.Time  `json:"starts_at"`
	Venue           string     `json:"venue"`
	TotalSeats      int        `json:"total_seats"`
	BookedSeats     int        `json:"booked_seats"`
	Price           int        `json:"price"`
	EarlyBirdEndsAt *time.Time `json:"early_bird_ends_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Remaining returns the number of seats still available, never below zero.
func (e *Event) Remaining() int {
	if e.BookedSeats >= e.TotalSeats {
		return 0
	}
	return e.TotalSeats - e.BookedSeats
}

type Availability struct {
	EventID   int64 `json:"event_id"`
	Total     int   `json:"total"`
	Booked    int   `json:"booked"`
	Remaining int   `json:"remaining"`
}

type RegistrationStatus string

const (
	StatusPending  RegistrationStatus = "pending"
	StatusCaptured RegistrationStatus = "captured"
	StatusFailed   RegistrationStatus = "failed"
)

func (s RegistrationStatus) Terminal() bool {
	return s == StatusCaptured || s == StatusFailed
}

type HearAbout string

const (
	HearInstagram HearAbout = "Instagram"
	HearFacebook  HearAbout = "Facebook"
	HearOther     HearAbout = "Other"
)

// Contact holds the attendee fields that may be remembered between visits.
type Contact struct {
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	Phone           string    `json:"phone"`
	Age             int       `json:"age"`
	HearAbout       HearAbout `json:"hear_about"`
	OtherSource     string    `json:"other_source,omitempty"`
	InstagramPhotos string    `json:"instagram_photos"`
	IDProof         bool      `json:"id_proof"`
	TermsAccepted   bool      `json:"terms_accepted"`
}

type Registration struct {
	ID               uuid.UUID          `json:"id"`
	EventID          int64              `json:"event_id"`
	Contact          Contact            `json:"contact"`
	TicketQuantity   int                `json:"ticket_quantity"`
	TicketNames      []string           `json:"ticket_names"`
	Status           RegistrationStatus `json:"status"`
	Amount           int                `json:"amount"`
	PrimaryCoupon    string             `json:"primary_coupon,omitempty"`
	ExtraCoupon      string             `json:"extra_coupon,omitempty"`
	IdempotencyToken uuid.UUID          `json:"-"`
	PaymentReference string             `json:"payment_reference,omitempty"`
	FailureReason    string             `json:"failure_reason,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}
