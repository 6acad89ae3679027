package httpgin

import (
	"time"

	"github.com/kirinyoku/joynous/internal/pricing"
	"github.com/kirinyoku/joynous/internal/service/payment"
)

type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type QuantityRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

type TicketNameRequest struct {
	Name string `json:"name"`
}

type ApplyCouponRequest struct {
	Code string `json:"code" binding:"required"`
}

type FailRequest struct {
	Reason string `json:"reason"`
}

type CheckoutPrefill struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Contact string `json:"contact"`
}

// CheckoutResponse carries the checkout widget options. Amount is in paise.
type CheckoutResponse struct {
	RegistrationID   string           `json:"registrationId"`
	IdempotencyToken string           `json:"idempotencyToken"`
	Status           string           `json:"status"`
	KeyID            string           `json:"keyId,omitempty"`
	Amount           int64            `json:"amount"`
	Currency         string           `json:"currency"`
	Description      string           `json:"description"`
	Prefill          CheckoutPrefill  `json:"prefill"`
	Pricing          pricing.Snapshot `json:"pricing"`
	PaymentReference string           `json:"paymentReference,omitempty"`
}

func toCheckoutResponse(co *payment.Checkout) CheckoutResponse {
	return CheckoutResponse{
		RegistrationID:   co.RegistrationID.String(),
		IdempotencyToken: co.IdempotencyToken.String(),
		Status:           string(co.Status),
		KeyID:            co.KeyID,
		Amount:           co.AmountMinor,
		Currency:         co.Currency,
		Description:      co.Description,
		Prefill: CheckoutPrefill{
			Name:    co.Prefill.Name,
			Email:   co.Prefill.Email,
			Contact: co.Prefill.Contact,
		},
		Pricing:          co.Pricing,
		PaymentReference: co.PaymentReference,
	}
}

// CaptureRequest is sent by the client after the checkout widget reports
// success. Amount is in rupees. The idempotency token may also be sent in
// the Idempotency-Key header.
type CaptureRequest struct {
	PaymentReference string `json:"paymentReference" binding:"required"`
	RegistrationID   string `json:"registrationId" binding:"required,uuid"`
	Amount           int    `json:"amount" binding:"required,gt=0"`
	EventID          int64  `json:"eventId" binding:"required,gt=0"`
	IdempotencyToken string `json:"idempotencyToken"`
}

type CaptureResponse struct {
	Success          bool   `json:"success"`
	PaymentReference string `json:"paymentReference,omitempty"`
	CapturedAmount   int    `json:"capturedAmount,omitempty"`
	Error            string `json:"error,omitempty"`
	Detail           string `json:"detail,omitempty"`
}

type CreateEventRequest struct {
	Kind            string  `json:"kind" binding:"required,oneof=event trip"`
	Slug            string  `json:"slug"`
	Name            string  `json:"name" binding:"required"`
	StartsAt        string  `json:"starts_at" binding:"required"`
	Venue           string  `json:"venue"`
	TotalSeats      int     `json:"total_seats" binding:"required,gt=0"`
	Price           int     `json:"price" binding:"gte=0"`
	EarlyBirdEndsAt *string `json:"early_bird_ends_at"`
}

type CreateEventResponse struct {
	EventID int64 `json:"event_id"`
}

func parseRFC3339(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
