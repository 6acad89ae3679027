package payment

import (
	"errors"
)

// NoSeatsReason is shown to attendees whose payment could not be completed
// because the event filled up first.
const NoSeatsReason = "No seats available. If any amount was debited, it will be refunded within 5-7 business days."

var (
	ErrNoSeatsAvailable     = errors.New("No seats available")
	ErrCaptureFailed        = errors.New("payment capture failed")
	ErrPaymentStatusUnknown = errors.New("payment status unknown, it will be confirmed shortly")
	ErrRegistrationClosed   = errors.New("registration is no longer pending")
	ErrRegistrationNotFound = errors.New("registration not found")
	ErrAmountMismatch       = errors.New("amount does not match the registration")
	ErrCaptureInProgress    = errors.New("capture already in progress")
	ErrCheckoutInProgress   = errors.New("checkout already in progress")
	ErrRateLimited          = errors.New("too many checkout attempts")
	ErrInvalidRequest       = errors.New("invalid capture request")
)
