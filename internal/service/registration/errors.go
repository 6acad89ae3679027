package registration

import (
	"errors"
)

var (
	ErrDraftNotFound     = errors.New("registration draft not found or expired")
	ErrEventNotFound     = errors.New("event not found")
	ErrUnknownCouponSlot = errors.New("coupon slot must be primary or extra")
	ErrDraftBusy         = errors.New("registration draft is being changed, try again")
)
