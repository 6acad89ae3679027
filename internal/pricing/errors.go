package pricing

import "errors"

var (
	ErrInvalidCoupon        = errors.New("Invalid coupon code")
	ErrCouponExpired        = errors.New("coupon has expired")
	ErrDuplicateExtraCoupon = errors.New("only one extra coupon can be applied")
	ErrNoCoupon             = errors.New("no coupon applied")
)
