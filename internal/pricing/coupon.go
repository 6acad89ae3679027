package pricing

import (
	"strings"
	"time"

	"github.com/kirinyoku/joynous/internal/domain"
)

const (
	CodeEarlyBird    = "EARLYBIRD"
	CodeFriend10     = "FRIEND10"
	CodeWelcome15    = "WELCOME15"
	CodeJoySpecial   = "JOYSPECIAL100"
	CodeGCCSpecial   = "GCCSPECIAL200"
	DefaultEarlyBird = 150
)

type Kind string

const (
	// KindFlat is a fixed discount per ticket.
	KindFlat Kind = "flat"
	// KindPercentCapped is a percentage of the ticket price per ticket, capped.
	KindPercentCapped Kind = "percentage_capped"
	// KindExtraFlat is a fixed discount on the whole order.
	KindExtraFlat Kind = "extra_flat"
)

type Coupon struct {
	Code    string
	Kind    Kind
	Value   int
	Cap     int
	Limited bool // subject to the early-bird window
}

// Extra reports whether the coupon occupies the order-level slot.
func (c Coupon) Extra() bool {
	return c.Kind == KindExtraFlat
}

// PerTicket returns the discount granted on one ticket of the given price.
func (c Coupon) PerTicket(price int) int {
	switch c.Kind {
	case KindFlat:
		return c.Value
	case KindPercentCapped:
		d := price * c.Value / 100
		if c.Cap > 0 && d > c.Cap {
			d = c.Cap
		}
		return d
	default:
		return 0
	}
}

// Catalog is the fixed set of coupons known to the engine.
type Catalog struct {
	coupons map[string]Coupon
}

func NewCatalog(earlyBirdAmount int) *Catalog {
	if earlyBirdAmount <= 0 {
		earlyBirdAmount = DefaultEarlyBird
	}

	return &Catalog{coupons: map[string]Coupon{
		CodeEarlyBird:  {Code: CodeEarlyBird, Kind: KindFlat, Value: earlyBirdAmount, Limited: true},
		CodeFriend10:   {Code: CodeFriend10, Kind: KindPercentCapped, Value: 10, Cap: 100},
		CodeWelcome15:  {Code: CodeWelcome15, Kind: KindPercentCapped, Value: 15, Cap: 200},
		CodeJoySpecial: {Code: CodeJoySpecial, Kind: KindExtraFlat, Value: 100},
		CodeGCCSpecial: {Code: CodeGCCSpecial, Kind: KindExtraFlat, Value: 200},
	}}
}

// Lookup finds a coupon by code, ignoring case and surrounding whitespace.
func (c *Catalog) Lookup(code string) (Coupon, error) {
	cp, ok := c.coupons[Normalize(code)]
	if !ok {
		return Coupon{}, ErrInvalidCoupon
	}
	return cp, nil
}

func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// EarlyBirdWindow decides whether EARLYBIRD may be used for an event.
type EarlyBirdWindow struct {
	// Lead is used when the event has no explicit early-bird end: the window
	// closes Lead before the event starts.
	Lead time.Duration
}

func (w EarlyBirdWindow) Eligible(e *domain.Event, now time.Time) bool {
	if e == nil {
		return false
	}

	if e.EarlyBirdEndsAt != nil {
		return now.Before(*e.EarlyBirdEndsAt)
	}

	if w.Lead <= 0 || e.StartsAt.IsZero() {
		return false
	}

	return now.Before(e.StartsAt.Add(-w.Lead))
}
