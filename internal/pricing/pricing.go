package pricing

// Selection holds the coupons chosen in one registration session. It carries
// no amounts; the numbers are always derived by Quote.
type Selection struct {
	Primary             string `json:"primary,omitempty"`
	Extra               string `json:"extra,omitempty"`
	EarlyBirdSuppressed bool   `json:"early_bird_suppressed,omitempty"`
}

// Apply adds a coupon to the selection. A primary coupon replaces the current
// one; a second extra coupon is refused. On error the selection is unchanged.
func (s *Selection) Apply(catalog *Catalog, code string, earlyBirdEligible bool) (Coupon, error) {
	cp, err := catalog.Lookup(code)
	if err != nil {
		return Coupon{}, err
	}

	if cp.Limited && !earlyBirdEligible {
		return Coupon{}, ErrCouponExpired
	}

	if cp.Extra() {
		if s.Extra != "" {
			return Coupon{}, ErrDuplicateExtraCoupon
		}
		s.Extra = cp.Code
		return cp, nil
	}

	s.Primary = cp.Code
	return cp, nil
}

// RemovePrimary clears the primary coupon and stops EARLYBIRD from being
// applied automatically for the rest of the session.
func (s *Selection) RemovePrimary() error {
	if s.Primary == "" {
		return ErrNoCoupon
	}
	s.Primary = ""
	s.EarlyBirdSuppressed = true
	return nil
}

func (s *Selection) RemoveExtra() error {
	if s.Extra == "" {
		return ErrNoCoupon
	}
	s.Extra = ""
	return nil
}

// AutoApplyEarlyBird applies EARLYBIRD when the session has not opted out and
// no other primary coupon is set. It reports whether the coupon was applied.
func (s *Selection) AutoApplyEarlyBird(eligible bool) bool {
	if !eligible || s.EarlyBirdSuppressed || s.Primary != "" {
		return false
	}
	s.Primary = CodeEarlyBird
	return true
}

// Snapshot is the derived price of an order.
type Snapshot struct {
	PerTicketPrice  int    `json:"per_ticket_price"`
	TicketQuantity  int    `json:"ticket_quantity"`
	Subtotal        int    `json:"subtotal"`
	PrimaryCode     string `json:"primary_code,omitempty"`
	PrimaryDiscount int    `json:"primary_discount"`
	ExtraCode       string `json:"extra_code,omitempty"`
	ExtraDiscount   int    `json:"extra_discount"`
	FinalAmount     int    `json:"final_amount"`
}

// AmountMinor returns the final amount in minor currency units.
func (s Snapshot) AmountMinor() int64 {
	return int64(s.FinalAmount) * 100
}

// Quote prices an order. Codes in the selection that the catalog does not
// know contribute no discount.
func Quote(catalog *Catalog, price, quantity int, sel Selection) Snapshot {
	if price < 0 {
		price = 0
	}
	if quantity < 0 {
		quantity = 0
	}

	snap := Snapshot{
		PerTicketPrice: price,
		TicketQuantity: quantity,
		Subtotal:       quantity * price,
	}

	if sel.Primary != "" {
		if cp, err := catalog.Lookup(sel.Primary); err == nil && !cp.Extra() {
			snap.PrimaryCode = cp.Code
			snap.PrimaryDiscount = quantity * cp.PerTicket(price)
		}
	}

	if sel.Extra != "" {
		if cp, err := catalog.Lookup(sel.Extra); err == nil && cp.Extra() {
			snap.ExtraCode = cp.Code
			snap.ExtraDiscount = cp.Value
		}
	}

	snap.FinalAmount = max(0, snap.Subtotal-snap.PrimaryDiscount-snap.ExtraDiscount)

	return snap
}
