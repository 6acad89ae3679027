package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kirinyoku/joynous/internal/domain"
	"github.com/kirinyoku/joynous/internal/metrics"
	"github.com/kirinyoku/joynous/internal/pricing"
	"github.com/kirinyoku/joynous/internal/regform"
	"github.com/kirinyoku/joynous/internal/repository"
)

const (
	SlotPrimary = "primary"
	SlotExtra   = "extra"
)

type DraftStore interface {
	Save(ctx context.Context, f *regform.Flow) error
	Load(ctx context.Context, id uuid.UUID) (*regform.Flow, error)
	// Update applies fn and writes the draft back unless it changed
	// meanwhile, in which case fn runs again on the newer draft.
	Update(ctx context.Context, id uuid.UUID, fn func(f *regform.Flow) error) (*regform.Flow, error)
}

type ProfileStore interface {
	Save(ctx context.Context, clientID string, c domain.Contact) error
	Load(ctx context.Context, clientID string) (domain.Contact, bool, error)
}

type Config struct {
	EarlyBird pricing.EarlyBirdWindow
}

// Draft is a registration flow together with the event it is for and the
// price derived from its current selection.
type Draft struct {
	Flow      *regform.Flow    `json:"draft"`
	Event     *domain.Event    `json:"event"`
	Remaining int              `json:"remaining_seats"`
	Pricing   pricing.Snapshot `json:"pricing"`
}

type Service struct {
	store    repository.Store
	drafts   DraftStore
	profiles ProfileStore
	catalog  *pricing.Catalog
	cfg      Config
	log      *slog.Logger
	now      func() time.Time
}

func New(
	store repository.Store,
	drafts DraftStore,
	profiles ProfileStore,
	catalog *pricing.Catalog,
	cfg Config,
	log *slog.Logger,
) *Service {
	if cfg.EarlyBird.Lead <= 0 {
		cfg.EarlyBird.Lead = 14 * 24 * time.Hour
	}

	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	return &Service{
		store:    store,
		drafts:   drafts,
		profiles: profiles,
		catalog:  catalog,
		cfg:      cfg,
		log:      log.With(slog.String("component", "registration")),
		now:      time.Now,
	}
}

// Start opens a registration for an event. Contact details remembered for
// the client are prefilled and EARLYBIRD is applied while the event is
// eligible.
//
// Parameters:
//   - ctx: request-scoped context.
//   - clientID: opaque browser identifier used for prefill.
//   - eventID: the event or trip to register for.
//
// Returns:
//   - *Draft: the new draft with its price.
//   - error: registration.ErrEventNotFound if the event does not exist.
func (s *Service) Start(ctx context.Context, clientID string, eventID int64) (*Draft, error) {
	const op = "service.registration.Start"

	e, err := s.event(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	f := regform.NewFlow(clientID, eventID)

	if clientID != "" {
		c, ok, err := s.profiles.Load(ctx, clientID)
		switch {
		case err != nil:
			s.log.WarnContext(ctx, "failed to load saved profile", slog.String("client_id", clientID), slog.Any("err", err))
		case ok:
			f.Form.Details = regform.DetailsFromContact(c)
		}
	}

	if f.Coupons.AutoApplyEarlyBird(s.earlyBird(e)) {
		metrics.CouponsApplied.WithLabelValues(pricing.CodeEarlyBird).Inc()
	}

	if err := s.save(ctx, f); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return s.view(f, e), nil
}

// Get returns a draft. A draft waiting for payment picks up the outcome of
// its registration once the registration is captured or failed.
//
// Parameters:
//   - ctx: request-scoped context.
//   - id: draft ID.
//
// Returns:
//   - *Draft: the draft with a fresh price.
//   - error: registration.ErrDraftNotFound if it expired or never existed.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Draft, error) {
	const op = "service.registration.Get"

	f, err := s.load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if f.State == regform.StateAwaitingPayment && f.RegistrationID != nil {
		reg, err := s.store.Registrations().Get(ctx, *f.RegistrationID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, err)
		}

		if reg != nil && reg.Status.Terminal() {
			f, err = s.update(ctx, id, func(f *regform.Flow) error {
				if f.State != regform.StateAwaitingPayment {
					return nil
				}
				return f.Resolve(reg.Status, reg.FailureReason)
			})
			if err != nil {
				return nil, fmt.Errorf("%s:%w", op, err)
			}
		}
	}

	e, err := s.event(ctx, f.EventID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return s.view(f, e), nil
}

func (s *Service) UpdateDetails(ctx context.Context, id uuid.UUID, d regform.Details) (*Draft, error) {
	return s.mutate(ctx, "service.registration.UpdateDetails", id, func(f *regform.Flow, _ *domain.Event) error {
		return f.UpdateDetails(d)
	})
}

func (s *Service) SetQuantity(ctx context.Context, id uuid.UUID, quantity int) (*Draft, error) {
	return s.mutate(ctx, "service.registration.SetQuantity", id, func(f *regform.Flow, e *domain.Event) error {
		return f.SetQuantity(quantity, e.Remaining())
	})
}

func (s *Service) Increment(ctx context.Context, id uuid.UUID) (*Draft, error) {
	return s.mutate(ctx, "service.registration.Increment", id, func(f *regform.Flow, e *domain.Event) error {
		return f.Increment(e.Remaining())
	})
}

func (s *Service) Decrement(ctx context.Context, id uuid.UUID) (*Draft, error) {
	return s.mutate(ctx, "service.registration.Decrement", id, func(f *regform.Flow, _ *domain.Event) error {
		return f.Decrement()
	})
}

func (s *Service) SetTicketName(ctx context.Context, id uuid.UUID, index int, name string) (*Draft, error) {
	return s.mutate(ctx, "service.registration.SetTicketName", id, func(f *regform.Flow, _ *domain.Event) error {
		return f.SetTicketName(index, name)
	})
}

// ApplyCoupon applies a coupon code to the draft.
//
// Parameters:
//   - ctx: request-scoped context.
//   - id: draft ID.
//   - code: coupon code, case-insensitive.
//
// Returns:
//   - *Draft: the draft with the new price.
//   - error: pricing.ErrInvalidCoupon, pricing.ErrCouponExpired or
//     pricing.ErrDuplicateExtraCoupon; the selection is unchanged on error.
func (s *Service) ApplyCoupon(ctx context.Context, id uuid.UUID, code string) (*Draft, error) {
	return s.mutate(ctx, "service.registration.ApplyCoupon", id, func(f *regform.Flow, e *domain.Event) error {
		sel, err := f.EditCoupons()
		if err != nil {
			return err
		}

		cp, err := sel.Apply(s.catalog, code, s.earlyBird(e))
		if err != nil {
			return err
		}

		metrics.CouponsApplied.WithLabelValues(cp.Code).Inc()
		return nil
	})
}

// RemoveCoupon removes the coupon in the given slot. Removing the primary
// coupon keeps EARLYBIRD from coming back on its own.
func (s *Service) RemoveCoupon(ctx context.Context, id uuid.UUID, slot string) (*Draft, error) {
	return s.mutate(ctx, "service.registration.RemoveCoupon", id, func(f *regform.Flow, _ *domain.Event) error {
		sel, err := f.EditCoupons()
		if err != nil {
			return err
		}

		switch slot {
		case SlotPrimary:
			return sel.RemovePrimary()
		case SlotExtra:
			return sel.RemoveExtra()
		default:
			return ErrUnknownCouponSlot
		}
	})
}

// Review validates the form against the seats left and moves the draft to
// pricing review. The contact details are remembered for the client;
// ticket quantity and names are not.
//
// Parameters:
//   - ctx: request-scoped context.
//   - id: draft ID.
//
// Returns:
//   - *Draft: the draft in reviewing_pricing.
//   - error: *regform.ValidationError listing every invalid field.
func (s *Service) Review(ctx context.Context, id uuid.UUID) (*Draft, error) {
	d, err := s.mutate(ctx, "service.registration.Review", id, func(f *regform.Flow, e *domain.Event) error {
		return f.Review(e.Remaining())
	})
	if err != nil {
		return nil, err
	}

	if d.Flow.ClientID != "" {
		if err := s.profiles.Save(ctx, d.Flow.ClientID, d.Flow.Form.Details.Contact()); err != nil {
			s.log.WarnContext(ctx, "failed to save profile", slog.String("client_id", d.Flow.ClientID), slog.Any("err", err))
		}
	}

	return d, nil
}

func (s *Service) Back(ctx context.Context, id uuid.UUID) (*Draft, error) {
	return s.mutate(ctx, "service.registration.Back", id, func(f *regform.Flow, _ *domain.Event) error {
		return f.Back()
	})
}

// Retry starts a new payment attempt after a failed one. The next checkout
// creates a new pending registration.
func (s *Service) Retry(ctx context.Context, id uuid.UUID) (*Draft, error) {
	return s.mutate(ctx, "service.registration.Retry", id, func(f *regform.Flow, _ *domain.Event) error {
		return f.Retry()
	})
}

// ForCheckout returns a reviewed draft with its form checked again against
// the current seat count.
//
// Parameters:
//   - ctx: request-scoped context.
//   - id: draft ID.
//
// Returns:
//   - *Draft: the draft and the price to charge.
//   - error: regform.ErrInvalidTransition if the draft is not in review,
//     *regform.ValidationError if seats ran out meanwhile.
func (s *Service) ForCheckout(ctx context.Context, id uuid.UUID) (*Draft, error) {
	const op = "service.registration.ForCheckout"

	f, err := s.load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if f.State != regform.StateReviewing {
		return nil, fmt.Errorf("%s:%w: checkout from %s", op, regform.ErrInvalidTransition, f.State)
	}

	e, err := s.event(ctx, f.EventID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if err := regform.Validate(f.Form, e.Remaining()); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return s.view(f, e), nil
}

// AwaitPayment links a reviewed draft to its pending registration.
func (s *Service) AwaitPayment(ctx context.Context, id, registrationID uuid.UUID) error {
	const op = "service.registration.AwaitPayment"

	_, err := s.update(ctx, id, func(f *regform.Flow) error {
		return f.AwaitPayment(registrationID)
	})
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

func (s *Service) mutate(
	ctx context.Context,
	op string,
	id uuid.UUID,
	fn func(f *regform.Flow, e *domain.Event) error,
) (*Draft, error) {
	var e *domain.Event

	f, err := s.update(ctx, id, func(f *regform.Flow) error {
		var err error
		if e, err = s.event(ctx, f.EventID); err != nil {
			return err
		}
		return fn(f, e)
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return s.view(f, e), nil
}

// update applies fn to the stored draft without losing a concurrent step.
func (s *Service) update(ctx context.Context, id uuid.UUID, fn func(f *regform.Flow) error) (*regform.Flow, error) {
	f, err := s.drafts.Update(ctx, id, func(f *regform.Flow) error {
		if err := fn(f); err != nil {
			return err
		}
		f.UpdatedAt = s.now()
		return nil
	})
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, ErrDraftNotFound
	case errors.Is(err, repository.ErrConflict):
		return nil, ErrDraftBusy
	}
	return f, err
}

func (s *Service) view(f *regform.Flow, e *domain.Event) *Draft {
	sel := f.Coupons

	// an EARLYBIRD picked up earlier stops counting once the window closes
	if sel.Primary == pricing.CodeEarlyBird && !s.earlyBird(e) {
		sel.Primary = ""
	}

	return &Draft{
		Flow:      f,
		Event:     e,
		Remaining: e.Remaining(),
		Pricing:   pricing.Quote(s.catalog, e.Price, f.Form.TicketQuantity, sel),
	}
}

func (s *Service) earlyBird(e *domain.Event) bool {
	return s.cfg.EarlyBird.Eligible(e, s.now())
}

func (s *Service) event(ctx context.Context, id int64) (*domain.Event, error) {
	e, err := s.store.Events().Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return e, nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*regform.Flow, error) {
	f, err := s.drafts.Load(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDraftNotFound
		}
		return nil, err
	}
	return f, nil
}

func (s *Service) save(ctx context.Context, f *regform.Flow) error {
	f.UpdatedAt = s.now()
	return s.drafts.Save(ctx, f)
}
