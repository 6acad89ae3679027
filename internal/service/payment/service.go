package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirinyoku/joynous/internal/domain"
	"github.com/kirinyoku/joynous/internal/metrics"
	"github.com/kirinyoku/joynous/internal/pricing"
	"github.com/kirinyoku/joynous/internal/repository"
	redisrepo "github.com/kirinyoku/joynous/internal/repository/redis"
	"github.com/kirinyoku/joynous/internal/service/registration"
	"github.com/kirinyoku/joynous/internal/uow"
)

const (
	ReasonCancelled = "cancelled by user"
	ReasonExpired   = "payment window expired"

	maxReasonLen   = 500
	reconcileBatch = 100
)

type Processor interface {
	Capture(ctx context.Context, paymentID string, amountMinor int64, currency string) (*domain.ProcessorPayment, error)
	Fetch(ctx context.Context, paymentID string) (*domain.ProcessorPayment, error)
}

type Notifier interface {
	PublishConfirmation(ctx context.Context, c domain.Confirmation) error
}

type Drafts interface {
	ForCheckout(ctx context.Context, id uuid.UUID) (*registration.Draft, error)
	AwaitPayment(ctx context.Context, id, registrationID uuid.UUID) error
}

type Idempotency interface {
	AcquireLock(ctx context.Context, key string, lockTTL time.Duration) (bool, error)
	SaveResult(ctx context.Context, key string, jsonPayload string) error
	GetResult(ctx context.Context, key string) (string, bool, error)
	Release(ctx context.Context, key string) error
}

type Limiter interface {
	Allow(ctx context.Context, key string) (redisrepo.Decision, error)
}

type EventCache interface {
	InvalidateEvent(ctx context.Context, eventID int64) error
}

type SeatsPublisher interface {
	PublishSeatsChanged(ctx context.Context, eventID int64, booked int) error
}

type Config struct {
	KeyID          string
	CaptureTimeout time.Duration
	PendingTTL     time.Duration
	LockTTL        time.Duration
}

type Deps struct {
	Store     repository.Store
	Drafts    Drafts
	Processor Processor
	Notifier  Notifier
	Idem      Idempotency
	Limiter   Limiter
	Cache     EventCache
	PubSub    SeatsPublisher
	Logger    *slog.Logger
}

type Service struct {
	store     repository.Store
	drafts    Drafts
	processor Processor
	notifier  Notifier
	idem      Idempotency
	limiter   Limiter
	cache     EventCache
	pubsub    SeatsPublisher
	uow       *uow.UoW
	log       *slog.Logger
	cfg       Config
	now       func() time.Time
}

func New(deps Deps, cfg Config) *Service {
	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = 8 * time.Second
	}

	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 30 * time.Minute
	}

	// a capture may wait out both the capture call and the lookup
	if cfg.LockTTL < 2*cfg.CaptureTimeout {
		cfg.LockTTL = 3 * cfg.CaptureTimeout
	}

	log := deps.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	return &Service{
		store:     deps.Store,
		drafts:    deps.Drafts,
		processor: deps.Processor,
		notifier:  deps.Notifier,
		idem:      deps.Idem,
		limiter:   deps.Limiter,
		cache:     deps.Cache,
		pubsub:    deps.PubSub,
		uow:       uow.NewUoW(deps.Store),
		log:       log.With(slog.String("component", "payment")),
		cfg:       cfg,
		now:       time.Now,
	}
}

type Prefill struct {
	Name    string
	Email   string
	Contact string
}

// Checkout is what the client needs to open the checkout widget.
type Checkout struct {
	RegistrationID   uuid.UUID
	IdempotencyToken uuid.UUID
	Status           domain.RegistrationStatus
	KeyID            string
	Amount           int
	AmountMinor      int64
	Currency         string
	Description      string
	Prefill          Prefill
	Pricing          pricing.Snapshot
	PaymentReference string
}

type CaptureRequest struct {
	PaymentReference string
	RegistrationID   uuid.UUID
	Amount           int
	EventID          int64
	IdempotencyToken uuid.UUID
}

type CaptureResult struct {
	RegistrationID   uuid.UUID `json:"registration_id"`
	PaymentReference string    `json:"payment_reference"`
	CapturedAmount   int       `json:"captured_amount"`
	Replayed         bool      `json:"-"`
}

// Begin creates the pending registration for a reviewed draft and returns
// the checkout options. Orders that price to zero are completed right away
// without the processor.
//
// Parameters:
//   - ctx: request-scoped context.
//   - draftID: a draft in reviewing_pricing.
//   - rlKey: client key for the checkout rate limit; empty disables it.
//
// Returns:
//   - *Checkout: registration ID, idempotency token and widget options.
//   - error: payment.ErrRateLimited, payment.ErrCheckoutInProgress while
//     another checkout of the draft runs, payment.ErrNoSeatsAvailable for
//     free orders that lost the last seats, or the draft errors of
//     registration.Service.ForCheckout.
func (s *Service) Begin(ctx context.Context, draftID uuid.UUID, rlKey string) (*Checkout, error) {
	const op = "service.payment.Begin"

	if s.limiter != nil && rlKey != "" {
		d, err := s.limiter.Allow(ctx, rlKey)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		if !d.Allowed {
			return nil, fmt.Errorf("%s:%w: retry in %s", op, ErrRateLimited, d.RetryAfter.Round(time.Second))
		}
	}

	// one pending registration per draft
	key := redisrepo.KeyCheckoutLock(draftID)
	locked, err := s.idem.AcquireLock(ctx, key, s.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	if !locked {
		return nil, fmt.Errorf("%s:%w", op, ErrCheckoutInProgress)
	}
	defer func() {
		_ = s.idem.Release(context.WithoutCancel(ctx), key)
	}()

	d, err := s.drafts.ForCheckout(ctx, draftID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	form := d.Flow.Form
	reg := domain.Registration{
		EventID:          d.Event.ID,
		Contact:          form.Details.Contact(),
		TicketQuantity:   form.TicketQuantity,
		TicketNames:      form.TicketNames,
		Status:           domain.StatusPending,
		Amount:           d.Pricing.FinalAmount,
		PrimaryCoupon:    d.Pricing.PrimaryCode,
		ExtraCoupon:      d.Pricing.ExtraCode,
		IdempotencyToken: uuid.New(),
	}

	out := &Checkout{
		IdempotencyToken: reg.IdempotencyToken,
		Status:           domain.StatusPending,
		KeyID:            s.cfg.KeyID,
		Amount:           d.Pricing.FinalAmount,
		AmountMinor:      d.Pricing.AmountMinor(),
		Currency:         domain.CurrencyINR,
		Description:      "Registration for " + d.Event.Name,
		Prefill: Prefill{
			Name:    reg.Contact.Name,
			Email:   reg.Contact.Email,
			Contact: reg.Contact.Phone,
		},
		Pricing: d.Pricing,
	}

	if reg.Amount == 0 {
		created, err := s.completeFree(ctx, reg, d.Event)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		out.RegistrationID = created.ID
		out.Status = domain.StatusCaptured
		out.PaymentReference = created.PaymentReference
	} else {
		created, err := s.store.Registrations().Create(ctx, reg)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		out.RegistrationID = created.ID
	}

	if err := s.drafts.AwaitPayment(ctx, draftID, out.RegistrationID); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

func (s *Service) completeFree(ctx context.Context, reg domain.Registration, e *domain.Event) (*domain.Registration, error) {
	var created *domain.Registration

	err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx, after func(uow.AfterCommit)) error {
		var err error
		created, err = tx.Registrations().Create(ctx, reg)
		if err != nil {
			return err
		}

		ev, err := tx.Events().ReserveSeats(ctx, reg.EventID, reg.TicketQuantity)
		if err != nil {
			if errors.Is(err, repository.ErrNoSeatsAvailable) {
				return ErrNoSeatsAvailable
			}
			return err
		}

		created.Status = domain.StatusCaptured
		created.PaymentReference = "free:" + reg.IdempotencyToken.String()
		if err := tx.Registrations().MarkCaptured(ctx, created.ID, created.PaymentReference, 0); err != nil {
			return err
		}

		s.afterCapture(after, *created, ev)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNoSeatsAvailable) {
			metrics.PaymentCaptures.WithLabelValues(metrics.OutcomeNoSeats).Inc()
		}
		return nil, err
	}

	metrics.PaymentCaptures.WithLabelValues(metrics.OutcomeFree).Inc()
	return created, nil
}

// Capture confirms a payment the attendee completed in the checkout widget.
// Seats are reserved and funds captured in one transaction, so two captures
// racing for the last seat cannot both succeed. Calls sharing an
// idempotency token run at most once; later calls replay the first result.
//
// The event row stays locked while the processor is called. The capture
// and, when it fails, the payment lookup are each bounded by
// Config.CaptureTimeout, so a capture can hold the lock and a database
// connection for up to twice that long. Captures for the same event run
// one at a time.
//
// When the processor call fails the payment is looked up before deciding:
// a payment that turns out captured is finalized, one whose state cannot be
// read leaves the registration pending with the attempt recorded for
// ExpirePending to settle.
//
// Parameters:
//   - ctx: request-scoped context.
//   - req: processor payment ID, registration, amount in rupees, event and
//     idempotency token.
//
// Returns:
//   - *CaptureResult: the captured payment.
//   - error: payment.ErrNoSeatsAvailable and payment.ErrCaptureFailed fail
//     the registration; payment.ErrPaymentStatusUnknown leaves it pending.
//     Also payment.ErrRegistrationNotFound, payment.ErrRegistrationClosed,
//     payment.ErrAmountMismatch and payment.ErrCaptureInProgress.
func (s *Service) Capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	const op = "service.payment.Capture"

	req.PaymentReference = strings.TrimSpace(req.PaymentReference)
	if req.PaymentReference == "" || req.RegistrationID == uuid.Nil || req.IdempotencyToken == uuid.Nil {
		metrics.PaymentCaptures.WithLabelValues(metrics.OutcomeInvalid).Inc()
		return nil, fmt.Errorf("%s:%w", op, ErrInvalidRequest)
	}

	key := redisrepo.KeyIdemCapture(req.IdempotencyToken)

	if res, ok := s.storedResult(ctx, key); ok {
		return res, nil
	}

	locked, err := s.idem.AcquireLock(ctx, key, s.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	if !locked {
		if res, ok := s.storedResult(ctx, key); ok {
			return res, nil
		}
		return nil, fmt.Errorf("%s:%w", op, ErrCaptureInProgress)
	}
	defer func() {
		_ = s.idem.Release(context.WithoutCancel(ctx), key)
	}()

	res, err := s.capture(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if b, err := json.Marshal(res); err == nil {
		if err := s.idem.SaveResult(ctx, key, string(b)); err != nil {
			s.log.WarnContext(ctx, "failed to store capture result", slog.String("key", key), slog.Any("err", err))
		}
	}

	return res, nil
}

func (s *Service) storedResult(ctx context.Context, key string) (*CaptureResult, bool) {
	payload, ok, err := s.idem.GetResult(ctx, key)
	if err != nil || !ok {
		return nil, false
	}

	var res CaptureResult
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return nil, false
	}

	res.Replayed = true
	metrics.PaymentCaptures.WithLabelValues(metrics.OutcomeReplayed).Inc()

	return &res, true
}

func (s *Service) capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	reg, err := s.store.Registrations().Get(ctx, req.RegistrationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRegistrationNotFound
		}
		return nil, err
	}

	if reg.IdempotencyToken != req.IdempotencyToken || reg.EventID != req.EventID {
		return nil, ErrRegistrationNotFound
	}

	switch reg.Status {
	case domain.StatusCaptured:
		if reg.PaymentReference == req.PaymentReference {
			metrics.PaymentCaptures.WithLabelValues(metrics.OutcomeReplayed).Inc()
			return resultOf(reg, true), nil
		}
		return nil, ErrRegistrationClosed
	case domain.StatusFailed:
		return nil, ErrRegistrationClosed
	}

	if reg.PaymentReference != "" && reg.PaymentReference != req.PaymentReference {
		return nil, fmt.Errorf("%w: payment %s is being confirmed", ErrPaymentStatusUnknown, reg.PaymentReference)
	}

	if req.Amount != reg.Amount {
		return nil, ErrAmountMismatch
	}

	var captured bool
	err = s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx, after func(uow.AfterCommit)) error {
		cur, err := tx.Registrations().GetForUpdate(ctx, reg.ID)
		if err != nil {
			return err
		}
		if cur.Status != domain.StatusPending {
			return ErrRegistrationClosed
		}

		ev, err := tx.Events().ReserveSeats(ctx, cur.EventID, cur.TicketQuantity)
		if err != nil {
			if errors.Is(err, repository.ErrNoSeatsAvailable) {
				return ErrNoSeatsAvailable
			}
			return err
		}

		if err := s.captureFunds(ctx, req.PaymentReference, cur.Amount); err != nil {
			return err
		}
		captured = true

		if err := tx.Registrations().MarkCaptured(ctx, cur.ID, req.PaymentReference, cur.Amount); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return fmt.Errorf("%w: payment reference already used", ErrRegistrationClosed)
			}
			return err
		}

		cur.Status = domain.StatusCaptured
		cur.PaymentReference = req.PaymentReference
		s.afterCapture(after, *cur, ev)

		return nil
	})
	if err != nil {
		return nil, s.handleCaptureErr(ctx, reg, req, captured, err)
	}

	metrics.PaymentCaptures.WithLabelValues(metrics.OutcomeCaptured).Inc()

	reg.Status = domain.StatusCaptured
	reg.PaymentReference = req.PaymentReference

	return resultOf(reg, false), nil
}

func (s *Service) captureFunds(ctx context.Context, paymentID string, amount int) error {
	amountMinor := int64(amount) * 100

	cctx, cancel := context.WithTimeout(ctx, s.cfg.CaptureTimeout)
	defer cancel()

	p, err := s.processor.Capture(cctx, paymentID, amountMinor, domain.CurrencyINR)
	if err != nil {
		return s.settle(ctx, paymentID, amountMinor, err)
	}

	if p.Status != domain.ProcessorCaptured {
		return fmt.Errorf("%w: processor status %q", ErrCaptureFailed, p.Status)
	}

	return nil
}

// settle decides a capture call that returned an error by reading the
// payment back. An earlier call may have captured it already.
func (s *Service) settle(ctx context.Context, paymentID string, amountMinor int64, cause error) error {
	fctx, cancel := context.WithTimeout(ctx, s.cfg.CaptureTimeout)
	defer cancel()

	p, err := s.processor.Fetch(fctx, paymentID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPaymentStatusUnknown, errors.Join(cause, err))
	}

	switch {
	case p.Status == domain.ProcessorCaptured && p.AmountMinor == amountMinor:
		s.log.InfoContext(ctx, "payment already captured", slog.String("payment_reference", paymentID))
		return nil
	case p.Status == domain.ProcessorCaptured:
		return fmt.Errorf("%w: captured %d paise, expected %d", ErrPaymentStatusUnknown, p.AmountMinor, amountMinor)
	case p.Status == domain.ProcessorFailed || p.Status == domain.ProcessorRefunded:
		return fmt.Errorf("%w: processor status %q: %v", ErrCaptureFailed, p.Status, cause)
	case errors.Is(cause, domain.ErrPaymentDeclined):
		return fmt.Errorf("%w: %v", ErrCaptureFailed, cause)
	default:
		return fmt.Errorf("%w: %v", ErrPaymentStatusUnknown, cause)
	}
}

func (s *Service) handleCaptureErr(
	ctx context.Context,
	reg *domain.Registration,
	req CaptureRequest,
	captured bool,
	err error,
) error {
	log := s.log.With(
		slog.String("registration_id", reg.ID.String()),
		slog.String("payment_reference", req.PaymentReference),
	)

	var reason string
	switch {
	case errors.Is(err, ErrNoSeatsAvailable) && reg.PaymentReference != "":
		// an earlier attempt may have taken the money, ExpirePending decides
		metrics.PaymentCaptures.WithLabelValues(metrics.OutcomeUnknown).Inc()
		log.WarnContext(ctx, "event full while an earlier attempt is unconfirmed", slog.Any("err", err))
		return fmt.Errorf("%w: %v", ErrPaymentStatusUnknown, err)
	case errors.Is(err, ErrNoSeatsAvailable):
		metrics.PaymentCaptures.WithLabelValues(metrics.OutcomeNoSeats).Inc()
		reason = NoSeatsReason
	case errors.Is(err, ErrCaptureFailed):
		metrics.PaymentCaptures.WithLabelValues(metrics.OutcomeDeclined).Inc()
		reason = "Payment capture failed"
	case errors.Is(err, ErrPaymentStatusUnknown):
		metrics.PaymentCaptures.WithLabelValues(metrics.OutcomeUnknown).Inc()
		log.WarnContext(ctx, "capture outcome unknown, registration left pending", slog.Any("err", err))
		s.recordAttempt(ctx, reg.ID, req.PaymentReference, log)
		return err
	case captured:
		// funds were taken but the registration could not be finalized
		metrics.PaymentCaptures.WithLabelValues(metrics.OutcomeUnknown).Inc()
		log.ErrorContext(ctx, "payment captured but registration not updated", slog.Any("err", err))
		s.recordAttempt(ctx, reg.ID, req.PaymentReference, log)
		return fmt.Errorf("%w: %v", ErrPaymentStatusUnknown, err)
	default:
		return err
	}

	if ferr := s.store.Registrations().MarkFailed(context.WithoutCancel(ctx), reg.ID, reason); ferr != nil &&
		!errors.Is(ferr, repository.ErrNotPending) {
		log.ErrorContext(ctx, "failed to mark registration failed", slog.Any("err", ferr))
	}

	return err
}

func (s *Service) recordAttempt(ctx context.Context, id uuid.UUID, ref string, log *slog.Logger) {
	err := s.store.Registrations().RecordAttempt(context.WithoutCancel(ctx), id, ref)
	if err != nil && !errors.Is(err, repository.ErrNotPending) {
		log.ErrorContext(ctx, "failed to record payment attempt", slog.Any("err", err))
	}
}

func (s *Service) afterCapture(after func(uow.AfterCommit), reg domain.Registration, ev *domain.Event) {
	after(func(ctx context.Context) {
		if s.cache != nil {
			if err := s.cache.InvalidateEvent(ctx, ev.ID); err != nil {
				s.log.WarnContext(ctx, "failed to invalidate event cache", slog.Int64("event_id", ev.ID), slog.Any("err", err))
			}
		}

		if s.pubsub != nil {
			if err := s.pubsub.PublishSeatsChanged(ctx, ev.ID, ev.BookedSeats); err != nil {
				s.log.WarnContext(ctx, "failed to publish seat change", slog.Int64("event_id", ev.ID), slog.Any("err", err))
			}
		}

		if s.notifier == nil {
			return
		}

		err := s.notifier.PublishConfirmation(ctx, domain.Confirmation{
			RegistrationID:   reg.ID,
			RecipientEmail:   reg.Contact.Email,
			RecipientName:    reg.Contact.Name,
			EventName:        ev.Name,
			EventDate:        ev.StartsAt,
			Venue:            ev.Venue,
			TicketQuantity:   reg.TicketQuantity,
			TicketNames:      reg.TicketNames,
			Amount:           reg.Amount,
			PaymentReference: reg.PaymentReference,
		})
		if err != nil {
			s.log.WarnContext(ctx, "failed to publish confirmation",
				slog.String("registration_id", reg.ID.String()),
				slog.Any("err", err),
			)
		}
	})
}

// Cancel fails a pending registration whose checkout the attendee dismissed.
//
// Parameters:
//   - ctx: request-scoped context.
//   - id: registration ID.
//
// Returns:
//   - error: payment.ErrRegistrationNotFound, payment.ErrRegistrationClosed
//     if the registration is no longer pending, or
//     payment.ErrPaymentStatusUnknown while a capture attempt awaits
//     confirmation.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	const op = "service.payment.Cancel"

	if err := s.markFailed(ctx, id, ReasonCancelled); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

// Fail records a checkout error reported by the client.
//
// Parameters:
//   - ctx: request-scoped context.
//   - id: registration ID.
//   - reason: processor or widget message, truncated when long.
//
// Returns:
//   - error: as for Cancel.
func (s *Service) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	const op = "service.payment.Fail"

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "Payment failed"
	}
	if len(reason) > maxReasonLen {
		reason = reason[:maxReasonLen]
	}

	if err := s.markFailed(ctx, id, reason); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

func (s *Service) markFailed(ctx context.Context, id uuid.UUID, reason string) error {
	reg, err := s.store.Registrations().Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrRegistrationNotFound
		}
		return err
	}

	if reg.Status == domain.StatusPending && reg.PaymentReference != "" {
		return fmt.Errorf("%w: payment %s is being confirmed", ErrPaymentStatusUnknown, reg.PaymentReference)
	}

	err = s.store.Registrations().MarkFailed(ctx, id, reason)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrRegistrationNotFound
	case errors.Is(err, repository.ErrNotPending):
		return ErrRegistrationClosed
	}
	return err
}

// ExpirePending settles registrations that stayed pending longer than the
// payment window. Those with a recorded capture attempt are checked with
// the processor first: captured payments are finalized, the rest expire.
// Attempts the processor cannot report on stay pending until the next run.
//
// Parameters:
//   - ctx: context of the background worker.
//
// Returns:
//   - int64: number of registrations expired.
//   - error: any store error.
func (s *Service) ExpirePending(ctx context.Context) (int64, error) {
	const op = "service.payment.ExpirePending"

	cutoff := s.now().Add(-s.cfg.PendingTTL)

	attempts, err := s.store.Registrations().ListAttempted(ctx, cutoff, reconcileBatch)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	var expired int64
	for i := range attempts {
		reg := &attempts[i]

		ok, err := s.reconcile(ctx, reg)
		if err != nil {
			s.log.WarnContext(ctx, "failed to reconcile payment attempt",
				slog.String("registration_id", reg.ID.String()),
				slog.String("payment_reference", reg.PaymentReference),
				slog.Any("err", err),
			)
			continue
		}
		if ok {
			expired++
		}
	}

	n, err := s.store.Registrations().ExpirePending(ctx, cutoff, ReasonExpired)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}
	expired += n

	metrics.PendingExpired.Add(float64(expired))

	return expired, nil
}

// reconcile settles one pending registration with a recorded attempt and
// reports whether it was expired.
func (s *Service) reconcile(ctx context.Context, reg *domain.Registration) (bool, error) {
	fctx, cancel := context.WithTimeout(ctx, s.cfg.CaptureTimeout)
	defer cancel()

	p, err := s.processor.Fetch(fctx, reg.PaymentReference)
	if err != nil {
		return false, err
	}

	if p.Status != domain.ProcessorCaptured {
		err := s.store.Registrations().MarkFailed(ctx, reg.ID, ReasonExpired)
		if errors.Is(err, repository.ErrNotPending) {
			return false, nil
		}
		return err == nil, err
	}

	if want := int64(reg.Amount) * 100; p.AmountMinor != want {
		return false, fmt.Errorf("captured %d paise, expected %d", p.AmountMinor, want)
	}

	err = s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx, after func(uow.AfterCommit)) error {
		cur, err := tx.Registrations().GetForUpdate(ctx, reg.ID)
		if err != nil {
			return err
		}
		if cur.Status != domain.StatusPending {
			return nil
		}

		ev, err := tx.Events().ReserveSeats(ctx, cur.EventID, cur.TicketQuantity)
		if err != nil {
			if errors.Is(err, repository.ErrNoSeatsAvailable) {
				return ErrNoSeatsAvailable
			}
			return err
		}

		if err := tx.Registrations().MarkCaptured(ctx, cur.ID, cur.PaymentReference, cur.Amount); err != nil {
			return err
		}

		cur.Status = domain.StatusCaptured
		s.afterCapture(after, *cur, ev)

		return nil
	})
	if errors.Is(err, ErrNoSeatsAvailable) {
		metrics.PaymentCaptures.WithLabelValues(metrics.OutcomeNoSeats).Inc()
		s.log.ErrorContext(ctx, "payment captured for a full event, refund required",
			slog.String("registration_id", reg.ID.String()),
			slog.String("payment_reference", reg.PaymentReference),
		)
		if err := s.store.Registrations().MarkFailed(ctx, reg.ID, NoSeatsReason); err != nil &&
			!errors.Is(err, repository.ErrNotPending) {
			return false, err
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}

	metrics.PaymentCaptures.WithLabelValues(metrics.OutcomeCaptured).Inc()
	s.log.InfoContext(ctx, "payment attempt reconciled as captured",
		slog.String("registration_id", reg.ID.String()),
		slog.String("payment_reference", reg.PaymentReference),
	)

	return false, nil
}

func resultOf(reg *domain.Registration, replayed bool) *CaptureResult {
	return &CaptureResult{
		RegistrationID:   reg.ID,
		PaymentReference: reg.PaymentReference,
		CapturedAmount:   reg.Amount,
		Replayed:         replayed,
	}
}
