package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kirinyoku/joynous/internal/domain"
	"github.com/kirinyoku/joynous/internal/pricing"
	"github.com/kirinyoku/joynous/internal/regform"
	"github.com/kirinyoku/joynous/internal/repository/memory"
	redisrepo "github.com/kirinyoku/joynous/internal/repository/redis"
	"github.com/kirinyoku/joynous/internal/service/registration"
)

type fixture struct {
	svc       *Service
	drafts    *registration.Service
	store     *memory.Store
	processor *processorMock
	notifier  *notifierMock
	idem      *idemMock
	limiter   *limiterMock
	cache     *cacheMock
	pubsub    *pubsubMock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	fx := &fixture{
		store:     memory.NewStore(),
		processor: &processorMock{},
		notifier:  &notifierMock{},
		idem:      &idemMock{vals: map[string]string{}},
		limiter:   &limiterMock{allow: true},
		cache:     &cacheMock{},
		pubsub:    &pubsubMock{booked: map[int64]int{}},
	}

	fx.drafts = registration.New(
		fx.store,
		&draftStoreMock{drafts: map[uuid.UUID][]byte{}},
		profileStoreMock{},
		pricing.NewCatalog(pricing.DefaultEarlyBird),
		registration.Config{EarlyBird: pricing.EarlyBirdWindow{Lead: 14 * 24 * time.Hour}},
		nil,
	)

	fx.svc = New(Deps{
		Store:     fx.store,
		Drafts:    fx.drafts,
		Processor: fx.processor,
		Notifier:  fx.notifier,
		Idem:      fx.idem,
		Limiter:   fx.limiter,
		Cache:     fx.cache,
		PubSub:    fx.pubsub,
	}, Config{
		KeyID:          "rzp_test_key",
		CaptureTimeout: time.Second,
	})

	return fx
}

func (fx *fixture) event(t *testing.T, seats, price int) int64 {
	t.Helper()
	id, err := fx.store.Events().Create(context.Background(), domain.Event{
		Kind:       domain.KindEvent,
		Slug:       uuid.NewString(),
		Name:       "Open Mic Night",
		StartsAt:   time.Now().Add(30 * 24 * time.Hour),
		Venue:      "Indiranagar",
		TotalSeats: seats,
		Price:      price,
	})
	require.NoError(t, err)
	return id
}

func (fx *fixture) pending(t *testing.T, eventID int64, quantity, amount int) *domain.Registration {
	t.Helper()
	names := make([]string, quantity)
	for i := range names {
		names[i] = "Guest"
	}
	reg, err := fx.store.Registrations().Create(context.Background(), domain.Registration{
		EventID: eventID,
		Contact: domain.Contact{
			Name:  "Asha Rao",
			Email: "asha@example.in",
			Phone: "9876543210",
		},
		TicketQuantity:   quantity,
		TicketNames:      names,
		Amount:           amount,
		IdempotencyToken: uuid.New(),
	})
	require.NoError(t, err)
	return reg
}

func captureReq(reg *domain.Registration, ref string) CaptureRequest {
	return CaptureRequest{
		PaymentReference: ref,
		RegistrationID:   reg.ID,
		Amount:           reg.Amount,
		EventID:          reg.EventID,
		IdempotencyToken: reg.IdempotencyToken,
	}
}

func (fx *fixture) booked(t *testing.T, eventID int64) int {
	t.Helper()
	e, err := fx.store.Events().Get(context.Background(), eventID)
	require.NoError(t, err)
	return e.BookedSeats
}

func (fx *fixture) status(t *testing.T, id uuid.UUID) *domain.Registration {
	t.Helper()
	reg, err := fx.store.Registrations().Get(context.Background(), id)
	require.NoError(t, err)
	return reg
}

func TestCapture_Success(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	var gotMinor int64
	fx.processor.capture = func(_ context.Context, id string, amountMinor int64) (*domain.ProcessorPayment, error) {
		gotMinor = amountMinor
		return &domain.ProcessorPayment{ID: id, Status: domain.ProcessorCaptured, AmountMinor: amountMinor}, nil
	}

	eventID := fx.event(t, 10, 500)
	reg := fx.pending(t, eventID, 2, 1000)

	res, err := fx.svc.Capture(ctx, captureReq(reg, "pay_A"))
	require.NoError(t, err)
	assert.Equal(t, "pay_A", res.PaymentReference)
	assert.Equal(t, 1000, res.CapturedAmount)
	assert.Equal(t, int64(100000), gotMinor)

	assert.Equal(t, 2, fx.booked(t, eventID))

	got := fx.status(t, reg.ID)
	assert.Equal(t, domain.StatusCaptured, got.Status)
	assert.Equal(t, "pay_A", got.PaymentReference)

	confirmations := fx.notifier.confirmations()
	require.Len(t, confirmations, 1)
	assert.Equal(t, "asha@example.in", confirmations[0].RecipientEmail)
	assert.Equal(t, "Open Mic Night", confirmations[0].EventName)
	assert.Equal(t, "Indiranagar", confirmations[0].Venue)
	assert.Equal(t, 1000, confirmations[0].Amount)

	assert.Equal(t, []int64{eventID}, fx.cache.invalidated)
	assert.Equal(t, 2, fx.pubsub.booked[eventID])
}

func TestCapture_DuplicateTokenReplaysResult(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	eventID := fx.event(t, 10, 500)
	reg := fx.pending(t, eventID, 1, 500)

	first, err := fx.svc.Capture(ctx, captureReq(reg, "pay_A"))
	require.NoError(t, err)

	second, err := fx.svc.Capture(ctx, captureReq(reg, "pay_A"))
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.PaymentReference, second.PaymentReference)

	assert.Equal(t, 1, fx.processor.calls())
	assert.Equal(t, 1, fx.booked(t, eventID))
}

func TestCapture_ReplayFromRegistration(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	eventID := fx.event(t, 10, 500)
	reg := fx.pending(t, eventID, 1, 500)

	_, err := fx.svc.Capture(ctx, captureReq(reg, "pay_A"))
	require.NoError(t, err)

	fx.idem.vals = map[string]string{}

	res, err := fx.svc.Capture(ctx, captureReq(reg, "pay_A"))
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, 1, fx.processor.calls())

	fx.idem.vals = map[string]string{}
	_, err = fx.svc.Capture(ctx, captureReq(reg, "pay_B"))
	assert.ErrorIs(t, err, ErrRegistrationClosed)
}

func TestCapture_NoSeatsFailsRegistration(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	eventID := fx.event(t, 1, 500)
	first := fx.pending(t, eventID, 1, 500)
	second := fx.pending(t, eventID, 1, 500)

	_, err := fx.svc.Capture(ctx, captureReq(first, "pay_A"))
	require.NoError(t, err)

	_, err = fx.svc.Capture(ctx, captureReq(second, "pay_B"))
	require.ErrorIs(t, err, ErrNoSeatsAvailable)
	assert.Equal(t, "No seats available", ErrNoSeatsAvailable.Error())

	assert.Equal(t, 1, fx.processor.calls(), "no capture once seats are gone")
	assert.Equal(t, 1, fx.booked(t, eventID))

	got := fx.status(t, second.ID)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Contains(t, got.FailureReason, "5-7 business days")
}

func TestCapture_MultiTicketNeedsAllSeats(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	eventID := fx.event(t, 3, 500)
	reg := fx.pending(t, eventID, 4, 2000)

	_, err := fx.svc.Capture(ctx, captureReq(reg, "pay_A"))
	assert.ErrorIs(t, err, ErrNoSeatsAvailable)
	assert.Equal(t, 0, fx.booked(t, eventID))
}

func TestCapture_ConcurrentLastSeat(t *testing.T) {
	defer goleak.VerifyNone(t)

	fx := newFixture(t)
	ctx := context.Background()

	eventID := fx.event(t, 1, 500)

	regs := make([]*domain.Registration, 8)
	for i := range regs {
		regs[i] = fx.pending(t, eventID, 1, 500)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		noSeats   int
	)
	for i, reg := range regs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.svc.Capture(ctx, captureReq(reg, "pay_"+string(rune('A'+i))))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrNoSeatsAvailable):
				noSeats++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, len(regs)-1, noSeats)
	assert.Equal(t, 1, fx.booked(t, eventID))
}

func TestCapture_DeclinedReleasesSeats(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.processor.capture = func(_ context.Context, id string, amountMinor int64) (*domain.ProcessorPayment, error) {
		return &domain.ProcessorPayment{ID: id, Status: "failed", AmountMinor: amountMinor}, nil
	}

	eventID := fx.event(t, 5, 500)
	reg := fx.pending(t, eventID, 2, 1000)

	_, err := fx.svc.Capture(ctx, captureReq(reg, "pay_A"))
	require.ErrorIs(t, err, ErrCaptureFailed)

	assert.Equal(t, 0, fx.booked(t, eventID))
	assert.Equal(t, domain.StatusFailed, fx.status(t, reg.ID).Status)
	assert.Empty(t, fx.notifier.confirmations())
}

func TestCapture_ProcessorDeclineError(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.processor.capture = func(context.Context, string, int64) (*domain.ProcessorPayment, error) {
		return nil, errors.Join(domain.ErrPaymentDeclined, errors.New("BAD_REQUEST_ERROR"))
	}

	eventID := fx.event(t, 5, 500)
	reg := fx.pending(t, eventID, 1, 500)

	_, err := fx.svc.Capture(ctx, captureReq(reg, "pay_A"))
	require.ErrorIs(t, err, ErrCaptureFailed)
	assert.Equal(t, domain.StatusFailed, fx.status(t, reg.ID).Status)
}

func TestCapture_TimeoutLeavesPending(t *testing.T) {
	defer goleak.VerifyNone(t)

	fx := newFixture(t)
	fx.svc.cfg.CaptureTimeout = 20 * time.Millisecond
	ctx := context.Background()

	fx.processor.capture = func(ctx context.Context, _ string, _ int64) (*domain.ProcessorPayment, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	eventID := fx.event(t, 5, 500)
	reg := fx.pending(t, eventID, 1, 500)

	_, err := fx.svc.Capture(ctx, captureReq(reg, "pay_A"))
	require.ErrorIs(t, err, ErrPaymentStatusUnknown)

	assert.Equal(t, 0, fx.booked(t, eventID))
	got := fx.status(t, reg.ID)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, "pay_A", got.PaymentReference, "the attempt is recorded for reconciliation")

	// the lock is released so the capture can be retried
	fx.processor.capture = nil
	_, err = fx.svc.Capture(ctx, captureReq(reg, "pay_A"))
	require.NoError(t, err)
	assert.Equal(t, 1, fx.booked(t, eventID))
}

func TestCapture_LostReplyResolvedByLookup(t *testing.T) {
	defer goleak.VerifyNone(t)

	fx := newFixture(t)
	fx.svc.cfg.CaptureTimeout = 20 * time.Millisecond
	ctx := context.Background()

	// the processor captures but its reply never arrives
	fx.processor.capture = func(ctx context.Context, id string, amountMinor int64) (*domain.ProcessorPayment, error) {
		fx.processor.set(domain.ProcessorPayment{ID: id, Status: domain.ProcessorCaptured, AmountMinor: amountMinor})
		<-ctx.Done()
		return nil, ctx.Err()
	}

	eventID := fx.event(t, 5, 500)
	reg := fx.pending(t, eventID, 1, 500)

	res, err := fx.svc.Capture(ctx, captureReq(reg, "pay_A"))
	require.NoError(t, err)
	assert.Equal(t, 500, res.CapturedAmount)

	assert.Equal(t, domain.StatusCaptured, fx.status(t, reg.ID).Status)
	assert.Equal(t, 1, fx.booked(t, eventID))
	assert.Len(t, fx.notifier.confirmations(), 1)
}

func TestCapture_RetryOfAlreadyCapturedPaymentFinalizes(t *testing.T) {
	defer goleak.VerifyNone(t)

	fx := newFixture(t)
	fx.svc.cfg.CaptureTimeout = 20 * time.Millisecond
	ctx := context.Background()

	eventID := fx.event(t, 5, 500)
	reg := fx.pending(t, eventID, 1, 500)

	// captured, but neither the reply nor a lookup gets through
	fx.processor.capture = func(ctx context.Context, id string, amountMinor int64) (*domain.ProcessorPayment, error) {
		fx.processor.set(domain.ProcessorPayment{ID: id, Status: domain.ProcessorCaptured, AmountMinor: amountMinor})
		<-ctx.Done()
		return nil, ctx.Err()
	}
	fx.processor.fetch = func(context.Context, string) (*domain.ProcessorPayment, error) {
		return nil, errors.New("connection refused")
	}

	_, err := fx.svc.Capture(ctx, captureReq(reg, "pay_A"))
	require.ErrorIs(t, err, ErrPaymentStatusUnknown)
	assert.Equal(t, domain.StatusPending, fx.status(t, reg.ID).Status)

	// the retry is refused because the payment is already captured
	fx.processor.capture = func(context.Context, string, int64) (*domain.ProcessorPayment, error) {
		return nil, errors.Join(domain.ErrPaymentDeclined, errors.New("This payment has already been captured"))
	}
	fx.processor.fetch = nil

	res, err := fx.svc.Capture(ctx, captureReq(reg, "pay_A"))
	require.NoError(t, err)
	assert.Equal(t, "pay_A", res.PaymentReference)

	got := fx.status(t, reg.ID)
	assert.Equal(t, domain.StatusCaptured, got.Status)
	assert.Empty(t, got.FailureReason)
	assert.Equal(t, 1, fx.booked(t, eventID))
	assert.Len(t, fx.notifier.confirmations(), 1)
}

func TestCapture_OtherPaymentWhileAttemptUnconfirmed(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	eventID := fx.event(t, 5, 500)
	reg := fx.pending(t, eventID, 1, 500)
	require.NoError(t, fx.store.Registrations().RecordAttempt(ctx, reg.ID, "pay_A"))

	_, err := fx.svc.Capture(ctx, captureReq(reg, "pay_B"))
	assert.ErrorIs(t, err, ErrPaymentStatusUnknown)
	assert.Equal(t, 0, fx.processor.calls())

	assert.ErrorIs(t, fx.svc.Cancel(ctx, reg.ID), ErrPaymentStatusUnknown)
	assert.ErrorIs(t, fx.svc.Fail(ctx, reg.ID, "dismissed"), ErrPaymentStatusUnknown)
	assert.Equal(t, domain.StatusPending, fx.status(t, reg.ID).Status)
}

func TestCancel_DuringCaptureLoses(t *testing.T) {
	defer goleak.VerifyNone(t)

	fx := newFixture(t)
	ctx := context.Background()

	eventID := fx.event(t, 5, 500)
	reg := fx.pending(t, eventID, 1, 500)

	entered := make(chan struct{})
	release := make(chan struct{})
	fx.processor.capture = func(_ context.Context, id string, amountMinor int64) (*domain.ProcessorPayment, error) {
		close(entered)
		<-release
		return &domain.ProcessorPayment{ID: id, Status: domain.ProcessorCaptured, AmountMinor: amountMinor}, nil
	}

	captureErr := make(chan error, 1)
	go func() {
		_, err := fx.svc.Capture(ctx, captureReq(reg, "pay_A"))
		captureErr <- err
	}()
	<-entered

	cancelErr := make(chan error, 1)
	go func() {
		cancelErr <- fx.svc.Cancel(ctx, reg.ID)
	}()

	select {
	case err := <-cancelErr:
		t.Fatalf("cancel finished while the capture was running: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-captureErr)
	assert.ErrorIs(t, <-cancelErr, ErrRegistrationClosed)

	got := fx.status(t, reg.ID)
	assert.Equal(t, domain.StatusCaptured, got.Status)
	assert.Empty(t, got.FailureReason)
}

func TestCapture_RejectsMismatches(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	eventID := fx.event(t, 5, 500)
	reg := fx.pending(t, eventID, 1, 500)

	req := captureReq(reg, "pay_A")
	req.Amount = 1
	_, err := fx.svc.Capture(ctx, req)
	assert.ErrorIs(t, err, ErrAmountMismatch)

	req = captureReq(reg, "pay_A")
	req.IdempotencyToken = uuid.New()
	_, err = fx.svc.Capture(ctx, req)
	assert.ErrorIs(t, err, ErrRegistrationNotFound)

	req = captureReq(reg, "pay_A")
	req.EventID = eventID + 1
	_, err = fx.svc.Capture(ctx, req)
	assert.ErrorIs(t, err, ErrRegistrationNotFound)

	req = captureReq(reg, " ")
	_, err = fx.svc.Capture(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	require.NoError(t, fx.svc.Cancel(ctx, reg.ID))
	_, err = fx.svc.Capture(ctx, captureReq(reg, "pay_A"))
	assert.ErrorIs(t, err, ErrRegistrationClosed)

	assert.Equal(t, 0, fx.processor.calls())
}

func TestCapture_InProgress(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	eventID := fx.event(t, 5, 500)
	reg := fx.pending(t, eventID, 1, 500)

	locked, err := fx.idem.AcquireLock(ctx, redisrepo.KeyIdemCapture(reg.IdempotencyToken), time.Minute)
	require.NoError(t, err)
	require.True(t, locked)

	_, err = fx.svc.Capture(ctx, captureReq(reg, "pay_A"))
	assert.ErrorIs(t, err, ErrCaptureInProgress)
}

func TestCapture_NotificationFailureIgnored(t *testing.T) {
	fx := newFixture(t)
	fx.notifier.err = errors.New("stream unavailable")
	ctx := context.Background()

	eventID := fx.event(t, 5, 500)
	reg := fx.pending(t, eventID, 1, 500)

	_, err := fx.svc.Capture(ctx, captureReq(reg, "pay_A"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCaptured, fx.status(t, reg.ID).Status)
}

func TestCancelAndFail(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	eventID := fx.event(t, 5, 500)
	reg := fx.pending(t, eventID, 1, 500)

	require.NoError(t, fx.svc.Cancel(ctx, reg.ID))
	got := fx.status(t, reg.ID)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, ReasonCancelled, got.FailureReason)

	assert.ErrorIs(t, fx.svc.Cancel(ctx, reg.ID), ErrRegistrationClosed)
	assert.ErrorIs(t, fx.svc.Fail(ctx, uuid.New(), "x"), ErrRegistrationNotFound)

	other := fx.pending(t, eventID, 1, 500)
	require.NoError(t, fx.svc.Fail(ctx, other.ID, "  "))
	assert.Equal(t, "Payment failed", fx.status(t, other.ID).FailureReason)
}

func TestExpirePending(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	eventID := fx.event(t, 5, 500)
	stale := fx.pending(t, eventID, 1, 500)
	done := fx.pending(t, eventID, 1, 500)
	_, err := fx.svc.Capture(ctx, captureReq(done, "pay_A"))
	require.NoError(t, err)

	n, err := fx.svc.ExpirePending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	fx.svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	n, err = fx.svc.ExpirePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got := fx.status(t, stale.ID)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, ReasonExpired, got.FailureReason)
	assert.Equal(t, domain.StatusCaptured, fx.status(t, done.ID).Status)
}

func TestExpirePending_ReconcilesAttempts(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	eventID := fx.event(t, 5, 500)
	paid := fx.pending(t, eventID, 2, 1000)
	unpaid := fx.pending(t, eventID, 1, 500)
	abandoned := fx.pending(t, eventID, 1, 500)

	require.NoError(t, fx.store.Registrations().RecordAttempt(ctx, paid.ID, "pay_A"))
	require.NoError(t, fx.store.Registrations().RecordAttempt(ctx, unpaid.ID, "pay_B"))
	fx.processor.set(domain.ProcessorPayment{ID: "pay_A", Status: domain.ProcessorCaptured, AmountMinor: 100000})

	fx.svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	n, err := fx.svc.ExpirePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got := fx.status(t, paid.ID)
	assert.Equal(t, domain.StatusCaptured, got.Status)
	assert.Equal(t, "pay_A", got.PaymentReference)
	assert.Equal(t, 2, fx.booked(t, eventID))
	require.Len(t, fx.notifier.confirmations(), 1)
	assert.Equal(t, paid.ID, fx.notifier.confirmations()[0].RegistrationID)

	got = fx.status(t, unpaid.ID)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, ReasonExpired, got.FailureReason)

	assert.Equal(t, domain.StatusFailed, fx.status(t, abandoned.ID).Status)
	assert.Zero(t, fx.processor.calls(), "reconciliation never captures")
}

func TestExpirePending_KeepsAttemptWhenProcessorUnreachable(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.processor.fetch = func(context.Context, string) (*domain.ProcessorPayment, error) {
		return nil, errors.New("connection refused")
	}

	eventID := fx.event(t, 5, 500)
	reg := fx.pending(t, eventID, 1, 500)
	require.NoError(t, fx.store.Registrations().RecordAttempt(ctx, reg.ID, "pay_A"))

	fx.svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	n, err := fx.svc.ExpirePending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, domain.StatusPending, fx.status(t, reg.ID).Status)
}

func TestExpirePending_CapturedForFullEventFails(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	eventID := fx.event(t, 1, 500)
	winner := fx.pending(t, eventID, 1, 500)
	late := fx.pending(t, eventID, 1, 500)

	_, err := fx.svc.Capture(ctx, captureReq(winner, "pay_A"))
	require.NoError(t, err)

	require.NoError(t, fx.store.Registrations().RecordAttempt(ctx, late.ID, "pay_B"))
	fx.processor.set(domain.ProcessorPayment{ID: "pay_B", Status: domain.ProcessorCaptured, AmountMinor: 50000})

	fx.svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = fx.svc.ExpirePending(ctx)
	require.NoError(t, err)

	got := fx.status(t, late.ID)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, NoSeatsReason, got.FailureReason)
	assert.Equal(t, 1, fx.booked(t, eventID))
}

func reviewedDraft(t *testing.T, fx *fixture, eventID int64) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	d, err := fx.drafts.Start(ctx, "client", eventID)
	require.NoError(t, err)
	id := d.Flow.ID

	_, err = fx.drafts.UpdateDetails(ctx, id, regform.Details{
		Name:            "Asha Rao",
		Email:           "asha@example.in",
		Phone:           "9876543210",
		Age:             24,
		HearAbout:       "Facebook",
		InstagramPhotos: "no",
		IDProof:         true,
		TermsAccepted:   true,
	})
	require.NoError(t, err)
	_, err = fx.drafts.SetTicketName(ctx, id, 0, "Asha Rao")
	require.NoError(t, err)
	_, err = fx.drafts.Review(ctx, id)
	require.NoError(t, err)

	return id
}

func TestBeginThenCapture(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	eventID := fx.event(t, 5, 500)
	draftID := reviewedDraft(t, fx, eventID)

	co, err := fx.svc.Begin(ctx, draftID, "client")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, co.Status)
	assert.Equal(t, 350, co.Amount)
	assert.Equal(t, int64(35000), co.AmountMinor)
	assert.Equal(t, "INR", co.Currency)
	assert.Equal(t, "rzp_test_key", co.KeyID)
	assert.Equal(t, "Registration for Open Mic Night", co.Description)
	assert.Equal(t, "9876543210", co.Prefill.Contact)

	reg := fx.status(t, co.RegistrationID)
	assert.Equal(t, domain.StatusPending, reg.Status)
	assert.Equal(t, pricing.CodeEarlyBird, reg.PrimaryCoupon)
	assert.Equal(t, co.IdempotencyToken, reg.IdempotencyToken)

	_, err = fx.svc.Begin(ctx, draftID, "client")
	assert.ErrorIs(t, err, regform.ErrInvalidTransition, "a draft awaiting payment cannot check out twice")

	_, err = fx.svc.Capture(ctx, CaptureRequest{
		PaymentReference: "pay_A",
		RegistrationID:   co.RegistrationID,
		Amount:           co.Amount,
		EventID:          eventID,
		IdempotencyToken: co.IdempotencyToken,
	})
	require.NoError(t, err)

	d, err := fx.drafts.Get(ctx, draftID)
	require.NoError(t, err)
	assert.Equal(t, regform.StateCaptured, d.Flow.State)
	assert.Equal(t, 4, d.Remaining)
}

func TestBegin_FreeOrderCompletesImmediately(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	eventID := fx.event(t, 5, 0)
	draftID := reviewedDraft(t, fx, eventID)

	co, err := fx.svc.Begin(ctx, draftID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCaptured, co.Status)
	assert.Equal(t, "free:"+co.IdempotencyToken.String(), co.PaymentReference)

	assert.Equal(t, 0, fx.processor.calls())
	assert.Equal(t, 1, fx.booked(t, eventID))
	assert.Len(t, fx.notifier.confirmations(), 1)

	d, err := fx.drafts.Get(ctx, draftID)
	require.NoError(t, err)
	assert.Equal(t, regform.StateCaptured, d.Flow.State)
}

func TestBegin_CheckoutInProgress(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	eventID := fx.event(t, 5, 500)
	draftID := reviewedDraft(t, fx, eventID)

	locked, err := fx.idem.AcquireLock(ctx, redisrepo.KeyCheckoutLock(draftID), time.Minute)
	require.NoError(t, err)
	require.True(t, locked)

	_, err = fx.svc.Begin(ctx, draftID, "client")
	assert.ErrorIs(t, err, ErrCheckoutInProgress)

	regs, err := fx.store.Registrations().ListByEvent(ctx, eventID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, regs)
}

func TestBegin_ConcurrentCheckoutsCreateOneRegistration(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	eventID := fx.event(t, 5, 500)
	draftID := reviewedDraft(t, fx, eventID)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		refused   int
	)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.svc.Begin(ctx, draftID, "client")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrCheckoutInProgress), errors.Is(err, regform.ErrInvalidTransition):
				refused++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, refused)

	regs, err := fx.store.Registrations().ListByEvent(ctx, eventID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, regs, 1)
}

func TestBegin_RateLimited(t *testing.T) {
	fx := newFixture(t)
	fx.limiter.allow = false

	eventID := fx.event(t, 5, 500)
	draftID := reviewedDraft(t, fx, eventID)

	_, err := fx.svc.Begin(context.Background(), draftID, "client")
	assert.ErrorIs(t, err, ErrRateLimited)
}
