package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirinyoku/joynous/internal/domain"
	"github.com/kirinyoku/joynous/internal/pricing"
	"github.com/kirinyoku/joynous/internal/regform"
	"github.com/kirinyoku/joynous/internal/repository"
	"github.com/kirinyoku/joynous/internal/repository/memory"
)

type draftStoreMock struct {
	mu     sync.Mutex
	drafts map[uuid.UUID][]byte
}

func (m *draftStoreMock) Save(_ context.Context, f *regform.Flow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	m.drafts[f.ID] = b
	return nil
}

func (m *draftStoreMock) Load(_ context.Context, id uuid.UUID) (*regform.Flow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.drafts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	var f regform.Flow
	return &f, json.Unmarshal(b, &f)
}

func (m *draftStoreMock) Update(_ context.Context, id uuid.UUID, fn func(f *regform.Flow) error) (*regform.Flow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.drafts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	var f regform.Flow
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	if err := fn(&f); err != nil {
		return nil, err
	}
	out, err := json.Marshal(&f)
	if err != nil {
		return nil, err
	}
	m.drafts[id] = out
	return &f, nil
}

type profileStoreMock struct {
	mu       sync.Mutex
	profiles map[string]domain.Contact
}

func (m *profileStoreMock) Save(_ context.Context, clientID string, c domain.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[clientID] = c
	return nil
}

func (m *profileStoreMock) Load(_ context.Context, clientID string) (domain.Contact, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.profiles[clientID]
	return c, ok, nil
}

type brokenProfileStore struct{}

func (brokenProfileStore) Save(context.Context, string, domain.Contact) error {
	return errors.New("redis: connection refused")
}

func (brokenProfileStore) Load(context.Context, string) (domain.Contact, bool, error) {
	return domain.Contact{}, false, errors.New("redis: connection refused")
}

type fixture struct {
	svc      *Service
	store    *memory.Store
	profiles *profileStoreMock
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	fx := &fixture{
		store:    memory.NewStore(),
		profiles: &profileStoreMock{profiles: map[string]domain.Contact{}},
		now:      time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC),
	}

	fx.svc = New(
		fx.store,
		&draftStoreMock{drafts: map[uuid.UUID][]byte{}},
		fx.profiles,
		pricing.NewCatalog(pricing.DefaultEarlyBird),
		Config{EarlyBird: pricing.EarlyBirdWindow{Lead: 14 * 24 * time.Hour}},
		nil,
	)
	fx.svc.now = func() time.Time { return fx.now }

	return fx
}

func (fx *fixture) event(t *testing.T, seats int, startsIn time.Duration) int64 {
	t.Helper()
	id, err := fx.store.Events().Create(context.Background(), domain.Event{
		Kind:       domain.KindTrip,
		Slug:       uuid.NewString(),
		Name:       "Kodachadri Trek",
		StartsAt:   fx.now.Add(startsIn),
		TotalSeats: seats,
		Price:      500,
	})
	require.NoError(t, err)
	return id
}

func details() regform.Details {
	return regform.Details{
		Name:            "Asha Rao",
		Email:           "asha@example.in",
		Phone:           "9876543210",
		Age:             24,
		HearAbout:       "Instagram",
		InstagramPhotos: "yes",
		IDProof:         true,
		TermsAccepted:   true,
	}
}

func TestStart_AutoAppliesEarlyBird(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	early := fx.event(t, 10, 30*24*time.Hour)
	d, err := fx.svc.Start(ctx, "client", early)
	require.NoError(t, err)
	assert.Equal(t, pricing.CodeEarlyBird, d.Flow.Coupons.Primary)
	assert.Equal(t, 350, d.Pricing.FinalAmount)

	late := fx.event(t, 10, 3*24*time.Hour)
	d, err = fx.svc.Start(ctx, "client", late)
	require.NoError(t, err)
	assert.Empty(t, d.Flow.Coupons.Primary)
	assert.Equal(t, 500, d.Pricing.FinalAmount)

	_, err = fx.svc.Start(ctx, "client", 999)
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestPricingFollowsQuantityAndCoupons(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	id := fx.event(t, 10, 30*24*time.Hour)

	d, err := fx.svc.Start(ctx, "client", id)
	require.NoError(t, err)
	draftID := d.Flow.ID

	d, err = fx.svc.Increment(ctx, draftID)
	require.NoError(t, err)
	assert.Equal(t, 700, d.Pricing.FinalAmount)
	assert.Len(t, d.Flow.Form.TicketNames, 2)

	d, err = fx.svc.ApplyCoupon(ctx, draftID, " welcome15 ")
	require.NoError(t, err)
	assert.Equal(t, pricing.CodeWelcome15, d.Flow.Coupons.Primary)
	assert.Equal(t, 850, d.Pricing.FinalAmount)

	d, err = fx.svc.ApplyCoupon(ctx, draftID, "GCCSPECIAL200")
	require.NoError(t, err)
	assert.Equal(t, 650, d.Pricing.FinalAmount)

	_, err = fx.svc.ApplyCoupon(ctx, draftID, "JOYSPECIAL100")
	assert.ErrorIs(t, err, pricing.ErrDuplicateExtraCoupon)

	_, err = fx.svc.ApplyCoupon(ctx, draftID, "NOPE")
	assert.ErrorIs(t, err, pricing.ErrInvalidCoupon)

	d, err = fx.svc.Get(ctx, draftID)
	require.NoError(t, err)
	assert.Equal(t, pricing.CodeGCCSpecial, d.Flow.Coupons.Extra)
	assert.Equal(t, 650, d.Pricing.FinalAmount)

	d, err = fx.svc.RemoveCoupon(ctx, draftID, SlotPrimary)
	require.NoError(t, err)
	assert.Equal(t, 800, d.Pricing.FinalAmount)
	assert.True(t, d.Flow.Coupons.EarlyBirdSuppressed)

	_, err = fx.svc.RemoveCoupon(ctx, draftID, "bonus")
	assert.ErrorIs(t, err, ErrUnknownCouponSlot)
}

func TestEarlyBirdDroppedWhenWindowCloses(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	id := fx.event(t, 10, 15*24*time.Hour)

	d, err := fx.svc.Start(ctx, "client", id)
	require.NoError(t, err)
	assert.Equal(t, 350, d.Pricing.FinalAmount)

	fx.now = fx.now.Add(2 * 24 * time.Hour)

	d, err = fx.svc.Get(ctx, d.Flow.ID)
	require.NoError(t, err)
	assert.Empty(t, d.Pricing.PrimaryCode)
	assert.Equal(t, 500, d.Pricing.FinalAmount)

	_, err = fx.svc.ApplyCoupon(ctx, d.Flow.ID, "EARLYBIRD")
	assert.ErrorIs(t, err, pricing.ErrCouponExpired)
}

func TestReview_RemembersContactForPrefill(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	id := fx.event(t, 10, 30*24*time.Hour)

	d, err := fx.svc.Start(ctx, "client", id)
	require.NoError(t, err)
	draftID := d.Flow.ID

	_, err = fx.svc.Review(ctx, draftID)
	var ve *regform.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "name")

	_, err = fx.svc.UpdateDetails(ctx, draftID, details())
	require.NoError(t, err)
	_, err = fx.svc.SetTicketName(ctx, draftID, 0, "Asha Rao")
	require.NoError(t, err)

	d, err = fx.svc.Review(ctx, draftID)
	require.NoError(t, err)
	assert.Equal(t, regform.StateReviewing, d.Flow.State)

	next, err := fx.svc.Start(ctx, "client", id)
	require.NoError(t, err)
	assert.Equal(t, "Asha Rao", next.Flow.Form.Details.Name)
	assert.Equal(t, []string{""}, next.Flow.Form.TicketNames)
}

func TestQuantityClampedToRemainingSeats(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	id := fx.event(t, 2, 30*24*time.Hour)

	d, err := fx.svc.Start(ctx, "client", id)
	require.NoError(t, err)

	d, err = fx.svc.SetQuantity(ctx, d.Flow.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Flow.Form.TicketQuantity)

	d, err = fx.svc.Increment(ctx, d.Flow.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Flow.Form.TicketQuantity)

	d, err = fx.svc.Decrement(ctx, d.Flow.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Flow.Form.TicketQuantity)
}

func TestGet_ReconcilesWithRegistration(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	id := fx.event(t, 10, 30*24*time.Hour)

	d, err := fx.svc.Start(ctx, "client", id)
	require.NoError(t, err)
	draftID := d.Flow.ID

	_, err = fx.svc.UpdateDetails(ctx, draftID, details())
	require.NoError(t, err)
	_, err = fx.svc.SetTicketName(ctx, draftID, 0, "Asha Rao")
	require.NoError(t, err)
	_, err = fx.svc.Review(ctx, draftID)
	require.NoError(t, err)

	d, err = fx.svc.ForCheckout(ctx, draftID)
	require.NoError(t, err)
	assert.Equal(t, 350, d.Pricing.FinalAmount)

	reg, err := fx.store.Registrations().Create(ctx, domain.Registration{
		EventID:          id,
		TicketQuantity:   1,
		TicketNames:      []string{"Asha Rao"},
		Amount:           350,
		IdempotencyToken: uuid.New(),
	})
	require.NoError(t, err)
	require.NoError(t, fx.svc.AwaitPayment(ctx, draftID, reg.ID))

	_, err = fx.svc.UpdateDetails(ctx, draftID, details())
	assert.ErrorIs(t, err, regform.ErrFlowLocked)

	d, err = fx.svc.Get(ctx, draftID)
	require.NoError(t, err)
	assert.Equal(t, regform.StateAwaitingPayment, d.Flow.State)

	require.NoError(t, fx.store.Registrations().MarkFailed(ctx, reg.ID, "No seats available"))

	d, err = fx.svc.Get(ctx, draftID)
	require.NoError(t, err)
	assert.Equal(t, regform.StateFailed, d.Flow.State)
	assert.Equal(t, "No seats available", d.Flow.Error)

	d, err = fx.svc.Retry(ctx, draftID)
	require.NoError(t, err)
	assert.Equal(t, regform.StateReviewing, d.Flow.State)
}

func TestForCheckout_RequiresReview(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	id := fx.event(t, 10, 30*24*time.Hour)

	d, err := fx.svc.Start(ctx, "client", id)
	require.NoError(t, err)

	_, err = fx.svc.ForCheckout(ctx, d.Flow.ID)
	assert.ErrorIs(t, err, regform.ErrInvalidTransition)

	_, err = fx.svc.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrDraftNotFound)
}

func TestProfileStoreFailuresDoNotBlockTheFlow(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	id := fx.event(t, 10, 30*24*time.Hour)

	var logs bytes.Buffer
	fx.svc.profiles = brokenProfileStore{}
	fx.svc.log = slog.New(slog.NewTextHandler(&logs, nil))

	d, err := fx.svc.Start(ctx, "client", id)
	require.NoError(t, err)
	assert.Empty(t, d.Flow.Form.Details.Name)
	assert.Contains(t, logs.String(), "failed to load saved profile")

	draftID := d.Flow.ID
	_, err = fx.svc.UpdateDetails(ctx, draftID, details())
	require.NoError(t, err)
	_, err = fx.svc.SetTicketName(ctx, draftID, 0, "Asha Rao")
	require.NoError(t, err)

	d, err = fx.svc.Review(ctx, draftID)
	require.NoError(t, err)
	assert.Equal(t, regform.StateReviewing, d.Flow.State)
	assert.Contains(t, logs.String(), "failed to save profile")
}

func TestConcurrentStepsKeepEveryChange(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	id := fx.event(t, 20, 30*24*time.Hour)

	d, err := fx.svc.Start(ctx, "client", id)
	require.NoError(t, err)
	draftID := d.Flow.ID

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.svc.Increment(ctx, draftID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	d, err = fx.svc.Get(ctx, draftID)
	require.NoError(t, err)
	assert.Equal(t, 6, d.Flow.Form.TicketQuantity)
}

func TestAwaitPayment_OnlyOnce(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	id := fx.event(t, 10, 30*24*time.Hour)

	d, err := fx.svc.Start(ctx, "client", id)
	require.NoError(t, err)
	draftID := d.Flow.ID

	_, err = fx.svc.UpdateDetails(ctx, draftID, details())
	require.NoError(t, err)
	_, err = fx.svc.SetTicketName(ctx, draftID, 0, "Asha Rao")
	require.NoError(t, err)
	_, err = fx.svc.Review(ctx, draftID)
	require.NoError(t, err)

	require.NoError(t, fx.svc.AwaitPayment(ctx, draftID, uuid.New()))
	assert.ErrorIs(t, fx.svc.AwaitPayment(ctx, draftID, uuid.New()), regform.ErrInvalidTransition)

	assert.ErrorIs(t, fx.svc.AwaitPayment(ctx, uuid.New(), uuid.New()), ErrDraftNotFound)
}
