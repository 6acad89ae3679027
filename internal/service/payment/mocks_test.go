package payment

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirinyoku/joynous/internal/domain"
	"github.com/kirinyoku/joynous/internal/regform"
	"github.com/kirinyoku/joynous/internal/repository"
	redisrepo "github.com/kirinyoku/joynous/internal/repository/redis"
)

type processorMock struct {
	mu       sync.Mutex
	captures []string
	payments map[string]domain.ProcessorPayment
	capture  func(ctx context.Context, paymentID string, amountMinor int64) (*domain.ProcessorPayment, error)
	fetch    func(ctx context.Context, paymentID string) (*domain.ProcessorPayment, error)
}

func (m *processorMock) Capture(ctx context.Context, paymentID string, amountMinor int64, currency string) (*domain.ProcessorPayment, error) {
	m.mu.Lock()
	m.captures = append(m.captures, paymentID)
	m.mu.Unlock()

	if m.capture != nil {
		return m.capture(ctx, paymentID, amountMinor)
	}

	p := domain.ProcessorPayment{
		ID:          paymentID,
		Status:      domain.ProcessorCaptured,
		AmountMinor: amountMinor,
		Currency:    currency,
	}
	m.set(p)

	return &p, nil
}

// Fetch reports what the processor holds for the payment; payments it
// never captured are authorized.
func (m *processorMock) Fetch(ctx context.Context, paymentID string) (*domain.ProcessorPayment, error) {
	if m.fetch != nil {
		return m.fetch(ctx, paymentID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.payments[paymentID]; ok {
		return &p, nil
	}
	return &domain.ProcessorPayment{ID: paymentID, Status: domain.ProcessorAuthorized}, nil
}

func (m *processorMock) set(p domain.ProcessorPayment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.payments == nil {
		m.payments = map[string]domain.ProcessorPayment{}
	}
	m.payments[p.ID] = p
}

func (m *processorMock) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.captures)
}

type notifierMock struct {
	mu   sync.Mutex
	sent []domain.Confirmation
	err  error
}

func (m *notifierMock) PublishConfirmation(_ context.Context, c domain.Confirmation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, c)
	return nil
}

func (m *notifierMock) confirmations() []domain.Confirmation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Confirmation(nil), m.sent...)
}

type idemMock struct {
	mu   sync.Mutex
	vals map[string]string
}

func (m *idemMock) AcquireLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vals[key]; ok {
		return false, nil
	}
	m.vals[key] = "LOCK"
	return true, nil
}

func (m *idemMock) SaveResult(_ context.Context, key string, payload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = "RES:" + payload
	return nil
}

func (m *idemMock) GetResult(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[key]
	if !ok || len(v) < 4 || v[:4] != "RES:" {
		return "", false, nil
	}
	return v[4:], true, nil
}

func (m *idemMock) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.vals[key] == "LOCK" {
		delete(m.vals, key)
	}
	return nil
}

type limiterMock struct {
	allow bool
}

func (m *limiterMock) Allow(context.Context, string) (redisrepo.Decision, error) {
	if m.allow {
		return redisrepo.Decision{Allowed: true}, nil
	}
	return redisrepo.Decision{RetryAfter: 30 * time.Second}, nil
}

type cacheMock struct {
	mu          sync.Mutex
	invalidated []int64
}

func (m *cacheMock) InvalidateEvent(_ context.Context, eventID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, eventID)
	return nil
}

type pubsubMock struct {
	mu     sync.Mutex
	booked map[int64]int
}

func (m *pubsubMock) PublishSeatsChanged(_ context.Context, eventID int64, booked int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.booked[eventID] = booked
	return nil
}

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

type profileStoreMock struct{}

func (profileStoreMock) Save(context.Context, string, domain.Contact) error { return nil }

func (profileStoreMock) Load(context.Context, string) (domain.Contact, bool, error) {
	return domain.Contact{}, false, nil
}
