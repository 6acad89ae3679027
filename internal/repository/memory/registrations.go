package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/kirinyoku/joynous/internal/domain"
	"github.com/kirinyoku/joynous/internal/repository"
)

type registrationRepo struct {
	s  *Store
	tx *tx
}

func (r *registrationRepo) Create(_ context.Context, reg domain.Registration) (*domain.Registration, error) {
	const op = "memory.RegistrationRepo.Create"

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.events[reg.EventID]; !ok {
		return nil, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	for _, existing := range r.s.registrations {
		if existing.IdempotencyToken == reg.IdempotencyToken {
			return nil, fmt.Errorf("%s:%w", op, repository.ErrConflict)
		}
	}

	reg.ID = uuid.New()
	if reg.Status == "" {
		reg.Status = domain.StatusPending
	}
	reg.TicketNames = slices.Clone(reg.TicketNames)
	reg.CreatedAt = r.s.now()
	reg.UpdatedAt = reg.CreatedAt
	r.s.registrations[reg.ID] = reg

	id := reg.ID
	r.tx.record(func() { delete(r.s.registrations, id) })

	out := reg
	return &out, nil
}

func (r *registrationRepo) Get(_ context.Context, id uuid.UUID) (*domain.Registration, error) {
	const op = "memory.RegistrationRepo.Get"

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	reg, ok := r.s.registrations[id]
	if !ok {
		return nil, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	reg.TicketNames = slices.Clone(reg.TicketNames)
	return &reg, nil
}

// GetForUpdate needs no row lock of its own: transactions never overlap and
// writes made outside one wait for it, see exclusive.
func (r *registrationRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Registration, error) {
	return r.Get(ctx, id)
}

// exclusive runs a write made outside a transaction as a one-statement
// transaction of its own, so it waits for any open one.
func (r *registrationRepo) exclusive() func() {
	if r.tx != nil {
		return func() {}
	}
	r.s.txMu.Lock()
	return r.s.txMu.Unlock
}

func (r *registrationRepo) MarkCaptured(_ context.Context, id uuid.UUID, paymentReference string, amount int) error {
	const op = "memory.RegistrationRepo.MarkCaptured"

	defer r.exclusive()()

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for otherID, other := range r.s.registrations {
		if otherID != id && paymentReference != "" && other.PaymentReference == paymentReference {
			return fmt.Errorf("%s:%w", op, repository.ErrConflict)
		}
	}

	return r.transition(op, id, func(reg *domain.Registration) {
		reg.Status = domain.StatusCaptured
		reg.PaymentReference = paymentReference
		reg.Amount = amount
		reg.FailureReason = ""
	})
}

func (r *registrationRepo) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	const op = "memory.RegistrationRepo.MarkFailed"

	defer r.exclusive()()

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return r.transition(op, id, func(reg *domain.Registration) {
		reg.Status = domain.StatusFailed
		reg.FailureReason = reason
	})
}

func (r *registrationRepo) RecordAttempt(_ context.Context, id uuid.UUID, paymentReference string) error {
	const op = "memory.RegistrationRepo.RecordAttempt"

	defer r.exclusive()()

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for otherID, other := range r.s.registrations {
		if otherID != id && other.PaymentReference == paymentReference {
			return fmt.Errorf("%s:%w", op, repository.ErrConflict)
		}
	}

	return r.transition(op, id, func(reg *domain.Registration) {
		reg.PaymentReference = paymentReference
	})
}

func (r *registrationRepo) ListAttempted(_ context.Context, createdBefore time.Time, limit int) ([]domain.Registration, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]domain.Registration, 0)
	for _, reg := range r.s.registrations {
		if stale(reg, createdBefore) && reg.PaymentReference != "" {
			reg.TicketNames = slices.Clone(reg.TicketNames)
			out = append(out, reg)
		}
	}

	slices.SortFunc(out, func(a, b domain.Registration) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	return page(out, limit, 0), nil
}

func (r *registrationRepo) ExpirePending(_ context.Context, createdBefore time.Time, reason string) (int64, error) {
	defer r.exclusive()()

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for id, reg := range r.s.registrations {
		if !stale(reg, createdBefore) || reg.PaymentReference != "" {
			continue
		}
		_ = r.transition("", id, func(reg *domain.Registration) {
			reg.Status = domain.StatusFailed
			reg.FailureReason = reason
		})
		n++
	}

	return n, nil
}

func (r *registrationRepo) ListByEvent(_ context.Context, eventID int64, limit, offset int) ([]domain.Registration, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]domain.Registration, 0)
	for _, reg := range r.s.registrations {
		if reg.EventID == eventID {
			reg.TicketNames = slices.Clone(reg.TicketNames)
			out = append(out, reg)
		}
	}

	slices.SortFunc(out, func(a, b domain.Registration) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})

	return page(out, limit, offset), nil
}

func stale(reg domain.Registration, createdBefore time.Time) bool {
	return reg.Status == domain.StatusPending && reg.CreatedAt.Before(createdBefore)
}

// transition applies change to a pending registration. Callers hold s.mu.
func (r *registrationRepo) transition(op string, id uuid.UUID, change func(reg *domain.Registration)) error {
	reg, ok := r.s.registrations[id]
	if !ok {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}
	if reg.Status != domain.StatusPending {
		return fmt.Errorf("%s:%w", op, repository.ErrNotPending)
	}

	prev := reg
	change(&reg)
	reg.UpdatedAt = r.s.now()
	r.s.registrations[id] = reg
	r.tx.record(func() { r.s.registrations[id] = prev })

	return nil
}
