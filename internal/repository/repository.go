package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kirinyoku/joynous/internal/domain"
)

type EventRepository interface {
	Create(ctx context.Context, e domain.Event) (int64, error)
	Get(ctx context.Context, id int64) (*domain.Event, error)
	List(ctx context.Context, kind domain.EventKind, limit, offset int) ([]domain.Event, error)
	// ReserveSeats books n seats only if they are all still available.
	ReserveSeats(ctx context.Context, eventID int64, n int) (*domain.Event, error)
}

type RegistrationRepository interface {
	Create(ctx context.Context, r domain.Registration) (*domain.Registration, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Registration, error)
	// GetForUpdate reads a registration and locks it until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Registration, error)
	MarkCaptured(ctx context.Context, id uuid.UUID, paymentReference string, amount int) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	// RecordAttempt stores the payment reference of a capture whose outcome
	// is not known yet on a pending registration.
	RecordAttempt(ctx context.Context, id uuid.UUID, paymentReference string) error
	// ListAttempted returns pending registrations created before the cutoff
	// that carry a recorded payment attempt.
	ListAttempted(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Registration, error)
	// ExpirePending fails pending registrations created before the cutoff
	// that carry no payment attempt.
	ExpirePending(ctx context.Context, createdBefore time.Time, reason string) (int64, error)
	ListByEvent(ctx context.Context, eventID int64, limit, offset int) ([]domain.Registration, error)
}

// Tx exposes the repositories bound to one transaction.
type Tx interface {
	Events() EventRepository
	Registrations() RegistrationRepository
}

// Store gives non-transactional access to the repositories and runs
// transactions.
type Store interface {
	Tx
	RunTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
