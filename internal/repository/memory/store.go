// Package memory is an in-process repository.Store used for local
// development and tests. Transactions are serialized and rolled back from an
// undo log.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirinyoku/joynous/internal/domain"
	"github.com/kirinyoku/joynous/internal/repository"
)

type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex

	nextEventID   int64
	events        map[int64]domain.Event
	registrations map[uuid.UUID]domain.Registration

	now func() time.Time
}

var _ repository.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		events:        make(map[int64]domain.Event),
		registrations: make(map[uuid.UUID]domain.Registration),
		now:           time.Now,
	}
}

// SetClock replaces the clock used for created/updated timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Events() repository.EventRepository {
	return &eventRepo{s: s}
}

func (s *Store) Registrations() repository.RegistrationRepository {
	return &registrationRepo{s: s}
}

func (s *Store) RunTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	t := &tx{s: s}
	if err := fn(ctx, t); err != nil {
		t.rollback()
		return err
	}

	return nil
}

type tx struct {
	s    *Store
	undo []func()
}

func (t *tx) Events() repository.EventRepository {
	return &eventRepo{s: t.s, tx: t}
}

func (t *tx) Registrations() repository.RegistrationRepository {
	return &registrationRepo{s: t.s, tx: t}
}

func (t *tx) rollback() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// record registers how to undo a change. Callers hold s.mu.
func (t *tx) record(f func()) {
	if t != nil {
		t.undo = append(t.undo, f)
	}
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func sortEvents(out []domain.Event) {
	slices.SortFunc(out, func(a, b domain.Event) int {
		if c := a.StartsAt.Compare(b.StartsAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
