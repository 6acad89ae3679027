package memory

import (
	"context"
	"fmt"

	"github.com/kirinyoku/joynous/internal/domain"
	"github.com/kirinyoku/joynous/internal/repository"
)

type eventRepo struct {
	s  *Store
	tx *tx
}

func (r *eventRepo) Create(_ context.Context, e domain.Event) (int64, error) {
	const op = "memory.EventRepo.Create"

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.events {
		if existing.Slug == e.Slug {
			return 0, fmt.Errorf("%s:%w", op, repository.ErrConflict)
		}
	}

	r.s.nextEventID++
	e.ID = r.s.nextEventID
	e.BookedSeats = 0
	e.CreatedAt = r.s.now()
	r.s.events[e.ID] = e

	id := e.ID
	r.tx.record(func() { delete(r.s.events, id) })

	return id, nil
}

func (r *eventRepo) Get(_ context.Context, id int64) (*domain.Event, error) {
	const op = "memory.EventRepo.Get"

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e, ok := r.s.events[id]
	if !ok {
		return nil, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return &e, nil
}

func (r *eventRepo) List(_ context.Context, kind domain.EventKind, limit, offset int) ([]domain.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]domain.Event, 0, len(r.s.events))
	for _, e := range r.s.events {
		if kind == "" || e.Kind == kind {
			out = append(out, e)
		}
	}
	sortEvents(out)

	return page(out, limit, offset), nil
}

func (r *eventRepo) ReserveSeats(_ context.Context, eventID int64, n int) (*domain.Event, error) {
	const op = "memory.EventRepo.ReserveSeats"

	if n <= 0 {
		return nil, fmt.Errorf("%s: seat count must be positive", op)
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e, ok := r.s.events[eventID]
	if !ok {
		return nil, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}
	if e.BookedSeats+n > e.TotalSeats {
		return nil, fmt.Errorf("%s:%w", op, repository.ErrNoSeatsAvailable)
	}

	prev := e
	e.BookedSeats += n
	r.s.events[eventID] = e
	r.tx.record(func() { r.s.events[eventID] = prev })

	return &e, nil
}
