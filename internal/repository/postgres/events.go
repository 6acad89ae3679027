package postgresrepo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kirinyoku/joynous/internal/domain"
	"github.com/kirinyoku/joynous/internal/repository"
)

const eventColumns = `id, kind, slug, name, starts_at, venue, total_seats,
	booked_seats, price, early_bird_ends_at, created_at`

type EventRepo struct {
	pool *pgxpool.Pool
	db   DB
}

var _ repository.EventRepository = (*EventRepo)(nil)

func NewEventRepo(pool *pgxpool.Pool) *EventRepo {
	return &EventRepo{pool: pool}
}

func (r *EventRepo) With(db DB) *EventRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *EventRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Create inserts a new event or trip.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - e: event to insert; ID, BookedSeats and CreatedAt are ignored.
//
// Returns:
//   - int64: ID of the created event.
//   - error: repository.ErrConflict if the slug is already taken.
func (r *EventRepo) Create(ctx context.Context, e domain.Event) (int64, error) {
	const op = "postgres.EventRepo.Create"

	db := r.handle()

	var id int64
	err := db.QueryRow(ctx,
		`INSERT INTO events (kind, slug, name, starts_at, venue, total_seats, price, early_bird_ends_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		e.Kind, e.Slug, e.Name, e.StartsAt, e.Venue, e.TotalSeats, e.Price, e.EarlyBirdEndsAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return id, nil
}

// Get retrieves an event by its ID.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - id: unique identifier of the event.
//
// Returns:
//   - *domain.Event: the event when found.
//   - error: repository.ErrNotFound if the event does not exist.
func (r *EventRepo) Get(ctx context.Context, id int64) (*domain.Event, error) {
	const op = "postgres.EventRepo.Get"

	db := r.handle()

	e, err := scanEvent(db.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return e, nil
}

// List returns events ordered by start time.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - kind: restricts the result to one kind; empty lists every kind.
//   - limit, offset: pagination parameters.
//
// Returns:
//   - []domain.Event: the page of events, possibly empty.
//   - error: any database error.
func (r *EventRepo) List(ctx context.Context, kind domain.EventKind, limit, offset int) ([]domain.Event, error) {
	const op = "postgres.EventRepo.List"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT `+eventColumns+`
		 FROM events
		 WHERE $1 = '' OR kind = $1
		 ORDER BY starts_at, id
		 LIMIT $2 OFFSET $3`,
		string(kind), limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	out := make([]domain.Event, 0, limit)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		out = append(out, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return out, nil
}

// ReserveSeats books n seats on the event in a single conditional update.
// Concurrent callers racing for the last seats are serialized by the row
// lock, and the loser re-evaluates the predicate against the committed
// count.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - eventID: event to book.
//   - n: number of seats, must be positive.
//
// Returns:
//   - *domain.Event: the event with the updated booked count.
//   - error: repository.ErrNoSeatsAvailable when fewer than n seats remain,
//     repository.ErrNotFound if the event does not exist.
func (r *EventRepo) ReserveSeats(ctx context.Context, eventID int64, n int) (*domain.Event, error) {
	const op = "postgres.EventRepo.ReserveSeats"

	if n <= 0 {
		return nil, fmt.Errorf("%s: seat count must be positive", op)
	}

	db := r.handle()

	e, err := scanEvent(db.QueryRow(ctx,
		`UPDATE events
		 SET booked_seats = booked_seats + $2
		 WHERE id = $1 AND booked_seats + $2 <= total_seats
		 RETURNING `+eventColumns,
		eventID, n,
	))
	if err == nil {
		return e, nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	var exists bool
	if err := db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM events WHERE id = $1)`, eventID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if !exists {
		return nil, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil, fmt.Errorf("%s:%w", op, repository.ErrNoSeatsAvailable)
}

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var e domain.Event
	if err := row.Scan(
		&e.ID, &e.Kind, &e.Slug, &e.Name, &e.StartsAt, &e.Venue, &e.TotalSeats,
		&e.BookedSeats, &e.Price, &e.EarlyBirdEndsAt, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &e, nil
}
