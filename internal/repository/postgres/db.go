package postgresrepo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kirinyoku/joynous/internal/repository"
)

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type Store struct {
	pool   *pgxpool.Pool
	txOpts pgx.TxOptions
}

var _ repository.Store = (*Store)(nil)

// NewStore returns a store whose transactions run at READ COMMITTED. Seat
// reservations rely on conditional updates, which Postgres re-checks against
// the latest row version, so a stricter level only adds serialization
// failures.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
		txOpts: pgx.TxOptions{
			IsoLevel:   pgx.ReadCommitted,
			AccessMode: pgx.ReadWrite,
		},
	}
}

func (s *Store) RunTx(
	ctx context.Context,
	fn func(ctx context.Context, tx repository.Tx) error,
) error {
	return s.RunTxWithOpts(ctx, nil, func(ctx context.Context, tx DB) error {
		return fn(ctx, txRepos{db: tx, pool: s.pool})
	})
}

func (s *Store) RunTxWithOpts(
	ctx context.Context,
	opts *pgx.TxOptions,
	fn func(ctx context.Context, tx DB) error,
) error {
	txOpts := s.txOpts

	if opts != nil {
		txOpts.IsoLevel = opts.IsoLevel
		txOpts.AccessMode = opts.AccessMode
		txOpts.DeferrableMode = opts.DeferrableMode
	}

	tx, err := s.pool.BeginTx(ctx, txOpts)
	if err != nil {
		return translateDBErr(err)
	}

	defer tx.Rollback(ctx)

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", translateDBErr(err))
	}

	return nil
}

func (s *Store) Events() repository.EventRepository {
	return &EventRepo{pool: s.pool}
}

func (s *Store) Registrations() repository.RegistrationRepository {
	return &RegistrationRepo{pool: s.pool}
}

type txRepos struct {
	pool *pgxpool.Pool
	db   DB
}

func (t txRepos) Events() repository.EventRepository {
	return (&EventRepo{pool: t.pool}).With(t.db)
}

func (t txRepos) Registrations() repository.RegistrationRepository {
	return (&RegistrationRepo{pool: t.pool}).With(t.db)
}
