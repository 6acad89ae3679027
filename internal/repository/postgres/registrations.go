package postgresrepo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kirinyoku/joynous/internal/domain"
	"github.com/kirinyoku/joynous/internal/repository"
)

const registrationColumns = `id, event_id, name, email, phone, age, hear_about,
	other_source, instagram_photos, id_proof, terms_accepted, ticket_quantity,
	ticket_names, status, amount, primary_coupon, extra_coupon,
	idempotency_token, payment_reference, failure_reason, created_at, updated_at`

type RegistrationRepo struct {
	pool *pgxpool.Pool
	db   DB
}

var _ repository.RegistrationRepository = (*RegistrationRepo)(nil)

func NewRegistrationRepo(pool *pgxpool.Pool) *RegistrationRepo {
	return &RegistrationRepo{pool: pool}
}

func (r *RegistrationRepo) With(db DB) *RegistrationRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *RegistrationRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Create inserts a pending registration.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - reg: registration to insert; ID and timestamps are assigned by the database.
//
// Returns:
//   - *domain.Registration: the stored registration.
//   - error: repository.ErrConflict if the idempotency token is already used.
func (r *RegistrationRepo) Create(ctx context.Context, reg domain.Registration) (*domain.Registration, error) {
	const op = "postgres.RegistrationRepo.Create"

	db := r.handle()

	if reg.Status == "" {
		reg.Status = domain.StatusPending
	}

	c := reg.Contact
	out, err := scanRegistration(db.QueryRow(ctx,
		`INSERT INTO registrations (
			event_id, name, email, phone, age, hear_about, other_source,
			instagram_photos, id_proof, terms_accepted, ticket_quantity,
			ticket_names, status, amount, primary_coupon, extra_coupon,
			idempotency_token
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 RETURNING `+registrationColumns,
		reg.EventID, c.Name, c.Email, c.Phone, c.Age, string(c.HearAbout), c.OtherSource,
		c.InstagramPhotos, c.IDProof, c.TermsAccepted, reg.TicketQuantity,
		reg.TicketNames, string(reg.Status), reg.Amount, reg.PrimaryCoupon, reg.ExtraCoupon,
		reg.IdempotencyToken,
	))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return out, nil
}

// Get retrieves a registration by its ID.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - id: registration ID.
//
// Returns:
//   - *domain.Registration: the registration when found.
//   - error: repository.ErrNotFound if it does not exist.
func (r *RegistrationRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Registration, error) {
	const op = "postgres.RegistrationRepo.Get"

	reg, err := scanRegistration(r.handle().QueryRow(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE id = $1`, id,
	))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return reg, nil
}

// GetForUpdate retrieves a registration and locks its row. Must be called
// inside a transaction.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - id: registration ID.
//
// Returns:
//   - *domain.Registration: the locked registration.
//   - error: repository.ErrNotFound if it does not exist.
func (r *RegistrationRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Registration, error) {
	const op = "postgres.RegistrationRepo.GetForUpdate"

	reg, err := scanRegistration(r.handle().QueryRow(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE id = $1 FOR UPDATE`, id,
	))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return reg, nil
}

// MarkCaptured moves a pending registration to captured.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - id: registration ID.
//   - paymentReference: processor payment ID, unique across registrations.
//   - amount: captured amount in rupees.
//
// Returns:
//   - error: repository.ErrNotPending if the registration is already
//     terminal, repository.ErrConflict if the reference was used before.
func (r *RegistrationRepo) MarkCaptured(ctx context.Context, id uuid.UUID, paymentReference string, amount int) error {
	const op = "postgres.RegistrationRepo.MarkCaptured"

	tag, err := r.handle().Exec(ctx,
		`UPDATE registrations
		 SET status = 'captured', payment_reference = $2, amount = $3,
		     failure_reason = '', updated_at = now()
		 WHERE id = $1 AND status = 'pending'`,
		id, paymentReference, amount,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, r.missingOrSettled(ctx, id))
	}

	return nil
}

// MarkFailed moves a pending registration to failed.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - id: registration ID.
//   - reason: message shown to the attendee.
//
// Returns:
//   - error: repository.ErrNotPending if the registration is already terminal.
func (r *RegistrationRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	const op = "postgres.RegistrationRepo.MarkFailed"

	tag, err := r.handle().Exec(ctx,
		`UPDATE registrations
		 SET status = 'failed', failure_reason = $2, updated_at = now()
		 WHERE id = $1 AND status = 'pending'`,
		id, reason,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, r.missingOrSettled(ctx, id))
	}

	return nil
}

// RecordAttempt stores the payment reference of a capture with an unknown
// outcome so the registration can be reconciled later.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - id: registration ID.
//   - paymentReference: processor payment ID of the attempt.
//
// Returns:
//   - error: repository.ErrNotPending if the registration is already
//     terminal, repository.ErrConflict if another registration holds the
//     reference.
func (r *RegistrationRepo) RecordAttempt(ctx context.Context, id uuid.UUID, paymentReference string) error {
	const op = "postgres.RegistrationRepo.RecordAttempt"

	tag, err := r.handle().Exec(ctx,
		`UPDATE registrations
		 SET payment_reference = $2, updated_at = now()
		 WHERE id = $1 AND status = 'pending'`,
		id, paymentReference,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, r.missingOrSettled(ctx, id))
	}

	return nil
}

// ListAttempted lists pending registrations created before the cutoff that
// carry a recorded payment attempt, oldest first.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - createdBefore: only registrations older than this are listed.
//   - limit: maximum number of rows.
//
// Returns:
//   - []domain.Registration: the registrations, possibly empty.
//   - error: any database error.
func (r *RegistrationRepo) ListAttempted(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Registration, error) {
	const op = "postgres.RegistrationRepo.ListAttempted"

	rows, err := r.handle().Query(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations
		 WHERE status = 'pending' AND created_at < $1 AND payment_reference <> ''
		 ORDER BY created_at
		 LIMIT $2`,
		createdBefore, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	out := make([]domain.Registration, 0)
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		out = append(out, *reg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return out, nil
}

// ExpirePending fails every pending registration created before the cutoff
// that has no payment attempt recorded.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - createdBefore: registrations older than this are expired.
//   - reason: failure reason recorded on each expired registration.
//
// Returns:
//   - int64: number of expired registrations.
//   - error: any database error.
func (r *RegistrationRepo) ExpirePending(ctx context.Context, createdBefore time.Time, reason string) (int64, error) {
	const op = "postgres.RegistrationRepo.ExpirePending"

	tag, err := r.handle().Exec(ctx,
		`UPDATE registrations
		 SET status = 'failed', failure_reason = $2, updated_at = now()
		 WHERE status = 'pending' AND created_at < $1 AND payment_reference = ''`,
		createdBefore, reason,
	)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return tag.RowsAffected(), nil
}

// ListByEvent lists the registrations of an event, newest first.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - eventID: event whose registrations are listed.
//   - limit, offset: pagination parameters.
//
// Returns:
//   - []domain.Registration: the page of registrations, possibly empty.
//   - error: any database error.
func (r *RegistrationRepo) ListByEvent(ctx context.Context, eventID int64, limit, offset int) ([]domain.Registration, error) {
	const op = "postgres.RegistrationRepo.ListByEvent"

	rows, err := r.handle().Query(ctx,
		`SELECT `+registrationColumns+`
		 FROM registrations
		 WHERE event_id = $1
		 ORDER BY created_at DESC, id
		 LIMIT $2 OFFSET $3`,
		eventID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	out := make([]domain.Registration, 0, limit)
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		out = append(out, *reg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return out, nil
}

func (r *RegistrationRepo) missingOrSettled(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.handle().QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM registrations WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return translateDBErr(err)
	}

	if !exists {
		return repository.ErrNotFound
	}

	return repository.ErrNotPending
}

func scanRegistration(row pgx.Row) (*domain.Registration, error) {
	var (
		reg       domain.Registration
		hearAbout string
		status    string
	)

	if err := row.Scan(
		&reg.ID, &reg.EventID, &reg.Contact.Name, &reg.Contact.Email, &reg.Contact.Phone,
		&reg.Contact.Age, &hearAbout, &reg.Contact.OtherSource, &reg.Contact.InstagramPhotos,
		&reg.Contact.IDProof, &reg.Contact.TermsAccepted, &reg.TicketQuantity,
		&reg.TicketNames, &status, &reg.Amount, &reg.PrimaryCoupon, &reg.ExtraCoupon,
		&reg.IdempotencyToken, &reg.PaymentReference, &reg.FailureReason,
		&reg.CreatedAt, &reg.UpdatedAt,
	); err != nil {
		return nil, err
	}

	reg.Contact.HearAbout = domain.HearAbout(hearAbout)
	reg.Status = domain.RegistrationStatus(status)

	return &reg, nil
}
