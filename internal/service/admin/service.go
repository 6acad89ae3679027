package admin

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/kirinyoku/joynous/internal/domain"
	"github.com/kirinyoku/joynous/internal/repository"
	redisrepo "github.com/kirinyoku/joynous/internal/repository/redis"
	"github.com/kirinyoku/joynous/internal/uow"
)

var slugUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

type Service struct {
	store  repository.Store
	cache  *redisrepo.Cache
	pubsub *redisrepo.EventsPubSub
	uow    *uow.UoW
}

func New(store repository.Store, cache *redisrepo.Cache, pubsub *redisrepo.EventsPubSub) *Service {
	return &Service{
		store:  store,
		cache:  cache,
		pubsub: pubsub,
		uow:    uow.NewUoW(store),
	}
}

type NewEvent struct {
	Kind            domain.EventKind
	Slug            string
	Name            string
	StartsAt        time.Time
	Venue           string
	TotalSeats      int
	Price           int
	EarlyBirdEndsAt *time.Time
}

// RegistrationSummary aggregates the registrations of one event.
type RegistrationSummary struct {
	Registrations []domain.Registration `json:"registrations"`
	Pending       int                   `json:"pending"`
	Captured      int                   `json:"captured"`
	Failed        int                   `json:"failed"`
	TicketsSold   int                   `json:"tickets_sold"`
	Revenue       int                   `json:"revenue"`
}

// CreateEvent creates an event or trip with no seats booked.
//
// Parameters:
//   - ctx: request-scoped context.
//   - in: event attributes; the slug is derived from the name when empty.
//
// Returns:
//   - int64: the created event ID.
//   - error: admin.ErrInvalidEvent if an attribute is out of range.
//   - error: admin.ErrEventConflict if the slug is already taken.
func (s *Service) CreateEvent(ctx context.Context, in NewEvent) (int64, error) {
	const op = "service.admin.CreateEvent"

	if err := validateEvent(&in); err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	var id int64
	err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx, after func(uow.AfterCommit)) error {
		var err error
		id, err = tx.Events().Create(ctx, domain.Event{
			Kind:            in.Kind,
			Slug:            in.Slug,
			Name:            in.Name,
			StartsAt:        in.StartsAt,
			Venue:           in.Venue,
			TotalSeats:      in.TotalSeats,
			Price:           in.Price,
			EarlyBirdEndsAt: in.EarlyBirdEndsAt,
		})
		if err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return fmt.Errorf("%s:%w", op, ErrEventConflict)
			}
			return fmt.Errorf("%s:%w", op, err)
		}

		after(func(ctx context.Context) {
			_ = s.cache.InvalidateLists(ctx)
		})

		return nil
	})

	return id, err
}

// ListRegistrations lists an event's registrations with status totals for
// the returned page.
//
// Parameters:
//   - ctx: request-scoped context.
//   - eventID: the event.
//   - limit, offset: pagination parameters.
//
// Returns:
//   - *RegistrationSummary: registrations and aggregates.
//   - error: admin.ErrEventNotFound if the event does not exist.
func (s *Service) ListRegistrations(ctx context.Context, eventID int64, limit, offset int) (*RegistrationSummary, error) {
	const op = "service.admin.ListRegistrations"

	if _, err := s.store.Events().Get(ctx, eventID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrEventNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if limit <= 0 || limit > 500 {
		limit = 500
	}

	regs, err := s.store.Registrations().ListByEvent(ctx, eventID, limit, max(offset, 0))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	byStatus := func(st domain.RegistrationStatus) int {
		return lo.CountBy(regs, func(r domain.Registration) bool { return r.Status == st })
	}
	captured := lo.Filter(regs, func(r domain.Registration, _ int) bool {
		return r.Status == domain.StatusCaptured
	})

	return &RegistrationSummary{
		Registrations: regs,
		Pending:       byStatus(domain.StatusPending),
		Captured:      byStatus(domain.StatusCaptured),
		Failed:        byStatus(domain.StatusFailed),
		TicketsSold: lo.SumBy(captured, func(r domain.Registration) int {
			return r.TicketQuantity
		}),
		Revenue: lo.SumBy(captured, func(r domain.Registration) int {
			return r.Amount
		}),
	}, nil
}

func validateEvent(in *NewEvent) error {
	in.Name = strings.TrimSpace(in.Name)
	in.Slug = Slugify(lo.Ternary(in.Slug != "", in.Slug, in.Name))

	switch {
	case !in.Kind.Valid():
		return fmt.Errorf("%w: kind must be event or trip", ErrInvalidEvent)
	case in.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidEvent)
	case in.Slug == "":
		return fmt.Errorf("%w: slug is required", ErrInvalidEvent)
	case in.StartsAt.IsZero():
		return fmt.Errorf("%w: date is required", ErrInvalidEvent)
	case in.TotalSeats <= 0:
		return fmt.Errorf("%w: total seats must be positive", ErrInvalidEvent)
	case in.Price < 0:
		return fmt.Errorf("%w: price cannot be negative", ErrInvalidEvent)
	case in.EarlyBirdEndsAt != nil && in.EarlyBirdEndsAt.After(in.StartsAt):
		return fmt.Errorf("%w: early bird must end before the event starts", ErrInvalidEvent)
	}

	return nil
}

func Slugify(s string) string {
	s = slugUnsafe.ReplaceAllString(strings.ToLower(s), "-")
	return strings.Trim(s, "-")
}
