package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kirinyoku/joynous/internal/domain"
	"github.com/kirinyoku/joynous/internal/repository"
	redisrepo "github.com/kirinyoku/joynous/internal/repository/redis"
)

type Config struct {
	EventSummaryTTL time.Duration
	AvailabilityTTL time.Duration
	EventListTTL    time.Duration
	DefaultPage     int
	MaxPage         int
}

type Service struct {
	store repository.Store
	cache *redisrepo.Cache
	cfg   Config
}

func New(store repository.Store, cache *redisrepo.Cache, cfg Config) *Service {
	if cfg.EventSummaryTTL <= 0 {
		cfg.EventSummaryTTL = 60 * time.Second
	}

	if cfg.AvailabilityTTL <= 0 {
		cfg.AvailabilityTTL = 15 * time.Second
	}

	if cfg.EventListTTL <= 0 {
		cfg.EventListTTL = 30 * time.Second
	}

	if cfg.DefaultPage <= 0 {
		cfg.DefaultPage = 20
	}

	if cfg.MaxPage <= 0 {
		cfg.MaxPage = 100
	}

	return &Service{
		store: store,
		cache: cache,
		cfg:   cfg,
	}
}

// GetEvent retrieves an event by its ID through the cache.
//
// Parameters:
//   - ctx: request-scoped context.
//   - id: ID of the event to retrieve.
//
// Returns:
//   - *domain.Event: the retrieved event.
//   - error: query.ErrEventNotFound if the event is not found.
func (s *Service) GetEvent(ctx context.Context, id int64) (*domain.Event, error) {
	const op = "service.query.GetEvent"

	event, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		redisrepo.KeyEventSummary(id),
		s.cfg.EventSummaryTTL,
		func(ctx context.Context) (domain.Event, error) {
			e, err := s.store.Events().Get(ctx, id)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return domain.Event{}, ErrEventNotFound
				}

				return domain.Event{}, err
			}

			return *e, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &event, nil
}

// ListEvents lists upcoming and past events ordered by date.
//
// Parameters:
//   - ctx: request-scoped context.
//   - kind: "event", "trip" or empty for both.
//   - limit, offset: pagination; limit is clamped to the configured page size.
//
// Returns:
//   - []domain.Event: the page of events.
//   - error: if the store fails.
func (s *Service) ListEvents(ctx context.Context, kind domain.EventKind, limit, offset int) ([]domain.Event, error) {
	const op = "service.query.ListEvents"

	if kind != "" && !kind.Valid() {
		return nil, fmt.Errorf("%s: unknown kind %q", op, kind)
	}

	limit, offset = s.page(limit, offset)
	key := redisrepo.KeyEventList(string(kind), limit, offset)

	events, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		key,
		s.cfg.EventListTTL,
		func(ctx context.Context) ([]domain.Event, error) {
			out, err := s.store.Events().List(ctx, kind, limit, offset)
			if err != nil {
				return nil, err
			}
			_ = s.cache.RememberList(ctx, key, s.cfg.EventListTTL)
			return out, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return events, nil
}

// Availability returns the seat counts of an event.
//
// Parameters:
//   - ctx: request-scoped context.
//   - eventID: ID of the event.
//
// Returns:
//   - *domain.Availability: total, booked and remaining seats.
//   - error: query.ErrEventNotFound if the event is not found.
func (s *Service) Availability(ctx context.Context, eventID int64) (*domain.Availability, error) {
	const op = "service.query.Availability"

	av, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		redisrepo.KeyEventAvailability(eventID),
		s.cfg.AvailabilityTTL,
		func(ctx context.Context) (domain.Availability, error) {
			e, err := s.store.Events().Get(ctx, eventID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return domain.Availability{}, ErrEventNotFound
				}

				return domain.Availability{}, err
			}

			return domain.Availability{
				EventID:   e.ID,
				Total:     e.TotalSeats,
				Booked:    e.BookedSeats,
				Remaining: e.Remaining(),
			}, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &av, nil
}

// GetRegistration returns a registration by its ID. Registrations are never
// cached since their status changes during capture.
//
// Parameters:
//   - ctx: request-scoped context.
//   - id: registration ID.
//
// Returns:
//   - *domain.Registration: the registration.
//   - error: query.ErrRegistrationNotFound if it does not exist.
func (s *Service) GetRegistration(ctx context.Context, id uuid.UUID) (*domain.Registration, error) {
	const op = "service.query.GetRegistration"

	reg, err := s.store.Registrations().Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrRegistrationNotFound)
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return reg, nil
}

func (s *Service) page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = s.cfg.DefaultPage
	}

	if limit > s.cfg.MaxPage {
		limit = s.cfg.MaxPage
	}

	return limit, max(offset, 0)
}
