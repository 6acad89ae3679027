package service

import (
	"log/slog"

	"github.com/kirinyoku/joynous/internal/pricing"
	"github.com/kirinyoku/joynous/internal/repository"
	redisrepo "github.com/kirinyoku/joynous/internal/repository/redis"
	"github.com/kirinyoku/joynous/internal/service/admin"
	"github.com/kirinyoku/joynous/internal/service/payment"
	"github.com/kirinyoku/joynous/internal/service/query"
	"github.com/kirinyoku/joynous/internal/service/registration"
)

type Services struct {
	Query        *query.Service
	Admin        *admin.Service
	Registration *registration.Service
	Payment      *payment.Service
}

type Config struct {
	Query           query.Config
	Registration    registration.Config
	Payment         payment.Config
	EarlyBirdAmount int
}

// Deps are the adapters shared by the services. A nil Notifier disables
// confirmation e-mails.
type Deps struct {
	Store     repository.Store
	Cache     *redisrepo.Cache
	PubSub    *redisrepo.EventsPubSub
	Limiter   *redisrepo.SlidingWindowLimiter
	Idem      *redisrepo.IdempotencyStore
	Drafts    *redisrepo.DraftStore
	Profiles  *redisrepo.ProfileStore
	Processor payment.Processor
	Notifier  payment.Notifier
	Logger    *slog.Logger
}

func NewServices(deps Deps, cfg Config) *Services {
	catalog := pricing.NewCatalog(cfg.EarlyBirdAmount)

	reg := registration.New(deps.Store, deps.Drafts, deps.Profiles, catalog, cfg.Registration, deps.Logger)

	pd := payment.Deps{
		Store:     deps.Store,
		Drafts:    reg,
		Processor: deps.Processor,
		Notifier:  deps.Notifier,
		Logger:    deps.Logger,
	}
	// typed nil pointers would defeat the nil checks in payment
	if deps.Limiter != nil {
		pd.Limiter = deps.Limiter
	}
	if deps.Cache != nil {
		pd.Cache = deps.Cache
	}
	if deps.PubSub != nil {
		pd.PubSub = deps.PubSub
	}
	if deps.Idem != nil {
		pd.Idem = deps.Idem
	}

	return &Services{
		Query:        query.New(deps.Store, deps.Cache, cfg.Query),
		Admin:        admin.New(deps.Store, deps.Cache, deps.PubSub),
		Registration: reg,
		Payment:      payment.New(pd, cfg.Payment),
	}
}
