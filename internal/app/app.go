package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/kirinyoku/joynous/internal/config"
	"github.com/kirinyoku/joynous/internal/gateway/brevo"
	"github.com/kirinyoku/joynous/internal/gateway/razorpay"
	"github.com/kirinyoku/joynous/internal/notify"
	"github.com/kirinyoku/joynous/internal/postgres"
	"github.com/kirinyoku/joynous/internal/pricing"
	"github.com/kirinyoku/joynous/internal/redis"
	"github.com/kirinyoku/joynous/internal/repository"
	"github.com/kirinyoku/joynous/internal/repository/memory"
	postgresrepo "github.com/kirinyoku/joynous/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/joynous/internal/repository/redis"
	"github.com/kirinyoku/joynous/internal/service"
	"github.com/kirinyoku/joynous/internal/service/payment"
	"github.com/kirinyoku/joynous/internal/service/registration"
	httpgin "github.com/kirinyoku/joynous/internal/transport/http/gin"
)

const consumerGroup = "joynous-mailer"

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	services   *service.Services
	cache      *redisrepo.Cache
	events     *redisrepo.EventsPubSub
	mailer     *message.Router
	publisher  message.Publisher
	pool       *pgxpool.Pool
	rdb        *goredis.Client
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	rdb, err := redis.New(ctx, redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}
	a.rdb = rdb

	store, err := a.newStore(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	// confirmation e-mails go through a redis stream
	wmLogger := notify.NewSlogAdapter(logger)

	a.publisher, err = notify.NewRedisPublisher(rdb, wmLogger)
	if err != nil {
		a.close()
		return nil, err
	}

	sub, err := notify.NewRedisSubscriber(rdb, consumerGroup, wmLogger)
	if err != nil {
		a.close()
		return nil, err
	}

	if cfg.Brevo.APIKey == "" {
		logger.Warn("BREVO_API_KEY is not set, confirmation e-mails will fail")
	}

	a.mailer, err = notify.NewRouter(sub, brevo.New(brevo.Config{
		BaseURL:     cfg.Brevo.BaseURL,
		APIKey:      cfg.Brevo.APIKey,
		SenderEmail: cfg.Brevo.SenderEmail,
		SenderName:  cfg.Brevo.SenderName,
	}), notify.RouterConfig{MaxRetries: cfg.Brevo.MaxRetries}, logger, wmLogger)
	if err != nil {
		a.close()
		return nil, err
	}

	a.cache = redisrepo.New(rdb)
	a.events = redisrepo.NewEventsPubSub(rdb)

	a.services = service.NewServices(service.Deps{
		Store:    store,
		Cache:    a.cache,
		PubSub:   a.events,
		Limiter:  redisrepo.NewSlidingWindowLimiter(rdb, "checkout", cfg.Payment.CheckoutRateLimit, cfg.Payment.CheckoutRateWin),
		Idem:     redisrepo.NewIdempotencyStore(rdb, 24*time.Hour),
		Drafts:   redisrepo.NewDraftStore(rdb, cfg.Drafts.DraftTTL),
		Profiles: redisrepo.NewProfileStore(rdb, cfg.Drafts.ProfileTTL),
		Processor: razorpay.New(razorpay.Config{
			BaseURL:   cfg.Razorpay.BaseURL,
			KeyID:     cfg.Razorpay.KeyID,
			KeySecret: cfg.Razorpay.KeySecret,
		}),
		Notifier: notify.NewPublisher(a.publisher),
		Logger:   logger,
	}, service.Config{
		EarlyBirdAmount: cfg.Pricing.EarlyBirdAmount,
		Registration: registration.Config{
			EarlyBird: pricing.EarlyBirdWindow{Lead: cfg.Pricing.EarlyBirdLead},
		},
		Payment: payment.Config{
			KeyID:          cfg.Razorpay.KeyID,
			CaptureTimeout: cfg.Payment.CaptureTimeout,
			PendingTTL:     cfg.Payment.PendingTTL,
		},
	})

	router := httpgin.NewRouter(a.services, httpgin.RouterConfig{AdminToken: cfg.Admin.Token}, logger)

	a.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return a, nil
}

func (a *App) newStore(ctx context.Context) (repository.Store, error) {
	if a.cfg.Store.Driver == config.DriverMemory {
		a.logger.Warn("using in-memory store, data is lost on restart")
		return memory.NewStore(), nil
	}

	pool, err := postgres.New(ctx, postgres.Config{
		DSN:      a.cfg.Store.Postgres.DSN(),
		MaxConns: a.cfg.Store.Postgres.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}
	a.pool = pool

	if err := postgresrepo.Migrate(ctx, pool); err != nil {
		return nil, fmt.Errorf("failed to migrate postgres: %w", err)
	}

	return postgresrepo.NewStore(pool), nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	defer a.close()

	g, gCtx := errgroup.WithContext(ctx)

	// HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	// confirmation e-mails
	g.Go(func() error {
		if err := a.mailer.Run(gCtx); err != nil {
			return fmt.Errorf("notification router: %w", err)
		}
		return nil
	})

	// pending registrations past the payment window
	g.Go(func() error {
		a.expirePending(gCtx)
		return nil
	})

	// seat changes made by other instances
	g.Go(func() error {
		err := a.events.Subscribe(gCtx, func(ctx context.Context, eventID int64) {
			if err := a.cache.InvalidateEvent(ctx, eventID); err != nil {
				a.logger.Warn("failed to invalidate event cache", slog.Int64("event_id", eventID), slog.Any("err", err))
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("events subscription: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func (a *App) expirePending(ctx context.Context) {
	interval := a.cfg.Payment.ExpiryInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.services.Payment.ExpirePending(ctx)
			if err != nil {
				a.logger.Error("failed to expire pending registrations", slog.Any("err", err))
				continue
			}
			if n > 0 {
				a.logger.Info("expired pending registrations", slog.Int64("count", n))
			}
		}
	}
}

func (a *App) close() {
	if a.mailer != nil {
		_ = a.mailer.Close()
	}
	if a.publisher != nil {
		_ = a.publisher.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
}
