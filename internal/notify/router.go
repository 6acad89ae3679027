package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirinyoku/joynous/internal/domain"
	"github.com/kirinyoku/joynous/internal/metrics"
)

const handlerSendConfirmation = "send_confirmation_email"

type Sender interface {
	SendConfirmation(ctx context.Context, c domain.Confirmation) error
}

type RouterConfig struct {
	MaxRetries  int
	SendTimeout time.Duration
}

// NewRouter builds the router that delivers confirmation e-mails. A message
// that still fails after the retries is logged and acknowledged; a lost
// e-mail never blocks the stream.
func NewRouter(
	sub message.Subscriber,
	sender Sender,
	cfg RouterConfig,
	log *slog.Logger,
	watermillLogger watermill.LoggerAdapter,
) (*message.Router, error) {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}

	router, err := message.NewRouter(message.RouterConfig{}, watermillLogger)
	if err != nil {
		return nil, fmt.Errorf("could not create router: %w", err)
	}

	router.AddMiddleware(swallowErrors(log))
	router.AddMiddleware(middleware.Recoverer)
	router.AddMiddleware(middleware.Retry{
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2,
		Logger:          watermillLogger,
	}.Middleware)
	router.AddMiddleware(measure)

	router.AddNoPublisherHandler(
		handlerSendConfirmation,
		TopicRegistrationConfirmed,
		sub,
		sendConfirmation(sender, cfg.SendTimeout, log),
	)

	return router, nil
}

func sendConfirmation(sender Sender, timeout time.Duration, log *slog.Logger) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		var c domain.Confirmation
		if err := json.Unmarshal(msg.Payload, &c); err != nil {
			log.Error("dropping malformed confirmation", slog.String("message_id", msg.UUID), slog.Any("err", err))
			return nil
		}

		ctx, cancel := context.WithTimeout(msg.Context(), timeout)
		defer cancel()

		return sender.SendConfirmation(ctx, c)
	}
}

func swallowErrors(log *slog.Logger) message.HandlerMiddleware {
	return func(next message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			msgs, err := next(msg)
			if err != nil {
				log.Error("confirmation e-mail not sent",
					slog.String("message_id", msg.UUID),
					slog.String("registration_id", msg.Metadata.Get("registration_id")),
					slog.Any("err", err),
				)
				return nil, nil
			}
			return msgs, nil
		}
	}
}

func measure(next message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		now := time.Now()
		labels := prometheus.Labels{
			"topic":   message.SubscribeTopicFromCtx(msg.Context()),
			"handler": message.HandlerNameFromCtx(msg.Context()),
		}

		msgs, err := next(msg)
		if err != nil {
			metrics.MessagesProcessingFailed.With(labels).Inc()
		}
		metrics.MessagesProcessed.With(labels).Inc()
		metrics.MessagesProcessingDuration.With(labels).Observe(time.Since(now).Seconds())

		return msgs, err
	}
}
