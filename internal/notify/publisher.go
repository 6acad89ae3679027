package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"

	"github.com/kirinyoku/joynous/internal/domain"
)

const TopicRegistrationConfirmed = "joynous.registration_confirmed"

func NewRedisPublisher(rdb *redis.Client, logger watermill.LoggerAdapter) (message.Publisher, error) {
	pub, err := redisstream.NewPublisher(redisstream.PublisherConfig{
		Client: rdb,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("could not create redis publisher: %w", err)
	}

	return pub, nil
}

func NewRedisSubscriber(rdb *redis.Client, consumerGroup string, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	sub, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
		Client:        rdb,
		ConsumerGroup: consumerGroup,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("could not create redis subscriber: %w", err)
	}

	return sub, nil
}

// Publisher enqueues confirmation e-mails.
type Publisher struct {
	pub   message.Publisher
	topic string
}

func NewPublisher(pub message.Publisher) *Publisher {
	return &Publisher{pub: pub, topic: TopicRegistrationConfirmed}
}

func (p *Publisher) PublishConfirmation(ctx context.Context, c domain.Confirmation) error {
	const op = "notify.Publisher.PublishConfirmation"

	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("registration_id", c.RegistrationID.String())
	msg.SetContext(ctx)

	if err := p.pub.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}
