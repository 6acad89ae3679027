package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirinyoku/joynous/internal/domain"
)

type senderMock struct {
	mu    sync.Mutex
	sent  []domain.Confirmation
	fails atomic.Int32
}

func (m *senderMock) SendConfirmation(_ context.Context, c domain.Confirmation) error {
	if m.fails.Load() > 0 {
		m.fails.Add(-1)
		return errors.New("brevo unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, c)
	return nil
}

func (m *senderMock) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func runRouter(t *testing.T, sender Sender, retries int) *Publisher {
	t.Helper()

	log := slog.New(slog.DiscardHandler)
	wlog := NewSlogAdapter(log)
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, wlog)

	router, err := NewRouter(pubSub, sender, RouterConfig{MaxRetries: retries, SendTimeout: time.Second}, log, wlog)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = router.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
		_ = pubSub.Close()
	})

	<-router.Running()

	return NewPublisher(pubSub)
}

func confirmation(name string) domain.Confirmation {
	return domain.Confirmation{
		RegistrationID:   uuid.New(),
		RecipientEmail:   "asha@example.in",
		RecipientName:    name,
		EventName:        "Open Mic Night",
		Amount:           350,
		PaymentReference: "pay_A",
	}
}

func TestRouter_DeliversConfirmation(t *testing.T) {
	sender := &senderMock{}
	pub := runRouter(t, sender, 0)

	require.NoError(t, pub.PublishConfirmation(context.Background(), confirmation("Asha")))

	require.Eventually(t, func() bool { return sender.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, "Asha", sender.sent[0].RecipientName)
	assert.Equal(t, 350, sender.sent[0].Amount)
}

func TestRouter_RetriesThenDelivers(t *testing.T) {
	sender := &senderMock{}
	sender.fails.Store(2)
	pub := runRouter(t, sender, 3)

	require.NoError(t, pub.PublishConfirmation(context.Background(), confirmation("Asha")))

	require.Eventually(t, func() bool { return sender.count() == 1 }, 3*time.Second, 10*time.Millisecond)
}

func TestRouter_FailureDoesNotBlockStream(t *testing.T) {
	sender := &senderMock{}
	sender.fails.Store(1)
	pub := runRouter(t, sender, 0)

	ctx := context.Background()
	require.NoError(t, pub.PublishConfirmation(ctx, confirmation("first")))
	require.NoError(t, pub.PublishConfirmation(ctx, confirmation("second")))

	require.Eventually(t, func() bool { return sender.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, "second", sender.sent[0].RecipientName)
}
