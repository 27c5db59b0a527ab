package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/lalith-99/leaguechat/internal/models"
	"github.com/lalith-99/leaguechat/internal/repository"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Publisher fans a stored message out to subscribers.
type Publisher interface {
	Publish(ctx context.Context, msg models.Message) error
}

// RedisBus is the Redis pub/sub transport. Redis only sees messages that
// were written through PublishingMessages.
//
// Why offer Redis next to LISTEN/NOTIFY?
//   - Every PGListener subscription pins a pooled Postgres connection. With
//     many open chats that eats into max_connections; a Redis subscriber is
//     one cheap TCP connection per open chat on a server built for it.
//   - The message goes out whole, so there is no read-back per event.
//
// The cost: a message inserted by anything other than PublishingMessages
// is never seen here, and a publish that fails after the insert is lost
// to live subscribers (they still get it on the next history load).
type RedisBus struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisBus(client *redis.Client, logger *zap.Logger) *RedisBus {
	return &RedisBus{client: client, logger: logger}
}

func redisChannel(conversationID uuid.UUID) string {
	return ChannelName(conversationID) + ":messages"
}

func (b *RedisBus) Publish(ctx context.Context, msg models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message event: %w", err)
	}
	if err := b.client.Publish(ctx, redisChannel(msg.ConversationID), data).Err(); err != nil {
		return fmt.Errorf("publish message event: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, conversationID uuid.UUID) (Subscription, error) {
	channel := redisChannel(conversationID)
	ps := b.client.Subscribe(ctx, channel)

	// Receive blocks until Redis confirms the subscription, so nothing
	// published after Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &redisSubscription{
		ps:     ps,
		events: make(chan models.Message, eventBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
		logger: b.logger.With(zap.String("channel", channel)),
	}
	go s.run(runCtx)

	return s, nil
}

type redisSubscription struct {
	ps     *redis.PubSub
	events chan models.Message
	cancel context.CancelFunc
	done   chan struct{}
	logger *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

func (s *redisSubscription) Events() <-chan models.Message {
	return s.events
}

func (s *redisSubscription) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.events)

	incoming := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-incoming:
			if !ok {
				return
			}
			msg, err := decodeMessage([]byte(m.Payload))
			if err != nil {
				s.logger.Warn("dropping malformed event", zap.Error(err))
				continue
			}
			select {
			case s.events <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *redisSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		if err := s.ps.Close(); err != nil {
			s.closeErr = fmt.Errorf("close pubsub: %w", err)
		}
	})
	return s.closeErr
}

// PublishingMessages decorates a MessageRepository so every stored message
// is also published. A failed publish is logged; the insert already
// committed and is still reported as a success.
type PublishingMessages struct {
	repository.MessageRepository
	pub    Publisher
	logger *zap.Logger
}

func NewPublishingMessages(repo repository.MessageRepository, pub Publisher, logger *zap.Logger) *PublishingMessages {
	return &PublishingMessages{MessageRepository: repo, pub: pub, logger: logger}
}

func (p *PublishingMessages) Create(ctx context.Context, msg models.Message) (*models.Message, error) {
	created, err := p.MessageRepository.Create(ctx, msg)
	if err != nil {
		return nil, err
	}
	if err := p.pub.Publish(ctx, *created); err != nil {
		p.logger.Warn("message stored but not published",
			zap.Int64("message_id", created.ID),
			zap.String("conversation_id", created.ConversationID.String()),
			zap.Error(err),
		)
	}
	return created, nil
}
