package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/leaguechat/internal/models"
	"go.uber.org/zap"
)

// PGListener subscribes through LISTEN on a dedicated pooled connection.
// The connection stays checked out for the life of the subscription.
//
// Notifications carry only the message keys, so each one costs a lookup
// through messages on another pooled connection. NOTIFY caps payloads
// just under 8000 bytes and a chat message can be longer than that.
type PGListener struct {
	pool     *pgxpool.Pool
	messages MessageFetcher
	logger   *zap.Logger
}

func NewPGListener(pool *pgxpool.Pool, messages MessageFetcher, logger *zap.Logger) *PGListener {
	return &PGListener{pool: pool, messages: messages, logger: logger}
}

func (l *PGListener) Subscribe(ctx context.Context, conversationID uuid.UUID) (Subscription, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}

	channel := ChannelName(conversationID)
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &pgSubscription{
		conn:     conn,
		channel:  channel,
		messages: l.messages,
		events:   make(chan models.Message, eventBuffer),
		cancel:   cancel,
		done:     make(chan struct{}),
		logger:   l.logger.With(zap.String("channel", channel)),
	}
	go s.run(runCtx)

	return s, nil
}

type pgSubscription struct {
	conn     *pgxpool.Conn
	channel  string
	messages MessageFetcher
	events   chan models.Message
	cancel   context.CancelFunc
	done     chan struct{}
	logger   *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

func (s *pgSubscription) Events() <-chan models.Message {
	return s.events
}

func (s *pgSubscription) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.events)

	for {
		n, err := s.conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("listen connection failed", zap.Error(err))
			}
			return
		}

		msg, err := s.resolve(ctx, n.Payload)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("dropping notification", zap.Error(err))
			continue
		}
		if msg == nil {
			continue
		}

		select {
		case s.events <- *msg:
		case <-ctx.Done():
			return
		}
	}
}

// resolve turns a notification into the stored message. A row deleted
// before it could be read resolves to nil.
func (s *pgSubscription) resolve(ctx context.Context, payload string) (*models.Message, error) {
	notice, err := decodeNotice([]byte(payload))
	if err != nil {
		return nil, err
	}

	msg, err := s.messages.GetByID(ctx, notice.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch message %d: %w", notice.ID, err)
	}
	if msg != nil && msg.ConversationID != notice.ConversationID {
		return nil, fmt.Errorf("message %d belongs to %s, not %s", notice.ID, msg.ConversationID, notice.ConversationID)
	}
	return msg, nil
}

func (s *pgSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done

		// Interrupting WaitForNotification can leave the connection closed;
		// Release then discards it instead of returning it to the pool.
		if !s.conn.Conn().IsClosed() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := s.conn.Exec(ctx, "UNLISTEN "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
				s.closeErr = fmt.Errorf("unlisten %s: %w", s.channel, err)
				_ = s.conn.Conn().Close(ctx)
			}
		}
		s.conn.Release()
	})
	return s.closeErr
}
