package messaging

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lalith-99/leaguechat/internal/models"
	"github.com/lalith-99/leaguechat/internal/realtime"
	"go.uber.org/zap"
)

// SubscriptionState is the realtime feed's state. A session holds at most
// one feed:
//
//	Unsubscribed  --subscribe(x)-->  Subscribed(x)
//	Subscribed(x) --subscribe(y)-->  Subscribed(y)   (x released first)
//	Subscribed(x) --unsubscribe/teardown-->  Unsubscribed
type SubscriptionState string

const (
	Unsubscribed SubscriptionState = "unsubscribed"
	Subscribed   SubscriptionState = "subscribed"
)

type SubscriptionStatus struct {
	State          SubscriptionState `json:"state"`
	ConversationID *uuid.UUID        `json:"conversation_id,omitempty"`
}

// subscription is owned by the Session and guarded by subMu.
type subscription struct {
	state          SubscriptionState
	conversationID uuid.UUID
	feed           realtime.Subscription
	cancel         context.CancelFunc
	done           chan struct{}
}

// SubscribeToConversation opens the realtime feed for conversationID,
// releasing any feed already held. Each delivered message goes through
// AppendIncoming, so conversationID becomes the active conversation if it
// is not already; switching clears the message list. If opening fails the
// session is left Unsubscribed and the active conversation is unchanged.
func (s *Session) SubscribeToConversation(ctx context.Context, conversationID uuid.UUID) error {
	if _, _, err := s.currentUser(); err != nil {
		return err
	}

	s.subMu.Lock()
	defer s.subMu.Unlock()

	// Re-check under subMu: Teardown may have run in between.
	if _, _, err := s.currentUser(); err != nil {
		return err
	}

	s.releaseLocked()

	feed, err := s.backend.Realtime.Subscribe(ctx, conversationID)
	if err != nil {
		s.logger.Error("realtime subscribe failed",
			zap.String("conversation_id", conversationID.String()),
			zap.Error(err),
		)
		return fmt.Errorf("subscribe to conversation: %w", err)
	}

	s.mu.Lock()
	if s.active == nil || *s.active != conversationID {
		s.active = &conversationID
		s.messages = make([]models.MessageWithSender, 0)
		s.messageIDs = make(map[int64]struct{})
		s.messagesGen++
	}
	s.mu.Unlock()

	consumeCtx, cancel := context.WithCancel(context.Background())
	s.sub = subscription{
		state:          Subscribed,
		conversationID: conversationID,
		feed:           feed,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	go s.consume(consumeCtx, feed, s.sub.done)

	s.setStatus(SubscriptionStatus{State: Subscribed, ConversationID: &conversationID})
	return nil
}

// UnsubscribeFromConversation releases the feed. It is a no-op when
// already Unsubscribed.
func (s *Session) UnsubscribeFromConversation() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.releaseLocked()
}

// releaseLocked moves to Unsubscribed, closing the feed and waiting for its
// consumer to exit. Caller holds subMu.
func (s *Session) releaseLocked() {
	if s.sub.state != Subscribed {
		return
	}

	sub := s.sub
	s.sub = subscription{state: Unsubscribed}

	sub.cancel()
	if err := sub.feed.Close(); err != nil {
		s.logger.Warn("realtime unsubscribe failed",
			zap.String("conversation_id", sub.conversationID.String()),
			zap.Error(err),
		)
	}
	<-sub.done

	s.setStatus(SubscriptionStatus{State: Unsubscribed})
}

func (s *Session) setStatus(status SubscriptionStatus) {
	s.mu.Lock()
	s.subStatus = status
	s.mu.Unlock()
	s.notify()
}

func (s *Session) consume(ctx context.Context, feed realtime.Subscription, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-feed.Events():
			if !ok {
				if ctx.Err() == nil {
					s.logger.Warn("realtime feed ended")
				}
				return
			}
			s.AppendIncoming(ctx, msg)
		}
	}
}
