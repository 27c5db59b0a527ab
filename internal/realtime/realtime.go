// Package realtime delivers newly inserted message rows to subscribed
// sessions, either through Postgres LISTEN/NOTIFY or Redis pub/sub.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lalith-99/leaguechat/internal/models"
)

// Subscriber opens a message feed for one conversation.
type Subscriber interface {
	Subscribe(ctx context.Context, conversationID uuid.UUID) (Subscription, error)
}

// Subscription is a live feed. Events yields inserted messages in commit
// order and is closed when the feed ends, either through Close or because
// the underlying connection failed. Close is safe to call more than once.
type Subscription interface {
	Events() <-chan models.Message
	Close() error
}

// eventBuffer absorbs short bursts while the session resolves senders.
const eventBuffer = 64

// ChannelName is the LISTEN channel the insert trigger notifies.
func ChannelName(conversationID uuid.UUID) string {
	return "conversation:" + conversationID.String()
}

// MessageFetcher reads a stored message back by id. It returns nil, nil
// when the row is gone.
type MessageFetcher interface {
	GetByID(ctx context.Context, id int64) (*models.Message, error)
}

// messageNotice is the insert trigger's NOTIFY payload.
type messageNotice struct {
	ID             int64     `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
}

func decodeNotice(payload []byte) (messageNotice, error) {
	var n messageNotice
	if err := json.Unmarshal(payload, &n); err != nil {
		return messageNotice{}, fmt.Errorf("decode message notice: %w", err)
	}
	if n.ID == 0 || n.ConversationID == uuid.Nil {
		return messageNotice{}, fmt.Errorf("decode message notice: missing id or conversation_id")
	}
	return n, nil
}

// decodeMessage parses a full message as published by RedisBus.
func decodeMessage(payload []byte) (models.Message, error) {
	var msg models.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return models.Message{}, fmt.Errorf("decode message event: %w", err)
	}
	if msg.ID == 0 || msg.ConversationID == uuid.Nil {
		return models.Message{}, fmt.Errorf("decode message event: missing id or conversation_id")
	}
	return msg, nil
}
