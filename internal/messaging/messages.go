package messaging

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/lalith-99/leaguechat/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// senderLookups bounds concurrent profile lookups while loading history.
const senderLookups = 8

// LoadMessages makes conversationID the active conversation and replaces
// the message list with its history, oldest first. Senders that cannot be
// resolved show as "Unknown".
//
// Messages that arrived over the realtime feed while the history was
// loading are kept after it, so nothing is lost or shown twice. If another
// conversation is opened before this load finishes, its result is dropped.
func (s *Session) LoadMessages(ctx context.Context, conversationID uuid.UUID) ([]models.MessageWithSender, error) {
	_, epoch, err := s.currentUser()
	if err != nil {
		return nil, err
	}

	gen := s.activate(conversationID)

	s.beginLoading(epoch)
	defer s.endLoading(epoch)

	raw, err := s.backend.Messages.ListByConversation(ctx, conversationID)
	if err != nil {
		s.logger.Warn("load messages failed",
			zap.String("conversation_id", conversationID.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("load messages: %w", err)
	}

	loaded := s.withSenders(ctx, raw)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch != epoch || s.messagesGen != gen {
		return loaded, nil
	}

	ids := make(map[int64]struct{}, len(loaded))
	for _, m := range loaded {
		ids[m.ID] = struct{}{}
	}
	merged := loaded
	for _, m := range s.messages {
		if _, dup := ids[m.ID]; !dup {
			merged = append(merged, m)
			ids[m.ID] = struct{}{}
		}
	}
	s.messages = merged
	s.messageIDs = ids

	return append([]models.MessageWithSender(nil), loaded...), nil
}

// activate makes conversationID the active conversation, clearing the list
// if it was showing another one, and returns the new load generation.
func (s *Session) activate(conversationID uuid.UUID) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil || *s.active != conversationID {
		s.active = &conversationID
		s.messages = make([]models.MessageWithSender, 0)
		s.messageIDs = make(map[int64]struct{})
	}
	s.messagesGen++
	return s.messagesGen
}

func (s *Session) withSenders(ctx context.Context, raw []models.Message) []models.MessageWithSender {
	senders := make(map[uuid.UUID]models.Sender)
	for _, m := range raw {
		senders[m.SenderID] = models.Sender{}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(senderLookups)
	for id := range senders {
		g.Go(func() error {
			sender := s.resolveSender(gctx, id)
			mu.Lock()
			senders[id] = sender
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	out := make([]models.MessageWithSender, 0, len(raw))
	for _, m := range raw {
		out = append(out, models.MessageWithSender{Message: m, Sender: senders[m.SenderID]})
	}
	return out
}

func (s *Session) resolveSender(ctx context.Context, userID uuid.UUID) models.Sender {
	sender, err := s.backend.Senders.Sender(ctx, userID)
	if err != nil {
		s.logger.Debug("sender lookup failed",
			zap.String("sender_id", userID.String()),
			zap.Error(err),
		)
		return models.UnknownSender(userID)
	}
	return sender
}

// AppendIncoming adds a message delivered by the realtime feed to the end
// of the list. Messages for another conversation, or already in the list,
// are ignored. It reports whether the message was appended.
func (s *Session) AppendIncoming(ctx context.Context, msg models.Message) bool {
	if !s.acceptsIncoming(msg) {
		return false
	}

	sender := s.resolveSender(ctx, msg.SenderID)

	s.mu.Lock()
	if !s.acceptsIncomingLocked(msg) {
		s.mu.Unlock()
		return false
	}
	s.messages = append(s.messages, models.MessageWithSender{Message: msg, Sender: sender})
	s.messageIDs[msg.ID] = struct{}{}
	s.mu.Unlock()

	s.notify()
	return true
}

func (s *Session) acceptsIncoming(msg models.Message) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.acceptsIncomingLocked(msg)
}

func (s *Session) acceptsIncomingLocked(msg models.Message) bool {
	if s.phase != phaseActive || s.active == nil || *s.active != msg.ConversationID {
		return false
	}
	_, dup := s.messageIDs[msg.ID]
	return !dup
}

// SendMessage stores a message from the current user. The local list is not
// touched: the message shows up when the realtime feed echoes it back, the
// same way it reaches every other participant. Errors are returned to the
// caller.
func (s *Session) SendMessage(ctx context.Context, conversationID uuid.UUID, content string, msgType models.MessageType, imageURL *string) (*models.Message, error) {
	userID, _, err := s.currentUser()
	if err != nil {
		return nil, err
	}

	content = strings.TrimSpace(content)
	if msgType == "" {
		msgType = models.MessageText
	}
	switch {
	case !msgType.Valid():
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, msgType)
	case msgType == models.MessageImage && (imageURL == nil || *imageURL == ""):
		return nil, fmt.Errorf("%w: image message without image", ErrInvalidMessage)
	case msgType != models.MessageImage && content == "":
		return nil, fmt.Errorf("%w: empty content", ErrInvalidMessage)
	}

	created, err := s.backend.Messages.Create(ctx, models.Message{
		ConversationID: conversationID,
		SenderID:       userID,
		Content:        content,
		Type:           msgType,
		ImageURL:       imageURL,
	})
	if err != nil {
		s.logger.Error("send message failed",
			zap.String("conversation_id", conversationID.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("send message: %w", err)
	}
	return created, nil
}
