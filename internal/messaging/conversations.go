package messaging

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/lalith-99/leaguechat/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// LoadConversations rebuilds the conversation list, most recently active
// first, with last message, participants and unread count per conversation.
//
// On success the list and the unread total are replaced together. On
// failure nothing is replaced and the error is returned; read failures are
// for logging, not for showing to the user. The loading flag is cleared
// either way.
//
// Calls that arrive while a load is already running share its result
// instead of starting a second one. The shared load runs with the first
// caller's context. A load never joins one that started before the last
// create or join, since that one may have read memberships too early.
func (s *Session) LoadConversations(ctx context.Context) ([]models.ConversationWithDetails, error) {
	userID, epoch, err := s.currentUser()
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	gen := s.listGen
	s.mu.RUnlock()

	key := strconv.FormatUint(epoch, 10) + "/" + strconv.FormatUint(gen, 10)
	v, err, _ := s.loads.Do(key, func() (any, error) {
		return s.loadConversations(ctx, userID, epoch, gen)
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.ConversationWithDetails), nil
}

func (s *Session) loadConversations(ctx context.Context, userID uuid.UUID, epoch, gen uint64) ([]models.ConversationWithDetails, error) {
	s.beginLoading(epoch)
	defer s.endLoading(epoch)

	details, err := s.fetchConversations(ctx, userID)
	if err != nil {
		s.logger.Warn("load conversations failed",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	total := 0
	for _, d := range details {
		total += d.UnreadCount
	}

	s.mu.Lock()
	if s.epoch == epoch && s.listGen == gen {
		s.conversations = details
		s.unreadTotal = total
	}
	s.mu.Unlock()

	return append([]models.ConversationWithDetails(nil), details...), nil
}

func (s *Session) fetchConversations(ctx context.Context, userID uuid.UUID) ([]models.ConversationWithDetails, error) {
	ids, err := s.backend.Memberships.ConversationIDsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load memberships: %w", err)
	}
	if len(ids) == 0 {
		return make([]models.ConversationWithDetails, 0), nil
	}

	convs, err := s.backend.Conversations.ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	details := make([]models.ConversationWithDetails, len(convs))

	// Each goroutine writes only its own index, so the list keeps the
	// query's order whatever order the enrichments finish in.
	g, gctx := errgroup.WithContext(ctx)
	for i, conv := range convs {
		g.Go(func() error {
			d, err := s.enrich(gctx, conv, userID)
			if err != nil {
				return fmt.Errorf("enrich conversation %s: %w", conv.ID, err)
			}
			details[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return details, nil
}

func (s *Session) enrich(ctx context.Context, conv models.Conversation, userID uuid.UUID) (models.ConversationWithDetails, error) {
	d := models.ConversationWithDetails{Conversation: conv}
	if conv.Kind != models.ConversationTeam {
		d.TeamName = nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		last, err := s.backend.Messages.Latest(gctx, conv.ID)
		if err != nil {
			return err
		}
		d.LastMessage = last
		return nil
	})
	g.Go(func() error {
		participants, err := s.backend.Memberships.ListParticipants(gctx, conv.ID)
		if err != nil {
			return err
		}
		d.Participants = participants
		return nil
	})
	g.Go(func() error {
		unread, err := s.backend.ReadState.UnreadCount(gctx, conv.ID, userID)
		if err != nil {
			return err
		}
		d.UnreadCount = unread
		return nil
	})
	if err := g.Wait(); err != nil {
		return models.ConversationWithDetails{}, err
	}

	if d.Participants == nil {
		d.Participants = make([]models.Participant, 0)
	}
	return d, nil
}

// refresh reloads the list after a mutation. Loads already in flight are
// superseded: they may finish, but only this one writes the list. The
// mutation already succeeded, so a failed reload is only logged.
func (s *Session) refresh(ctx context.Context) {
	s.mu.Lock()
	s.listGen++
	s.mu.Unlock()

	if _, err := s.LoadConversations(ctx); err != nil {
		s.logger.Debug("refresh after mutation failed", zap.Error(err))
	}
}
