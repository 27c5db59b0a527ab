package messaging

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lalith-99/leaguechat/internal/models"
	"go.uber.org/zap"
)

// CreateDirectConversation returns the direct conversation between the
// current user and otherUserID, creating it on first use. The backend
// guarantees one conversation per pair even when both users race.
func (s *Session) CreateDirectConversation(ctx context.Context, otherUserID uuid.UUID) (uuid.UUID, error) {
	userID, _, err := s.currentUser()
	if err != nil {
		return uuid.Nil, err
	}
	if otherUserID == userID {
		return uuid.Nil, ErrSelfConversation
	}

	id, err := s.backend.Conversations.GetOrCreateDirect(ctx, userID, otherUserID)
	if err != nil {
		s.logger.Error("create direct conversation failed",
			zap.String("other_user_id", otherUserID.String()),
			zap.Error(err),
		)
		return uuid.Nil, fmt.Errorf("create direct conversation: %w", err)
	}

	s.refresh(ctx)
	return id, nil
}

// TeamConversationTitle is the title given to a new team chat.
func TeamConversationTitle(teamName string) string {
	return teamName + " Team Chat"
}

// CreateTeamConversation returns the team's conversation, creating it with
// the roster and the manager as participants when it does not exist yet.
// The conversation and its memberships are written in one transaction.
func (s *Session) CreateTeamConversation(ctx context.Context, teamID uuid.UUID, teamName string) (uuid.UUID, error) {
	if _, _, err := s.currentUser(); err != nil {
		return uuid.Nil, err
	}

	existing, err := s.backend.Teams.FindTeamConversation(ctx, teamID)
	if err != nil {
		s.logger.Error("find team conversation failed", zap.String("team_id", teamID.String()), zap.Error(err))
		return uuid.Nil, fmt.Errorf("find team conversation: %w", err)
	}
	if existing != nil {
		s.refresh(ctx)
		return *existing, nil
	}

	members, err := s.backend.Teams.MemberIDs(ctx, teamID)
	if err != nil {
		s.logger.Error("list team members failed", zap.String("team_id", teamID.String()), zap.Error(err))
		return uuid.Nil, fmt.Errorf("list team members: %w", err)
	}

	title := TeamConversationTitle(teamName)
	created, err := s.backend.Conversations.CreateWithParticipants(ctx, models.Conversation{
		Kind:     models.ConversationTeam,
		Title:    &title,
		TeamID:   &teamID,
		TeamName: &teamName,
	}, dedupe(members))
	if err != nil {
		// Another session may have created it first; the unique index
		// rejected ours. Hand back theirs.
		if again, findErr := s.backend.Teams.FindTeamConversation(ctx, teamID); findErr == nil && again != nil {
			s.refresh(ctx)
			return *again, nil
		}
		s.logger.Error("create team conversation failed", zap.String("team_id", teamID.String()), zap.Error(err))
		return uuid.Nil, fmt.Errorf("create team conversation: %w", err)
	}

	s.refresh(ctx)
	return created.ID, nil
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// JoinLeagueConversation adds the current user to an open league
// conversation. Joining twice is harmless.
func (s *Session) JoinLeagueConversation(ctx context.Context, conversationID uuid.UUID) error {
	userID, _, err := s.currentUser()
	if err != nil {
		return err
	}

	if err := s.backend.Memberships.AddParticipant(ctx, conversationID, userID); err != nil {
		s.logger.Error("join conversation failed",
			zap.String("conversation_id", conversationID.String()),
			zap.Error(err),
		)
		return fmt.Errorf("join conversation: %w", err)
	}

	s.refresh(ctx)
	return nil
}

// MarkAsRead advances the user's read marker, then zeroes the
// conversation's unread count locally and takes its share off the total.
// The local update stands even if the backend call failed; that failure is
// only logged, and the next load brings the counts back in line.
func (s *Session) MarkAsRead(ctx context.Context, conversationID uuid.UUID) error {
	userID, epoch, err := s.currentUser()
	if err != nil {
		return err
	}

	if err := s.backend.ReadState.MarkRead(ctx, conversationID, userID); err != nil {
		s.logger.Warn("mark as read failed",
			zap.String("conversation_id", conversationID.String()),
			zap.Error(err),
		)
	}

	s.mu.Lock()
	if s.epoch == epoch {
		for i := range s.conversations {
			if s.conversations[i].ID != conversationID {
				continue
			}
			s.unreadTotal -= s.conversations[i].UnreadCount
			s.conversations[i].UnreadCount = 0
			break
		}
	}
	s.mu.Unlock()

	s.notify()
	return nil
}

// OpenConversation is what the chat screen does on entry: subscribe first
// so nothing committed during the history load is missed, load the
// history, then mark the conversation read.
func (s *Session) OpenConversation(ctx context.Context, conversationID uuid.UUID) error {
	if _, _, err := s.currentUser(); err != nil {
		return err
	}
	s.activate(conversationID)
	s.notify()

	if err := s.SubscribeToConversation(ctx, conversationID); err != nil {
		return err
	}
	if _, err := s.LoadMessages(ctx, conversationID); err != nil {
		// Stale history with a live feed is still usable.
		s.logger.Debug("open conversation without history", zap.Error(err))
	}
	return s.MarkAsRead(ctx, conversationID)
}

// CloseConversation releases the feed and clears the active conversation.
func (s *Session) CloseConversation() {
	s.UnsubscribeFromConversation()

	s.mu.Lock()
	s.active = nil
	s.messages = make([]models.MessageWithSender, 0)
	s.messageIDs = make(map[int64]struct{})
	s.messagesGen++
	s.mu.Unlock()

	s.notify()
}
