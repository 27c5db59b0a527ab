package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/lalith-99/leaguechat/internal/models"
)

// Every method takes ctx first: these all go over the network, and the
// session's caller owns the deadline.
//
// "Not found" is reported as a nil result with a nil error, never as an error.

// ConversationRepository covers conversation rows.
type ConversationRepository interface {
	// ListByIDs returns the given conversations joined with their team name,
	// most recently active first. Unknown IDs are skipped.
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Conversation, error)

	// GetOrCreateDirect returns the single direct conversation between two
	// users, creating it if needed. Argument order does not matter and
	// concurrent calls from both users converge on one ID.
	GetOrCreateDirect(ctx context.Context, userA, userB uuid.UUID) (uuid.UUID, error)

	// CreateWithParticipants inserts a conversation and its membership rows
	// atomically: either all rows exist afterwards or none do.
	CreateWithParticipants(ctx context.Context, conv models.Conversation, userIDs []uuid.UUID) (*models.Conversation, error)
}

// MembershipRepository covers conversation_participants.
type MembershipRepository interface {
	// ConversationIDsForUser returns every conversation the user belongs to.
	// Empty slice (not nil) when there are none.
	ConversationIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)

	// ListParticipants returns members joined with their user identity.
	ListParticipants(ctx context.Context, conversationID uuid.UUID) ([]models.Participant, error)

	// AddParticipant is idempotent: joining twice is a no-op.
	AddParticipant(ctx context.Context, conversationID, userID uuid.UUID) error
}

// MessageRepository covers message rows.
type MessageRepository interface {
	// Create persists a message and returns it with ID and CreatedAt populated.
	Create(ctx context.Context, msg models.Message) (*models.Message, error)

	// ListByConversation returns the full history, oldest first.
	ListByConversation(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error)

	// Latest returns the newest message, or nil, nil for an empty conversation.
	Latest(ctx context.Context, conversationID uuid.UUID) (*models.Message, error)
}

// ReadStateRepository wraps the server-side read markers.
type ReadStateRepository interface {
	// UnreadCount is computed by the database; the client cannot derive it.
	UnreadCount(ctx context.Context, conversationID, userID uuid.UUID) (int, error)

	// MarkRead advances the user's read marker to now.
	MarkRead(ctx context.Context, conversationID, userID uuid.UUID) error
}

// TeamRepository answers the two questions team chat creation needs.
type TeamRepository interface {
	// FindTeamConversation returns the team's conversation ID, or nil, nil.
	FindTeamConversation(ctx context.Context, teamID uuid.UUID) (*uuid.UUID, error)

	// MemberIDs returns the team's current roster plus its manager.
	// May contain duplicates; callers de-duplicate.
	MemberIDs(ctx context.Context, teamID uuid.UUID) ([]uuid.UUID, error)
}

// UserRepository handles user data.
type UserRepository interface {
	// GetByID returns a user, or nil, nil when not found.
	GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error)

	// GetByEmail is used by login.
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}
