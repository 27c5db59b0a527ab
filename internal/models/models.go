package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role is the league role a user signs in with. It decides which navigation
// tabs are visible; the messaging layer itself does not branch on it.
type Role string

const (
	RolePlayer   Role = "player"
	RoleManager  Role = "manager"
	RoleDirector Role = "director"
)

func (r Role) Valid() bool {
	switch r {
	case RolePlayer, RoleManager, RoleDirector:
		return true
	}
	return false
}

// User is owned by the authentication side. The messaging layer only reads it.
//
// PasswordHash never leaves the server: the json tag hides it.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	AvatarURL    *string   `json:"avatar_url,omitempty"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// ConversationKind tags which variant a Conversation is.
type ConversationKind string

const (
	ConversationDirect ConversationKind = "direct"
	ConversationTeam   ConversationKind = "team"
)

// Conversation is a messaging thread.
//
// Direct conversations have no team; team conversations always carry TeamID,
// and TeamName when the row was loaded joined with its team.
// Validate enforces that shape when rows come out of the database.
type Conversation struct {
	ID            uuid.UUID        `json:"id"`
	Kind          ConversationKind `json:"type"`
	Title         *string          `json:"title,omitempty"`
	TeamID        *uuid.UUID       `json:"team_id,omitempty"`
	TeamName      *string          `json:"team_name,omitempty"`
	LastMessageAt time.Time        `json:"last_message_at"`
	CreatedAt     time.Time        `json:"created_at"`
}

func (c Conversation) Validate() error {
	switch c.Kind {
	case ConversationDirect:
		if c.TeamID != nil {
			return fmt.Errorf("direct conversation %s has a team", c.ID)
		}
	case ConversationTeam:
		if c.TeamID == nil {
			return fmt.Errorf("team conversation %s has no team", c.ID)
		}
	default:
		return fmt.Errorf("conversation %s has unknown type %q", c.ID, c.Kind)
	}
	return nil
}

// Participant is a conversation member joined with the user's identity.
type Participant struct {
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   *string   `json:"avatar_url,omitempty"`
}

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageSystem MessageType = "system"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageSystem:
		return true
	}
	return false
}

// Message is immutable once stored. IDs are drawn while the conversation row
// is locked, so within one conversation a higher ID is a later commit.
type Message struct {
	ID             int64       `json:"id"`
	ConversationID uuid.UUID   `json:"conversation_id"`
	SenderID       uuid.UUID   `json:"sender_id"`
	Content        string      `json:"content"`
	Type           MessageType `json:"message_type"`
	ImageURL       *string     `json:"image_url,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Sender is the identity shown next to a message.
type Sender struct {
	UserID    uuid.UUID `json:"user_id"`
	FullName  string    `json:"full_name"`
	AvatarURL *string   `json:"avatar_url,omitempty"`
}

// UnknownSender is used when a sender's profile cannot be resolved.
func UnknownSender(userID uuid.UUID) Sender {
	return Sender{UserID: userID, FullName: "Unknown"}
}

type MessageWithSender struct {
	Message
	Sender Sender `json:"sender"`
}

// ConversationWithDetails is rebuilt on every load and never stored.
type ConversationWithDetails struct {
	Conversation
	LastMessage  *Message      `json:"last_message,omitempty"`
	Participants []Participant `json:"participants"`
	UnreadCount  int           `json:"unread_count"`
}
