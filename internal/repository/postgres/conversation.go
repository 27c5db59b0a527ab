package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/leaguechat/internal/models"
)

type ConversationStore struct {
	pool *pgxpool.Pool
}

func NewConversationStore(pool *pgxpool.Pool) *ConversationStore {
	return &ConversationStore{pool: pool}
}

const conversationColumns = `c.id, c.type, c.title, c.team_id, t.name, c.last_message_at, c.created_at`

func scanConversation(row pgx.Row) (models.Conversation, error) {
	var c models.Conversation
	err := row.Scan(
		&c.ID,
		&c.Kind,
		&c.Title,
		&c.TeamID,
		&c.TeamName,
		&c.LastMessageAt,
		&c.CreatedAt,
	)
	return c, err
}

func (s *ConversationStore) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Conversation, error) {
	conversations := make([]models.Conversation, 0, len(ids))
	if len(ids) == 0 {
		return conversations, nil
	}

	// Ties on last_message_at fall back to id so the order is stable
	// across reloads.
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations c
		LEFT JOIN teams t ON t.id = c.team_id
		WHERE c.id = ANY($1)
		ORDER BY c.last_message_at DESC, c.id`

	rows, err := s.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("validate conversation: %w", err)
		}
		conversations = append(conversations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}

	return conversations, nil
}

func (s *ConversationStore) GetOrCreateDirect(ctx context.Context, userA, userB uuid.UUID) (uuid.UUID, error) {
	// The procedure takes an advisory lock on the ordered pair, so two users
	// racing to message each other still end up with a single row.
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `SELECT get_or_create_direct_conversation($1, $2)`, userA, userB).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("get or create direct conversation: %w", err)
	}
	return id, nil
}

func (s *ConversationStore) CreateWithParticipants(ctx context.Context, conv models.Conversation, userIDs []uuid.UUID) (*models.Conversation, error) {
	if err := conv.Validate(); err != nil {
		return nil, err
	}

	var created models.Conversation

	// BeginFunc commits when the callback returns nil and rolls back
	// otherwise, so a failed membership insert takes the conversation row
	// with it.
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		insert := `
			INSERT INTO conversations (id, type, title, team_id, last_message_at, created_at)
			VALUES (uuid_generate_v4(), $1, $2, $3, now(), now())
			RETURNING id, type, title, team_id, last_message_at, created_at`

		err := tx.QueryRow(ctx, insert, conv.Kind, conv.Title, conv.TeamID).Scan(
			&created.ID,
			&created.Kind,
			&created.Title,
			&created.TeamID,
			&created.LastMessageAt,
			&created.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}

		batch := &pgx.Batch{}
		for _, userID := range userIDs {
			batch.Queue(`
				INSERT INTO conversation_participants (conversation_id, user_id, joined_at)
				VALUES ($1, $2, now())
				ON CONFLICT (conversation_id, user_id) DO NOTHING`,
				created.ID, userID)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert participants: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	created.TeamName = conv.TeamName
	return &created, nil
}
