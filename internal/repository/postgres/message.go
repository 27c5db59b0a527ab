package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/leaguechat/internal/models"
)

type MessageStore struct {
	pool *pgxpool.Pool
}

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

const messageColumns = `id, conversation_id, sender_id, content, message_type, image_url, created_at`

func scanMessage(row pgx.Row) (models.Message, error) {
	var msg models.Message
	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.Content,
		&msg.Type,
		&msg.ImageURL,
		&msg.CreatedAt,
	)
	return msg, err
}

// Create inserts a message and returns the stored row.
//
// Why lock the conversation first? messages.id is a bigserial, and sequence
// values are handed out at insert time, not at commit. Two senders in the
// same conversation could otherwise commit out of id order, and a reader
// who marked the conversation read in between would skip the lower id
// forever. Holding the conversation row until commit makes ids within one
// conversation follow commit order, which the read markers and the session
// history both depend on. The insert trigger takes the same row lock to
// bump last_message_at, so this adds no new contention.
func (s *MessageStore) Create(ctx context.Context, msg models.Message) (*models.Message, error) {
	query := `
		INSERT INTO messages (conversation_id, sender_id, content, message_type, image_url, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING ` + messageColumns

	var created models.Message
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT 1 FROM conversations WHERE id = $1 FOR UPDATE`, msg.ConversationID); err != nil {
			return fmt.Errorf("lock conversation: %w", err)
		}

		var err error
		created, err = scanMessage(tx.QueryRow(ctx, query,
			msg.ConversationID,
			msg.SenderID,
			msg.Content,
			msg.Type,
			msg.ImageURL,
		))
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// GetByID returns nil, nil when the row does not exist.
func (s *MessageStore) GetByID(ctx context.Context, id int64) (*models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE id = $1`

	msg, err := scanMessage(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &msg, nil
}

func (s *MessageStore) ListByConversation(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	// id, not created_at: now() is the transaction start, which can run
	// ahead of the conversation lock and so of commit order.
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1
		ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

func (s *MessageStore) Latest(ctx context.Context, conversationID uuid.UUID) (*models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1
		ORDER BY id DESC
		LIMIT 1`

	msg, err := scanMessage(s.pool.QueryRow(ctx, query, conversationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest message: %w", err)
	}
	return &msg, nil
}
