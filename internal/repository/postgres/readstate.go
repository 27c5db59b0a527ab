package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ReadStateStore calls the read-marker procedures in schema.sql.
type ReadStateStore struct {
	pool *pgxpool.Pool
}

func NewReadStateStore(pool *pgxpool.Pool) *ReadStateStore {
	return &ReadStateStore{pool: pool}
}

func (s *ReadStateStore) UnreadCount(ctx context.Context, conversationID, userID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT get_unread_count($1, $2)`, conversationID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return count, nil
}

func (s *ReadStateStore) MarkRead(ctx context.Context, conversationID, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `SELECT mark_conversation_read($1, $2)`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("mark conversation read: %w", err)
	}
	return nil
}
