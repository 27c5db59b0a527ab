package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TeamStore struct {
	pool *pgxpool.Pool
}

func NewTeamStore(pool *pgxpool.Pool) *TeamStore {
	return &TeamStore{pool: pool}
}

func (s *TeamStore) FindTeamConversation(ctx context.Context, teamID uuid.UUID) (*uuid.UUID, error) {
	query := `
		SELECT id
		FROM conversations
		WHERE type = 'team' AND team_id = $1
		LIMIT 1`

	var id uuid.UUID
	err := s.pool.QueryRow(ctx, query, teamID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find team conversation: %w", err)
	}
	return &id, nil
}

func (s *TeamStore) MemberIDs(ctx context.Context, teamID uuid.UUID) ([]uuid.UUID, error) {
	// Roster rows first, then the manager. UNION ALL keeps this a plain
	// append; the caller de-duplicates.
	query := `
		SELECT user_id FROM team_members WHERE team_id = $1
		UNION ALL
		SELECT manager_id FROM teams WHERE id = $1 AND manager_id IS NOT NULL`

	rows, err := s.pool.Query(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("list team members: %w", err)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan team member: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate team members: %w", err)
	}

	return ids, nil
}
