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

type UserStore struct {
	pool *pgxpool.Pool
}

func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

const userColumns = `id, email, display_name, avatar_url, role, password_hash, created_at`

func (s *UserStore) scanOne(ctx context.Context, op, query string, arg any) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&u.ID,
		&u.Email,
		&u.DisplayName,
		&u.AvatarURL,
		&u.Role,
		&u.PasswordHash,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &u, nil
}

func (s *UserStore) GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return s.scanOne(ctx, "get user", `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
}

// GetByEmail looks a user up for login. Emails are stored lower-cased.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.scanOne(ctx, "get user by email", `SELECT `+userColumns+` FROM users WHERE email = lower($1)`, email)
}
