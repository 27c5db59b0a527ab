// Package cache keeps resolved sender identities in Redis so that opening a
// busy conversation does not look up the same users over and over.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/leaguechat/internal/models"
	"github.com/lalith-99/leaguechat/internal/repository"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const PrefixProfile = "profile:"

// ErrProfileNotFound is returned for user IDs with no user row.
var ErrProfileNotFound = errors.New("profile not found")

// Profiles resolves senders through the user repository. With a nil client
// or a zero TTL it never caches.
type Profiles struct {
	users  repository.UserRepository
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewProfiles(users repository.UserRepository, client *redis.Client, ttl time.Duration, logger *zap.Logger) *Profiles {
	return &Profiles{users: users, client: client, ttl: ttl, logger: logger}
}

func profileKey(userID uuid.UUID) string {
	return PrefixProfile + userID.String()
}

func (p *Profiles) enabled() bool {
	return p.client != nil && p.ttl > 0
}

// Sender returns the display identity for a user, from Redis when cached.
//
// Why cache-aside with a TTL instead of invalidating on profile edits?
//   - Sender identity is read on every loaded and every incoming message,
//     and written almost never.
//   - Profile edits happen outside this service, so there is no write path
//     here that could invalidate. A stale avatar for a few minutes is fine.
//   - Redis being down must not break chat. Every cache error falls back
//     to the user repository and is only logged at debug.
func (p *Profiles) Sender(ctx context.Context, userID uuid.UUID) (models.Sender, error) {
	if p.enabled() {
		data, err := p.client.Get(ctx, profileKey(userID)).Bytes()
		switch {
		case err == nil:
			var s models.Sender
			if jsonErr := json.Unmarshal(data, &s); jsonErr == nil {
				return s, nil
			}
		case !errors.Is(err, redis.Nil):
			// Cache trouble is not a lookup failure; fall through to the DB.
			p.logger.Debug("profile cache read failed", zap.Error(err))
		}
	}

	u, err := p.users.GetByID(ctx, userID)
	if err != nil {
		return models.Sender{}, fmt.Errorf("resolve sender: %w", err)
	}
	if u == nil {
		return models.Sender{}, fmt.Errorf("resolve sender %s: %w", userID, ErrProfileNotFound)
	}

	s := models.Sender{UserID: u.ID, FullName: u.DisplayName, AvatarURL: u.AvatarURL}

	if p.enabled() {
		if data, err := json.Marshal(s); err == nil {
			if err := p.client.Set(ctx, profileKey(userID), data, p.ttl).Err(); err != nil {
				p.logger.Debug("profile cache write failed", zap.Error(err))
			}
		}
	}
	return s, nil
}
