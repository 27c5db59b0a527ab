package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/leaguechat/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func TestProfiles_ResolvesWithoutCache(t *testing.T) {
	ctx := context.Background()
	avatar := "https://cdn.example.com/a.png"
	user := &models.User{ID: uuid.New(), DisplayName: "Sam Keeper", AvatarURL: &avatar, Role: models.RolePlayer}

	users := new(MockUserRepository)
	users.On("GetByID", ctx, user.ID).Return(user, nil).Twice()

	p := NewProfiles(users, nil, time.Minute, zap.NewNop())

	for i := 0; i < 2; i++ {
		s, err := p.Sender(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "Sam Keeper", s.FullName)
		assert.Equal(t, &avatar, s.AvatarURL)
	}
	users.AssertExpectations(t)
}

func TestProfiles_NotFound(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	users := new(MockUserRepository)
	users.On("GetByID", ctx, id).Return(nil, nil)

	_, err := NewProfiles(users, nil, 0, zap.NewNop()).Sender(ctx, id)
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestProfiles_RepositoryError(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	users := new(MockUserRepository)
	users.On("GetByID", ctx, id).Return(nil, errors.New("connection reset"))

	_, err := NewProfiles(users, nil, 0, zap.NewNop()).Sender(ctx, id)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrProfileNotFound)
}
