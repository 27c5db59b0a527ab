package realtime

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/leaguechat/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDecodeMessage_PublishedPayload(t *testing.T) {
	payload := `{"id":42,"conversation_id":"6f1c1b3e-8a43-4c55-9d7e-2f1f0f2b6a10",` +
		`"sender_id":"0b7d7f4e-2b8e-4f7b-a3a9-6c1d7a2b9e01","content":"see you at practice",` +
		`"message_type":"text","image_url":null,"created_at":"2026-10-17T09:30:00.123456+00:00"}`

	msg, err := decodeMessage([]byte(payload))
	require.NoError(t, err)

	assert.Equal(t, int64(42), msg.ID)
	assert.Equal(t, uuid.MustParse("6f1c1b3e-8a43-4c55-9d7e-2f1f0f2b6a10"), msg.ConversationID)
	assert.Equal(t, models.MessageText, msg.Type)
	assert.Nil(t, msg.ImageURL)
	assert.Equal(t, 2026, msg.CreatedAt.Year())
}

func TestDecodeMessage_Rejects(t *testing.T) {
	for _, payload := range []string{
		`not json`,
		`{"content":"no ids"}`,
		`{"id":1,"content":"no conversation"}`,
	} {
		_, err := decodeMessage([]byte(payload))
		assert.Error(t, err, payload)
	}
}

func TestDecodeNotice(t *testing.T) {
	// Shape produced by json_build_object in notify_message_inserted.
	n, err := decodeNotice([]byte(`{"id":42,"conversation_id":"6f1c1b3e-8a43-4c55-9d7e-2f1f0f2b6a10"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(42), n.ID)
	assert.Equal(t, uuid.MustParse("6f1c1b3e-8a43-4c55-9d7e-2f1f0f2b6a10"), n.ConversationID)

	for _, payload := range []string{
		`not json`,
		`{"conversation_id":"6f1c1b3e-8a43-4c55-9d7e-2f1f0f2b6a10"}`,
		`{"id":42}`,
	} {
		_, err := decodeNotice([]byte(payload))
		assert.Error(t, err, payload)
	}
}

type MockMessageFetcher struct {
	mock.Mock
}

func (m *MockMessageFetcher) GetByID(ctx context.Context, id int64) (*models.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func TestPGSubscription_Resolve(t *testing.T) {
	convID := uuid.MustParse("6f1c1b3e-8a43-4c55-9d7e-2f1f0f2b6a10")
	notice := `{"id":42,"conversation_id":"6f1c1b3e-8a43-4c55-9d7e-2f1f0f2b6a10"}`
	// Longer than anything NOTIFY could have carried.
	long := strings.Repeat("lineup change ", 700)

	tests := []struct {
		name    string
		payload string
		setup   func(m *MockMessageFetcher)
		want    *models.Message
		wantErr bool
	}{
		{
			name:    "fetches the full row",
			payload: notice,
			setup: func(m *MockMessageFetcher) {
				m.On("GetByID", mock.Anything, int64(42)).
					Return(&models.Message{ID: 42, ConversationID: convID, Content: long, Type: models.MessageText}, nil)
			},
			want: &models.Message{ID: 42, ConversationID: convID, Content: long, Type: models.MessageText},
		},
		{
			name:    "row gone",
			payload: notice,
			setup: func(m *MockMessageFetcher) {
				m.On("GetByID", mock.Anything, int64(42)).Return(nil, nil)
			},
		},
		{
			name:    "fetch fails",
			payload: notice,
			setup: func(m *MockMessageFetcher) {
				m.On("GetByID", mock.Anything, int64(42)).Return(nil, errors.New("pool closed"))
			},
			wantErr: true,
		},
		{
			name:    "row from another conversation",
			payload: notice,
			setup: func(m *MockMessageFetcher) {
				m.On("GetByID", mock.Anything, int64(42)).
					Return(&models.Message{ID: 42, ConversationID: uuid.New()}, nil)
			},
			wantErr: true,
		},
		{
			name:    "malformed payload",
			payload: `{"id":"forty-two"}`,
			setup:   func(m *MockMessageFetcher) {},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := new(MockMessageFetcher)
			tt.setup(fetcher)
			sub := &pgSubscription{messages: fetcher}

			msg, err := sub.resolve(context.Background(), tt.payload)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg)
			fetcher.AssertExpectations(t)
		})
	}
}

func TestChannelNames(t *testing.T) {
	id := uuid.MustParse("6f1c1b3e-8a43-4c55-9d7e-2f1f0f2b6a10")
	assert.Equal(t, "conversation:6f1c1b3e-8a43-4c55-9d7e-2f1f0f2b6a10", ChannelName(id))
	assert.Equal(t, "conversation:6f1c1b3e-8a43-4c55-9d7e-2f1f0f2b6a10:messages", redisChannel(id))
	// Postgres truncates identifiers past 63 bytes.
	assert.LessOrEqual(t, len(ChannelName(id)), 63)
}

type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) Create(ctx context.Context, msg models.Message) (*models.Message, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockMessageRepository) ListByConversation(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	args := m.Called(ctx, conversationID)
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MockMessageRepository) Latest(ctx context.Context, conversationID uuid.UUID) (*models.Message, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, msg models.Message) error {
	return m.Called(ctx, msg).Error(0)
}

func TestPublishingMessages_PublishesAfterInsert(t *testing.T) {
	ctx := context.Background()
	input := models.Message{ConversationID: uuid.New(), SenderID: uuid.New(), Content: "hi", Type: models.MessageText}
	stored := input
	stored.ID = 7
	stored.CreatedAt = time.Now()

	repo := new(MockMessageRepository)
	pub := new(MockPublisher)
	repo.On("Create", ctx, input).Return(&stored, nil)
	pub.On("Publish", ctx, stored).Return(nil)

	created, err := NewPublishingMessages(repo, pub, zap.NewNop()).Create(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, int64(7), created.ID)

	repo.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestPublishingMessages_PublishFailureStillSucceeds(t *testing.T) {
	ctx := context.Background()
	input := models.Message{ConversationID: uuid.New(), SenderID: uuid.New(), Content: "hi", Type: models.MessageText}
	stored := input
	stored.ID = 8

	repo := new(MockMessageRepository)
	pub := new(MockPublisher)
	repo.On("Create", ctx, input).Return(&stored, nil)
	pub.On("Publish", ctx, stored).Return(errors.New("redis down"))

	created, err := NewPublishingMessages(repo, pub, zap.NewNop()).Create(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, int64(8), created.ID)
}

func TestPublishingMessages_InsertFailureSkipsPublish(t *testing.T) {
	ctx := context.Background()
	input := models.Message{ConversationID: uuid.New(), SenderID: uuid.New(), Content: "hi", Type: models.MessageText}

	repo := new(MockMessageRepository)
	pub := new(MockPublisher)
	repo.On("Create", ctx, input).Return(nil, errors.New("insert rejected"))

	_, err := NewPublishingMessages(repo, pub, zap.NewNop()).Create(ctx, input)
	assert.Error(t, err)
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}
