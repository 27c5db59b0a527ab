package messaging

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/leaguechat/internal/models"
	"github.com/lalith-99/leaguechat/internal/realtime"
)

var errBackend = errors.New("backend unavailable")

// fakeBackend is an in-memory stand-in for the database, shared by every
// session in a test the way the real database would be.
type fakeBackend struct {
	mu sync.Mutex

	conversations map[uuid.UUID]models.Conversation
	members       map[uuid.UUID][]uuid.UUID
	messages      []models.Message
	nextMessageID int64
	unread        map[[2]uuid.UUID]int
	directPairs   map[[2]uuid.UUID]uuid.UUID
	teamNames     map[uuid.UUID]string
	teamMembers   map[uuid.UUID][]uuid.UUID
	senders       map[uuid.UUID]models.Sender

	membershipCalls int
	markReadCalls   int

	failMemberships   error
	failList          error
	failLatest        error
	failUnread        error
	failMarkRead      error
	failCreateMessage error
	failParticipants  error
	failSubscribe     error

	// membershipGate, when set, blocks ConversationIDsForUser until closed.
	membershipGate chan struct{}
	// membershipHold, when set, lets the next ConversationIDsForUser read
	// its IDs and then block until closed. It applies to one call only.
	membershipHold chan struct{}
	// historyGate, when set, blocks ListByConversation until closed.
	historyGate chan struct{}

	feeds []*fakeFeed
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		conversations: make(map[uuid.UUID]models.Conversation),
		members:       make(map[uuid.UUID][]uuid.UUID),
		unread:        make(map[[2]uuid.UUID]int),
		directPairs:   make(map[[2]uuid.UUID]uuid.UUID),
		teamNames:     make(map[uuid.UUID]string),
		teamMembers:   make(map[uuid.UUID][]uuid.UUID),
		senders:       make(map[uuid.UUID]models.Sender),
	}
}

func (f *fakeBackend) backend() Backend {
	return Backend{
		Conversations: f,
		Memberships:   f,
		Messages:      f,
		ReadState:     f,
		Teams:         f,
		Senders:       f,
		Realtime:      f,
	}
}

// --- fixtures ---

func (f *fakeBackend) addUser(name string) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.senders[id] = models.Sender{UserID: id, FullName: name}
	return id
}

func (f *fakeBackend) addConversation(kind models.ConversationKind, lastActivity time.Time, teamName string, userIDs ...uuid.UUID) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := models.Conversation{ID: uuid.New(), Kind: kind, LastMessageAt: lastActivity}
	if kind == models.ConversationTeam {
		teamID := uuid.New()
		f.teamNames[teamID] = teamName
		c.TeamID = &teamID
		c.TeamName = &teamName
	}
	f.conversations[c.ID] = c
	f.members[c.ID] = append([]uuid.UUID(nil), userIDs...)
	return c.ID
}

func (f *fakeBackend) setUnread(conversationID, userID uuid.UUID, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unread[[2]uuid.UUID{conversationID, userID}] = n
}

func (f *fakeBackend) addTeam(name string, managerID uuid.UUID, roster ...uuid.UUID) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.teamNames[id] = name
	f.teamMembers[id] = append(append([]uuid.UUID(nil), roster...), managerID)
	return id
}

func (f *fakeBackend) insertMessage(conversationID, senderID uuid.UUID, content string, at time.Time) models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextMessageID++
	m := models.Message{
		ID:             f.nextMessageID,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Type:           models.MessageText,
		CreatedAt:      at,
	}
	f.messages = append(f.messages, m)
	return m
}

func (f *fakeBackend) memberCount(conversationID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.members[conversationID])
}

func (f *fakeBackend) conversationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conversations)
}

func (f *fakeBackend) feed(i int) *fakeFeed {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.feeds[i]
}

func (f *fakeBackend) feedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.feeds)
}

// --- ConversationRepository ---

func (f *fakeBackend) ListByIDs(_ context.Context, ids []uuid.UUID) ([]models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList != nil {
		return nil, f.failList
	}
	out := make([]models.Conversation, 0, len(ids))
	for _, id := range ids {
		if c, ok := f.conversations[id]; ok {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastMessageAt.After(out[j].LastMessageAt) })
	return out, nil
}

func (f *fakeBackend) GetOrCreateDirect(_ context.Context, a, b uuid.UUID) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := [2]uuid.UUID{a, b}
	if a.String() > b.String() {
		key = [2]uuid.UUID{b, a}
	}
	if id, ok := f.directPairs[key]; ok {
		return id, nil
	}
	c := models.Conversation{ID: uuid.New(), Kind: models.ConversationDirect, LastMessageAt: time.Now()}
	f.conversations[c.ID] = c
	f.members[c.ID] = []uuid.UUID{key[0], key[1]}
	f.directPairs[key] = c.ID
	return c.ID, nil
}

func (f *fakeBackend) CreateWithParticipants(_ context.Context, conv models.Conversation, userIDs []uuid.UUID) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failParticipants != nil {
		return nil, f.failParticipants
	}
	if conv.Kind == models.ConversationTeam {
		for _, c := range f.conversations {
			if c.Kind == models.ConversationTeam && *c.TeamID == *conv.TeamID {
				return nil, errors.New("duplicate key value violates unique constraint")
			}
		}
	}
	conv.ID = uuid.New()
	conv.LastMessageAt = time.Now()
	f.conversations[conv.ID] = conv
	f.members[conv.ID] = append([]uuid.UUID(nil), userIDs...)
	return &conv, nil
}

// --- MembershipRepository ---

func (f *fakeBackend) ConversationIDsForUser(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	f.membershipCalls++
	gate := f.membershipGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	if f.failMemberships != nil {
		f.mu.Unlock()
		return nil, f.failMemberships
	}
	ids := make([]uuid.UUID, 0)
	for cid, users := range f.members {
		for _, u := range users {
			if u == userID {
				ids = append(ids, cid)
				break
			}
		}
	}
	hold := f.membershipHold
	f.membershipHold = nil
	f.mu.Unlock()

	if hold != nil {
		<-hold
	}
	return ids, nil
}

func (f *fakeBackend) ListParticipants(_ context.Context, conversationID uuid.UUID) ([]models.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Participant, 0)
	for _, u := range f.members[conversationID] {
		out = append(out, models.Participant{UserID: u, DisplayName: f.senders[u].FullName})
	}
	return out, nil
}

func (f *fakeBackend) AddParticipant(_ context.Context, conversationID, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.members[conversationID] {
		if u == userID {
			return nil
		}
	}
	f.members[conversationID] = append(f.members[conversationID], userID)
	return nil
}

// --- MessageRepository ---

func (f *fakeBackend) Create(_ context.Context, msg models.Message) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreateMessage != nil {
		return nil, f.failCreateMessage
	}
	f.nextMessageID++
	msg.ID = f.nextMessageID
	msg.CreatedAt = time.Now()
	f.messages = append(f.messages, msg)
	return &msg, nil
}

func (f *fakeBackend) ListByConversation(_ context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	f.mu.Lock()
	gate := f.historyGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList != nil {
		return nil, f.failList
	}
	out := make([]models.Message, 0)
	for _, m := range f.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeBackend) Latest(_ context.Context, conversationID uuid.UUID) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLatest != nil {
		return nil, f.failLatest
	}
	var latest *models.Message
	for i := range f.messages {
		m := f.messages[i]
		if m.ConversationID == conversationID && (latest == nil || m.CreatedAt.After(latest.CreatedAt)) {
			latest = &m
		}
	}
	return latest, nil
}

// --- ReadStateRepository ---

func (f *fakeBackend) UnreadCount(_ context.Context, conversationID, userID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUnread != nil {
		return 0, f.failUnread
	}
	return f.unread[[2]uuid.UUID{conversationID, userID}], nil
}

func (f *fakeBackend) MarkRead(_ context.Context, conversationID, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markReadCalls++
	if f.failMarkRead != nil {
		return f.failMarkRead
	}
	delete(f.unread, [2]uuid.UUID{conversationID, userID})
	return nil
}

// --- TeamRepository ---

func (f *fakeBackend) FindTeamConversation(_ context.Context, teamID uuid.UUID) (*uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conversations {
		if c.Kind == models.ConversationTeam && *c.TeamID == teamID {
			id := c.ID
			return &id, nil
		}
	}
	return nil, nil
}

func (f *fakeBackend) MemberIDs(_ context.Context, teamID uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.teamMembers[teamID]...), nil
}

// --- SenderResolver ---

func (f *fakeBackend) Sender(_ context.Context, userID uuid.UUID) (models.Sender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.senders[userID]
	if !ok {
		return models.Sender{}, errors.New("profile not found")
	}
	return s, nil
}

// --- realtime.Subscriber ---

func (f *fakeBackend) Subscribe(_ context.Context, conversationID uuid.UUID) (realtime.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSubscribe != nil {
		return nil, f.failSubscribe
	}
	feed := &fakeFeed{conversationID: conversationID, events: make(chan models.Message, 16)}
	f.feeds = append(f.feeds, feed)
	return feed, nil
}

type fakeFeed struct {
	conversationID uuid.UUID
	events         chan models.Message

	mu     sync.Mutex
	closed bool
}

func (f *fakeFeed) Events() <-chan models.Message {
	return f.events
}

func (f *fakeFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeFeed) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeFeed) push(msg models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.events <- msg
	}
}
