// Package messaging holds the per-user chat session: the conversation list
// with unread counts, the open conversation's messages, and the realtime
// feed that keeps those messages current.
//
// A Session belongs to one signed-in user. Create it with New, call
// Initialize on sign-in and Teardown when the app session ends; Teardown
// always releases the realtime feed.
package messaging

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/lalith-99/leaguechat/internal/models"
	"github.com/lalith-99/leaguechat/internal/realtime"
	"github.com/lalith-99/leaguechat/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// SenderResolver maps a user ID to the identity shown on a message.
type SenderResolver interface {
	Sender(ctx context.Context, userID uuid.UUID) (models.Sender, error)
}

// Backend groups the collaborators a Session talks to.
type Backend struct {
	Conversations repository.ConversationRepository
	Memberships   repository.MembershipRepository
	Messages      repository.MessageRepository
	ReadState     repository.ReadStateRepository
	Teams         repository.TeamRepository
	Senders       SenderResolver
	Realtime      realtime.Subscriber
}

// State is a point-in-time copy of the session, safe to hand to the UI.
type State struct {
	Conversations        []models.ConversationWithDetails `json:"conversations"`
	ActiveConversationID *uuid.UUID                       `json:"active_conversation_id,omitempty"`
	Messages             []models.MessageWithSender       `json:"messages"`
	Loading              bool                             `json:"loading"`
	UnreadTotal          int                              `json:"unread_total"`
	Subscription         SubscriptionStatus               `json:"subscription"`
}

type phase int

const (
	phaseNew phase = iota
	phaseActive
	phaseClosed
)

// Session is the messaging state of one signed-in user.
//
// Why a single RWMutex over all of the state?
//   - Unread counts, the total and the conversation list must change
//     together; a snapshot taken between two field-level locks could show
//     a total that does not match the list.
//   - Backend calls never run under mu. Each load records a counter
//     (epoch, listGen, messagesGen) before it leaves the lock and writes
//     back only if the counter is unchanged, so a slow load cannot
//     overwrite newer state.
//
// Watchers are called after mu is released; Snapshot from a watcher is safe.
type Session struct {
	backend Backend
	logger  *zap.Logger

	// loads coalesces concurrent LoadConversations calls.
	loads singleflight.Group

	// subMu serializes subscription transitions. Lock order: subMu, then mu.
	subMu sync.Mutex
	sub   subscription

	mu            sync.RWMutex
	phase         phase
	epoch         uint64
	userID        uuid.UUID
	conversations []models.ConversationWithDetails
	unreadTotal   int
	active        *uuid.UUID
	messages      []models.MessageWithSender
	messageIDs    map[int64]struct{}
	messagesGen   uint64
	loading       int
	subStatus     SubscriptionStatus
	// listGen is bumped by every mutation that changes membership; a list
	// load only writes back if no mutation happened since it started.
	listGen       uint64

	watchMu     sync.Mutex
	watchers    map[int]func(State)
	nextWatcher int
}

func New(backend Backend, logger *zap.Logger) *Session {
	return &Session{
		backend:       backend,
		logger:        logger,
		conversations: make([]models.ConversationWithDetails, 0),
		messages:      make([]models.MessageWithSender, 0),
		messageIDs:    make(map[int64]struct{}),
		subStatus:     SubscriptionStatus{State: Unsubscribed},
		watchers:      make(map[int]func(State)),
	}
}

// Initialize starts the session for userID with empty state. Calling it
// again (a different user signing in) releases any feed and starts over.
func (s *Session) Initialize(userID uuid.UUID) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.mu.RLock()
	closed := s.phase == phaseClosed
	s.mu.RUnlock()
	if closed {
		return ErrSessionClosed
	}

	s.releaseLocked()

	s.mu.Lock()
	s.resetLocked()
	s.phase = phaseActive
	s.userID = userID
	s.mu.Unlock()

	s.notify()
	return nil
}

// Teardown ends the session: the realtime feed is released and state is
// cleared. It is idempotent; every later call fails with ErrSessionClosed.
func (s *Session) Teardown() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.releaseLocked()

	s.mu.Lock()
	alreadyClosed := s.phase == phaseClosed
	s.resetLocked()
	s.phase = phaseClosed
	s.mu.Unlock()

	if !alreadyClosed {
		s.notify()
	}
}

// resetLocked clears all state and invalidates in-flight loads. Caller holds mu.
func (s *Session) resetLocked() {
	s.epoch++
	s.messagesGen++
	s.userID = uuid.Nil
	s.conversations = make([]models.ConversationWithDetails, 0)
	s.unreadTotal = 0
	s.active = nil
	s.messages = make([]models.MessageWithSender, 0)
	s.messageIDs = make(map[int64]struct{})
	s.loading = 0
}

// currentUser returns the signed-in user and the epoch the caller must still
// be in when it writes results back.
func (s *Session) currentUser() (uuid.UUID, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch s.phase {
	case phaseNew:
		return uuid.Nil, 0, ErrNotInitialized
	case phaseClosed:
		return uuid.Nil, 0, ErrSessionClosed
	}
	return s.userID, s.epoch, nil
}

// UserID returns the signed-in user, or uuid.Nil.
func (s *Session) UserID() uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Session) beginLoading(epoch uint64) {
	s.mu.Lock()
	if s.epoch == epoch {
		s.loading++
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Session) endLoading(epoch uint64) {
	s.mu.Lock()
	if s.epoch == epoch && s.loading > 0 {
		s.loading--
	}
	s.mu.Unlock()
	s.notify()
}

// Snapshot copies the current state.
func (s *Session) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := State{
		Conversations: append(make([]models.ConversationWithDetails, 0, len(s.conversations)), s.conversations...),
		Messages:      append(make([]models.MessageWithSender, 0, len(s.messages)), s.messages...),
		Loading:       s.loading > 0,
		UnreadTotal:   s.unreadTotal,
		Subscription:  s.subStatus,
	}
	if s.active != nil {
		id := *s.active
		st.ActiveConversationID = &id
	}
	return st
}

// Watch registers fn to receive a snapshot after every state change and
// returns a function that unregisters it. fn may be called from several
// goroutines and must not call back into the session's mutating methods.
func (s *Session) Watch(fn func(State)) (cancel func()) {
	s.watchMu.Lock()
	id := s.nextWatcher
	s.nextWatcher++
	s.watchers[id] = fn
	s.watchMu.Unlock()

	return func() {
		s.watchMu.Lock()
		delete(s.watchers, id)
		s.watchMu.Unlock()
	}
}

func (s *Session) notify() {
	s.watchMu.Lock()
	fns := make([]func(State), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.watchMu.Unlock()

	if len(fns) == 0 {
		return
	}
	st := s.Snapshot()
	for _, fn := range fns {
		fn(st)
	}
}
