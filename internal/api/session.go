package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/leaguechat/internal/messaging"
	"github.com/lalith-99/leaguechat/internal/middleware"
	"github.com/lalith-99/leaguechat/internal/models"
	"github.com/lalith-99/leaguechat/internal/observ"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// SessionHandler serves GET /v1/session. Each websocket connection is one
// app session: a messaging.Session is initialized for the token's user on
// connect and torn down when the socket closes, which releases its
// realtime feed.
//
// The client sends commands ({"id","op","params"}) and receives:
//
//	{"type":"state","data":<messaging.State>}  after every state change
//	{"type":"result","id":...,"data":...}      per command
//	{"type":"error","id":...,"error":"..."}    when a mutation fails
//
// Failed reads (load_conversations, load_messages) answer with an empty
// result; the UI keeps showing what it had.
type SessionHandler struct {
	backend  messaging.Backend
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewSessionHandler(backend messaging.Backend, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		backend: backend,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Auth is the bearer token, not cookies, so any origin may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

type clientFrame struct {
	ID     string          `json:"id"`
	Op     string          `json:"op"`
	Params json.RawMessage `json:"params"`
}

type serverFrame struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

type conversationParams struct {
	ConversationID uuid.UUID `json:"conversation_id"`
}

type sendMessageParams struct {
	ConversationID uuid.UUID          `json:"conversation_id"`
	Content        string             `json:"content"`
	Type           models.MessageType `json:"message_type"`
	ImageURL       *string            `json:"image_url"`
}

type createDirectParams struct {
	UserID uuid.UUID `json:"user_id"`
}

type createTeamParams struct {
	TeamID   uuid.UUID `json:"team_id"`
	TeamName string    `json:"team_name"`
}

// Connect handles GET /v1/session
func (h *SessionHandler) Connect(c *gin.Context) {
	userID := middleware.GetUserID(c)
	logger := observ.ForSession(h.logger, userID)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	session := messaging.New(h.backend, logger)
	if err := session.Initialize(userID); err != nil {
		logger.Error("session initialize failed", zap.Error(err))
		_ = conn.Close()
		return
	}

	client := newWSClient(conn, logger)
	unwatch := session.Watch(client.pushState)

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		unwatch()
		session.Teardown()
		client.close()
		logger.Info("session closed")
	}()

	go client.writePump()
	logger.Info("session opened")

	client.pushState(session.Snapshot())
	go func() {
		// The messages tab shows the list as soon as the app is up.
		_, _ = session.LoadConversations(ctx)
	}()

	client.readPump(func(frame clientFrame) {
		client.send(h.dispatch(ctx, session, frame))
	})
}

func (h *SessionHandler) dispatch(ctx context.Context, s *messaging.Session, frame clientFrame) serverFrame {
	data, err := h.run(ctx, s, frame)
	if err != nil {
		return serverFrame{Type: "error", ID: frame.ID, Error: clientError(err)}
	}
	return serverFrame{Type: "result", ID: frame.ID, Data: data}
}

func (h *SessionHandler) run(ctx context.Context, s *messaging.Session, frame clientFrame) (any, error) {
	switch frame.Op {
	case "load_conversations":
		convs, err := s.LoadConversations(ctx)
		if err != nil {
			return nil, nil
		}
		return convs, nil

	case "load_messages":
		var p conversationParams
		if err := decodeParams(frame.Params, &p); err != nil {
			return nil, err
		}
		msgs, err := s.LoadMessages(ctx, p.ConversationID)
		if err != nil {
			return nil, nil
		}
		return msgs, nil

	case "open_conversation":
		var p conversationParams
		if err := decodeParams(frame.Params, &p); err != nil {
			return nil, err
		}
		return nil, s.OpenConversation(ctx, p.ConversationID)

	case "close_conversation":
		s.CloseConversation()
		return nil, nil

	case "subscribe":
		// Also makes the conversation active; see Session.SubscribeToConversation.
		var p conversationParams
		if err := decodeParams(frame.Params, &p); err != nil {
			return nil, err
		}
		return nil, s.SubscribeToConversation(ctx, p.ConversationID)

	case "unsubscribe":
		s.UnsubscribeFromConversation()
		return nil, nil

	case "send_message":
		var p sendMessageParams
		if err := decodeParams(frame.Params, &p); err != nil {
			return nil, err
		}
		return s.SendMessage(ctx, p.ConversationID, p.Content, p.Type, p.ImageURL)

	case "create_direct":
		var p createDirectParams
		if err := decodeParams(frame.Params, &p); err != nil {
			return nil, err
		}
		id, err := s.CreateDirectConversation(ctx, p.UserID)
		if err != nil {
			return nil, err
		}
		return gin.H{"conversation_id": id}, nil

	case "create_team":
		var p createTeamParams
		if err := decodeParams(frame.Params, &p); err != nil {
			return nil, err
		}
		if p.TeamName == "" {
			return nil, errBadParams
		}
		id, err := s.CreateTeamConversation(ctx, p.TeamID, p.TeamName)
		if err != nil {
			return nil, err
		}
		return gin.H{"conversation_id": id}, nil

	case "join_league":
		var p conversationParams
		if err := decodeParams(frame.Params, &p); err != nil {
			return nil, err
		}
		return nil, s.JoinLeagueConversation(ctx, p.ConversationID)

	case "mark_read":
		var p conversationParams
		if err := decodeParams(frame.Params, &p); err != nil {
			return nil, err
		}
		return nil, s.MarkAsRead(ctx, p.ConversationID)
	}

	return nil, &unknownOpError{op: frame.Op}
}

var errBadParams = errors.New("invalid params")

func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return errBadParams
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", errBadParams, err)
	}
	return nil
}

// clientError keeps backend details out of frames the client sees.
func clientError(err error) string {
	var unknown *unknownOpError
	switch {
	case errors.As(err, &unknown),
		errors.Is(err, errBadParams),
		errors.Is(err, messaging.ErrInvalidMessage),
		errors.Is(err, messaging.ErrSelfConversation),
		errors.Is(err, messaging.ErrSessionClosed),
		errors.Is(err, messaging.ErrNotInitialized):
		return err.Error()
	}
	return "request failed"
}

type unknownOpError struct{ op string }

func (e *unknownOpError) Error() string { return fmt.Sprintf("unknown op %q", e.op) }

// wsClient owns the socket's write side. States are coalesced: a slow
// client only ever gets the newest snapshot.
type wsClient struct {
	conn    *websocket.Conn
	frames  chan serverFrame
	states  chan messaging.State
	done    chan struct{}
	stopped chan struct{} // closed when writePump exits
	logger  *zap.Logger
}

func newWSClient(conn *websocket.Conn, logger *zap.Logger) *wsClient {
	return &wsClient{
		conn:    conn,
		frames:  make(chan serverFrame, 16),
		states:  make(chan messaging.State, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  logger,
	}
}

func (c *wsClient) pushState(st messaging.State) {
	for {
		select {
		case <-c.done:
			return
		case c.states <- st:
			return
		default:
			// Drop the stale snapshot and retry.
			select {
			case <-c.states:
			default:
			}
		}
	}
}

func (c *wsClient) send(f serverFrame) {
	select {
	case c.frames <- f:
	case <-c.done:
	case <-c.stopped:
	}
}

func (c *wsClient) close() {
	close(c.done)
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		close(c.stopped)
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case st := <-c.states:
			if err := c.write(serverFrame{Type: "state", Data: st}); err != nil {
				return
			}
		case f := <-c.frames:
			if err := c.write(f); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) write(f serverFrame) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(f); err != nil {
		c.logger.Debug("websocket write failed", zap.Error(err))
		return err
	}
	return nil
}

// readPump blocks until the client goes away. Commands are handled one at
// a time, in the order they were sent.
func (c *wsClient) readPump(handle func(clientFrame)) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.send(serverFrame{Type: "error", Error: "malformed frame"})
			continue
		}
		handle(frame)
	}
}
