package messaging

import "errors"

var (
	ErrNotInitialized   = errors.New("messaging session not initialized")
	ErrSessionClosed    = errors.New("messaging session closed")
	ErrInvalidMessage   = errors.New("invalid message")
	ErrSelfConversation = errors.New("cannot start a direct conversation with yourself")
)
