package db

import (
	"context"

	"github.com/google/uuid"
)

// SessionID identifies a session. Every session gets its own connection from Database,
// the empty id is the default session used by contexts without one.
type SessionID string

type sessionKey struct{}

// NewSession returns a context carrying a fresh session id.
func NewSession(ctx context.Context) (context.Context, SessionID) {
	id := SessionID(uuid.NewString())
	return WithSession(ctx, id), id
}

// WithSession returns a context carrying the session id.
func WithSession(ctx context.Context, id SessionID) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionFrom returns the session id of ctx, the default session if there is none.
func SessionFrom(ctx context.Context) SessionID {
	if id, ok := ctx.Value(sessionKey{}).(SessionID); ok {
		return id
	}
	return ""
}
