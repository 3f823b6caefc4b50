package auth

import (
	"context"
	"errors"
	"strings"
)

// ErrUnauthenticated is returned when an operation requires a signed-in user.
var ErrUnauthenticated = errors.New("user must be authenticated")

// Session identifies the signed-in user for the current request.
type Session struct {
	UserID string
	Role   string
}

// Valid reports whether the session names a user.
func (s Session) Valid() bool {
	return strings.TrimSpace(s.UserID) != ""
}

type sessionKey struct{}

// WithSession attaches the session to ctx.
func WithSession(ctx context.Context, session Session) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, sessionKey{}, session)
}

// FromContext returns the session bound to ctx, if any.
func FromContext(ctx context.Context) (Session, bool) {
	if ctx == nil {
		return Session{}, false
	}
	session, ok := ctx.Value(sessionKey{}).(Session)
	if !ok || !session.Valid() {
		return Session{}, false
	}
	return session, true
}

// Provider resolves the active session.
type Provider interface {
	Session(ctx context.Context) (Session, bool)
}

// ContextProvider reads sessions placed on the context by the JWT middleware.
type ContextProvider struct{}

func (ContextProvider) Session(ctx context.Context) (Session, bool) {
	return FromContext(ctx)
}
