package auth

import (
	"context"
	"strings"
)

// Role claim values.
const (
	RoleUser     = "user"
	RoleOperator = "operator"
)

// Session is the caller identity carried through a pipeline call.
// The zero value is the anonymous session.
type Session struct {
	UserID string
	Role   string
	Token  string
}

// Anonymous returns the session used for unauthenticated requests.
func Anonymous() Session {
	return Session{}
}

// IsAnonymous reports whether the session has no authenticated user.
func (s Session) IsAnonymous() bool {
	return s.UserID == ""
}

// IsOperator reports whether the session was issued with the operator role.
func (s Session) IsOperator() bool {
	return !s.IsAnonymous() && s.Role == RoleOperator
}

// CanActFor reports whether the session may read or write on behalf of userID.
// Operators may act for any user.
func (s Session) CanActFor(userID string) bool {
	if s.IsOperator() {
		return true
	}
	return !s.IsAnonymous() && s.UserID == userID
}

// SessionFromClaims builds a session from validated claims and the raw token.
func SessionFromClaims(claims *Claims, token string) Session {
	role := claims.Role
	if role == "" {
		role = RoleUser
	}
	return Session{UserID: claims.Subject, Role: role, Token: token}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header value.
// Returns false when the header is absent or malformed.
func BearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

type sessionKey struct{}

// WithSession returns a copy of ctx carrying sess.
func WithSession(ctx context.Context, sess Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

// SessionFromContext returns the session stored in ctx, or the anonymous session.
func SessionFromContext(ctx context.Context) Session {
	if sess, ok := ctx.Value(sessionKey{}).(Session); ok {
		return sess
	}
	return Anonymous()
}
