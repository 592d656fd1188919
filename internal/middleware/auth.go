package middleware

import (
	"errors"
	"net/http"

	"github.com/onnwee/smartplant/internal/auth"
)

// TokenValidator validates bearer tokens. *auth.JWTService satisfies it.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// Auth attaches the caller's session to the request context. Requests with
// no Authorization header continue as anonymous; a malformed header or a
// token that fails validation is rejected with 401.
func Auth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			token, ok := auth.BearerToken(header)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="smartplant"`)
				writeError(w, ctx, http.StatusUnauthorized, ErrCodeUnauthorized, "Authorization header must be a bearer token")
				return
			}
			claims, err := validator.ValidateToken(token)
			if err != nil {
				msg := "Invalid token"
				if errors.Is(err, auth.ErrExpiredToken) {
					msg = "Token has expired"
				}
				w.Header().Set("WWW-Authenticate", `Bearer realm="smartplant", error="invalid_token"`)
				writeError(w, ctx, http.StatusUnauthorized, ErrCodeUnauthorized, msg)
				return
			}

			sess := auth.SessionFromClaims(claims, token)
			ctx = auth.WithSession(ctx, sess)
			ctx = SetUserID(ctx, sess.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
