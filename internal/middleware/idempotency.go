package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/onnwee/smartplant/internal/idempotency"
)

// IdempotencyKeyHeader is the HTTP header name for idempotency keys.
const IdempotencyKeyHeader = "Idempotency-Key"

// IdempotentReplayHeader marks a response served from the idempotency store.
const IdempotentReplayHeader = "Idempotent-Replayed"

// Idempotency error codes.
const (
	ErrCodeInvalidIdempotencyKey = "invalid_idempotency_key"
	ErrCodeIdempotencyKeyTooLong = "idempotency_key_too_long"
	ErrCodeIdempotencyKeyReused  = "idempotency_key_reused"
)

// maxIdempotentBody bounds how much of a request body is buffered for fingerprinting.
const maxIdempotentBody = 1 << 20

type idempotencyKeyContextKey struct{}

// idempotencyResponseWriter captures the response for storage.
type idempotencyResponseWriter struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
	written    bool
}

func (w *idempotencyResponseWriter) WriteHeader(statusCode int) {
	if !w.written {
		w.statusCode = statusCode
		w.written = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *idempotencyResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *idempotencyResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// SetIdempotencyKey stores the idempotency key in the context.
func SetIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyContextKey{}, key)
}

// GetIdempotencyKey retrieves the idempotency key from context. Returns empty string if not present.
func GetIdempotencyKey(ctx context.Context) string {
	if key, ok := ctx.Value(idempotencyKeyContextKey{}).(string); ok {
		return key
	}
	return ""
}

// Idempotency replays stored responses for POST requests to routes that carry
// an Idempotency-Key header. Requests without a key pass through. Keys are
// scoped to the caller (user ID, or client IP when anonymous), and reusing a
// key with a different body is rejected with 422. Only 2xx responses are
// stored.
func Idempotency(repo idempotency.Repository, routes map[string]bool) func(http.Handler) http.Handler {
	scopeFunc := UserKeyFunc()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || !routes[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get(IdempotencyKeyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			if err := idempotency.ValidateKey(key); err != nil {
				if errors.Is(err, idempotency.ErrKeyTooLong) {
					writeError(w, ctx, http.StatusBadRequest, ErrCodeIdempotencyKeyTooLong, "Idempotency-Key exceeds maximum length of 64 characters")
					return
				}
				writeError(w, ctx, http.StatusBadRequest, ErrCodeInvalidIdempotencyKey, "Invalid Idempotency-Key")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotentBody))
			if err != nil {
				writeError(w, ctx, http.StatusBadRequest, "bad_request", "Failed to read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			requestHash := idempotency.Hash(body)

			scoped := idempotency.ScopedKey(scopeFunc(r), key)
			ctx = SetIdempotencyKey(ctx, key)
			r = r.WithContext(ctx)

			existing, err := repo.Get(ctx, scoped)
			switch {
			case err == nil:
				if existing.RequestHash != requestHash || existing.Route != r.URL.Path {
					writeError(w, ctx, http.StatusUnprocessableEntity, ErrCodeIdempotencyKeyReused, "Idempotency-Key was used with a different request")
					return
				}
				slog.InfoContext(ctx, "replaying idempotent response",
					slog.String("key", key),
					slog.Int("status", existing.StatusCode),
				)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(IdempotentReplayHeader, "true")
				w.WriteHeader(existing.StatusCode)
				_, _ = io.WriteString(w, existing.Body)
				return
			case !errors.Is(err, idempotency.ErrKeyNotFound):
				slog.ErrorContext(ctx, "failed to check idempotency key", slog.String("key", key), slog.String("error", err.Error()))
				next.ServeHTTP(w, r)
				return
			}

			capture := &idempotencyResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(capture, r)

			if capture.statusCode < 200 || capture.statusCode >= 300 {
				return
			}
			rec := &idempotency.Record{
				Key:          scoped,
				Method:       r.Method,
				Route:        r.URL.Path,
				RequestHash:  requestHash,
				ResponseHash: idempotency.Hash(capture.body.Bytes()),
				StatusCode:   capture.statusCode,
				Body:         capture.body.String(),
			}
			if err := repo.Store(ctx, rec); err != nil && !errors.Is(err, idempotency.ErrKeyExists) {
				slog.ErrorContext(ctx, "failed to store idempotency key", slog.String("key", key), slog.String("error", err.Error()))
			}
		})
	}
}
