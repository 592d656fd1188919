package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader carries the request id on API responses and on the
// classifier and storage calls made while serving a request.
const RequestIDHeader = "X-Request-ID"

// maxRequestIDLength bounds ids accepted from clients.
const maxRequestIDLength = 128

type requestIDKey struct{}

// RequestID gives every request an id. A well-formed X-Request-ID sent by the
// client is kept, anything else is replaced with a fresh UUID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
	})
}

// WithRequestID returns a copy of ctx carrying id. Commands that run the
// pipeline outside an HTTP request use it to tag their outbound calls.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// GetRequestID returns the request id in ctx, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// ForwardRequestID copies the request id in ctx onto an outbound request.
func ForwardRequestID(ctx context.Context, req *http.Request) {
	if id := GetRequestID(ctx); id != "" {
		req.Header.Set(RequestIDHeader, id)
	}
}

// validRequestID accepts visible ASCII up to maxRequestIDLength, so a client
// id can be echoed in headers and log lines unchanged.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] <= ' ' || id[i] > '~' {
			return false
		}
	}
	return true
}
