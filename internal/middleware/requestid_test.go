package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"no header", "", false},
		{"client id kept", "mobile-7f3a-0001", true},
		{"uuid kept", "0b6f1c2e-3c1e-4d7a-9f55-2a1f0c9e8d11", true},
		{"space replaced", "bad id", false},
		{"control character replaced", "id\x07", false},
		{"non-ascii replaced", "plänt", false},
		{"oversized replaced", strings.Repeat("a", maxRequestIDLength+1), false},
		{"longest accepted", strings.Repeat("a", maxRequestIDLength), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var inHandler string
			handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				inHandler = GetRequestID(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/plants/presign", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			got := rr.Header().Get(RequestIDHeader)
			if got != inHandler {
				t.Errorf("response id %q differs from context id %q", got, inHandler)
			}
			if tt.keep {
				if got != tt.incoming {
					t.Errorf("id = %q, want client id kept", got)
				}
				return
			}
			if _, err := uuid.Parse(got); err != nil {
				t.Errorf("id = %q, want a generated UUID", got)
			}
		})
	}
}

func TestRequestID_UniquePerRequest(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/plants", nil))
		id := rr.Header().Get(RequestIDHeader)
		if seen[id] {
			t.Fatalf("request id %q issued twice", id)
		}
		seen[id] = true
	}
}

func TestGetRequestID_Empty(t *testing.T) {
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID() = %q, want empty", got)
	}
}

func TestForwardRequestID(t *testing.T) {
	out := httptest.NewRequest(http.MethodPost, "https://classifier.test/identify", nil)
	ForwardRequestID(context.Background(), out)
	if _, ok := out.Header[RequestIDHeader]; ok {
		t.Error("header set without a request id in context")
	}

	ctx := WithRequestID(context.Background(), "plantctl-1")
	ForwardRequestID(ctx, out)
	if got := out.Header.Get(RequestIDHeader); got != "plantctl-1" {
		t.Errorf("forwarded id = %q, want plantctl-1", got)
	}
}
