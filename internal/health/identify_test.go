package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIdentifyChecker(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"ok", http.StatusOK, false},
		{"method not allowed still reachable", http.StatusMethodNotAllowed, false},
		{"server error", http.StatusBadGateway, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodHead {
					t.Errorf("method = %s, want HEAD", r.Method)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := NewIdentifyChecker(srv.URL).HealthCheck(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("HealthCheck() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIdentifyChecker_EmptyURL(t *testing.T) {
	if err := NewIdentifyChecker("").HealthCheck(context.Background()); err == nil {
		t.Error("expected error for empty URL")
	}
}

func TestIdentifyChecker_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := NewIdentifyChecker(srv.URL).HealthCheck(ctx); err == nil {
		t.Error("expected error for cancelled context")
	}
}
