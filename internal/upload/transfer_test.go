package upload

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/smartplant/internal/middleware"
)

func newTestTransferer(metrics *Metrics) *Transferer {
	tr := NewTransferer(nil, metrics, nil)
	tr.timeNow = func() time.Time { return fixedNow }
	return tr
}

func TestTransferer_PutObject(t *testing.T) {
	var gotMethod, gotType, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	metrics := NewMetrics()
	ticket := newTicket(time.Minute)
	ticket.UploadURL = server.URL + "/plants/u1/1.jpg"

	err := newTestTransferer(metrics).PutObject(context.Background(), ticket, strings.NewReader("jpeg-bytes"), 10)
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if gotMethod != http.MethodPut || gotType != MIMEImageJPEG || gotBody != "jpeg-bytes" {
		t.Errorf("request = %s %q %q", gotMethod, gotType, gotBody)
	}
	if !ticket.Used() {
		t.Error("ticket should be consumed")
	}
	if got := counterValue(t, metrics.transfers.WithLabelValues("success")); got != 1 {
		t.Errorf("successful transfers = %v, want 1", got)
	}
}

func TestTransferer_PutObject_ForwardsRequestID(t *testing.T) {
	var gotID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = r.Header.Get(middleware.RequestIDHeader)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	var ctx context.Context
	incoming := httptest.NewRequest(http.MethodPost, "/plants/presign", nil)
	incoming.Header.Set(middleware.RequestIDHeader, "req-upload-1")
	middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx = r.Context()
	})).ServeHTTP(httptest.NewRecorder(), incoming)

	ticket := newTicket(time.Minute)
	ticket.UploadURL = server.URL + "/plants/u1/1.jpg"
	if err := newTestTransferer(nil).PutObject(ctx, ticket, strings.NewReader("x"), 1); err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if gotID != "req-upload-1" {
		t.Errorf("X-Request-ID = %q, want req-upload-1", gotID)
	}
}

func TestTransferer_PutObject_Failures(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	t.Run("non-2xx is not retried", func(t *testing.T) {
		ticket := newTicket(time.Minute)
		ticket.UploadURL = server.URL
		err := newTestTransferer(nil).PutObject(context.Background(), ticket, strings.NewReader("x"), 1)
		if !errors.Is(err, ErrTransferFailed) {
			t.Errorf("error = %v, want ErrTransferFailed", err)
		}
		if calls != 1 {
			t.Errorf("storage called %d times, want 1", calls)
		}
		// The failed ticket cannot be reused.
		err = newTestTransferer(nil).PutObject(context.Background(), ticket, strings.NewReader("x"), 1)
		if !errors.Is(err, ErrTicketUsed) {
			t.Errorf("reuse error = %v, want ErrTicketUsed", err)
		}
	})

	t.Run("expired ticket", func(t *testing.T) {
		ticket := newTicket(-time.Second)
		ticket.UploadURL = server.URL
		err := newTestTransferer(nil).PutObject(context.Background(), ticket, strings.NewReader("x"), 1)
		if !errors.Is(err, ErrTransferFailed) || !errors.Is(err, ErrTicketExpired) {
			t.Errorf("error = %v, want ErrTransferFailed wrapping ErrTicketExpired", err)
		}
	})

	t.Run("transport error", func(t *testing.T) {
		ticket := newTicket(time.Minute)
		ticket.UploadURL = "http://127.0.0.1:1/unreachable"
		err := newTestTransferer(nil).PutObject(context.Background(), ticket, strings.NewReader("x"), 1)
		if !errors.Is(err, ErrTransferFailed) {
			t.Errorf("error = %v, want ErrTransferFailed", err)
		}
	})

	t.Run("nil ticket", func(t *testing.T) {
		if err := newTestTransferer(nil).PutObject(context.Background(), nil, nil, 0); !errors.Is(err, ErrTransferFailed) {
			t.Errorf("error = %v, want ErrTransferFailed", err)
		}
	})
}
