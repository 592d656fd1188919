package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/onnwee/smartplant/internal/middleware"
)

// ErrTransferFailed is returned when a direct upload does not complete. The
// caller must request a new ticket; transfers are never retried.
var ErrTransferFailed = errors.New("transfer failed")

// Transferer writes object bytes straight to storage using a ticket.
type Transferer struct {
	client  *http.Client
	metrics *Metrics
	logger  *slog.Logger
	timeNow func() time.Time
}

// NewTransferer creates a Transferer. A nil client uses a traced default.
func NewTransferer(client *http.Client, metrics *Metrics, logger *slog.Logger) *Transferer {
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transferer{client: client, metrics: metrics, logger: logger, timeNow: time.Now}
}

// PutObject performs one HTTP PUT of body to the ticket's upload URL. The
// ticket is consumed before the request, so a failed PUT still invalidates it.
func (t *Transferer) PutObject(ctx context.Context, ticket *Ticket, body io.Reader, size int64) error {
	err := t.put(ctx, ticket, body, size)
	if t.metrics != nil {
		t.metrics.IncTransfers(err == nil)
	}
	if err != nil && ticket != nil {
		t.logger.WarnContext(ctx, "upload transfer failed",
			slog.String("object_key", ticket.ObjectKey),
			slog.String("error", err.Error()))
	}
	return err
}

func (t *Transferer) put(ctx context.Context, ticket *Ticket, body io.Reader, size int64) error {
	if ticket == nil {
		return fmt.Errorf("%w: no ticket", ErrTransferFailed)
	}
	if err := ticket.Consume(t.timeNow()); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, ticket.UploadURL, body)
	if err != nil {
		return fmt.Errorf("%w: failed to build request: %v", ErrTransferFailed, err)
	}
	req.Header.Set("Content-Type", ticket.ContentType)
	middleware.ForwardRequestID(ctx, req)
	if size > 0 {
		req.ContentLength = size
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: storage returned status %d", ErrTransferFailed, resp.StatusCode)
	}
	return nil
}
