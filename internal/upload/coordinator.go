package upload

import (
	"context"
	"io"
	"log/slog"

	"github.com/onnwee/smartplant/internal/auth"
	"github.com/onnwee/smartplant/internal/identify"
	"github.com/onnwee/smartplant/internal/sighting"
)

// TicketIssuer issues upload tickets.
type TicketIssuer interface {
	RequestTicket(ctx context.Context, ownerID, contentType string) (*Ticket, error)
}

// ObjectWriter performs the direct upload.
type ObjectWriter interface {
	PutObject(ctx context.Context, ticket *Ticket, body io.Reader, size int64) error
}

// Submitter identifies an uploaded object and records the sighting.
type Submitter interface {
	Submit(ctx context.Context, sess auth.Session, p identify.SubmitParams) (*identify.Outcome, error)
}

// SubmitRequest is one image to push through the pipeline.
type SubmitRequest struct {
	OwnerID     string
	Image       io.Reader
	Size        int64
	ContentType string
	Location    *sighting.Coordinate
	Rarity      string
}

// Receipt is the result of a successful submission.
type Receipt struct {
	Outcome *identify.Outcome
	Ticket  *Ticket
	States  []State
}

// Coordinator runs ticket, upload, identify and create in order.
type Coordinator struct {
	tickets   TicketIssuer
	writer    ObjectWriter
	submitter Submitter
	metrics   *Metrics
	logger    *slog.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(tickets TicketIssuer, writer ObjectWriter, submitter Submitter, metrics *Metrics, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		tickets:   tickets,
		writer:    writer,
		submitter: submitter,
		metrics:   metrics,
		logger:    logger,
	}
}

// Submit drives one image to a stored sighting and returns the first typed
// error on failure: ErrTicketIssuanceFailed, ErrTransferFailed,
// identify.ErrIdentificationFailed or sighting.ErrDuplicate.
func (c *Coordinator) Submit(ctx context.Context, sess auth.Session, req SubmitRequest) (*Receipt, error) {
	if !sess.CanActFor(req.OwnerID) {
		return nil, sighting.ErrForbidden
	}

	sub := NewSubmission(func(from, to State) {
		c.logger.DebugContext(ctx, "submission state changed",
			slog.String("owner_id", req.OwnerID),
			slog.String("from", string(from)),
			slog.String("to", string(to)))
		if c.metrics != nil {
			c.metrics.IncTransition(to)
		}
	})

	if err := sub.Transition(StateTicketRequested); err != nil {
		return nil, err
	}
	ticket, err := c.tickets.RequestTicket(ctx, req.OwnerID, req.ContentType)
	if err != nil {
		_ = sub.Fail()
		return nil, err
	}
	if err := sub.AttachTicket(ticket); err != nil {
		return nil, err
	}

	if err := sub.Transition(StateUploading); err != nil {
		return nil, err
	}
	if err := c.writer.PutObject(ctx, ticket, req.Image, req.Size); err != nil {
		_ = sub.Fail()
		return nil, err
	}
	if err := sub.Transition(StateUploaded); err != nil {
		return nil, err
	}

	if err := sub.Transition(StateIdentifying); err != nil {
		return nil, err
	}
	outcome, err := c.submitter.Submit(ctx, sess, identify.SubmitParams{
		OwnerID:  req.OwnerID,
		ImageKey: ticket.ObjectKey,
		Location: req.Location,
		Rarity:   req.Rarity,
	})
	if err != nil {
		_ = sub.Fail()
		c.logger.WarnContext(ctx, "submission failed after upload",
			slog.String("object_key", ticket.ObjectKey),
			slog.String("error", err.Error()))
		return nil, err
	}
	if err := sub.Transition(StateIdentified); err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "submission identified",
		slog.String("object_key", ticket.ObjectKey),
		slog.String("sighting_id", outcome.Sighting.ID),
		slog.String("species", outcome.Result.Species))
	return &Receipt{Outcome: outcome, Ticket: ticket, States: sub.History()}, nil
}
