package curation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/smartplant/internal/auth"
	"github.com/onnwee/smartplant/internal/sighting"
)

const maxLabelLength = 200

// FeedbackInput is a user's feedback submission. Correct is required.
type FeedbackInput struct {
	SightingID   string `json:"plantID"`
	UserID       string `json:"userID"`
	Correct      *bool  `json:"correct"`
	ImageKey     string `json:"imageKey"`
	CorrectLabel string `json:"correctLabel"`
}

// FeedbackService validates and stores identification feedback.
type FeedbackService struct {
	sightings sighting.Repository
	feedback  FeedbackRepository
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewFeedbackService creates a FeedbackService. metrics and logger may be nil.
func NewFeedbackService(sightings sighting.Repository, feedback FeedbackRepository, metrics *Metrics, logger *slog.Logger) *FeedbackService {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedbackService{
		sightings: sightings,
		feedback:  feedback,
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Submit stores feedback from sess on behalf of in.UserID. An empty UserID
// means the session user. The image key defaults to the sighting's and must
// match it when given.
func (f *FeedbackService) Submit(ctx context.Context, sess auth.Session, in FeedbackInput) (*Feedback, error) {
	in.SightingID = strings.TrimSpace(in.SightingID)
	in.CorrectLabel = strings.TrimSpace(in.CorrectLabel)
	if in.UserID == "" {
		in.UserID = sess.UserID
	}

	switch {
	case in.SightingID == "":
		return nil, fmt.Errorf("%w: plantID is required", ErrInvalidFeedback)
	case in.Correct == nil:
		return nil, fmt.Errorf("%w: correct is required", ErrInvalidFeedback)
	case len(in.CorrectLabel) > maxLabelLength:
		return nil, fmt.Errorf("%w: correctLabel exceeds %d characters", ErrInvalidFeedback, maxLabelLength)
	}
	if !sess.CanActFor(in.UserID) {
		return nil, sighting.ErrForbidden
	}

	s, err := f.sightings.Get(ctx, in.SightingID)
	if err != nil {
		return nil, err
	}
	if in.ImageKey == "" {
		in.ImageKey = s.ImageKey
	} else if in.ImageKey != s.ImageKey {
		return nil, fmt.Errorf("%w: imageKey does not belong to plant", ErrInvalidFeedback)
	}

	fb := &Feedback{
		ID:           uuid.New().String(),
		SightingID:   s.ID,
		UserID:       in.UserID,
		Correct:      *in.Correct,
		ImageKey:     in.ImageKey,
		CorrectLabel: in.CorrectLabel,
		CreatedAt:    f.now(),
	}
	if fb.Correct {
		fb.CorrectLabel = ""
	}
	if err := f.feedback.Create(ctx, fb); err != nil {
		return nil, err
	}
	if f.metrics != nil {
		f.metrics.IncFeedback(fb.Correct)
	}

	f.logger.InfoContext(ctx, "feedback recorded",
		slog.String("sighting_id", fb.SightingID),
		slog.String("user_id", fb.UserID),
		slog.Bool("correct", fb.Correct),
	)
	return fb, nil
}
