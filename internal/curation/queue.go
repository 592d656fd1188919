package curation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/smartplant/internal/audit"
	"github.com/onnwee/smartplant/internal/auth"
	"github.com/onnwee/smartplant/internal/sighting"
)

// QueueItem is a sighting awaiting review and why it qualified.
type QueueItem struct {
	Sighting      *sighting.Sighting `json:"sighting"`
	Reasons       []string           `json:"reasons"`
	LatestVerdict Verdict            `json:"latest_verdict,omitempty"`
}

// Queue lists uncertain identifications and records operator verdicts.
type Queue struct {
	sightings sighting.Repository
	reviews   ReviewRepository
	audit     audit.Repository
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// QueueConfig configures a Queue. Audit, Metrics and Logger are optional.
type QueueConfig struct {
	Sightings sighting.Repository
	Reviews   ReviewRepository
	Audit     audit.Repository
	Metrics   *Metrics
	Logger    *slog.Logger
}

// NewQueue creates a review queue.
func NewQueue(cfg QueueConfig) *Queue {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		sightings: cfg.Sightings,
		reviews:   cfg.Reviews,
		audit:     cfg.Audit,
		metrics:   cfg.Metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// reasons returns why s needs review. A latest verdict of sure clears every
// reason.
func reasons(s *sighting.Sighting, latest Review, reviewed bool) []string {
	if reviewed && latest.Verdict == VerdictSure {
		return nil
	}
	var out []string
	if s.Confidence < ConfidenceThreshold {
		out = append(out, ReasonLowConfidence)
	}
	if s.MatchedSpeciesID == nil {
		out = append(out, ReasonUnresolved)
	}
	if reviewed && latest.Verdict == VerdictUnsure {
		out = append(out, ReasonMarkedUnsure)
	}
	return out
}

// Unsure returns every sighting needing review, newest first.
func (q *Queue) Unsure(ctx context.Context) ([]QueueItem, error) {
	all, err := q.sightings.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to scan sightings: %w", err)
	}
	latest, err := q.reviews.Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load reviews: %w", err)
	}
	sighting.SortNewestFirst(all)

	items := make([]QueueItem, 0)
	for _, s := range all {
		rv, reviewed := latest[s.ID]
		why := reasons(s, rv, reviewed)
		if len(why) == 0 {
			continue
		}
		item := QueueItem{Sighting: s, Reasons: why}
		if reviewed {
			item.LatestVerdict = rv.Verdict
		}
		items = append(items, item)
	}
	return items, nil
}

// Review records an operator verdict on sightingID.
func (q *Queue) Review(ctx context.Context, sess auth.Session, sightingID, action string) (*Review, error) {
	if !sess.IsOperator() {
		return nil, sighting.ErrForbidden
	}
	verdict, err := ParseVerdict(action)
	if err != nil {
		return nil, err
	}
	if _, err := q.sightings.Get(ctx, sightingID); err != nil {
		return nil, err
	}

	rv := &Review{
		SightingID: sightingID,
		Verdict:    verdict,
		ReviewerID: sess.UserID,
		CreatedAt:  q.now(),
	}
	if err := q.reviews.Add(ctx, rv); err != nil {
		return nil, err
	}

	if q.audit != nil {
		if err := audit.LogAccess(ctx, q.audit, sess.UserID, sightingID, audit.ActionReviewSighting, "verdict="+string(verdict)); err != nil {
			return nil, fmt.Errorf("failed to audit review: %w", err)
		}
	}
	if q.metrics != nil {
		q.metrics.IncReviews(verdict)
	}

	q.logger.InfoContext(ctx, "sighting reviewed",
		slog.String("sighting_id", sightingID),
		slog.String("verdict", string(verdict)),
		slog.String("operator_id", sess.UserID),
	)
	return rv, nil
}
