package curation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/onnwee/smartplant/internal/sighting"
	"github.com/onnwee/smartplant/internal/tracing"
)

// foreignKeyViolation is the PostgreSQL SQLSTATE for a missing referenced row.
const foreignKeyViolation = "23503"

// PostgresReviewRepository implements ReviewRepository on sighting_reviews.
type PostgresReviewRepository struct {
	db *sql.DB
}

// NewPostgresReviewRepository creates a new PostgresReviewRepository.
func NewPostgresReviewRepository(db *sql.DB) *PostgresReviewRepository {
	return &PostgresReviewRepository{db: db}
}

// Add inserts a review. A review of an unknown sighting is sighting.ErrNotFound.
func (r *PostgresReviewRepository) Add(ctx context.Context, rv *Review) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "sighting_reviews", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO sighting_reviews (sighting_id, verdict, reviewer_id, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, rv.SightingID, string(rv.Verdict), rv.ReviewerID, rv.CreatedAt).Scan(&rv.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return sighting.ErrNotFound
		}
		return fmt.Errorf("failed to insert review: %w", err)
	}
	return nil
}

// Latest returns the newest review per sighting.
func (r *PostgresReviewRepository) Latest(ctx context.Context) (out map[string]Review, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "sighting_reviews", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT ON (sighting_id) id, sighting_id, verdict, reviewer_id, created_at
		FROM sighting_reviews
		ORDER BY sighting_id, created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query reviews: %w", err)
	}
	defer rows.Close()

	out = make(map[string]Review)
	for rows.Next() {
		var (
			rv      Review
			verdict string
		)
		if err := rows.Scan(&rv.ID, &rv.SightingID, &verdict, &rv.ReviewerID, &rv.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		rv.Verdict = Verdict(verdict)
		rv.CreatedAt = rv.CreatedAt.UTC()
		out[rv.SightingID] = rv
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reviews: %w", err)
	}
	return out, nil
}

// PostgresFeedbackRepository implements FeedbackRepository on sighting_feedback.
type PostgresFeedbackRepository struct {
	db *sql.DB
}

// NewPostgresFeedbackRepository creates a new PostgresFeedbackRepository.
func NewPostgresFeedbackRepository(db *sql.DB) *PostgresFeedbackRepository {
	return &PostgresFeedbackRepository{db: db}
}

// Create inserts feedback. Feedback on an unknown sighting is sighting.ErrNotFound.
func (r *PostgresFeedbackRepository) Create(ctx context.Context, f *Feedback) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "sighting_feedback", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sighting_feedback (id, sighting_id, user_id, correct, image_key, correct_label, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, f.ID, f.SightingID, f.UserID, f.Correct, f.ImageKey, f.CorrectLabel, f.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return sighting.ErrNotFound
		}
		return fmt.Errorf("failed to insert feedback: %w", err)
	}
	return nil
}

// ListBySighting returns feedback for sightingID, newest first.
func (r *PostgresFeedbackRepository) ListBySighting(ctx context.Context, sightingID string) (items []*Feedback, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "sighting_feedback", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, sighting_id, user_id, correct, image_key, correct_label, created_at
		FROM sighting_feedback
		WHERE sighting_id = $1
		ORDER BY created_at DESC
	`, sightingID)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		f := &Feedback{}
		if err := rows.Scan(&f.ID, &f.SightingID, &f.UserID, &f.Correct, &f.ImageKey, &f.CorrectLabel, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		f.CreatedAt = f.CreatedAt.UTC()
		items = append(items, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating feedback: %w", err)
	}
	return items, nil
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == foreignKeyViolation
}
