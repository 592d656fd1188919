// Package curation holds the operator review queue for uncertain
// identifications and the user feedback that accompanies them. Neither
// feature mutates the stored Sighting; both live beside it.
package curation

import (
	"errors"
	"strings"
	"time"
)

// Verdict is an operator's judgement of an identification.
type Verdict string

// Known verdicts.
const (
	VerdictSure   Verdict = "sure"
	VerdictUnsure Verdict = "unsure"
)

// ConfidenceThreshold is the confidence below which a sighting needs review.
const ConfidenceThreshold = 0.5

// Queue reasons.
const (
	ReasonLowConfidence = "low_confidence"
	ReasonUnresolved    = "unresolved_taxonomy"
	ReasonMarkedUnsure  = "marked_unsure"
)

var (
	// ErrInvalidAction is returned for a review action other than sure or unsure.
	ErrInvalidAction = errors.New("action must be 'sure' or 'unsure'")

	// ErrInvalidFeedback is returned when feedback input fails validation.
	ErrInvalidFeedback = errors.New("invalid feedback")
)

// ParseVerdict validates a review action.
func ParseVerdict(action string) (Verdict, error) {
	switch v := Verdict(strings.ToLower(strings.TrimSpace(action))); v {
	case VerdictSure, VerdictUnsure:
		return v, nil
	}
	return "", ErrInvalidAction
}

// Review is one operator verdict on a sighting. The latest review wins.
type Review struct {
	ID         int64     `json:"id"`
	SightingID string    `json:"sighting_id"`
	Verdict    Verdict   `json:"verdict"`
	ReviewerID string    `json:"reviewer_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Feedback is a user's statement on whether an identification was correct.
type Feedback struct {
	ID           string    `json:"id"`
	SightingID   string    `json:"sighting_id"`
	UserID       string    `json:"user_id"`
	Correct      bool      `json:"correct"`
	ImageKey     string    `json:"image_key"`
	CorrectLabel string    `json:"correct_label,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
