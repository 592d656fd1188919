// Package audit provides an append-only, hash-chained access log for
// operator actions on sightings: mask overrides, precise-location reads and
// curation verdicts.
package audit

import (
	"time"
)

// Outcome values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// EntitySighting is the entity type for every sighting-scoped entry.
const EntitySighting = "sighting"

// Audited actions.
const (
	ActionSetMask               = "set_mask"
	ActionAccessPreciseLocation = "access_precise_location"
	ActionReviewSighting        = "review_sighting"
)

// AuditLog represents a single audit event in the system.
type AuditLog struct {
	ID         string
	UserID     string
	EntityType string
	EntityID   string
	Action     string
	Outcome    string // "success" or "failure"
	Detail     string
	CreatedAt  time.Time

	// Optional metadata
	RequestID string
	IPAddress string
	UserAgent string

	// Tamper detection
	PreviousHash string // SHA-256 hash of previous log entry for tamper detection
}

// LogEntry represents the input for creating an audit log entry.
type LogEntry struct {
	UserID     string
	EntityType string
	EntityID   string
	Action     string
	Outcome    string // defaults to OutcomeSuccess
	Detail     string // short free-form context, e.g. "enable=true"

	// Optional metadata
	RequestID string
	IPAddress string
	UserAgent string
}
