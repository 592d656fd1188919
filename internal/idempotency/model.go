// Package idempotency stores the responses of completed requests so a client
// retrying with the same Idempotency-Key gets the original response back
// instead of repeating the side effect.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var (
	// ErrKeyNotFound is returned when an idempotency key is not found or has expired.
	ErrKeyNotFound = errors.New("idempotency key not found")

	// ErrKeyExists is returned when attempting to store a duplicate key.
	ErrKeyExists = errors.New("idempotency key already exists")

	// ErrInvalidKey is returned when the key is empty.
	ErrInvalidKey = errors.New("invalid idempotency key")

	// ErrKeyTooLong is returned when the key exceeds maximum length.
	ErrKeyTooLong = errors.New("idempotency key exceeds maximum length of 64 characters")
)

// MaxKeyLength is the maximum allowed length for an idempotency key.
const MaxKeyLength = 64

// DefaultExpiry is how long a completed response is replayable.
const DefaultExpiry = 24 * time.Hour

// Record is a stored response for one idempotency key.
type Record struct {
	Key          string    `json:"key"`
	Method       string    `json:"method"`
	Route        string    `json:"route"`
	RequestHash  string    `json:"request_hash"`
	ResponseHash string    `json:"response_hash"`
	StatusCode   int       `json:"status_code"`
	Body         string    `json:"body"`
	CreatedAt    time.Time `json:"created_at"`
}

// ValidateKey checks if an idempotency key is valid.
// Returns ErrInvalidKey if the key is empty.
// Returns ErrKeyTooLong if the key exceeds MaxKeyLength.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	return nil
}

// Hash returns the hex SHA-256 of data. Used for request fingerprints and
// response integrity.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ScopedKey namespaces a client key by caller so two users cannot replay
// each other's responses.
func ScopedKey(scope, key string) string {
	return scope + ":" + key
}

// Repository stores completed responses until they expire.
type Repository interface {
	// Get returns the record for key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) (*Record, error)

	// Store saves rec if its key is unused. Returns ErrKeyExists otherwise.
	Store(ctx context.Context, rec *Record) error
}
