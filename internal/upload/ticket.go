package upload

import (
	"errors"
	"sync/atomic"
	"time"
)

// Ticket errors.
var (
	ErrTicketExpired = errors.New("upload ticket expired")
	ErrTicketUsed    = errors.New("upload ticket already used")
)

// Ticket authorizes exactly one direct write of ObjectKey before ExpiresAt.
type Ticket struct {
	ObjectKey   string    `json:"key"`
	UploadURL   string    `json:"uploadUrl"`
	ContentType string    `json:"contentType"`
	IssuedAt    time.Time `json:"issuedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`

	used atomic.Bool
}

// Expired reports whether the ticket is no longer valid at now.
func (t *Ticket) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Used reports whether the ticket has been consumed.
func (t *Ticket) Used() bool {
	return t.used.Load()
}

// Consume marks the ticket as used. It fails if the ticket expired or was
// already consumed; only one caller ever succeeds.
func (t *Ticket) Consume(now time.Time) error {
	if t.Expired(now) {
		return ErrTicketExpired
	}
	if !t.used.CompareAndSwap(false, true) {
		return ErrTicketUsed
	}
	return nil
}
