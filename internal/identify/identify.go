// Package identify calls the external plant classifier and turns its answer
// into a stored sighting.
package identify

import (
	"context"
	"errors"
	"math"

	"github.com/onnwee/smartplant/internal/auth"
	"github.com/onnwee/smartplant/internal/sighting"
)

// ErrIdentificationFailed covers every way the classifier can fail to give a
// usable answer: transport errors, non-2xx replies and malformed payloads.
var ErrIdentificationFailed = errors.New("identification failed")

// Result is the classifier's answer for one image.
type Result struct {
	Species    string  `json:"species"`
	Confidence float64 `json:"confidence"`
	ImageURL   string  `json:"imageUrl"`
}

// Identifier classifies an uploaded object on behalf of ownerID. The session
// only carries the caller's credentials.
type Identifier interface {
	Identify(ctx context.Context, sess auth.Session, ownerID, objectKey string, loc *sighting.Coordinate) (*Result, error)
}

// Validate checks the result satisfies the classifier contract.
func (r *Result) Validate() error {
	if r == nil {
		return errors.New("empty result")
	}
	if r.Species == "" {
		return errors.New("empty species")
	}
	if math.IsNaN(r.Confidence) || r.Confidence < 0 || r.Confidence > 1 {
		return errors.New("confidence out of range")
	}
	return nil
}
