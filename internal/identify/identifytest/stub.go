// Package identifytest provides a canned Identifier for tests and local runs.
package identifytest

import (
	"context"
	"sync"

	"github.com/onnwee/smartplant/internal/auth"
	"github.com/onnwee/smartplant/internal/identify"
	"github.com/onnwee/smartplant/internal/sighting"
)

// Default answer of the stub.
const (
	DefaultSpecies    = "Ficus elastica"
	DefaultConfidence = 0.82
)

// Call records one Identify invocation.
type Call struct {
	Session   auth.Session
	OwnerID   string
	ObjectKey string
	Location  *sighting.Coordinate
}

// Stub answers every request with the same species. Set Err to make it fail.
type Stub struct {
	Species    string
	Confidence float64
	ImageURL   string
	Err        error

	mu    sync.Mutex
	calls []Call
}

// NewStub returns a stub that always identifies Ficus elastica at 0.82.
func NewStub() *Stub {
	return &Stub{Species: DefaultSpecies, Confidence: DefaultConfidence}
}

// Identify returns the canned result or Err.
func (s *Stub) Identify(ctx context.Context, sess auth.Session, ownerID, objectKey string, loc *sighting.Coordinate) (*identify.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Session: sess, OwnerID: ownerID, ObjectKey: objectKey, Location: loc})
	s.mu.Unlock()

	if s.Err != nil {
		return nil, s.Err
	}
	return &identify.Result{Species: s.Species, Confidence: s.Confidence, ImageURL: s.ImageURL}, nil
}

// Calls returns the recorded invocations.
func (s *Stub) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}
