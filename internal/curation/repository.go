package curation

import (
	"context"
	"sort"
	"sync"
)

// ReviewRepository stores operator verdicts.
type ReviewRepository interface {
	// Add appends a review and assigns its ID.
	Add(ctx context.Context, r *Review) error

	// Latest returns the newest review per sighting id.
	Latest(ctx context.Context) (map[string]Review, error)
}

// FeedbackRepository stores user feedback.
type FeedbackRepository interface {
	Create(ctx context.Context, f *Feedback) error

	// ListBySighting returns feedback for a sighting, newest first.
	ListBySighting(ctx context.Context, sightingID string) ([]*Feedback, error)
}

// InMemoryReviewRepository is an in-memory ReviewRepository.
type InMemoryReviewRepository struct {
	mu      sync.RWMutex
	nextID  int64
	reviews []Review
}

// NewInMemoryReviewRepository creates an empty review repository.
func NewInMemoryReviewRepository() *InMemoryReviewRepository {
	return &InMemoryReviewRepository{}
}

// Add appends r.
func (m *InMemoryReviewRepository) Add(ctx context.Context, r *Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	r.ID = m.nextID
	m.reviews = append(m.reviews, *r)
	return nil
}

// Latest returns the newest review per sighting. Insertion order breaks ties.
func (m *InMemoryReviewRepository) Latest(ctx context.Context) (map[string]Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Review)
	for _, r := range m.reviews {
		prev, ok := out[r.SightingID]
		if !ok || !r.CreatedAt.Before(prev.CreatedAt) {
			out[r.SightingID] = r
		}
	}
	return out, nil
}

// InMemoryFeedbackRepository is an in-memory FeedbackRepository.
type InMemoryFeedbackRepository struct {
	mu       sync.RWMutex
	feedback []*Feedback
}

// NewInMemoryFeedbackRepository creates an empty feedback repository.
func NewInMemoryFeedbackRepository() *InMemoryFeedbackRepository {
	return &InMemoryFeedbackRepository{}
}

// Create stores a copy of f.
func (m *InMemoryFeedbackRepository) Create(ctx context.Context, f *Feedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *f
	m.feedback = append(m.feedback, &c)
	return nil
}

// ListBySighting returns copies of the feedback for sightingID.
func (m *InMemoryFeedbackRepository) ListBySighting(ctx context.Context, sightingID string) ([]*Feedback, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Feedback
	for _, f := range m.feedback {
		if f.SightingID == sightingID {
			c := *f
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
