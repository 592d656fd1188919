package sighting

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Repository is the key-value store contract for sightings.
type Repository interface {
	// Create inserts a new sighting. Returns ErrDuplicate if the id or the
	// image key is already present.
	Create(ctx context.Context, s *Sighting) error

	// Get returns the sighting with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Sighting, error)

	// SetMasked updates is_masked and updated_at only if the sighting exists.
	// Returns the updated record, or ErrNotFound.
	SetMasked(ctx context.Context, id string, enabled bool, at time.Time) (*Sighting, error)

	// Scan returns every stored sighting in no particular order.
	Scan(ctx context.Context) ([]*Sighting, error)

	// ListByOwner returns all sightings submitted by ownerID in no particular order.
	ListByOwner(ctx context.Context, ownerID string) ([]*Sighting, error)

	// ExistsByImageKey reports whether any sighting references the object key.
	ExistsByImageKey(ctx context.Context, key string) (bool, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Thread-safe via RWMutex; all reads return deep copies.
type InMemoryRepository struct {
	mu        sync.RWMutex
	sightings map[string]*Sighting
	imageKeys map[string]string // image key -> sighting id
}

// NewInMemoryRepository creates an empty in-memory sighting repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		sightings: make(map[string]*Sighting),
		imageKeys: make(map[string]string),
	}
}

// Create inserts a copy of s.
func (r *InMemoryRepository) Create(ctx context.Context, s *Sighting) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sightings[s.ID]; exists {
		return ErrDuplicate
	}
	if s.ImageKey != "" {
		if _, exists := r.imageKeys[s.ImageKey]; exists {
			return ErrDuplicate
		}
		r.imageKeys[s.ImageKey] = s.ID
	}
	r.sightings[s.ID] = s.clone()
	return nil
}

// Get returns a copy of the sighting with the given id.
func (r *InMemoryRepository) Get(ctx context.Context, id string) (*Sighting, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sightings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.clone(), nil
}

// SetMasked flips the mask flag under the write lock, which makes the
// existence check and the update a single step.
func (r *InMemoryRepository) SetMasked(ctx context.Context, id string, enabled bool, at time.Time) (*Sighting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sightings[id]
	if !ok {
		return nil, ErrNotFound
	}
	s.IsMasked = enabled
	s.UpdatedAt = at
	return s.clone(), nil
}

// Scan returns copies of all sightings.
func (r *InMemoryRepository) Scan(ctx context.Context) ([]*Sighting, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Sighting, 0, len(r.sightings))
	for _, s := range r.sightings {
		out = append(out, s.clone())
	}
	return out, nil
}

// ListByOwner returns copies of all sightings owned by ownerID.
func (r *InMemoryRepository) ListByOwner(ctx context.Context, ownerID string) ([]*Sighting, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Sighting
	for _, s := range r.sightings {
		if s.OwnerID == ownerID {
			out = append(out, s.clone())
		}
	}
	return out, nil
}

// ExistsByImageKey reports whether key is referenced by a stored sighting.
func (r *InMemoryRepository) ExistsByImageKey(ctx context.Context, key string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.imageKeys[key]
	return ok, nil
}

// SortNewestFirst orders sightings by CreatedAt descending, breaking ties by ID
// descending so the order is deterministic.
func SortNewestFirst(items []*Sighting) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
}

// paginate returns the 1-based page of items. Out-of-range pages are empty.
func paginate(items []*Sighting, page, pageSize int) []*Sighting {
	if page < 1 || pageSize < 1 {
		return []*Sighting{}
	}
	// Compare page counts before multiplying so huge pages cannot overflow.
	if pages := (len(items) + pageSize - 1) / pageSize; page-1 >= pages {
		return []*Sighting{}
	}
	start := (page - 1) * pageSize
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
