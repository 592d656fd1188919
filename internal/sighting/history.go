package sighting

import (
	"context"
	"errors"
	"fmt"
)

// ErrOwnerRequired is returned when a history lookup has no owner.
var ErrOwnerRequired = errors.New("owner id is required")

// HistoryPage is one page of an owner's sightings.
type HistoryPage struct {
	Items    []*Sighting `json:"items"`
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

// HistoryStore is the owner-keyed read path. It applies no visibility policy:
// owners always see their own true coordinates.
type HistoryStore struct {
	repo Repository
}

// NewHistoryStore creates a HistoryStore over repo.
func NewHistoryStore(repo Repository) *HistoryStore {
	return &HistoryStore{repo: repo}
}

// ListByOwner returns ownerID's sightings newest first, ties broken by id
// descending.
func (h *HistoryStore) ListByOwner(ctx context.Context, ownerID string, page, pageSize int) (HistoryPage, error) {
	if ownerID == "" {
		return HistoryPage{}, ErrOwnerRequired
	}
	f := Filter{Page: page, PageSize: pageSize}.normalize()

	items, err := h.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return HistoryPage{}, fmt.Errorf("failed to list sightings for owner: %w", err)
	}
	SortNewestFirst(items)

	return HistoryPage{
		Items:    paginate(items, f.Page, f.PageSize),
		Total:    len(items),
		Page:     f.Page,
		PageSize: f.PageSize,
	}, nil
}
