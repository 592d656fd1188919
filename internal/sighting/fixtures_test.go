package sighting

import (
	"context"
	"fmt"
	"testing"
	"time"
)

var baseTime = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

// newTestSighting builds a sighting whose mask follows its rarity.
func newTestSighting(id, owner string, rarity Rarity, createdAt time.Time) *Sighting {
	return &Sighting{
		ID:              id,
		OwnerID:         owner,
		ImageKey:        fmt.Sprintf("plants/%s/%s.jpg", owner, id),
		RawSpeciesLabel: "Ficus elastica",
		Confidence:      0.82,
		Coordinate:      Coordinate{Lat: 1.55, Lng: 110.36},
		Rarity:          rarity,
		IsMasked:        InitialMask(rarity),
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
}

func seed(t *testing.T, repo Repository, items ...*Sighting) {
	t.Helper()
	for _, s := range items {
		if err := repo.Create(context.Background(), s); err != nil {
			t.Fatalf("Create(%s) error = %v", s.ID, err)
		}
	}
}
