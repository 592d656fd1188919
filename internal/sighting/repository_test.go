package sighting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestInMemoryRepository_CreateAndGet(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	matched := "100"
	s := newTestSighting("p1", "u1", RarityCommon, baseTime)
	s.MatchedSpeciesID = &matched
	seed(t, repo, s)

	got, err := repo.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.OwnerID != "u1" || got.ImageKey != s.ImageKey {
		t.Errorf("Get() = %+v, want owner u1 and key %s", got, s.ImageKey)
	}

	// Mutating the returned copy must not affect the store.
	*got.MatchedSpeciesID = "999"
	got.IsMasked = true
	again, _ := repo.Get(ctx, "p1")
	if *again.MatchedSpeciesID != "100" || again.IsMasked {
		t.Error("Get() should return an independent copy")
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestInMemoryRepository_CreateDuplicate(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	seed(t, repo, newTestSighting("p1", "u1", RarityCommon, baseTime))

	t.Run("same id", func(t *testing.T) {
		dup := newTestSighting("p1", "u1", RarityCommon, baseTime)
		dup.ImageKey = "plants/u1/other.jpg"
		if err := repo.Create(ctx, dup); !errors.Is(err, ErrDuplicate) {
			t.Errorf("Create() error = %v, want ErrDuplicate", err)
		}
	})

	t.Run("same image key", func(t *testing.T) {
		dup := newTestSighting("p2", "u1", RarityCommon, baseTime)
		dup.ImageKey = "plants/u1/p1.jpg"
		if err := repo.Create(ctx, dup); !errors.Is(err, ErrDuplicate) {
			t.Errorf("Create() error = %v, want ErrDuplicate", err)
		}
		if _, err := repo.Get(ctx, "p2"); !errors.Is(err, ErrNotFound) {
			t.Error("rejected sighting must not be stored")
		}
	})
}

func TestInMemoryRepository_SetMasked(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	seed(t, repo, newTestSighting("p1", "u1", RarityEndangered, baseTime))

	at := baseTime.Add(time.Hour)
	got, err := repo.SetMasked(ctx, "p1", false, at)
	if err != nil {
		t.Fatalf("SetMasked() error = %v", err)
	}
	if got.IsMasked {
		t.Error("SetMasked(false) should clear the flag even for Endangered")
	}
	if !got.UpdatedAt.Equal(at) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, at)
	}
	if got.Rarity != RarityEndangered {
		t.Errorf("Rarity changed to %q", got.Rarity)
	}

	if _, err := repo.SetMasked(ctx, "missing", true, at); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetMasked(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Error("SetMasked must not create a record")
	}
}

func TestInMemoryRepository_ListByOwnerAndExists(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	seed(t, repo,
		newTestSighting("p1", "u1", RarityCommon, baseTime),
		newTestSighting("p2", "u2", RarityCommon, baseTime),
		newTestSighting("p3", "u1", RarityRare, baseTime),
	)

	items, err := repo.ListByOwner(ctx, "u1")
	if err != nil {
		t.Fatalf("ListByOwner() error = %v", err)
	}
	if len(items) != 2 {
		t.Errorf("ListByOwner(u1) returned %d, want 2", len(items))
	}

	all, _ := repo.Scan(ctx)
	if len(all) != 3 {
		t.Errorf("Scan() returned %d, want 3", len(all))
	}

	ok, _ := repo.ExistsByImageKey(ctx, "plants/u2/p2.jpg")
	if !ok {
		t.Error("ExistsByImageKey() should find a referenced key")
	}
	ok, _ = repo.ExistsByImageKey(ctx, "plants/u2/orphan.jpg")
	if ok {
		t.Error("ExistsByImageKey() should not find an unreferenced key")
	}
}

func TestInMemoryRepository_ConcurrentSetMasked(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	seed(t, repo, newTestSighting("p1", "u1", RarityCommon, baseTime))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(enabled bool) {
			defer wg.Done()
			if _, err := repo.SetMasked(ctx, "p1", enabled, time.Now()); err != nil {
				t.Errorf("SetMasked() error = %v", err)
			}
		}(i%2 == 0)
	}
	wg.Wait()

	if _, err := repo.Get(ctx, "p1"); err != nil {
		t.Fatalf("Get() after concurrent updates error = %v", err)
	}
}

func TestSortNewestFirst_TiesByIDDescending(t *testing.T) {
	items := []*Sighting{
		newTestSighting("a", "u1", RarityCommon, baseTime),
		newTestSighting("c", "u1", RarityCommon, baseTime),
		newTestSighting("b", "u1", RarityCommon, baseTime.Add(time.Minute)),
		newTestSighting("d", "u1", RarityCommon, baseTime.Add(-time.Minute)),
	}
	SortNewestFirst(items)

	want := []string{"b", "c", "a", "d"}
	for i, id := range want {
		if items[i].ID != id {
			t.Fatalf("order = %v, want %v", ids(items), want)
		}
	}
}

func ids(items []*Sighting) []string {
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = s.ID
	}
	return out
}
