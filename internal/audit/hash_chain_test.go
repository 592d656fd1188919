package audit

import (
	"context"
	"testing"
)

func logN(t *testing.T, repo Repository, n int) []*AuditLog {
	t.Helper()
	var out []*AuditLog
	for i := 0; i < n; i++ {
		log, err := repo.LogAccess(context.Background(), LogEntry{
			UserID:     "op1",
			EntityType: EntitySighting,
			EntityID:   "p1",
			Action:     ActionSetMask,
		})
		if err != nil {
			t.Fatalf("LogAccess() error = %v", err)
		}
		out = append(out, log)
	}
	return out
}

func TestInMemoryRepository_HashChain(t *testing.T) {
	repo := NewInMemoryRepository()
	logs := logN(t, repo, 3)

	if logs[0].PreviousHash != "" {
		t.Errorf("first entry PreviousHash = %q, want empty", logs[0].PreviousHash)
	}
	if logs[1].PreviousHash != hashEntry(logs[0]) {
		t.Error("second entry should link to the hash of the first")
	}
	if logs[2].PreviousHash == logs[1].PreviousHash {
		t.Error("each entry should link to a different predecessor")
	}
}

func TestInMemoryRepository_GetLastHash(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	hash, err := repo.GetLastHash(ctx)
	if err != nil {
		t.Fatalf("GetLastHash() error = %v", err)
	}
	if hash != "" {
		t.Errorf("GetLastHash() on empty repo = %q, want empty", hash)
	}

	logs := logN(t, repo, 2)
	hash, _ = repo.GetLastHash(ctx)
	if hash != hashEntry(logs[1]) {
		t.Error("GetLastHash() should return the newest entry's hash")
	}
}

func TestInMemoryRepository_VerifyHashChain(t *testing.T) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		valid, err := NewInMemoryRepository().VerifyHashChain(ctx)
		if err != nil || !valid {
			t.Errorf("VerifyHashChain() = %v, %v; want true", valid, err)
		}
	})

	t.Run("untampered", func(t *testing.T) {
		repo := NewInMemoryRepository()
		logN(t, repo, 5)
		valid, err := repo.VerifyHashChain(ctx)
		if err != nil || !valid {
			t.Errorf("VerifyHashChain() = %v, %v; want true", valid, err)
		}
	})

	t.Run("tampered action", func(t *testing.T) {
		repo := NewInMemoryRepository()
		logs := logN(t, repo, 3)

		repo.mu.Lock()
		repo.logs[logs[0].ID].Action = ActionReviewSighting
		repo.mu.Unlock()

		valid, err := repo.VerifyHashChain(ctx)
		if err != nil {
			t.Fatalf("VerifyHashChain() error = %v", err)
		}
		if valid {
			t.Error("VerifyHashChain() should detect a rewritten entry")
		}
	})
}

func TestVerifyChain_RemovedEntry(t *testing.T) {
	repo := NewInMemoryRepository()
	logs := logN(t, repo, 3)

	if !VerifyChain(logs) {
		t.Fatal("VerifyChain() should accept the returned copies")
	}
	if VerifyChain([]*AuditLog{logs[0], logs[2]}) {
		t.Error("VerifyChain() should detect a removed entry")
	}
}
