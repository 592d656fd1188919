//go:build integration

package curation

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/onnwee/smartplant/internal/sighting"
)

func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	migrations := filepath.Join("..", "..", "migrations")
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("smartplant"),
		postgres.WithUsername("smartplant"),
		postgres.WithPassword("smartplant"),
		postgres.WithInitScripts(
			filepath.Join(migrations, "000001_create_sightings.up.sql"),
			filepath.Join(migrations, "000002_create_curation.up.sql"),
		),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("ConnectionString() error = %v", err)
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPostgresCuration_Integration(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()

	sightings := sighting.NewPostgresRepository(db)
	if err := sightings.Create(ctx, newSighting("s1", 0.3, nil, baseTime)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	t.Run("reviews", func(t *testing.T) {
		reviews := NewPostgresReviewRepository(db)
		for i, v := range []Verdict{VerdictUnsure, VerdictSure} {
			rv := &Review{SightingID: "s1", Verdict: v, ReviewerID: "op1", CreatedAt: baseTime.Add(time.Duration(i+1) * time.Hour)}
			if err := reviews.Add(ctx, rv); err != nil {
				t.Fatalf("Add() error = %v", err)
			}
			if rv.ID == 0 {
				t.Error("Add() did not assign an id")
			}
		}
		latest, err := reviews.Latest(ctx)
		if err != nil {
			t.Fatalf("Latest() error = %v", err)
		}
		if latest["s1"].Verdict != VerdictSure {
			t.Errorf("Latest()[s1] = %+v, want sure", latest["s1"])
		}
		if err := reviews.Add(ctx, &Review{SightingID: "missing", Verdict: VerdictSure, ReviewerID: "op1", CreatedAt: baseTime}); !errors.Is(err, sighting.ErrNotFound) {
			t.Errorf("Add(missing) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("feedback", func(t *testing.T) {
		svc := NewFeedbackService(sightings, NewPostgresFeedbackRepository(db), nil, nil)
		if _, err := svc.Submit(ctx, user, FeedbackInput{SightingID: "s1", Correct: boolPtr(false), CorrectLabel: "Ficus benjamina"}); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		got, err := NewPostgresFeedbackRepository(db).ListBySighting(ctx, "s1")
		if err != nil {
			t.Fatalf("ListBySighting() error = %v", err)
		}
		if len(got) != 1 || got[0].CorrectLabel != "Ficus benjamina" || got[0].Correct {
			t.Errorf("ListBySighting() = %+v", got)
		}
	})
}
