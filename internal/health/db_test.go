package health

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/lib/pq"
)

func TestDBChecker_Creation(t *testing.T) {
	db := &sql.DB{}
	checker := NewDBChecker(db)
	if checker.db != db {
		t.Error("expected checker db to match provided db")
	}
}

func TestDBChecker_Unreachable(t *testing.T) {
	db, err := sql.Open("postgres", "postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer db.Close()

	if err := NewDBChecker(db).HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() error = nil, want connection failure")
	}
}
