package database

import (
	"context"
	"path/filepath"
	"testing"
)

func TestNewDBAndMigrate(t *testing.T) {
	root := t.TempDir()
	dbPath := filepath.Join(root, "data", "history.db")

	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("failed to create db: %v", err)
	}
	defer db.Close()

	ran, err := db.Migrate(context.Background())
	if err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	if len(ran) != len(migrations) {
		t.Fatalf("expected %d migrations, ran %v", len(migrations), ran)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM migrations").Scan(&count); err != nil {
		t.Fatalf("failed to query migrations: %v", err)
	}
	if count != len(migrations) {
		t.Fatalf("expected %d recorded migrations, got %d", len(migrations), count)
	}

	if _, err := db.Exec("SELECT id, uploads FROM backups LIMIT 1"); err != nil {
		t.Fatalf("expected backups table with uploads column: %v", err)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("failed to create db: %v", err)
	}
	defer db.Close()

	if _, err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("first migrate failed: %v", err)
	}
	ran, err := db.Migrate(context.Background())
	if err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
	if len(ran) != 0 {
		t.Fatalf("expected no migrations on second run, got %v", ran)
	}
}
