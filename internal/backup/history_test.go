package backup

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/TheGojiOG/worldkeeper/internal/database"
)

func TestSQLHistorySaveAndList(t *testing.T) {
	db, err := database.NewDB(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	defer db.Close()
	if _, err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	history := NewSQLHistory(db)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	older := Record{ID: "backup-1", Name: "world_a", Path: "/b/world_a", Trigger: "scheduled",
		StartedAt: base, Duration: 1500 * time.Millisecond, SizeBytes: 100, Status: StatusSuccess}
	newer := Record{ID: "backup-2", Name: "world_b", Path: "/b/world_b.tar.gz", Trigger: "chat",
		StartedAt: base.Add(time.Hour), SizeBytes: 200, ArchiveBytes: 50, Compressed: true,
		Status: StatusFailed, Error: "disk full", Uploads: []string{"local", "s3"}}

	for _, record := range []Record{older, newer} {
		if err := history.Save(context.Background(), record); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	records, err := history.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	got := records[0]
	if got.ID != "backup-2" || got.Status != StatusFailed || got.Error != "disk full" || !got.Compressed {
		t.Fatalf("unexpected newest record: %+v", got)
	}
	if len(got.Uploads) != 2 || got.Uploads[1] != "s3" {
		t.Fatalf("unexpected uploads: %v", got.Uploads)
	}
	if !got.StartedAt.Equal(newer.StartedAt) {
		t.Fatalf("expected start %v, got %v", newer.StartedAt, got.StartedAt)
	}
	if records[1].Duration != 1500*time.Millisecond {
		t.Fatalf("expected duration to round trip, got %v", records[1].Duration)
	}
}
