package backup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/TheGojiOG/worldkeeper/internal/database"
)

// History persists snapshot records
type History interface {
	Save(ctx context.Context, record Record) error
	List(ctx context.Context, limit int) ([]Record, error)
}

// SQLHistory stores records in the backups table
type SQLHistory struct {
	db *database.DB
}

// NewSQLHistory creates a history store on a migrated database
func NewSQLHistory(db *database.DB) *SQLHistory {
	return &SQLHistory{db: db}
}

// Save inserts or replaces a record
func (h *SQLHistory) Save(ctx context.Context, record Record) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO backups
			(id, name, path, size_bytes, archive_bytes, compressed, status, error_message, source, created_at, duration_ms, uploads)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID,
		record.Name,
		record.Path,
		record.SizeBytes,
		record.ArchiveBytes,
		record.Compressed,
		string(record.Status),
		record.Error,
		record.Trigger,
		record.StartedAt.UTC(),
		record.Duration.Milliseconds(),
		strings.Join(record.Uploads, ","),
	)
	if err != nil {
		return fmt.Errorf("failed to save backup record: %w", err)
	}
	return nil
}

// List returns the newest records first
func (h *SQLHistory) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT id, name, path, size_bytes, archive_bytes, compressed, status, error_message, source, created_at, duration_ms, uploads
		FROM backups
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query backups: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			record     Record
			status     string
			durationMS int64
			uploads    string
		)
		if err := rows.Scan(
			&record.ID,
			&record.Name,
			&record.Path,
			&record.SizeBytes,
			&record.ArchiveBytes,
			&record.Compressed,
			&status,
			&record.Error,
			&record.Trigger,
			&record.StartedAt,
			&durationMS,
			&uploads,
		); err != nil {
			return nil, fmt.Errorf("failed to scan backup: %w", err)
		}
		record.Status = Status(status)
		record.Duration = time.Duration(durationMS) * time.Millisecond
		if uploads != "" {
			record.Uploads = strings.Split(uploads, ",")
		}
		records = append(records, record)
	}

	return records, rows.Err()
}
