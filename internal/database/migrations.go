package database

// Migration is one forward schema change
type Migration struct {
	Version string
	Up      string
}

var migrations = []Migration{
	{
		Version: "001_backups",
		Up: `
CREATE TABLE backups (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    path TEXT NOT NULL,
    size_bytes INTEGER NOT NULL DEFAULT 0,
    archive_bytes INTEGER NOT NULL DEFAULT 0,
    compressed BOOLEAN NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    error_message TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX idx_backups_created_at ON backups(created_at);
`,
	},
	{
		Version: "002_backup_uploads",
		Up: `
ALTER TABLE backups ADD COLUMN uploads TEXT NOT NULL DEFAULT '';
`,
	},
}
