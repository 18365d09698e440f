package backup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/TheGojiOG/worldkeeper/internal/state"
)

type fakeChannel struct {
	mu     sync.Mutex
	lines  []string
	output bool
}

func (f *fakeChannel) SendLine(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, text)
	return nil
}

func (f *fakeChannel) WaitForOutput(ctx context.Context, timeout time.Duration) bool {
	return f.output
}

func (f *fakeChannel) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

type memoryHistory struct {
	mu      sync.Mutex
	records []Record
}

func (h *memoryHistory) Save(ctx context.Context, record Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, record)
	return nil
}

func (h *memoryHistory) List(ctx context.Context, limit int) ([]Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Record(nil), h.records...), nil
}

func (h *memoryHistory) Records() []Record {
	records, _ := h.List(context.Background(), 0)
	return records
}

// makeWorld creates a small world tree with two lock files
func makeWorld(t *testing.T) (dir string, keptBytes int64) {
	t.Helper()
	dir = filepath.Join(t.TempDir(), "world")

	files := map[string]string{
		"level.dat":            "level-data",
		"region/r.0.0.mca":     strings.Repeat("r", 4096),
		"playerdata/alice.dat": "alice",
		"session.lock":         "lock",
		"region/r.0.0.lock":    "lock",
	}
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("failed to create dir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", rel, err)
		}
		if !strings.HasSuffix(rel, ".lock") {
			keptBytes += int64(len(content))
		}
	}
	return dir, keptBytes
}

func newTestSnapshotter(t *testing.T, compress bool, opts Options) (*Snapshotter, *fakeChannel, *state.Store) {
	t.Helper()
	if opts.WorldDir == "" {
		opts.WorldDir, _ = makeWorld(t)
	}
	if opts.BackupDir == "" {
		opts.BackupDir = filepath.Join(t.TempDir(), "world_backups")
	}
	if opts.Exclude == nil {
		opts.Exclude = []string{"**/*.lock"}
	}
	if opts.BroadcastPrefix == "" {
		opts.BroadcastPrefix = "/say "
	}

	channel := &fakeChannel{output: true}
	store := state.NewStore(state.Policy{Interval: time.Hour, Compress: compress})
	snapshots, err := NewSnapshotter(channel, store, opts)
	if err != nil {
		t.Fatalf("failed to create snapshotter: %v", err)
	}
	return snapshots, channel, store
}

func snapshotEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read backup dir: %v", err)
	}
	var names []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), snapshotPrefix) {
			names = append(names, entry.Name())
		}
	}
	return names
}
