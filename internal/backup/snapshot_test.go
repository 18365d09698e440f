package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSnapshotCopiesWorldWithoutLockFiles(t *testing.T) {
	world, keptBytes := makeWorld(t)
	snapshots, channel, _ := newTestSnapshotter(t, false, Options{WorldDir: world})

	record, err := snapshots.Run(context.Background(), "operator")
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if record.Status != StatusSuccess {
		t.Fatalf("expected success, got %s", record.Status)
	}

	names := snapshotEntries(t, snapshots.opts.BackupDir)
	if len(names) != 1 {
		t.Fatalf("expected exactly one snapshot, got %v", names)
	}
	want := "world_" + record.StartedAt.Format(timestampLayout)
	if names[0] != want {
		t.Fatalf("expected snapshot %s, got %s", want, names[0])
	}

	root := filepath.Join(snapshots.opts.BackupDir, names[0])
	for _, rel := range []string{"level.dat", "region/r.0.0.mca", "playerdata/alice.dat"} {
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel))); err != nil {
			t.Fatalf("expected %s in snapshot: %v", rel, err)
		}
	}
	for _, rel := range []string{"session.lock", "region/r.0.0.lock"} {
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel))); !os.IsNotExist(err) {
			t.Fatalf("expected %s to be excluded", rel)
		}
	}

	if record.SizeBytes != keptBytes {
		t.Fatalf("expected size %d, got %d", keptBytes, record.SizeBytes)
	}

	lines := channel.Lines()
	if len(lines) != 1 || !strings.HasPrefix(lines[0], "/say World backed up on: ") {
		t.Fatalf("unexpected broadcast: %v", lines)
	}
	if strings.Contains(lines[0], "compressed") {
		t.Fatalf("uncompressed snapshot must not report a ratio: %s", lines[0])
	}
}

func TestSnapshotCompressionRemovesDirectory(t *testing.T) {
	snapshots, channel, _ := newTestSnapshotter(t, true, Options{CompressionLevel: 9})

	record, err := snapshots.Run(context.Background(), "scheduled")
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}

	names := snapshotEntries(t, snapshots.opts.BackupDir)
	if len(names) != 1 || !strings.HasSuffix(names[0], archiveExtension) {
		t.Fatalf("expected a single archive, got %v", names)
	}
	if record.Ratio < 0 || record.Ratio > 100 {
		t.Fatalf("ratio out of range: %d", record.Ratio)
	}
	if !record.Compressed || record.ArchiveBytes == 0 {
		t.Fatalf("expected compressed record, got %+v", record)
	}

	entries := readArchive(t, filepath.Join(snapshots.opts.BackupDir, names[0]))
	prefix := strings.TrimSuffix(names[0], archiveExtension) + "/"
	if !entries[prefix+"level.dat"] || !entries[prefix+"region/r.0.0.mca"] {
		t.Fatalf("archive missing world files: %v", entries)
	}
	for name := range entries {
		if strings.HasSuffix(name, ".lock") {
			t.Fatalf("archive contains lock file %s", name)
		}
	}

	lines := channel.Lines()
	if len(lines) != 1 || !strings.Contains(lines[0], "% of original size") {
		t.Fatalf("expected compression ratio in broadcast, got %v", lines)
	}
}

func TestSnapshotFailureIsBroadcast(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "no-world")
	snapshots, channel, _ := newTestSnapshotter(t, true, Options{WorldDir: missing})

	record, err := snapshots.Run(context.Background(), "operator")
	if err == nil {
		t.Fatalf("expected snapshot to fail")
	}
	if record.Status != StatusFailed || record.Error == "" {
		t.Fatalf("expected failed record, got %+v", record)
	}

	lines := channel.Lines()
	if len(lines) != 1 || lines[0] != "/say World backup failed" {
		t.Fatalf("unexpected broadcast: %v", lines)
	}
	if names := snapshotEntries(t, snapshots.opts.BackupDir); len(names) != 0 {
		t.Fatalf("expected no partial snapshot, got %v", names)
	}

	if _, ok := snapshots.Last(); !ok {
		t.Fatalf("failed snapshot should still be recorded")
	}
	if snapshots.LastCompleted().IsZero() {
		t.Fatalf("failed snapshot should reset the completion clock")
	}
}

func TestRunRejectsConcurrentSnapshot(t *testing.T) {
	snapshots, channel, _ := newTestSnapshotter(t, false, Options{})

	if !snapshots.sem.TryAcquire(1) {
		t.Fatalf("failed to hold snapshot slot")
	}
	if !snapshots.InProgress() {
		t.Fatalf("expected snapshot to be reported in progress")
	}
	_, err := snapshots.Run(context.Background(), "operator")
	snapshots.sem.Release(1)

	if !errors.Is(err, ErrBackupInProgress) {
		t.Fatalf("expected ErrBackupInProgress, got %v", err)
	}
	if len(channel.Lines()) != 0 {
		t.Fatalf("rejected snapshot must not broadcast")
	}
}

func TestSnapshotQuiesceCommands(t *testing.T) {
	snapshots, channel, _ := newTestSnapshotter(t, false, Options{
		PreCommands:  []string{"save-off", "save-all flush"},
		PostCommands: []string{"save-on"},
	})

	if _, err := snapshots.Run(context.Background(), "operator"); err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}

	lines := channel.Lines()
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %v", lines)
	}
	if lines[0] != "save-off" || lines[1] != "save-all flush" || lines[2] != "save-on" {
		t.Fatalf("unexpected command order: %v", lines)
	}
}

func TestSnapshotRecordsHistoryAndUploads(t *testing.T) {
	history := &memoryHistory{}
	remote := filepath.Join(t.TempDir(), "remote")
	snapshots, _, _ := newTestSnapshotter(t, true, Options{
		History:      history,
		Destinations: []Destination{NewLocalDestination(remote)},
	})

	record, err := snapshots.Run(context.Background(), "chat")
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}

	records := history.Records()
	if len(records) != 1 || records[0].ID != record.ID || records[0].Trigger != "chat" {
		t.Fatalf("unexpected history: %+v", records)
	}
	if !strings.HasPrefix(record.ID, "backup-") {
		t.Fatalf("unexpected id %s", record.ID)
	}
	if len(record.Uploads) != 1 || record.Uploads[0] != "local" {
		t.Fatalf("expected local upload, got %v", record.Uploads)
	}
	if _, err := os.Stat(filepath.Join(remote, filepath.Base(record.Path))); err != nil {
		t.Fatalf("expected archive at destination: %v", err)
	}
}

func TestSnapshotNamesDoNotCollide(t *testing.T) {
	snapshots, _, _ := newTestSnapshotter(t, false, Options{})

	first, err := snapshots.Run(context.Background(), "operator")
	if err != nil {
		t.Fatalf("first snapshot failed: %v", err)
	}
	second, err := snapshots.Run(context.Background(), "operator")
	if err != nil {
		t.Fatalf("second snapshot failed: %v", err)
	}
	if first.Path == second.Path {
		t.Fatalf("expected distinct snapshot paths, got %s", first.Path)
	}
}

func readArchive(t *testing.T, path string) map[string]bool {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open archive: %v", err)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		t.Fatalf("failed to open gzip stream: %v", err)
	}
	tr := tar.NewReader(gz)

	entries := make(map[string]bool)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("failed to read archive: %v", err)
		}
		entries[header.Name] = true
	}
	return entries
}

func TestScheduledSnapshotWaitsForRunningOne(t *testing.T) {
	snapshots, _, _ := newTestSnapshotter(t, false, Options{})

	if !snapshots.sem.TryAcquire(1) {
		t.Fatalf("failed to hold snapshot slot")
	}

	type result struct {
		record Record
		err    error
	}
	done := make(chan result, 1)
	go func() {
		record, err := snapshots.runAfter(context.Background(), "scheduled", time.Now())
		done <- result{record, err}
	}()

	select {
	case res := <-done:
		t.Fatalf("scheduled snapshot ran while another was in progress: %+v", res)
	case <-time.After(200 * time.Millisecond):
	}

	snapshots.sem.Release(1)

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("deferred snapshot failed: %v", res.err)
		}
		if res.record.Trigger != "scheduled" || res.record.Status != StatusSuccess {
			t.Fatalf("unexpected deferred record: %+v", res.record)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("deferred snapshot never ran")
	}

	if names := snapshotEntries(t, snapshots.opts.BackupDir); len(names) != 1 {
		t.Fatalf("expected one snapshot, got %v", names)
	}
}

func TestScheduledSnapshotSkippedAfterNewerCompletion(t *testing.T) {
	snapshots, _, _ := newTestSnapshotter(t, false, Options{})
	since := time.Now()

	if !snapshots.sem.TryAcquire(1) {
		t.Fatalf("failed to hold snapshot slot")
	}

	done := make(chan error, 1)
	go func() {
		_, err := snapshots.runAfter(context.Background(), "scheduled", since)
		done <- err
	}()

	// A manual snapshot completes while the scheduled one waits.
	time.Sleep(10 * time.Millisecond)
	if _, err := snapshots.snapshot(context.Background(), "operator"); err != nil {
		t.Fatalf("manual snapshot failed: %v", err)
	}
	snapshots.sem.Release(1)

	select {
	case err := <-done:
		if !errors.Is(err, errSuperseded) {
			t.Fatalf("expected errSuperseded, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("deferred snapshot never returned")
	}

	if names := snapshotEntries(t, snapshots.opts.BackupDir); len(names) != 1 {
		t.Fatalf("expected only the manual snapshot, got %v", names)
	}
	if last, _ := snapshots.Last(); last.Trigger != "operator" {
		t.Fatalf("expected last snapshot to be the manual one, got %s", last.Trigger)
	}
}

func TestSnapshotKeepsCopyWhenCompressionFails(t *testing.T) {
	snapshots, channel, _ := newTestSnapshotter(t, true, Options{})
	snapshots.archive = func(ctx context.Context, dir, archivePath string, level int) (int64, error) {
		return 0, errors.New("disk full")
	}

	record, err := snapshots.Run(context.Background(), "operator")
	if err != nil {
		t.Fatalf("expected snapshot to succeed uncompressed, got %v", err)
	}
	if record.Status != StatusSuccess || record.Compressed {
		t.Fatalf("unexpected record: %+v", record)
	}

	names := snapshotEntries(t, snapshots.opts.BackupDir)
	if len(names) != 1 || strings.HasSuffix(names[0], archiveExtension) {
		t.Fatalf("expected the uncompressed directory only, got %v", names)
	}
	if info, err := os.Stat(record.Path); err != nil || !info.IsDir() {
		t.Fatalf("expected snapshot directory at %s: %v", record.Path, err)
	}

	lines := channel.Lines()
	if len(lines) != 1 || !strings.Contains(lines[0], "compression failed, kept uncompressed copy") {
		t.Fatalf("expected success broadcast with note, got %v", lines)
	}
}
