package backup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/TheGojiOG/worldkeeper/internal/metrics"
	"github.com/TheGojiOG/worldkeeper/internal/state"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// ErrBackupInProgress is returned when a manual snapshot is requested while
// another one is running.
var ErrBackupInProgress = errors.New("backup already in progress")

// errSuperseded tells the scheduler a snapshot finished while it waited
var errSuperseded = errors.New("snapshot superseded")

const timestampLayout = "2006-01-02_15-04-05"

// Status is the outcome of a snapshot
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Record describes one snapshot attempt
type Record struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Path         string        `json:"path"`
	Trigger      string        `json:"trigger"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	SizeBytes    int64         `json:"size_bytes"`
	ArchiveBytes int64         `json:"archive_bytes,omitempty"`
	Compressed   bool          `json:"compressed"`
	Ratio        int           `json:"ratio,omitempty"`
	Status       Status        `json:"status"`
	Error        string        `json:"error,omitempty"`
	Uploads      []string      `json:"uploads,omitempty"`
}

// Channel is the part of the server process a snapshot talks to
type Channel interface {
	SendLine(text string) error
	WaitForOutput(ctx context.Context, timeout time.Duration) bool
}

// Options configures a Snapshotter
type Options struct {
	WorldDir         string
	BackupDir        string
	Exclude          []string
	CompressionLevel int
	QuiesceTimeout   time.Duration
	PreCommands      []string
	PostCommands     []string
	BroadcastPrefix  string
	RetentionCount   int
	Destinations     []Destination
	History          History
}

// Snapshotter copies the world directory into the backup root. At most one
// snapshot runs at a time.
type Snapshotter struct {
	opts     Options
	channel  Channel
	store    *state.Store
	excluder *Excluder
	sem      *semaphore.Weighted
	now      func() time.Time
	archive  func(ctx context.Context, dir, archivePath string, level int) (int64, error)

	mu            sync.Mutex
	last          *Record
	lastCompleted time.Time
	completed     chan struct{}
}

// NewSnapshotter validates options and creates a snapshotter
func NewSnapshotter(channel Channel, store *state.Store, opts Options) (*Snapshotter, error) {
	if opts.WorldDir == "" {
		return nil, fmt.Errorf("world directory is required")
	}
	if opts.BackupDir == "" {
		return nil, fmt.Errorf("backup directory is required")
	}
	if opts.QuiesceTimeout <= 0 {
		opts.QuiesceTimeout = 5 * time.Second
	}

	excluder, err := NewExcluder(opts.Exclude)
	if err != nil {
		return nil, err
	}

	return &Snapshotter{
		opts:      opts,
		channel:   channel,
		store:     store,
		excluder:  excluder,
		sem:       semaphore.NewWeighted(1),
		now:       time.Now,
		archive:   writeArchive,
		completed: make(chan struct{}),
	}, nil
}

// Run takes a snapshot immediately in the calling goroutine. It fails with
// ErrBackupInProgress instead of waiting for a running snapshot.
func (s *Snapshotter) Run(ctx context.Context, trigger string) (Record, error) {
	if !s.sem.TryAcquire(1) {
		return Record{}, ErrBackupInProgress
	}
	defer s.sem.Release(1)
	return s.snapshot(ctx, trigger)
}

// runAfter waits for a running snapshot to finish, then takes one unless a
// snapshot completed after since.
func (s *Snapshotter) runAfter(ctx context.Context, trigger string, since time.Time) (Record, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return Record{}, err
	}
	defer s.sem.Release(1)

	if s.LastCompleted().After(since) {
		return Record{}, errSuperseded
	}
	return s.snapshot(ctx, trigger)
}

// LastCompleted returns when the most recent snapshot finished
func (s *Snapshotter) LastCompleted() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCompleted
}

// Last returns the most recent record, if any
func (s *Snapshotter) Last() (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Record{}, false
	}
	return *s.last, true
}

// Completed returns a channel closed when the next snapshot finishes
func (s *Snapshotter) Completed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// InProgress reports whether a snapshot is running
func (s *Snapshotter) InProgress() bool {
	if s.sem.TryAcquire(1) {
		s.sem.Release(1)
		return false
	}
	return true
}

func (s *Snapshotter) snapshot(ctx context.Context, trigger string) (Record, error) {
	started := s.now()
	record := Record{
		ID:        "backup-" + uuid.New().String()[:8],
		Trigger:   trigger,
		StartedAt: started,
	}
	policy := s.store.Policy()

	log.Printf("[Backup] Starting snapshot %s (trigger: %s)", record.ID, trigger)

	var notes []string
	err := s.take(ctx, &record, policy, &notes)
	record.Duration = s.now().Sub(started)

	if err != nil {
		record.Status = StatusFailed
		record.Error = err.Error()
		log.Printf("[Backup] Snapshot %s failed: %v", record.ID, err)
		s.broadcast("World backup failed")
	} else {
		record.Status = StatusSuccess
		log.Printf("[Backup] Snapshot %s completed: %s (%d bytes)", record.ID, record.Path, record.SizeBytes)
		s.broadcast(successMessage(record, notes))
	}

	metrics.RecordBackup(string(record.Status), trigger, record.Duration, record.SizeBytes)

	if s.opts.History != nil {
		if herr := s.opts.History.Save(context.WithoutCancel(ctx), record); herr != nil {
			log.Printf("[Backup] Failed to record snapshot %s: %v", record.ID, herr)
		}
	}

	s.mu.Lock()
	s.last = &record
	s.lastCompleted = s.now()
	close(s.completed)
	s.completed = make(chan struct{})
	s.mu.Unlock()

	return record, err
}

func (s *Snapshotter) take(ctx context.Context, record *Record, policy state.Policy, notes *[]string) error {
	if err := os.MkdirAll(s.opts.BackupDir, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	dest, err := s.reserveName(record.StartedAt)
	if err != nil {
		return err
	}
	record.Name = filepath.Base(dest)
	record.Path = dest

	s.quiesce(ctx)
	_, copyErr := copyTree(ctx, s.opts.WorldDir, dest, s.excluder)
	s.resume()
	if copyErr != nil {
		os.RemoveAll(dest)
		return copyErr
	}

	size, err := dirSize(dest)
	if err != nil {
		return err
	}
	record.SizeBytes = size

	if !policy.Compress {
		s.applyRetention()
		return nil
	}

	compression := normalizeCompression(CompressionConfig{Enabled: true, Level: s.opts.CompressionLevel})
	archivePath := dest + archiveExtension
	archived, err := s.archive(ctx, dest, archivePath, compression.Level)
	if err != nil {
		// The copy is complete; keep it rather than lose the snapshot.
		log.Printf("[Backup] Failed to compress snapshot %s, keeping it uncompressed: %v", dest, err)
		*notes = append(*notes, "compression failed, kept uncompressed copy")
		s.applyRetention()
		return nil
	}
	record.Compressed = true
	record.ArchiveBytes = archived
	record.Ratio = compressionRatio(size, archived)
	record.Path = archivePath

	if err := os.RemoveAll(dest); err != nil {
		log.Printf("[Backup] Failed to remove uncompressed snapshot %s: %v", dest, err)
		*notes = append(*notes, "uncompressed copy was not removed")
	}

	if len(s.opts.Destinations) > 0 {
		uploaded, failed := uploadArchive(archivePath, s.opts.Destinations)
		record.Uploads = uploaded
		if len(failed) > 0 {
			*notes = append(*notes, "upload to "+strings.Join(failed, ", ")+" failed")
		}
	}

	s.applyRetention()
	return nil
}

// reserveName creates the snapshot directory, adding a counter when two
// snapshots start within the same second
func (s *Snapshotter) reserveName(at time.Time) (string, error) {
	base := filepath.Join(s.opts.BackupDir, snapshotPrefix+at.Format(timestampLayout))
	for i := 0; i < 100; i++ {
		candidate := base
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d", base, i)
		}
		if _, err := os.Stat(candidate + archiveExtension); err == nil {
			continue
		}
		err := os.Mkdir(candidate, 0755)
		if err == nil {
			return candidate, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("failed to create snapshot directory: %w", err)
		}
	}
	return "", fmt.Errorf("no free snapshot name for %s", base)
}

// quiesce asks the server to flush and pause saving, then waits briefly for
// it to answer. Without pre-commands there is nothing to wait for.
func (s *Snapshotter) quiesce(ctx context.Context) {
	if len(s.opts.PreCommands) == 0 {
		return
	}
	for _, cmd := range s.opts.PreCommands {
		if err := s.channel.SendLine(cmd); err != nil {
			log.Printf("[Backup] Failed to send %q: %v", cmd, err)
			return
		}
	}
	if !s.channel.WaitForOutput(ctx, s.opts.QuiesceTimeout) {
		log.Printf("[Backup] No server output within %s, continuing", s.opts.QuiesceTimeout)
	}
}

func (s *Snapshotter) resume() {
	for _, cmd := range s.opts.PostCommands {
		if err := s.channel.SendLine(cmd); err != nil {
			log.Printf("[Backup] Failed to send %q: %v", cmd, err)
			return
		}
	}
}

func (s *Snapshotter) applyRetention() {
	if s.opts.RetentionCount <= 0 {
		return
	}
	if _, err := EnforceRetention(s.opts.BackupDir, s.opts.RetentionCount); err != nil {
		log.Printf("[Retention] %v", err)
	}
	for _, dest := range s.opts.Destinations {
		if _, err := pruneDestination(dest, s.opts.RetentionCount); err != nil {
			log.Printf("[Retention] Failed to prune %s: %v", dest.GetType(), err)
		}
	}
}

func (s *Snapshotter) broadcast(text string) {
	if s.channel == nil {
		return
	}
	if err := s.channel.SendLine(s.opts.BroadcastPrefix + text); err != nil {
		log.Printf("[Backup] Failed to broadcast status: %v", err)
	}
}

func successMessage(record Record, notes []string) string {
	msg := fmt.Sprintf("World backed up on: %s, current world size: %d",
		record.StartedAt.Format(timestampLayout), record.SizeBytes)
	if record.Compressed {
		msg += fmt.Sprintf(", compressed to %d%% of original size", record.Ratio)
	}
	for _, note := range notes {
		msg += ", " + note
	}
	return msg
}
