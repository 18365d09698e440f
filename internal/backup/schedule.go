package backup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/TheGojiOG/worldkeeper/internal/state"
	"github.com/robfig/cron/v3"
)

// Scheduler triggers snapshots from the backup policy. The next snapshot is
// due at last completion plus the interval (or the cron schedule's next time
// after it) and never earlier. Waits are capped at the poll interval and cut
// short by policy changes, finished manual snapshots and cancellation.
type Scheduler struct {
	snapshots *Snapshotter
	store     *state.Store
	poll      time.Duration

	mu      sync.Mutex
	nextRun time.Time
}

// NewScheduler creates a scheduler
func NewScheduler(snapshots *Snapshotter, store *state.Store, poll time.Duration) *Scheduler {
	if poll <= 0 {
		poll = 10 * time.Second
	}
	return &Scheduler{
		snapshots: snapshots,
		store:     store,
		poll:      poll,
	}
}

// Run blocks until ctx is cancelled. Snapshot failures are reported by the
// snapshotter and never stop the loop.
func (sc *Scheduler) Run(ctx context.Context) error {
	last := time.Now()
	log.Printf("[BackupSchedule] Started")

	for {
		changed := sc.store.Changed()
		completed := sc.snapshots.Completed()

		if done := sc.snapshots.LastCompleted(); done.After(last) {
			last = done
		}

		policy := sc.store.Policy()
		next, err := nextRunFor(policy, last)
		if err != nil {
			log.Printf("[BackupSchedule] %v; waiting for a new policy", err)
			next = time.Time{}
		}
		sc.setNextRun(next)

		if !next.IsZero() && !time.Now().Before(next) {
			_, err := sc.snapshots.runAfter(ctx, "scheduled", last)
			switch {
			case ctx.Err() != nil:
				log.Printf("[BackupSchedule] Stopping schedule runner")
				return nil
			case errors.Is(err, errSuperseded):
			default:
				last = sc.snapshots.LastCompleted()
			}
			continue
		}

		wait := sc.poll
		if !next.IsZero() {
			if until := time.Until(next); until < wait {
				wait = until
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Printf("[BackupSchedule] Stopping schedule runner")
			return nil
		case <-timer.C:
		case <-changed:
			timer.Stop()
		case <-completed:
			timer.Stop()
		}
	}
}

// NextRun returns the time the next scheduled snapshot is due
func (sc *Scheduler) NextRun() time.Time {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.nextRun
}

func (sc *Scheduler) setNextRun(t time.Time) {
	sc.mu.Lock()
	sc.nextRun = t
	sc.mu.Unlock()
}

func nextRunFor(policy state.Policy, last time.Time) (time.Time, error) {
	if policy.Schedule != "" {
		next, err := computeNextRun(policy.Schedule, last)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid backup schedule %q: %w", policy.Schedule, err)
		}
		return next, nil
	}
	if policy.Interval <= 0 {
		return time.Time{}, fmt.Errorf("backup interval must be positive, got %s", policy.Interval)
	}
	return last.Add(policy.Interval), nil
}

func computeNextRun(schedule string, from time.Time) (time.Time, error) {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	parsed, err := parser.Parse(schedule)
	if err != nil {
		return time.Time{}, err
	}

	return parsed.Next(from), nil
}
