package state

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Policy is the backup configuration read by the scheduler once per decision
type Policy struct {
	Interval time.Duration
	Compress bool
	Schedule string // cron expression; takes precedence over Interval when set
}

// Store holds the state shared by the command router and the backup
// scheduler: the super-user set and the backup policy. Super-users are
// case-insensitive and can only be added.
type Store struct {
	mu         sync.RWMutex
	superUsers map[string]struct{}
	policy     Policy
	changed    chan struct{}
}

// NewStore creates a store seeded with a policy and optional super-users
func NewStore(policy Policy, superUsers ...string) *Store {
	s := &Store{
		superUsers: make(map[string]struct{}),
		policy:     policy,
		changed:    make(chan struct{}),
	}
	for _, user := range superUsers {
		s.Grant(user)
	}
	return s
}

// NormalizeUser returns the canonical form used for super-user lookups
func NormalizeUser(user string) string {
	return strings.ToLower(strings.TrimSpace(user))
}

// Grant adds a super-user. It reports false if the name is empty or was
// already present.
func (s *Store) Grant(user string) bool {
	key := NormalizeUser(user)
	if key == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.superUsers[key]; exists {
		return false
	}
	s.superUsers[key] = struct{}{}
	return true
}

// IsSuperUser reports whether user has been granted privileged commands
func (s *Store) IsSuperUser(user string) bool {
	key := NormalizeUser(user)
	if key == "" {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.superUsers[key]
	return ok
}

// SuperUsers returns the super-user set in sorted order
func (s *Store) SuperUsers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]string, 0, len(s.superUsers))
	for user := range s.superUsers {
		users = append(users, user)
	}
	sort.Strings(users)
	return users
}

// Policy returns a copy of the current backup policy
func (s *Store) Policy() Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

// SetInterval switches the policy to fixed-interval mode
func (s *Store) SetInterval(interval time.Duration) {
	s.mu.Lock()
	s.policy.Interval = interval
	s.policy.Schedule = ""
	s.notifyLocked()
	s.mu.Unlock()
}

// Changed returns a channel closed on the next policy change
func (s *Store) Changed() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changed
}

func (s *Store) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}
