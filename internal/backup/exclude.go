package backup

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Excluder decides which world files are left out of a snapshot
type Excluder struct {
	patterns []string
}

// NewExcluder validates doublestar patterns such as "**/*.lock"
func NewExcluder(patterns []string) (*Excluder, error) {
	e := &Excluder{}
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(filepath.ToSlash(pattern))
		if pattern == "" {
			continue
		}
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid exclude pattern %q", pattern)
		}
		e.patterns = append(e.patterns, pattern)
	}
	return e, nil
}

// Match reports whether rel (relative to the world root) is excluded. Each
// pattern is tried against the full relative path and against the base name,
// so "*.lock" and "**/*.lock" behave the same.
func (e *Excluder) Match(rel string) bool {
	if e == nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	base := path.Base(rel)
	for _, pattern := range e.patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

// Patterns returns the active patterns
func (e *Excluder) Patterns() []string {
	if e == nil {
		return nil
	}
	return append([]string(nil), e.patterns...)
}
