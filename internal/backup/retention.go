package backup

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const snapshotPrefix = "world_"

// snapshotKey strips the archive extension so a directory and its archive
// share one key
func snapshotKey(name string) string {
	return strings.TrimSuffix(name, archiveExtension)
}

func isSnapshotName(name string) bool {
	return strings.HasPrefix(name, snapshotPrefix) && !strings.HasSuffix(name, ".partial")
}

// EnforceRetention keeps the newest keep snapshots in backupDir and removes
// older snapshot directories and archives. Snapshot names embed their
// timestamp so lexical order is chronological. keep <= 0 keeps everything.
func EnforceRetention(backupDir string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}

	entries, err := os.ReadDir(backupDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	groups := make(map[string][]string)
	for _, entry := range entries {
		if !isSnapshotName(entry.Name()) {
			continue
		}
		key := snapshotKey(entry.Name())
		groups[key] = append(groups[key], entry.Name())
	}

	keys := sortedNewestFirst(groups)
	if len(keys) <= keep {
		return nil, nil
	}

	var removed []string
	for _, key := range keys[keep:] {
		for _, name := range groups[key] {
			if err := os.RemoveAll(filepath.Join(backupDir, name)); err != nil {
				log.Printf("[Retention] Error deleting %s: %v", name, err)
				continue
			}
			removed = append(removed, name)
		}
	}

	log.Printf("[Retention] Removed %d old snapshot entries (keep %d)", len(removed), keep)
	return removed, nil
}

// pruneDestination applies the same policy to archives stored remotely
func pruneDestination(dest Destination, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}

	files, err := dest.List()
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]string)
	for _, file := range files {
		if isSnapshotName(file.Filename) && strings.HasSuffix(file.Filename, archiveExtension) {
			groups[file.Filename] = []string{file.Filename}
		}
	}

	keys := sortedNewestFirst(groups)
	if len(keys) <= keep {
		return nil, nil
	}

	var removed []string
	for _, key := range keys[keep:] {
		if err := dest.Delete(key); err != nil {
			log.Printf("[Retention] Error deleting %s from %s: %v", key, dest.GetType(), err)
			continue
		}
		removed = append(removed, key)
	}
	return removed, nil
}

func sortedNewestFirst(groups map[string][]string) []string {
	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	return keys
}
