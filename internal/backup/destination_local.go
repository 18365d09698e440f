package backup

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

// LocalDestination copies archives to another directory, such as a mounted
// network share
type LocalDestination struct {
	basePath string
}

// NewLocalDestination creates a new local destination
func NewLocalDestination(basePath string) *LocalDestination {
	return &LocalDestination{basePath: basePath}
}

// Upload writes the archive to a temporary name and renames it into place
func (ld *LocalDestination) Upload(filename string, reader io.Reader, sizeBytes int64) error {
	if err := os.MkdirAll(ld.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	destPath := filepath.Join(ld.basePath, filename)
	tmpPath := destPath + ".partial"
	log.Printf("[LocalDest] Uploading %s to %s (%d bytes)", filename, destPath, sizeBytes)

	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}

	written, err := io.Copy(file, reader)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write backup file: %w", err)
	}
	if written != sizeBytes {
		os.Remove(tmpPath)
		return fmt.Errorf("size mismatch: expected %d bytes, wrote %d bytes", sizeBytes, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize backup file: %w", err)
	}
	return nil
}

// Delete removes a backup file from the local destination
func (ld *LocalDestination) Delete(filename string) error {
	if err := os.Remove(filepath.Join(ld.basePath, filename)); err != nil {
		return fmt.Errorf("failed to delete backup file: %w", err)
	}
	return nil
}

// List returns all backup files in the local destination
func (ld *LocalDestination) List() ([]BackupFile, error) {
	entries, err := os.ReadDir(ld.basePath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var files []BackupFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			log.Printf("[LocalDest] Warning: Failed to get info for %s: %v", entry.Name(), err)
			continue
		}

		files = append(files, BackupFile{
			Filename:  entry.Name(),
			SizeBytes: info.Size(),
			CreatedAt: info.ModTime().Unix(),
		})
	}

	return files, nil
}

// GetType returns the destination type
func (ld *LocalDestination) GetType() string {
	return "local"
}
