package backup

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/TheGojiOG/worldkeeper/internal/config"
)

// Destination is an off-site copy target for snapshot archives
type Destination interface {
	// Upload stores the content of reader under filename
	Upload(filename string, reader io.Reader, sizeBytes int64) error

	// Delete removes a stored archive
	Delete(filename string) error

	// List returns the archives stored at the destination
	List() ([]BackupFile, error)

	// GetType returns the destination type identifier
	GetType() string
}

// BackupFile represents a file in a backup destination
type BackupFile struct {
	Filename  string
	SizeBytes int64
	CreatedAt int64 // Unix timestamp
}

// NewDestination creates a destination from configuration. knownHostsPath is
// used for SFTP when the destination does not name its own file.
func NewDestination(cfg config.DestinationConfig, knownHostsPath string) (Destination, error) {
	switch strings.ToLower(cfg.Type) {
	case "local":
		if cfg.Path == "" {
			return nil, fmt.Errorf("local destination requires a path")
		}
		return NewLocalDestination(cfg.Path), nil
	case "sftp":
		if cfg.KnownHostsPath == "" {
			cfg.KnownHostsPath = knownHostsPath
		}
		return NewSFTPDestination(cfg)
	case "s3":
		return NewS3Destination(cfg)
	default:
		return nil, fmt.Errorf("unsupported destination type: %s", cfg.Type)
	}
}

// NewDestinations builds every configured destination
func NewDestinations(cfgs []config.DestinationConfig, knownHostsPath string) ([]Destination, error) {
	destinations := make([]Destination, 0, len(cfgs))
	for i, cfg := range cfgs {
		dest, err := NewDestination(cfg, knownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("destination %d: %w", i, err)
		}
		destinations = append(destinations, dest)
	}
	return destinations, nil
}

// uploadArchive copies a local archive to every destination. Failures are
// collected per destination type and never abort the remaining uploads.
func uploadArchive(archivePath string, destinations []Destination) (uploaded []string, failed []string) {
	filename := filepath.Base(archivePath)
	for _, dest := range destinations {
		if err := uploadFile(dest, archivePath, filename); err != nil {
			log.Printf("[Backup] Upload of %s to %s failed: %v", filename, dest.GetType(), err)
			failed = append(failed, dest.GetType())
			continue
		}
		uploaded = append(uploaded, dest.GetType())
	}
	return uploaded, failed
}

func uploadFile(dest Destination, archivePath, filename string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat archive: %w", err)
	}
	return dest.Upload(filename, file, info.Size())
}
