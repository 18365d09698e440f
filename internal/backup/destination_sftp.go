package backup

import (
	"fmt"
	"io"
	"log"
	"path"

	"github.com/TheGojiOG/worldkeeper/internal/config"
	sshclient "github.com/TheGojiOG/worldkeeper/internal/ssh"
	"github.com/pkg/sftp"
)

// SFTPDestination stores archives on a remote host. A connection is opened
// per operation since uploads are hours apart.
type SFTPDestination struct {
	config config.DestinationConfig
}

// NewSFTPDestination validates the configuration without connecting
func NewSFTPDestination(cfg config.DestinationConfig) (*SFTPDestination, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("sftp destination requires a host")
	}
	if cfg.Username == "" {
		return nil, fmt.Errorf("sftp destination requires a username")
	}
	if cfg.KeyPath == "" && cfg.Password == "" {
		return nil, fmt.Errorf("no authentication method provided for SFTP")
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	return &SFTPDestination{config: cfg}, nil
}

func (sd *SFTPDestination) withClient(fn func(*sftp.Client) error) error {
	sshClient, err := sshclient.Dial(sshclient.DialConfig{
		Host:            sd.config.Host,
		Port:            sd.config.Port,
		Username:        sd.config.Username,
		Password:        sd.config.Password,
		KeyPath:         sd.config.KeyPath,
		KnownHostsPath:  sd.config.KnownHostsPath,
		TrustOnFirstUse: sd.config.TrustOnFirstUse,
	})
	if err != nil {
		return err
	}
	defer sshClient.Close()

	client, err := sftp.NewClient(sshClient,
		sftp.MaxPacketUnchecked(131072),
		sftp.UseConcurrentWrites(true),
		sftp.MaxConcurrentRequestsPerFile(64),
	)
	if err != nil {
		return fmt.Errorf("failed to create SFTP client: %w", err)
	}
	defer client.Close()

	return fn(client)
}

// Upload uploads a backup file to the SFTP destination
func (sd *SFTPDestination) Upload(filename string, reader io.Reader, sizeBytes int64) error {
	destPath := path.Join(sd.config.Path, filename)
	log.Printf("[SFTPDest] Uploading %s to %s:%s (%d bytes)", filename, sd.config.Host, destPath, sizeBytes)

	return sd.withClient(func(client *sftp.Client) error {
		if sd.config.Path != "" {
			if err := client.MkdirAll(sd.config.Path); err != nil {
				return fmt.Errorf("failed to create base directory: %w", err)
			}
		}

		file, err := client.Create(destPath)
		if err != nil {
			return fmt.Errorf("failed to create remote file: %w", err)
		}

		written, err := file.ReadFrom(reader)
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			client.Remove(destPath)
			return fmt.Errorf("failed to write remote file: %w", err)
		}
		if written != sizeBytes {
			client.Remove(destPath)
			return fmt.Errorf("size mismatch: expected %d bytes, wrote %d bytes", sizeBytes, written)
		}
		return nil
	})
}

// Delete removes a backup file from the SFTP destination
func (sd *SFTPDestination) Delete(filename string) error {
	destPath := path.Join(sd.config.Path, filename)
	return sd.withClient(func(client *sftp.Client) error {
		if err := client.Remove(destPath); err != nil {
			return fmt.Errorf("failed to delete remote file: %w", err)
		}
		return nil
	})
}

// List returns all backup files in the SFTP destination
func (sd *SFTPDestination) List() ([]BackupFile, error) {
	var files []BackupFile
	err := sd.withClient(func(client *sftp.Client) error {
		dir := sd.config.Path
		if dir == "" {
			dir = "."
		}
		entries, err := client.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("failed to read remote directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			files = append(files, BackupFile{
				Filename:  entry.Name(),
				SizeBytes: entry.Size(),
				CreatedAt: entry.ModTime().Unix(),
			})
		}
		return nil
	})
	return files, err
}

// GetType returns the destination type
func (sd *SFTPDestination) GetType() string {
	return "sftp"
}
