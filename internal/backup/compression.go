package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

const archiveExtension = ".tar.gz"

// CompressionConfig controls snapshot archiving
type CompressionConfig struct {
	Enabled bool
	Level   int
}

func normalizeCompression(config CompressionConfig) CompressionConfig {
	level := config.Level
	if level == 0 {
		level = 6
	}
	if level < gzip.BestSpeed {
		level = gzip.BestSpeed
	}
	if level > gzip.BestCompression {
		level = gzip.BestCompression
	}
	return CompressionConfig{Enabled: config.Enabled, Level: level}
}

// writeArchive packs dir into a gzip-compressed tarball at archivePath. Entry
// names are prefixed with the directory's base name. It returns the archive
// size in bytes.
func writeArchive(ctx context.Context, dir, archivePath string, level int) (int64, error) {
	file, err := os.OpenFile(archivePath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to create archive: %w", err)
	}

	if err := packTar(ctx, dir, file, level); err != nil {
		file.Close()
		os.Remove(archivePath)
		return 0, err
	}
	if err := file.Close(); err != nil {
		os.Remove(archivePath)
		return 0, fmt.Errorf("failed to close archive: %w", err)
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return 0, fmt.Errorf("failed to stat archive: %w", err)
	}
	return info.Size(), nil
}

func packTar(ctx context.Context, dir string, w io.Writer, level int) error {
	gz, err := gzip.NewWriterLevel(w, level)
	if err != nil {
		return fmt.Errorf("failed to create gzip writer: %w", err)
	}
	tw := tar.NewWriter(gz)

	prefix := filepath.Base(dir)
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		var link string
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}

		header, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(filepath.Join(prefix, rel))
		if info.IsDir() {
			header.Name += "/"
		}
		if err := tw.WriteHeader(header); err != nil {
			return err
		}

		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, f)
		f.Close()
		return err
	})
	if walkErr != nil {
		return fmt.Errorf("failed to archive %s: %w", dir, walkErr)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finish tar stream: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return nil
}

// compressionRatio returns archive size as a whole percentage of the
// original size, clamped to [0, 100].
func compressionRatio(original, archived int64) int {
	if original <= 0 {
		return 100
	}
	ratio := archived * 100 / original
	if ratio < 0 {
		return 0
	}
	if ratio > 100 {
		return 100
	}
	return int(ratio)
}
