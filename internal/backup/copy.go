package backup

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// copyTree copies src into dst, skipping excluded entries. It returns the
// number of bytes copied.
func copyTree(ctx context.Context, src, dst string, excluder *Excluder) (int64, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, fmt.Errorf("world directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("world path %s is not a directory", src)
	}

	var copied int64
	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if rel == "." {
			return os.MkdirAll(target, info.Mode().Perm()|0700)
		}
		if excluder.Match(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		entryInfo, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			return os.MkdirAll(target, entryInfo.Mode().Perm()|0700)
		case entryInfo.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case entryInfo.Mode().IsRegular():
			n, err := copyFile(path, target, entryInfo.Mode().Perm())
			copied += n
			return err
		default:
			// sockets, devices and pipes are not part of a world
			return nil
		}
	})
	if err != nil {
		return copied, fmt.Errorf("failed to copy world: %w", err)
	}
	return copied, nil
}

func copyFile(src, dst string, perm os.FileMode) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm|0600)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	return n, err
}

// dirSize sums the sizes of regular files under root
func dirSize(root string) (int64, error) {
	var size int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to measure %s: %w", root, err)
	}
	return size, nil
}
