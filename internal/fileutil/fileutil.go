// Package fileutil holds the small file operations shared by the inbox
// providers and the transcription step.
package fileutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// CopyFile copies src to dst through WriteAtomic, so readers of dst never see
// a partial file.
func CopyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	return WriteAtomic(dst, in, 0o644)
}

// WriteAtomic streams r into a temporary sibling of dst and renames it into
// place. Parent directories are created as needed.
func WriteAtomic(dst string, r io.Reader, mode os.FileMode) (int64, error) {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create directory %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	written, err := io.Copy(tmp, r)
	if err != nil {
		_ = tmp.Close()
		cleanup()
		return written, err
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		cleanup()
		return written, err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return written, err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		cleanup()
		return written, err
	}
	return written, nil
}

// MoveFile renames src to dst, replacing any existing dst. When the two paths
// sit on different filesystems it falls back to copy and remove.
func MoveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}
	if _, err := CopyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}
