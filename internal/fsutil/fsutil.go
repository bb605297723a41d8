// Package fsutil provides the file and directory helpers shared by the job
// pipeline: creating working directories, staging inputs and replacing
// artifacts without leaving half-written files behind.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultDirPermissions  = 0o750
	defaultFilePermissions = 0o644
	invalidCharReplacement = "_"
	tempFilePattern        = ".tmp-*"
)

// Error message and format string constants.
const (
	errFmtFailedToCreateDir = "failed to create directory %s: %w"
	errFmtNotADirectory     = "%w: %s"
)

// ErrNotADirectory is returned when a path expected to be a directory is a file.
var ErrNotADirectory = errors.New("not a directory")

// EnsureDir ensures a directory exists at the given path, creating it if it doesn't.
func EnsureDir(path string) error {
	info, statErr := os.Stat(path)
	if statErr == nil {
		if !info.IsDir() {
			return fmt.Errorf(errFmtNotADirectory, ErrNotADirectory, path)
		}

		return nil
	}

	if !errors.Is(statErr, fs.ErrNotExist) {
		return fmt.Errorf(errFmtFailedToCreateDir, path, statErr)
	}

	// MkdirAll is used to create parent directories as needed.
	mkdirErr := os.MkdirAll(path, defaultDirPermissions)
	if mkdirErr != nil {
		return fmt.Errorf(errFmtFailedToCreateDir, path, mkdirErr)
	}

	return nil
}

// RemoveIfExists deletes path, treating an already missing file as success.
func RemoveIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}

	return nil
}

// CopyFile copies src to dst, replacing dst atomically.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	return WriteFileAtomic(dst, func(w io.Writer) error {
		_, copyErr := io.Copy(w, in)

		return copyErr
	})
}

// WriteFileAtomic writes a sibling temp file with write and renames it over
// path, so readers see either the old file or the complete new one.
func WriteFileAtomic(path string, write func(w io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+tempFilePattern)
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}

	tmpName := tmp.Name()

	writeErr := write(tmp)
	closeErr := tmp.Close()

	if writeErr == nil && closeErr == nil {
		writeErr = os.Chmod(tmpName, defaultFilePermissions)
	}

	if writeErr == nil && closeErr == nil {
		writeErr = os.Rename(tmpName, path)
	}

	if writeErr != nil || closeErr != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("failed to write %s: %w", path, errors.Join(writeErr, closeErr))
	}

	return nil
}

// ReplaceExt swaps the extension of path for ext (which includes the dot).
func ReplaceExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// SanitizeFilename removes or replaces characters that are invalid in most filesystems.
func SanitizeFilename(filename string) string {
	replacer := strings.NewReplacer(
		"<", invalidCharReplacement,
		">", invalidCharReplacement,
		":", invalidCharReplacement,
		"\"", invalidCharReplacement,
		"/", invalidCharReplacement,
		"\\", invalidCharReplacement,
		"|", invalidCharReplacement,
		"?", invalidCharReplacement,
		"*", invalidCharReplacement,
		" ", invalidCharReplacement,
	)

	return replacer.Replace(filename)
}
