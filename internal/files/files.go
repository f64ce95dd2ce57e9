// Package files holds the filesystem chores of a release: staging copies,
// permission fixes for the web server's group, and small file probes.
package files

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// CopyFile copies src to dst, keeping the permission bits and creating parent
// directories as needed.
func CopyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("files: stat %s: %w", src, err)
	}
	if info.IsDir() {
		return CopyTree(src, dst)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("files: prepare %s: %w", dst, err)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("files: open %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("files: create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("files: copy %s: %w", filepath.Base(src), err)
	}
	return out.Close()
}

// CopyTree copies the directory src into dst, merging with whatever dst holds.
func CopyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("files: stat dir %s: %w", src, err)
	}
	if !info.IsDir() {
		return CopyFile(src, dst)
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if d.Type()&fs.ModeSymlink != 0 {
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			_ = os.Remove(target)
			return os.Symlink(link, target)
		}
		return CopyFile(path, target)
	})
}

// DeleteIfExists removes path and everything under it. A missing path is fine.
func DeleteIfExists(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := os.RemoveAll(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("files: delete %s: %w", path, err)
	}
	return nil
}

// Reset deletes path and recreates it as an empty directory.
func Reset(path string) error {
	if err := DeleteIfExists(path); err != nil {
		return err
	}
	if err := os.MkdirAll(path, 0o775); err != nil {
		return fmt.Errorf("files: create %s: %w", path, err)
	}
	return nil
}

// Exists reports whether path is present.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// EnsureGroupAccess adds group read and write permission to path and,
// for directories, everything under it. Entries that cannot be changed
// (typically files owned by another user) are reported together.
func EnsureGroupAccess(path string) error {
	var failures []error
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			failures = append(failures, walkErr)
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			failures = append(failures, err)
			return nil
		}
		mode := info.Mode().Perm() | 0o060
		if mode == info.Mode().Perm() {
			return nil
		}
		if err := os.Chmod(p, mode); err != nil {
			failures = append(failures, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("files: group access %s: %w", path, err)
	}
	if len(failures) > 0 {
		return fmt.Errorf("files: group access %s: %w", path, errors.Join(failures...))
	}
	return nil
}

// IsEmpty reports whether the file at path has zero length.
func IsEmpty(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("files: stat %s: %w", path, err)
	}
	return info.Size() == 0, nil
}

// ReadFirstLine returns the first line of path without its line ending.
func ReadFirstLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("files: open %s: %w", path, err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	if scanner.Scan() {
		return strings.TrimRight(scanner.Text(), "\r"), nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("files: read %s: %w", path, err)
	}
	return "", nil
}

// WriteEmpty creates path as an empty file, truncating any content.
func WriteEmpty(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte{}, 0o664)
}
