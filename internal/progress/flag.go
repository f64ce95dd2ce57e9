// Package progress persists the one piece of state shared between the build
// and push stages: the completion flag. The flag file's existence means the
// build finished; its content records which build it was.
package progress

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// State describes what was found at the flag path.
type State string

const (
	StateMissing State = "missing"
	StateReady   State = "ready"
	StateInvalid State = "invalid"
	StateError   State = "error"
)

// CheckResult is the outcome of inspecting the flag.
type CheckResult struct {
	Path  string
	State State
	// Record is set for ready flags. Legacy zero-byte flags leave it empty.
	Record *Record
	Legacy bool
	Err    error
}

// Complete reports whether a build stage finished. An unreadable record
// still counts, since only existence is required for that.
func (r CheckResult) Complete() bool {
	return r.State == StateReady || r.State == StateInvalid
}

// Flag manages the completion flag file.
type Flag struct {
	path string
	now  func() time.Time
}

// Option customizes a Flag during construction.
type Option func(*Flag)

// WithClock overrides the clock used for completion timestamps.
func WithClock(clock func() time.Time) Option {
	return func(f *Flag) {
		if clock != nil {
			f.now = clock
		}
	}
}

// New returns the flag stored at path.
func New(path string, opts ...Option) *Flag {
	f := &Flag{path: path, now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Path returns the flag file location.
func (f *Flag) Path() string {
	return f.path
}

// Exists reports whether the flag file is present.
func (f *Flag) Exists() bool {
	info, err := os.Stat(f.path)
	return err == nil && !info.IsDir()
}

// Check inspects the flag on disk.
func (f *Flag) Check() (CheckResult, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return CheckResult{Path: f.path, State: StateMissing}, nil
		}
		return CheckResult{Path: f.path, State: StateError, Err: err}, err
	}
	if info.IsDir() {
		err := fmt.Errorf("progress: expected flag file, got directory %s", f.path)
		return CheckResult{Path: f.path, State: StateInvalid, Err: err}, err
	}
	if info.Size() == 0 {
		return CheckResult{Path: f.path, State: StateReady, Legacy: true}, nil
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return CheckResult{Path: f.path, State: StateError, Err: err}, err
	}
	rec, err := parseRecord(data)
	if err != nil {
		return CheckResult{Path: f.path, State: StateInvalid, Err: err}, err
	}
	return CheckResult{Path: f.path, State: StateReady, Record: &rec}, nil
}

// Write records a completed build. A zero CompletedAt or empty Status is
// filled in.
func (f *Flag) Write(rec Record) error {
	if rec.Status == "" {
		rec.Status = StatusComplete
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = f.now()
	}
	content, err := renderRecord(rec)
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o775); err != nil {
		return fmt.Errorf("progress: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".flag-*")
	if err != nil {
		return fmt.Errorf("progress: write flag: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("progress: write flag: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("progress: sync flag: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("progress: close flag: %w", err)
	}
	if err := os.Chmod(tmpName, 0o664); err != nil {
		return fmt.Errorf("progress: chmod flag: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("progress: install flag: %w", err)
	}
	return nil
}

// Clear deletes the flag. A missing flag is fine.
func (f *Flag) Clear() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("progress: delete flag: %w", err)
	}
	return nil
}
