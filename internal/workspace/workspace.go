// internal/workspace/workspace.go
//
// Defines the scratch tree a release works in. Everything the tool creates
// outside the website directories lives under one per-operator directory.

package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// Directory names within the scratch tree
const (
	IntermDir = "interm"
	BuildDir  = "build"
	SanityDir = "sanity"
	LogsDir   = "logs"
	ReviewDir = "review"
)

// File names within the scratch tree
const (
	FileCompletionFlag = "release-build-completed"
	FileJournal        = "journal.log"
	FileLog            = "cfrelease.log"
)

// ReleasesDir is the directory under each site holding per-version copies.
const ReleasesDir = "releases"

// Workspace resolves paths under the scratch directory
type Workspace struct {
	root string
}

// New creates a workspace rooted at scratch.
func New(scratch string) *Workspace {
	return &Workspace{root: scratch}
}

// Init creates the scratch directory tree.
func (w *Workspace) Init() error {
	for _, dir := range []string{w.IntermRoot(), w.BuildRoot(), w.SanityRoot(), w.LogsDir(), w.ReviewDir()} {
		if err := os.MkdirAll(dir, 0o775); err != nil {
			return fmt.Errorf("workspace: create %s: %w", dir, err)
		}
	}
	return nil
}

// Root returns the scratch directory
func (w *Workspace) Root() string {
	return w.root
}

// IntermRoot holds the bare intermediate clones
func (w *Workspace) IntermRoot() string {
	return filepath.Join(w.root, IntermDir)
}

// BuildRoot holds the working build clones
func (w *Workspace) BuildRoot() string {
	return filepath.Join(w.root, BuildDir)
}

// IntermRepo returns the intermediate clone of project
func (w *Workspace) IntermRepo(project string) string {
	return filepath.Join(w.IntermRoot(), project)
}

// BuildRepo returns the build clone of project
func (w *Workspace) BuildRepo(project string) string {
	return filepath.Join(w.BuildRoot(), project)
}

// SanityRoot is where sanity checks download and unpack distributions
func (w *Workspace) SanityRoot() string {
	return filepath.Join(w.root, SanityDir)
}

// SanityDir returns the scratch directory of one sanity check
func (w *Workspace) SanityDir(check string) string {
	return filepath.Join(w.SanityRoot(), check)
}

// LogsDir returns the logs directory
func (w *Workspace) LogsDir() string {
	return filepath.Join(w.root, LogsDir)
}

// LogPath is the rotated debug log
func (w *Workspace) LogPath() string {
	return filepath.Join(w.LogsDir(), FileLog)
}

// JournalPath is the step journal
func (w *Workspace) JournalPath() string {
	return filepath.Join(w.LogsDir(), FileJournal)
}

// ReviewDir holds change logs and diffs written for review
func (w *Workspace) ReviewDir() string {
	return filepath.Join(w.root, ReviewDir)
}

// LinkReportPath is where the link checker writes its findings for a site
// ("dev" or "live").
func (w *Workspace) LinkReportPath(site string) string {
	return filepath.Join(w.root, fmt.Sprintf("checker-framework.%s.check", site))
}

// CompletionFlagPath is the build-completed flag file
func (w *Workspace) CompletionFlagPath() string {
	return filepath.Join(w.root, FileCompletionFlag)
}

// ReleaseDir returns the per-version directory under a site directory.
func ReleaseDir(siteDir, version string) string {
	return filepath.Join(siteDir, ReleasesDir, version)
}
