// Package sanity smoke-tests a built distribution: download the zip, unpack
// it, run the packaged checker on a fixture known to contain errors and make
// sure the expected diagnostics came out.
package sanity

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/kingrea/cfrelease/internal/config"
	"github.com/kingrea/cfrelease/internal/files"
	"github.com/kingrea/cfrelease/internal/shell"
)

// Check is one fully resolved sanity test.
type Check struct {
	Name       string
	ArchiveURL string
	// Dir is the scratch directory the archive is downloaded and unpacked in.
	Dir string
	// Fixture is copied into Dir before Command runs. Optional.
	Fixture  string
	Command  []string
	Expected []string
}

// LogPath is where the output of Command is kept.
func (c Check) LogPath() string {
	return filepath.Join(c.Dir, c.Name+"-sanity.log")
}

// DownloadError reports an archive that could not be fetched.
type DownloadError struct {
	URL string
	Err error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// FailedError reports expected diagnostics missing from the checker output.
type FailedError struct {
	Name    string
	Missing []string
	LogPath string
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("%s sanity check failed: %d expected error(s) missing from %s: %s",
		e.Name, len(e.Missing), e.LogPath, strings.Join(e.Missing, "; "))
}

// Expand substitutes {version}, {site} and {fixture} in s.
func Expand(s string, vars map[string]string) string {
	for k, v := range vars {
		s = strings.ReplaceAll(s, "{"+k+"}", v)
	}
	return s
}

// FromConfig resolves a configured check for one site and version. dir is
// the check's scratch directory; relative fixtures are looked up in
// fixtureDir.
func FromConfig(sc config.SanityCheck, siteURL, version, dir, fixtureDir string) Check {
	fixture := sc.Fixture
	if fixture != "" && !filepath.IsAbs(fixture) {
		fixture = filepath.Join(fixtureDir, fixture)
	}
	vars := map[string]string{"version": version, "site": siteURL}
	if fixture != "" {
		vars["fixture"] = filepath.Base(fixture)
	}
	cmd := make([]string, len(sc.Command))
	for i, arg := range sc.Command {
		cmd[i] = Expand(arg, vars)
	}
	expected := append([]string(nil), sc.Expected...)
	return Check{
		Name:       sc.Name,
		ArchiveURL: Expand(sc.Archive, vars),
		Dir:        dir,
		Fixture:    fixture,
		Command:    cmd,
		Expected:   expected,
	}
}

// Runner executes sanity checks.
type Runner struct {
	run    shell.Runner
	client *http.Client
	out    io.Writer
	logger *zap.Logger
}

// Option customizes a Runner.
type Option func(*Runner)

// WithHTTPClient sets the client used for downloads.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Runner) {
		if client != nil {
			r.client = client
		}
	}
}

// WithOutput sets where progress messages go.
func WithOutput(w io.Writer) Option {
	return func(r *Runner) {
		if w != nil {
			r.out = w
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a Runner.
func New(run shell.Runner, opts ...Option) *Runner {
	r := &Runner{run: run, client: http.DefaultClient, out: os.Stdout, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run downloads, extracts, executes and verifies c.
func (r *Runner) Run(ctx context.Context, c Check) error {
	if len(c.Command) == 0 {
		return fmt.Errorf("sanity: %s has no command", c.Name)
	}
	if err := os.MkdirAll(c.Dir, 0o775); err != nil {
		return fmt.Errorf("sanity: %w", err)
	}
	archive := filepath.Join(c.Dir, path.Base(c.ArchiveURL))

	fmt.Fprintf(r.out, "Downloading %s\n", c.ArchiveURL)
	n, err := files.Download(ctx, r.client, c.ArchiveURL, archive)
	if err != nil {
		return &DownloadError{URL: c.ArchiveURL, Err: err}
	}
	r.logger.Info("sanity archive downloaded", zap.String("check", c.Name), zap.String("url", c.ArchiveURL), zap.Int64("bytes", n))

	stale := strings.TrimSuffix(archive, filepath.Ext(archive))
	if err := files.DeleteIfExists(stale); err != nil {
		return fmt.Errorf("sanity: %w", err)
	}
	if err := files.Unzip(archive, c.Dir); err != nil {
		return fmt.Errorf("sanity: %w", err)
	}
	if c.Fixture != "" {
		if err := files.CopyFile(c.Fixture, filepath.Join(c.Dir, filepath.Base(c.Fixture))); err != nil {
			return fmt.Errorf("sanity: copy fixture: %w", err)
		}
	}

	args := append([]string(nil), c.Command...)
	if !filepath.IsAbs(args[0]) && strings.ContainsRune(args[0], '/') {
		args[0] = filepath.Join(c.Dir, args[0])
	}
	// The checker is expected to report errors, so its exit status says
	// nothing about whether the distribution works.
	code, err := r.run.RunToFile(ctx, shell.Cmd(args...).In(c.Dir), c.LogPath(), false)
	if err != nil {
		return fmt.Errorf("sanity: run %s: %w", c.Name, err)
	}
	r.logger.Debug("sanity command finished", zap.String("check", c.Name), zap.Int("exit", code))

	missing, err := AreExpectedErrorsInFile(c.LogPath(), c.Expected)
	if err != nil {
		return fmt.Errorf("sanity: %w", err)
	}
	if len(missing) > 0 {
		return &FailedError{Name: c.Name, Missing: missing, LogPath: c.LogPath()}
	}
	fmt.Fprintf(r.out, "%s sanity check passed\n", c.Name)
	return nil
}

// RunScript runs a sanity script with the release version as its argument,
// in dir.
func (r *Runner) RunScript(ctx context.Context, script, version, dir string) error {
	if err := os.MkdirAll(dir, 0o775); err != nil {
		return fmt.Errorf("sanity: %w", err)
	}
	if err := r.run.Check(ctx, shell.Cmd("sh", script, version).In(dir)); err != nil {
		return fmt.Errorf("sanity: %s: %w", filepath.Base(script), err)
	}
	return nil
}

// AreExpectedErrorsInFile returns the strings of expected that appear on no
// line of the file at path, in their original order. An empty result means
// every expectation was met. expected is not modified.
func AreExpectedErrorsInFile(path string, expected []string) ([]string, error) {
	remaining := append([]string(nil), expected...)
	if len(remaining) == 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() && len(remaining) > 0 {
		line := scanner.Text()
		kept := remaining[:0]
		for _, want := range remaining {
			if !strings.Contains(line, want) {
				kept = append(kept, want)
			}
		}
		remaining = kept
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(remaining) == 0 {
		return nil, nil
	}
	return remaining, nil
}
