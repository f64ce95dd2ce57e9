// Package repo keeps the release's git clones in step with their remotes.
//
// A release uses two layers of clones. Intermediate repositories are bare
// clones of the public repositories; build repositories are working clones
// of the intermediate ones. Builds commit and tag into the intermediate
// layer, and nothing reaches the public repositories until the push
// pipeline says so.
package repo

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/kingrea/cfrelease/internal/files"
	"github.com/kingrea/cfrelease/internal/shell"
)

// DefaultBranch is the release branch when the Syncer is not given one.
const DefaultBranch = "master"

// Repository is a clone managed by the release.
type Repository struct {
	Name   string
	Remote string
	Path   string
	Bare   bool
}

// DirtyError reports a repository with local changes or missing upstream
// commits.
type DirtyError struct {
	Path string
}

func (e *DirtyError) Error() string {
	return fmt.Sprintf("repo %s is not clean and up to date", e.Path)
}

// Confirmer asks the operator a y/n question.
type Confirmer interface {
	YN(msg string) (bool, error)
}

// Syncer runs git against release clones.
type Syncer struct {
	run    shell.Runner
	ask    Confirmer
	out    io.Writer
	branch string
	logger *zap.Logger
}

// Option customizes a Syncer.
type Option func(*Syncer)

// WithOutput sets where warnings go.
func WithOutput(w io.Writer) Option {
	return func(s *Syncer) {
		if w != nil {
			s.out = w
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Syncer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBranch sets the release branch.
func WithBranch(branch string) Option {
	return func(s *Syncer) {
		if strings.TrimSpace(branch) != "" {
			s.branch = branch
		}
	}
}

// New creates a Syncer.
func New(run shell.Runner, ask Confirmer, opts ...Option) *Syncer {
	s := &Syncer{
		run:    run,
		ask:    ask,
		out:    os.Stdout,
		branch: DefaultBranch,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Branch is the branch the syncer fetches, diffs and pushes.
func (s *Syncer) Branch() string { return s.branch }

// IsBare reports a bare repository: no .git directory, but a refs directory.
func IsBare(path string) bool {
	info, err := os.Stat(filepath.Join(path, "refs"))
	return err == nil && info.IsDir()
}

// Exists reports a bare or non-bare repository at path.
func Exists(path string) bool {
	info, err := os.Stat(filepath.Join(path, ".git"))
	if err == nil && info.IsDir() {
		return true
	}
	return IsBare(path)
}

// Clone clones r.Remote into r.Path.
func (s *Syncer) Clone(ctx context.Context, r Repository) error {
	if err := os.MkdirAll(filepath.Dir(r.Path), 0o775); err != nil {
		return fmt.Errorf("repo: prepare %s: %w", r.Path, err)
	}
	args := []string{"git", "clone", "--quiet"}
	if r.Bare {
		args = append(args, "--bare")
	}
	args = append(args, r.Remote, r.Path)
	if err := s.run.Check(ctx, shell.Cmd(args...)); err != nil {
		return fmt.Errorf("repo: clone %s: %w", r.Name, err)
	}
	return nil
}

// Update brings an existing clone up to date with its remote. A bare clone
// whose release branch carries commits origin lacks, such as those of an
// earlier unpushed build, keeps them; Check then reports it as out of date.
func (s *Syncer) Update(ctx context.Context, r Repository) error {
	if !r.Bare {
		if err := s.run.Check(ctx, shell.Cmd("git", "pull", "--ff-only").In(r.Path)); err != nil {
			return fmt.Errorf("repo: update %s: %w", r.Name, err)
		}
		return nil
	}
	if err := s.run.Check(ctx, shell.Cmd("git", "fetch", "origin", s.branch).In(r.Path)); err != nil {
		return fmt.Errorf("repo: update %s: %w", r.Name, err)
	}
	code, err := s.run.Status(ctx, shell.Cmd("git", "merge-base", "--is-ancestor", s.branch, "FETCH_HEAD").In(r.Path), false)
	if err != nil {
		return fmt.Errorf("repo: update %s: %w", r.Name, err)
	}
	if code != 0 {
		s.logger.Info("keeping local commits", zap.String("repo", r.Name), zap.String("branch", s.branch))
		return nil
	}
	if err := s.run.Check(ctx, shell.Cmd("git", "update-ref", "refs/heads/"+s.branch, "FETCH_HEAD").In(r.Path)); err != nil {
		return fmt.Errorf("repo: update %s: %w", r.Name, err)
	}
	return nil
}

// CloneOrUpdate clones r from scratch when fromScratch is set, deleting any
// existing directory first. Otherwise an existing clone is updated and a
// missing one is cloned.
func (s *Syncer) CloneOrUpdate(ctx context.Context, r Repository, fromScratch bool) error {
	s.logger.Info("sync repository",
		zap.String("repo", r.Name),
		zap.String("path", r.Path),
		zap.Bool("bare", r.Bare),
		zap.Bool("scratch", fromScratch))
	if fromScratch {
		if err := files.DeleteIfExists(r.Path); err != nil {
			return fmt.Errorf("repo: delete %s: %w", r.Path, err)
		}
		return s.Clone(ctx, r)
	}
	if files.Exists(r.Path) {
		return s.Update(ctx, r)
	}
	return s.Clone(ctx, r)
}

// IsCleanAndUpdated reports whether the clone at path has no local changes
// and no commits missing relative to origin. Untracked files count as
// changes. Committed tags are not compared; cloning from scratch is the only
// sure way to a clean state.
func (s *Syncer) IsCleanAndUpdated(ctx context.Context, path string) (bool, error) {
	b := s.branch
	if IsBare(path) {
		if err := s.run.Check(ctx, shell.Cmd("git", "fetch", "origin", b).In(path)); err != nil {
			return false, err
		}
		diff, err := s.output(ctx, shell.Cmd("git", "diff", b+"..FETCH_HEAD").In(path))
		if err != nil {
			return false, err
		}
		return diff == "", nil
	}
	status, err := s.output(ctx, shell.Cmd("git", "status", "--porcelain").In(path))
	if err != nil {
		return false, err
	}
	if err := s.run.Check(ctx, shell.Cmd("git", "fetch", "origin").In(path)); err != nil {
		return false, err
	}
	diff, err := s.output(ctx, shell.Cmd("git", "diff", "origin/"+b+".."+b).In(path))
	if err != nil {
		return false, err
	}
	return status == "" && diff == "", nil
}

// output captures stdout and treats a nonzero exit as an error, so that a
// failed git diff cannot pass for an empty one.
func (s *Syncer) output(ctx context.Context, cmd shell.Command) (string, error) {
	res, err := s.run.Run(ctx, cmd)
	if err != nil {
		return "", err
	}
	if !res.OK() {
		return "", &shell.CommandError{Args: cmd.Args, Dir: cmd.Dir, ExitCode: res.ExitCode}
	}
	return strings.TrimSpace(res.Output), nil
}

// Check fails when the repository at path is dirty. A missing repository is
// ignored. With failOnError a dirty repository is an error straight away;
// otherwise the operator may choose to carry on.
func (s *Syncer) Check(ctx context.Context, path string, failOnError, intermediate bool) error {
	if !Exists(path) {
		s.logger.Debug("skip check of missing repository", zap.String("path", path))
		return nil
	}
	clean, err := s.IsCleanAndUpdated(ctx, path)
	if err != nil {
		return fmt.Errorf("repo: check %s: %w", path, err)
	}
	if clean {
		return nil
	}
	s.logger.Warn("repository not clean", zap.String("path", path), zap.Bool("intermediate", intermediate))
	if intermediate {
		fmt.Fprintf(s.out, "\nWARNING: Intermediate repository %s is not up to date with respect to the live repository.\n"+
			"A separate warning will not be issued for a build repository that is cloned off of the intermediate repository.\n", path)
	}
	if failOnError {
		return &DirtyError{Path: path}
	}
	ok, err := s.ask.YN(fmt.Sprintf("%s is not clean and up to date! Continue (answering 'n' will exit the script)?", path))
	if err != nil {
		return err
	}
	if !ok {
		return &DirtyError{Path: path}
	}
	return nil
}

// CheckAll runs Check on each path in order and stops at the first failure.
func (s *Syncer) CheckAll(ctx context.Context, paths []string, failOnError, intermediate bool) error {
	for _, p := range paths {
		if err := s.Check(ctx, p, failOnError, intermediate); err != nil {
			return err
		}
	}
	return nil
}

// CommitTagAndPush commits any pending changes as "new release <version>",
// tags the result <tagPrefix><version> and pushes branch and tags to origin.
// Nothing is rolled back if a later command fails.
func (s *Syncer) CommitTagAndPush(ctx context.Context, version, path, tagPrefix string) error {
	code, err := s.run.Status(ctx, shell.Cmd("git", "diff-index", "--quiet", "HEAD").In(path), false)
	if err != nil {
		return err
	}
	if code != 0 {
		if err := s.run.Check(ctx, shell.Cmd("git", "commit", "-a", "-m", "new release "+version).In(path)); err != nil {
			return fmt.Errorf("repo: commit in %s: %w", path, err)
		}
	}
	tagged, err := s.tagAtHead(ctx, path, tagPrefix+version)
	if err != nil {
		return err
	}
	if !tagged {
		if err := s.run.Check(ctx, shell.Cmd("git", "tag", tagPrefix+version).In(path)); err != nil {
			return fmt.Errorf("repo: tag in %s: %w", path, err)
		}
	}
	return s.Push(ctx, path)
}

// tagAtHead reports whether tag already names HEAD, as it does when a build
// is run again. A tag on any other commit is an error.
func (s *Syncer) tagAtHead(ctx context.Context, path, tag string) (bool, error) {
	res, err := s.run.Run(ctx, shell.Cmd("git", "rev-parse", "-q", "--verify", "refs/tags/"+tag+"^{commit}").In(path))
	if err != nil {
		return false, err
	}
	tagged := strings.TrimSpace(res.Output)
	if !res.OK() || tagged == "" {
		return false, nil
	}
	head, err := s.output(ctx, shell.Cmd("git", "rev-parse", "HEAD").In(path))
	if err != nil {
		return false, err
	}
	if tagged != head {
		return false, fmt.Errorf("repo: tag %s in %s already names commit %s, not HEAD %s", tag, path, tagged, head)
	}
	s.logger.Info("tag already at HEAD", zap.String("path", path), zap.String("tag", tag))
	return true, nil
}

// Push pushes tags and then the release branch.
func (s *Syncer) Push(ctx context.Context, path string) error {
	if err := s.run.Check(ctx, shell.Cmd("git", "push", "--tags").In(path)); err != nil {
		return fmt.Errorf("repo: push tags from %s: %w", path, err)
	}
	if err := s.run.Check(ctx, shell.Cmd("git", "push", "origin", s.branch).In(path)); err != nil {
		return fmt.Errorf("repo: push %s from %s: %w", s.branch, path, err)
	}
	return nil
}

// PushPromptIfFail pushes tags and the release branch, asking the operator
// whether to retry when the branch push fails. Declining skips the push
// without failing the run.
func (s *Syncer) PushPromptIfFail(ctx context.Context, path string) (pushed bool, err error) {
	for {
		if _, err := s.run.Status(ctx, shell.Cmd("git", "push", "--tags").In(path), false); err != nil {
			return false, err
		}
		cmd := shell.Cmd("git", "push", "origin", s.branch).In(path)
		code, err := s.run.Status(ctx, cmd, false)
		if err != nil {
			return false, err
		}
		if code == 0 {
			return true, nil
		}
		fmt.Fprintf(s.out, "Could not push from: %s; result=%d for command: `%s`\n", path, code, cmd)
		s.logger.Warn("push failed", zap.String("path", path), zap.Int("exit", code))
		again, err := s.ask.YN("Try again (responding 'n' will skip this push command but will not exit the script) ?")
		if err != nil {
			return false, err
		}
		if !again {
			return false, nil
		}
	}
}

// CommitForTag returns the commit tagged <prefix><revision>, trying each
// prefix in turn.
func (s *Syncer) CommitForTag(ctx context.Context, revision, path string, tagPrefixes ...string) (string, error) {
	for _, prefix := range tagPrefixes {
		res, err := s.run.Run(ctx, shell.Cmd("git", "rev-list", "--max-count=1", prefix+revision).In(path))
		if err != nil {
			return "", err
		}
		if !res.OK() {
			continue
		}
		if line, _, _ := strings.Cut(strings.TrimSpace(res.Output), "\n"); line != "" {
			return line, nil
		}
	}
	return "", fmt.Errorf("repo: could not find revision %s in %s using tags %s",
		revision, path, strings.Join(tagPrefixes, ","))
}

// WriteLogSince writes the commit log from tag to the release branch into dest.
func (s *Syncer) WriteLogSince(ctx context.Context, path, tag, dest string) error {
	cmd := shell.Cmd("git", "log", "--no-color", "--stat", tag+".."+s.branch).In(path)
	if _, err := s.run.RunToFile(ctx, cmd, dest, true); err != nil {
		return fmt.Errorf("repo: log since %s: %w", tag, err)
	}
	return nil
}

// WriteDiffSince writes the diff from tag to the release branch into dest.
func (s *Syncer) WriteDiffSince(ctx context.Context, path, tag, dest string) error {
	cmd := shell.Cmd("git", "diff", "--no-color", tag+".."+s.branch).In(path)
	if _, err := s.run.RunToFile(ctx, cmd, dest, true); err != nil {
		return fmt.Errorf("repo: diff since %s: %w", tag, err)
	}
	return nil
}

// Clean discards local work in the clone at path so that it matches origin
// again. A bare clone has its release branch forced back to origin's.
func (s *Syncer) Clean(ctx context.Context, path string) error {
	b := s.branch
	var cmds []shell.Command
	if IsBare(path) {
		cmds = []shell.Command{shell.Cmd("git", "fetch", "origin", "+"+b+":"+b)}
	} else {
		cmds = []shell.Command{
			shell.Cmd("git", "reset", "--hard"),
			shell.Cmd("git", "fetch", "origin"),
			shell.Cmd("git", "checkout", b),
			shell.Cmd("git", "reset", "--hard", "origin/"+b),
			shell.Cmd("git", "clean", "-fdx"),
		}
	}
	for _, cmd := range cmds {
		if err := s.run.Check(ctx, cmd.In(path)); err != nil {
			return fmt.Errorf("repo: clean %s: %w", path, err)
		}
	}
	return nil
}
