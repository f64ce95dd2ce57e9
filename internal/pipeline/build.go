package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/kingrea/cfrelease/internal/config"
	"github.com/kingrea/cfrelease/internal/files"
	"github.com/kingrea/cfrelease/internal/progress"
	"github.com/kingrea/cfrelease/internal/repo"
	"github.com/kingrea/cfrelease/internal/shell"
	"github.com/kingrea/cfrelease/internal/step"
	"github.com/kingrea/cfrelease/internal/version"
	"github.com/kingrea/cfrelease/internal/workspace"
)

// BuildOptions are the command-line choices of a build.
type BuildOptions struct {
	// Projects selects what to build; empty or "all" builds everything.
	Projects []string
	// NoTest skips build commands marked slow.
	NoTest bool
}

// Build stages a release on the development site.
type Build struct {
	deps     Deps
	opts     BuildOptions
	projects []config.Project
	syncer   *repo.Syncer
	flag     *progress.Flag

	previous  string
	version   string
	completed []string
}

// NewBuild prepares a build of the selected projects.
func NewBuild(d Deps, opts BuildOptions) (*Build, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	projects, err := d.Config.SelectProjects(opts.Projects)
	if err != nil {
		return nil, err
	}
	return &Build{
		deps:     d,
		opts:     opts,
		projects: projects,
		syncer:   d.syncer(),
		flag:     d.flag(),
	}, nil
}

// Version is the version being built, once it has been decided.
func (b *Build) Version() string { return b.version }

// Projects are the projects the build covers, dependencies included.
func (b *Build) Projects() []config.Project { return b.projects }

// Sequence lists the build steps in order.
func (b *Build) Sequence() *step.Sequence {
	seq := step.NewSequence("Build Step")
	seq.MustAdd(
		step.New("delete-flag", "Delete the old build-completed flag", step.KindAuto, b.deleteFlag),
		step.New("sync-repos", "Clone or update repositories", step.KindSemiAuto, b.syncRepos),
		step.New("check-repos", "Check that repositories are clean and up to date", step.KindAuto, b.checkRepos),
		step.New("check-tools", "Check that required tools are installed", step.KindAuto, b.checkTools),
		step.New("decide-version", "Determine the release version", step.KindSemiAuto, b.decideVersion),
		step.New("review-changes", "Review changes since the previous release", step.KindManual, b.reviewChanges),
		step.New("build-projects", "Build release", step.KindAuto, b.buildProjects),
		step.New("commit-tag-push", "Commit, tag and push to the intermediate repositories", step.KindAuto, b.commitTagPush),
		step.New("group-access", "Grant group access to published files", step.KindAuto, b.groupAccess),
		step.New("write-flag", "Write the build-completed flag", step.KindAuto, b.writeFlag),
	)
	return seq
}

// Run executes every build step.
func (b *Build) Run(ctx context.Context) error {
	files.AllowGroupWrite()
	b.deps.Logger.Info("build started",
		zap.String("run", b.deps.RunID),
		zap.Strings("projects", projectNames(b.projects)),
		zap.Bool("notest", b.opts.NoTest))
	_, err := b.deps.runner(func(info step.Info, res step.Result) {
		if res.Status == step.StatusCompleted {
			b.completed = append(b.completed, info.ID)
		}
	}).Run(ctx, b.Sequence())
	if err != nil {
		return err
	}
	b.deps.Console.Printf("\nDone with cfrelease build. Run `cfrelease push` next.\n")
	return nil
}

func (b *Build) deleteFlag(context.Context) (step.Result, error) {
	if err := b.flag.Clear(); err != nil {
		return step.Result{}, err
	}
	return step.Done(), nil
}

func (b *Build) syncRepos(ctx context.Context) (step.Result, error) {
	answer, err := b.deps.Prompt.Choice("Clone repositories from scratch, update them in place, or skip?",
		"update", "scratch", "update", "skip")
	if err != nil {
		return step.Result{}, err
	}
	if answer == "skip" {
		return step.Skipped("Skipping repository sync."), nil
	}
	fromScratch := answer == "scratch"
	for _, p := range b.projects {
		if err := b.syncer.CloneOrUpdate(ctx, b.deps.intermRepo(p), fromScratch); err != nil {
			return step.Result{}, err
		}
		if err := b.syncer.CloneOrUpdate(ctx, b.deps.buildRepo(p), fromScratch); err != nil {
			return step.Result{}, err
		}
	}
	return step.Done(), nil
}

func (b *Build) checkRepos(ctx context.Context) (step.Result, error) {
	var interm, build []string
	for _, p := range b.projects {
		interm = append(interm, b.deps.Workspace.IntermRepo(p.Name))
		build = append(build, b.deps.Workspace.BuildRepo(p.Name))
	}
	if err := b.syncer.CheckAll(ctx, interm, false, true); err != nil {
		return step.Result{}, err
	}
	if err := b.syncer.CheckAll(ctx, build, true, false); err != nil {
		return step.Result{}, err
	}
	return step.Done(), nil
}

func (b *Build) checkTools(context.Context) (step.Result, error) {
	tools := b.deps.Config.Release.Tools
	if len(tools) == 0 || b.deps.Tools == nil {
		return step.Skipped("No tools to check."), nil
	}
	if err := b.deps.Tools.CheckTools(tools...); err != nil {
		return step.Result{}, err
	}
	return step.Done(), nil
}

func (b *Build) decideVersion(ctx context.Context) (step.Result, error) {
	live, err := b.deps.liveVersion(ctx)
	if err != nil {
		return step.Result{}, err
	}
	suggested, err := version.Increment(live)
	if err != nil {
		return step.Result{}, err
	}
	b.deps.Console.Printf("Current release on %s is %s.\n", b.deps.Config.Release.LiveSite.URL, live)
	chosen, err := b.deps.Prompt.WithDefault("Version for this release", suggested, VersionPattern)
	if err != nil {
		return step.Result{}, err
	}
	if err := version.CheckRelease(live, chosen); err != nil {
		return step.Result{}, err
	}
	b.previous, b.version = live, chosen
	b.deps.Console.Printf("Checker Framework:  current-version=%s    new-version=%s\n", live, chosen)
	return step.Done(), nil
}

func (b *Build) reviewChanges(ctx context.Context) (step.Result, error) {
	ok, err := b.deps.Prompt.YesNo("Review the changes since the previous release?", false)
	if err != nil {
		return step.Result{}, err
	}
	if !ok {
		return step.Skipped("Skipping change review."), nil
	}
	dir := b.deps.Workspace.ReviewDir()
	for _, p := range b.projects {
		path := b.deps.Workspace.IntermRepo(p.Name)
		tag := p.TagPrefix + b.previous
		if _, err := b.syncer.CommitForTag(ctx, b.previous, path, p.TagPrefix); err != nil {
			b.deps.Console.Note(fmt.Sprintf("%s has no tag %s; nothing to review.", p.Name, tag))
			continue
		}
		logPath := filepath.Join(dir, p.Name+".log")
		diffPath := filepath.Join(dir, p.Name+".diff")
		if err := b.syncer.WriteLogSince(ctx, path, tag, logPath); err != nil {
			return step.Result{}, err
		}
		if err := b.syncer.WriteDiffSince(ctx, path, tag, diffPath); err != nil {
			return step.Result{}, err
		}
		b.deps.Console.Printf("Changes to %s since %s:\n\t%s\n\t%s\n", p.Name, tag, logPath, diffPath)
	}
	if err := b.deps.Prompt.UntilYes(); err != nil {
		return step.Result{}, err
	}
	return step.Done(), nil
}

func (b *Build) buildProjects(ctx context.Context) (step.Result, error) {
	releaseDir := workspace.ReleaseDir(b.deps.Config.Release.DevSite.Dir, b.version)
	if err := files.Reset(releaseDir); err != nil {
		return step.Result{}, err
	}
	for _, p := range b.projects {
		if err := b.buildProject(ctx, p, releaseDir); err != nil {
			return step.Result{}, fmt.Errorf("build %s: %w", p.Name, err)
		}
	}
	return step.Done(), nil
}

func (b *Build) buildProject(ctx context.Context, p config.Project, releaseDir string) error {
	root := b.deps.Workspace.BuildRepo(p.Name)
	for _, bc := range p.Build {
		if bc.Slow && b.opts.NoTest {
			b.deps.Console.Note(fmt.Sprintf("--notest: skipping %s", shell.Cmd(bc.Run...)))
			continue
		}
		args := make([]string, len(bc.Run))
		for i, a := range bc.Run {
			args[i] = expandVersion(a, b.version)
		}
		dir := root
		if bc.Dir != "" {
			dir = filepath.Join(root, bc.Dir)
		}
		if err := b.deps.Shell.Check(ctx, shell.Cmd(args...).In(dir)); err != nil {
			return err
		}
	}
	for _, out := range p.Outputs {
		from := filepath.Join(root, expandVersion(out.From, b.version))
		to := filepath.Join(releaseDir, expandVersion(out.To, b.version))
		if err := files.CopyTree(from, to); err != nil {
			return err
		}
	}
	return nil
}

func (b *Build) commitTagPush(ctx context.Context) (step.Result, error) {
	for _, p := range b.projects {
		if err := b.syncer.CommitTagAndPush(ctx, b.version, b.deps.Workspace.BuildRepo(p.Name), p.TagPrefix); err != nil {
			return step.Result{}, err
		}
	}
	return step.Done(), nil
}

func (b *Build) groupAccess(context.Context) (step.Result, error) {
	paths := []string{workspace.ReleaseDir(b.deps.Config.Release.DevSite.Dir, b.version)}
	for _, p := range b.projects {
		paths = append(paths, b.deps.Workspace.IntermRepo(p.Name))
	}
	for _, path := range paths {
		// Files owned by other members of the group cannot be changed and
		// do not need to be.
		if err := files.EnsureGroupAccess(path); err != nil {
			b.deps.Logger.Warn("group access incomplete", zap.String("path", path), zap.Error(err))
		}
	}
	return step.Done(), nil
}

func (b *Build) writeFlag(context.Context) (step.Result, error) {
	last := ""
	if n := len(b.completed); n > 0 {
		last = b.completed[n-1]
	}
	rec := progress.Record{
		RunID:    b.deps.RunID,
		Version:  b.version,
		Projects: projectNames(b.projects),
		Steps:    append([]string(nil), b.completed...),
		LastStep: last,
	}
	if err := b.flag.Write(rec); err != nil {
		return step.Result{}, err
	}
	b.deps.Console.Printf("Wrote %s\n", b.flag.Path())
	return step.Done(), nil
}
