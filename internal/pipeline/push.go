package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/kingrea/cfrelease/internal/announce"
	"github.com/kingrea/cfrelease/internal/config"
	"github.com/kingrea/cfrelease/internal/files"
	"github.com/kingrea/cfrelease/internal/progress"
	"github.com/kingrea/cfrelease/internal/repo"
	"github.com/kingrea/cfrelease/internal/shell"
	"github.com/kingrea/cfrelease/internal/step"
	"github.com/kingrea/cfrelease/internal/version"
	"github.com/kingrea/cfrelease/internal/workspace"
)

// Gradle reads project properties from ORG_GRADLE_PROJECT_* variables, which
// keeps the signing passphrase off the command line.
const passphraseEnv = "ORG_GRADLE_PROJECT_signing.gnupg.passphrase"

const testModeMessage = "You have chosen test mode.\n" +
	"This means that this script will execute all build steps that do not have side effects.  " +
	"That is, this is a test run of the script.  All checks and user prompts will be shown but " +
	"no steps will be executed that will cause the release to be deployed or partially deployed.\n" +
	"If you meant to do an actual release, re-run with one argument: cfrelease push release"

const releaseModeMessage = "You have chosen release mode.  " +
	"Please follow the prompts to run a full Checker Framework release."

// PushOptions are the command-line choices of a push.
type PushOptions struct {
	// Release turns off test mode. Without it nothing is deployed.
	Release bool
}

// Push promotes a built release: Maven Central, the live site, the public
// repositories and the announcement.
type Push struct {
	deps     Deps
	opts     PushOptions
	projects []config.Project
	syncer   *repo.Syncer
	flag     *progress.Flag

	record  *progress.Record
	version string
}

// NewPush prepares a push.
func NewPush(d Deps, opts PushOptions) (*Push, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	return &Push{
		deps:     d,
		opts:     opts,
		projects: d.Config.Release.Projects,
		syncer:   d.syncer(),
		flag:     d.flag(),
	}, nil
}

// TestMode reports whether side effects are skipped.
func (p *Push) TestMode() bool { return !p.opts.Release }

// Version is the version being pushed, once it has been decided.
func (p *Push) Version() string { return p.version }

// Sequence lists the push steps in order. The manual follow-up steps only
// exist in release mode.
func (p *Push) Sequence() *step.Sequence {
	seq := step.NewSequence("Push Step")
	seq.MustAdd(
		step.New("check-versions", "Check release versions", step.KindSemiAuto, p.checkVersions),
		step.New("dev-links", "Check links on development site", step.KindSemiAuto, p.devLinks),
		step.New("dev-sanity", "Run development sanity tests", step.KindSemiAuto, p.devSanity),
		step.New("all-tests", "Run all tests (takes a long time)", step.KindSemiAuto, p.allTests),
		step.New("stage-maven", "Stage Maven artifacts in Central", step.KindSemiAuto, p.stageMaven),
		step.New("copy-live", "Copy dev current release website to live website", step.KindSemiAuto, p.copyToLive),
		step.New("live-sanity", "Run javac sanity tests on the live release", step.KindSemiAuto, p.liveSanity),
		step.New("live-links", "Check live site links", step.KindSemiAuto, p.liveLinks),
		step.New("push-repos", "Push changes to repositories", step.KindSemiAuto, p.pushRepos),
		step.New("publish-maven", "Publish staged artifacts in Central Repository", step.KindManual, p.publishMaven),
	)
	if p.opts.Release {
		seq.MustAdd(
			step.New("github-release", "Release the Checker Framework on GitHub", step.KindManual, p.githubRelease),
			step.New("announce", "Announce the release", step.KindManual, p.announce),
			step.New("next-release", "Prep for next Checker Framework release", step.KindManual, p.nextRelease),
			step.New("gradle-plugin", "Update the Checker Framework Gradle plugin", step.KindManual, p.gradlePlugin),
		)
	}
	return seq
}

// Run checks the preconditions, executes every push step and finally
// removes the completion flag.
func (p *Push) Run(ctx context.Context) error {
	files.AllowGroupWrite()
	if err := p.preconditions(); err != nil {
		return err
	}
	p.deps.Logger.Info("push started", zap.String("run", p.deps.RunID), zap.Bool("release", p.opts.Release))
	if _, err := p.deps.runner(nil).Run(ctx, p.Sequence()); err != nil {
		return err
	}
	if err := p.flag.Clear(); err != nil {
		return err
	}
	p.deps.Console.Printf("Done with cfrelease push.\n")
	return nil
}

func (p *Push) preconditions() error {
	settings := p.deps.Config.Release.Maven.Settings
	if !files.Exists(settings) {
		return fmt.Errorf("File does not exist: %s", settings)
	}
	msg, mode := testModeMessage, "test mode"
	if p.opts.Release {
		msg, mode = releaseModeMessage, "release mode"
	}
	p.deps.Console.Banner("cfrelease push: " + mode)
	if err := p.deps.Prompt.ContinueOrExit(msg + "\n"); err != nil {
		return err
	}
	p.deps.Console.Printf("Continuing in %s.\n", mode)

	res, err := p.flag.Check()
	switch {
	case res.State == progress.StateMissing:
		if err := p.deps.Prompt.ContinueOrExit("It appears that cfrelease build has not been run since the last push.  " +
			"Please ensure it has been run."); err != nil {
			return err
		}
	case err != nil:
		p.deps.Logger.Warn("unreadable build record", zap.String("path", res.Path), zap.Error(err))
	case res.Record != nil:
		p.record = res.Record
	}
	return nil
}

// decideVersion takes the version from the build record, or asks when the
// record does not say.
func (p *Push) decideVersion(live string) (string, error) {
	if p.record != nil && p.record.Version != "" {
		return p.record.Version, nil
	}
	suggested, err := version.Increment(live)
	if err != nil {
		return "", err
	}
	return p.deps.Prompt.WithDefault("Version being released", suggested, VersionPattern)
}

func (p *Push) checkVersions(ctx context.Context) (step.Result, error) {
	live, err := p.deps.liveVersion(ctx)
	if err != nil {
		return step.Result{}, err
	}
	v, err := p.decideVersion(live)
	if err != nil {
		return step.Result{}, err
	}
	if err := version.CheckRelease(live, v); err != nil {
		return step.Result{}, err
	}
	p.version = v
	p.deps.Console.Printf("Checker Framework:  current-version=%s    new-version=%s\n", live, v)
	return step.Done(), nil
}

func (p *Push) devLinks(ctx context.Context) (step.Result, error) {
	ok, err := p.deps.Prompt.YesNo("Run link checker on DEV site?", true)
	if err != nil {
		return step.Result{}, err
	}
	if !ok {
		return declined(), nil
	}
	if err := p.deps.checkLinks(ctx, "dev", p.deps.Config.Release.DevSite.URL, p.version, p.TestMode()); err != nil {
		return step.Result{}, err
	}
	return step.Done(), nil
}

func (p *Push) devSanity(ctx context.Context) (step.Result, error) {
	ok, err := p.deps.Prompt.YesNo("Perform this step?", true)
	if err != nil {
		return step.Result{}, err
	}
	if !ok {
		return declined(), nil
	}
	for _, c := range p.deps.sanityChecks("dev", p.deps.Config.Release.DevSite.URL, p.version) {
		ok, err := p.deps.Prompt.YesNo(fmt.Sprintf("Run %s sanity test on development release?", c.Name), true)
		if err != nil {
			return step.Result{}, err
		}
		if !ok {
			continue
		}
		if err := p.deps.sanityRunner().Run(ctx, c); err != nil {
			return step.Result{}, err
		}
	}
	return step.Done(), nil
}

func (p *Push) allTests(ctx context.Context) (step.Result, error) {
	ok, err := p.deps.Prompt.YesNo("Perform this step?", true)
	if err != nil {
		return step.Result{}, err
	}
	if !ok {
		return declined(), nil
	}
	cmd := shell.Cmd(p.deps.Config.Release.Maven.TestCommand...).In(p.deps.Workspace.BuildRepo(p.deps.primary().Name))
	if err := p.deps.Shell.Check(ctx, cmd); err != nil {
		return step.Result{}, err
	}
	return step.Done(), nil
}

func (p *Push) stageMaven(ctx context.Context) (step.Result, error) {
	ok, err := p.deps.Prompt.YesNo("Stage Maven artifacts in Maven Central?", p.opts.Release)
	if err != nil {
		return step.Result{}, err
	}
	if !ok {
		return declined(), nil
	}
	maven := p.deps.Config.Release.Maven
	args := append([]string(nil), maven.Publish...)
	if maven.KeyName != "" {
		args = append(args, "-Psigning.gnupg.keyName="+maven.KeyName)
	}
	cmd := shell.Cmd(args...).In(p.deps.Workspace.BuildRepo(p.deps.primary().Name))
	if maven.PassphraseFile != "" {
		passphrase, err := files.ReadFirstLine(maven.PassphraseFile)
		if err != nil {
			return step.Result{}, fmt.Errorf("read signing passphrase: %w", err)
		}
		cmd = cmd.WithSecret(passphraseEnv, passphrase)
	}
	if err := p.deps.Shell.Check(ctx, cmd); err != nil {
		return step.Result{}, err
	}

	text, err := announce.CloseStaging()
	if err != nil {
		return step.Result{}, err
	}
	p.deps.Console.Instructions(text)
	if err := p.deps.Prompt.ContinueOrExit("Close the staged artifacts."); err != nil {
		return step.Result{}, err
	}
	return step.Done(), nil
}

func (p *Push) copyToLive(context.Context) (step.Result, error) {
	if p.TestMode() {
		return step.Skipped("Test mode: Skipping copy to live site!"), nil
	}
	ok, err := p.deps.Prompt.YesNo("Copy release to the live website?", false)
	if err != nil {
		return step.Result{}, err
	}
	if !ok {
		return declined(), nil
	}
	p.deps.Console.Printf("Copying to live site\n")
	if err := CopyToLive(p.deps.Config.Release.DevSite.Dir, p.deps.Config.Release.LiveSite.Dir, p.version); err != nil {
		return step.Result{}, err
	}
	return step.Done(), nil
}

// CopyToLive copies the release directory of v from the dev site to the live
// site, promotes it to the top level of the live site and copies .htaccess.
func CopyToLive(devDir, liveDir, v string) error {
	src := workspace.ReleaseDir(devDir, v)
	dst := workspace.ReleaseDir(liveDir, v)
	if err := files.DeleteIfExists(dst); err != nil {
		return err
	}
	if files.Exists(dst) {
		return fmt.Errorf("Destination location exists: %s", dst)
	}
	if err := files.CopyTree(src, dst); err != nil {
		return err
	}
	// The previous release's API docs would otherwise linger next to the new ones.
	if err := files.DeleteIfExists(filepath.Join(liveDir, "api")); err != nil {
		return err
	}
	if err := files.CopyTree(dst, liveDir); err != nil {
		return err
	}
	htaccess := filepath.Join(liveDir, ".htaccess")
	if err := files.CopyFile(filepath.Join(devDir, ".htaccess"), htaccess); err != nil {
		return err
	}
	for _, path := range []string{htaccess, dst} {
		if err := files.EnsureGroupAccess(path); err != nil {
			return err
		}
	}
	return nil
}

func (p *Push) liveSanity(ctx context.Context) (step.Result, error) {
	if p.TestMode() {
		return step.Skipped("Test mode: Skipping javac sanity tests on the live release."), nil
	}
	ok, err := p.deps.Prompt.YesNo("Run javac sanity test on live release?", true)
	if err != nil {
		return step.Result{}, err
	}
	if !ok {
		return declined(), nil
	}
	runner := p.deps.sanityRunner()
	for _, c := range p.deps.sanityChecks("live", p.deps.Config.Release.LiveSite.URL, p.version) {
		if err := runner.Run(ctx, c); err != nil {
			return step.Result{}, err
		}
	}
	script := p.deps.Config.Release.Maven.SanityScript
	if script == "" {
		script = filepath.Join(p.deps.scriptsDir(), "test-checker-framework.sh")
	}
	if err := runner.RunScript(ctx, script, p.version, p.deps.Workspace.SanityDir("test-checker-framework")); err != nil {
		return step.Result{}, err
	}
	return step.Done(), nil
}

func (p *Push) liveLinks(ctx context.Context) (step.Result, error) {
	if p.TestMode() {
		return step.Skipped("Test mode: Skipping checking of live site links."), nil
	}
	ok, err := p.deps.Prompt.YesNo("Run link checker on LIVE site?", true)
	if err != nil {
		return step.Result{}, err
	}
	if !ok {
		return declined(), nil
	}
	if err := p.deps.checkLinks(ctx, "live", p.deps.Config.Release.LiveSite.URL, "", false); err != nil {
		return step.Result{}, err
	}
	return step.Done(), nil
}

func (p *Push) pushRepos(ctx context.Context) (step.Result, error) {
	if p.TestMode() {
		return step.Skipped("Test mode: Skipping push to GitHub!"), nil
	}
	ok, err := p.deps.Prompt.YesNo("Push the release to GitHub repositories?  This is irreversible.", true)
	if err != nil {
		return step.Result{}, err
	}
	if !ok {
		return declined(), nil
	}
	for _, proj := range p.projects {
		path := p.deps.Workspace.IntermRepo(proj.Name)
		if !repo.Exists(path) {
			continue
		}
		pushed, err := p.syncer.PushPromptIfFail(ctx, path)
		if err != nil {
			return step.Result{}, err
		}
		if !pushed {
			p.deps.Journal.Warn("push-repos", "%s was not pushed", proj.Name)
		}
	}
	p.deps.Console.Printf("Pushed to repos\n")
	return step.Done(), nil
}

func (p *Push) publishMaven(context.Context) (step.Result, error) {
	text, err := announce.Publish(p.release())
	if err != nil {
		return step.Result{}, err
	}
	p.deps.Console.Instructions(text)
	if err := p.deps.Prompt.UntilYes(); err != nil {
		return step.Result{}, err
	}
	if p.TestMode() {
		p.deps.Console.Printf("Test complete\n")
	}
	return step.Done(), nil
}

func (p *Push) githubRelease(context.Context) (step.Result, error) {
	text, err := announce.GitHubRelease(p.release())
	if err != nil {
		return step.Result{}, err
	}
	return p.manual(text, "Publish the GitHub release.")
}

func (p *Push) announce(context.Context) (step.Result, error) {
	email, err := announce.Email(p.release())
	if err != nil {
		return step.Result{}, err
	}
	p.deps.Console.Printf("Please announce the release using the email structure below.\n")
	p.deps.Console.Verbatim(email)
	if err := p.deps.Prompt.ContinueOrExit("Send the announcement."); err != nil {
		return step.Result{}, err
	}
	return step.Done(), nil
}

func (p *Push) nextRelease(context.Context) (step.Result, error) {
	text, err := announce.NextRelease(p.release())
	if err != nil {
		return step.Result{}, err
	}
	return p.manual(text, "Bump the development version.")
}

func (p *Push) gradlePlugin(context.Context) (step.Result, error) {
	p.deps.Console.Printf("You might have to wait for Maven Central to propagate changes.\n")
	text, err := announce.GradlePlugin(p.release())
	if err != nil {
		return step.Result{}, err
	}
	if _, err := p.manual(text, "Update the Gradle plugin."); err != nil {
		return step.Result{}, err
	}
	examples, err := announce.PluginExamples()
	if err != nil {
		return step.Result{}, err
	}
	return p.manual(examples, "Open the pull request.")
}

func declined() step.Result {
	return step.Skipped("Skipped at the operator's request.")
}

// manual shows instructions and waits at a continue-or-exit gate.
func (p *Push) manual(instructions, gate string) (step.Result, error) {
	p.deps.Console.Instructions(instructions)
	if err := p.deps.Prompt.ContinueOrExit(gate); err != nil {
		return step.Result{}, err
	}
	return step.Done(), nil
}

func (p *Push) release() announce.Release {
	a := p.deps.Config.Release.Announcement
	return announce.Release{
		Version:      p.version,
		To:           a.To,
		ChangelogURL: a.ChangelogURL,
		LiveURL:      p.deps.Config.Release.LiveSite.URL,
		GitHubRepo:   a.GitHubRepo,
		TagPrefix:    p.deps.primary().TagPrefix,
		PluginURL:    a.PluginURL,
		TestMode:     p.TestMode(),
	}
}
