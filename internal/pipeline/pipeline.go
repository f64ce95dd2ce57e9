// Package pipeline assembles the build and push runbooks from the release
// building blocks and runs them step by step.
package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/kingrea/cfrelease/internal/config"
	"github.com/kingrea/cfrelease/internal/console"
	"github.com/kingrea/cfrelease/internal/linkcheck"
	"github.com/kingrea/cfrelease/internal/logbook"
	"github.com/kingrea/cfrelease/internal/progress"
	"github.com/kingrea/cfrelease/internal/prompt"
	"github.com/kingrea/cfrelease/internal/repo"
	"github.com/kingrea/cfrelease/internal/sanity"
	"github.com/kingrea/cfrelease/internal/shell"
	"github.com/kingrea/cfrelease/internal/step"
	"github.com/kingrea/cfrelease/internal/version"
	"github.com/kingrea/cfrelease/internal/workspace"
)

// VersionPattern is what the operator may enter as a release version.
const VersionPattern = `^\d+\.\d+\.\d+(\.\d+)?$`

// ToolChecker verifies that required programs are installed.
type ToolChecker interface {
	CheckTools(names ...string) error
}

// Deps are the collaborators both pipelines share.
type Deps struct {
	Config    *config.Config
	Workspace *workspace.Workspace
	Shell     shell.Runner
	Tools     ToolChecker
	Prompt    *prompt.Prompter
	Console   *console.Console
	Journal   *logbook.Logbook
	Logger    *zap.Logger
	HTTP      *http.Client
	RunID     string
}

func (d *Deps) check() error {
	switch {
	case d.Config == nil:
		return fmt.Errorf("pipeline: config is required")
	case d.Workspace == nil:
		return fmt.Errorf("pipeline: workspace is required")
	case d.Shell == nil:
		return fmt.Errorf("pipeline: shell is required")
	case d.Prompt == nil:
		return fmt.Errorf("pipeline: prompter is required")
	case d.Console == nil:
		return fmt.Errorf("pipeline: console is required")
	case len(d.Config.Release.Projects) == 0:
		return fmt.Errorf("pipeline: no projects configured")
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.HTTP == nil {
		d.HTTP = http.DefaultClient
	}
	return nil
}

func (d *Deps) syncer() *repo.Syncer {
	return repo.New(d.Shell, d.Prompt,
		repo.WithOutput(d.Console.Writer()),
		repo.WithLogger(d.Logger),
		repo.WithBranch(d.Config.Branch()))
}

func (d *Deps) flag() *progress.Flag {
	return progress.New(d.Workspace.CompletionFlagPath())
}

func (d *Deps) intermRepo(p config.Project) repo.Repository {
	return repo.Repository{
		Name:   p.Name,
		Remote: p.Remote,
		Path:   d.Workspace.IntermRepo(p.Name),
		Bare:   true,
	}
}

func (d *Deps) buildRepo(p config.Project) repo.Repository {
	return repo.Repository{
		Name:   p.Name,
		Remote: d.Workspace.IntermRepo(p.Name),
		Path:   d.Workspace.BuildRepo(p.Name),
	}
}

// primary is the project whose build clone holds the release scripts and
// the Maven build.
func (d *Deps) primary() config.Project {
	return d.Config.Release.Projects[0]
}

func (d *Deps) scriptsDir() string {
	return filepath.Join(d.Workspace.BuildRepo(d.primary().Name), "docs", "developer", "release")
}

func (d *Deps) linkChecker() *linkcheck.Checker {
	lc := d.Config.Release.LinkChecker
	script := lc.Script
	if script == "" {
		script = filepath.Join(d.scriptsDir(), "checkLinks.sh")
	}
	return linkcheck.New(d.Shell, d.Prompt, script, lc.Checklink,
		linkcheck.WithOutput(d.Console.Writer()),
		linkcheck.WithLogger(d.Logger))
}

func (d *Deps) sanityRunner() *sanity.Runner {
	return sanity.New(d.Shell,
		sanity.WithHTTPClient(d.HTTP),
		sanity.WithOutput(d.Console.Writer()),
		sanity.WithLogger(d.Logger))
}

// liveVersion scrapes the version currently published on the live site.
func (d *Deps) liveVersion(ctx context.Context) (string, error) {
	live, err := version.FromWebsite(ctx, d.HTTP, d.Config.Release.LiveSite.URL)
	if err != nil {
		return "", fmt.Errorf("pipeline: read live version: %w", err)
	}
	return live, nil
}

// checkLinks runs the link checker on one site. A version names the
// not-yet-published zip whose broken link is expected.
func (d *Deps) checkLinks(ctx context.Context, name, siteURL, v string, testMode bool) error {
	site := linkcheck.Site{
		Name:   name,
		URL:    siteURL,
		Report: d.Workspace.LinkReportPath(name),
	}
	if v != "" {
		site.Suppress = linkcheck.SuppressFor(d.Config.Release.LinkChecker.Suppress, v)
	}
	return d.linkChecker().CheckAll(ctx, []linkcheck.Site{site}, testMode)
}

// sanityChecks resolves the configured checks for the named site.
func (d *Deps) sanityChecks(site, siteURL, v string) []sanity.Check {
	var checks []sanity.Check
	for _, sc := range d.Config.SanityChecksFor(site) {
		dir := d.Workspace.SanityDir(sc.Name)
		checks = append(checks, sanity.FromConfig(sc, siteURL, v, dir, d.scriptsDir()))
	}
	return checks
}

func (d *Deps) runner(observe step.Observer) *step.Runner {
	return step.NewRunner(d.Console,
		step.WithJournal(d.Journal),
		step.WithLogger(d.Logger),
		step.WithObserver(observe))
}

// CheckLinks runs the link checker on siteURL outside of a pipeline.
func CheckLinks(ctx context.Context, d Deps, siteURL string) error {
	if err := d.check(); err != nil {
		return err
	}
	return d.checkLinks(ctx, "adhoc", siteURL, "", true)
}

// Sanity runs every sanity check configured for site against the
// distribution of version v published at siteURL.
func Sanity(ctx context.Context, d Deps, site, siteURL, v string) error {
	if err := d.check(); err != nil {
		return err
	}
	checks := d.sanityChecks(site, siteURL, v)
	if len(checks) == 0 {
		return fmt.Errorf("pipeline: no sanity checks configured for %s", site)
	}
	runner := d.sanityRunner()
	for _, c := range checks {
		if err := runner.Run(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func projectNames(projects []config.Project) []string {
	names := make([]string, len(projects))
	for i, p := range projects {
		names[i] = p.Name
	}
	return names
}

func expandVersion(s, v string) string {
	return strings.ReplaceAll(s, "{version}", v)
}
