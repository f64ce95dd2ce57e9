// Package linkcheck runs the external link-checking script over a website
// and turns a non-empty report into a decision for the operator.
package linkcheck

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/kingrea/cfrelease/internal/files"
	"github.com/kingrea/cfrelease/internal/shell"
)

// Site is one website to check.
type Site struct {
	// Name is "dev" or "live".
	Name string
	URL  string
	// Report is the file the script output is written to.
	Report string
	// Suppress is a broken link to ignore, as "<status>:<url>". Empty for none.
	Suppress string
}

// Error is returned when the operator declines to continue past broken links.
type Error struct {
	Reports []string
	Release bool
}

func (e *Error) Error() string {
	pushCmd := "cfrelease push"
	if e.Release {
		pushCmd += " release"
	}
	return "The link checker reported errors.  Please fix them by committing changes to the\n" +
		"mainline repository and pushing them to GitHub, then updating the development\n" +
		"and live sites by running\n" +
		"  cfrelease build all\n" +
		"  " + pushCmd + "\n"
}

// Confirmer asks a yes/no question with a default.
type Confirmer interface {
	YesNo(msg string, def bool) (bool, error)
}

// Checker runs checkLinks.sh.
type Checker struct {
	run       shell.Runner
	ask       Confirmer
	script    string
	checklink string
	out       io.Writer
	logger    *zap.Logger
}

// Option customizes a Checker.
type Option func(*Checker)

// WithOutput sets where report locations are printed.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) {
		if w != nil {
			c.out = w
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Checker) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Checker for script. checklink is the directory of the
// checklink program the script expects in $CHECKLINK.
func New(run shell.Runner, ask Confirmer, script, checklink string, opts ...Option) *Checker {
	c := &Checker{run: run, ask: ask, script: script, checklink: checklink, out: os.Stdout, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run checks siteURL and writes everything the script prints to out,
// replacing any earlier report. The script's exit status is not consulted;
// the report content is the result.
func (c *Checker) Run(ctx context.Context, siteURL, out, suppress string) error {
	if err := files.DeleteIfExists(out); err != nil {
		return err
	}
	args := []string{"sh", c.script}
	if suppress != "" {
		args = append(args, "--suppress-broken "+suppress)
	}
	args = append(args, siteURL)
	cmd := shell.Cmd(args...).With("CHECKLINK", c.checklink)
	code, err := c.run.RunToFile(ctx, cmd, out, false)
	if err != nil {
		return fmt.Errorf("linkcheck: %s: %w", siteURL, err)
	}
	c.logger.Info("link check finished", zap.String("site", siteURL), zap.String("report", out), zap.Int("exit", code))
	return nil
}

// IsEmpty reports a zero-byte report, meaning no broken links.
func IsEmpty(path string) (bool, error) {
	return files.IsEmpty(path)
}

// CheckAll checks every site. For each non-empty report the operator is
// shown its location and asked whether to continue; declining returns
// *Error. testMode selects the push command named in the remediation text.
func (c *Checker) CheckAll(ctx context.Context, sites []Site, testMode bool) error {
	for _, s := range sites {
		if err := c.Run(ctx, s.URL, s.Report, s.Suppress); err != nil {
			return err
		}
		empty, err := IsEmpty(s.Report)
		if err != nil {
			return fmt.Errorf("linkcheck: %w", err)
		}
		if empty {
			fmt.Fprintf(c.out, "No broken links on %s\n", s.URL)
			continue
		}
		c.logger.Warn("broken links reported", zap.String("site", s.Name), zap.String("report", s.Report))
		fmt.Fprintf(c.out, "Link checker results can be found at:\n\n\t%s\n\n", s.Report)
		ok, err := c.ask.YesNo("Continue despite link checker results?", true)
		if err != nil {
			return err
		}
		if !ok {
			return &Error{Reports: []string{s.Report}, Release: !testMode}
		}
	}
	return nil
}

// SuppressFor expands {version} in a configured suppression template.
func SuppressFor(template, version string) string {
	return strings.ReplaceAll(template, "{version}", version)
}
