// Package announce renders the texts the operator acts on by hand once a
// release is pushed: Maven Central instructions, the GitHub release, the
// announcement e-mail and the follow-up chores.
package announce

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/kingrea/cfrelease/internal/version"
)

//go:embed templates/*.tmpl
var bundled embed.FS

var templates = template.Must(template.ParseFS(bundled, "templates/*.tmpl"))

// Release holds everything the templates refer to.
type Release struct {
	Version      string
	To           string
	ChangelogURL string
	// LiveURL is the live site with a trailing slash.
	LiveURL    string
	GitHubRepo string
	TagPrefix  string
	PluginURL  string
	TestMode   bool
}

// NextSnapshot is the development version that follows Version.
func (r Release) NextSnapshot() (string, error) {
	return version.NextSnapshot(r.Version)
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("announce: render %s: %w", name, err)
	}
	return strings.TrimRight(buf.String(), "\n") + "\n", nil
}

// Email is the release announcement, ready to paste into a mail client.
func Email(r Release) (string, error) {
	return render("email.tmpl", r)
}

// GitHubRelease explains how to publish the release on GitHub.
func GitHubRelease(r Release) (string, error) {
	return render("github_release.md.tmpl", r)
}

// CloseStaging explains how to close the staged Maven repository.
func CloseStaging() (string, error) {
	return render("close_staging.md.tmpl", nil)
}

// Publish tells the operator to publish the staged artifacts, or to drop
// them in test mode.
func Publish(r Release) (string, error) {
	return render("publish.md.tmpl", r)
}

// NextRelease explains the version bump that opens the next development cycle.
func NextRelease(r Release) (string, error) {
	next, err := r.NextSnapshot()
	if err != nil {
		return "", err
	}
	return render("next_release.md.tmpl", struct{ NextSnapshot string }{next})
}

// GradlePlugin reminds the operator to update the Gradle plugin.
func GradlePlugin(r Release) (string, error) {
	return render("gradle_plugin.md.tmpl", r)
}

// PluginExamples reminds the operator to bump the plugin in the examples.
func PluginExamples() (string, error) {
	return render("plugin_examples.md.tmpl", nil)
}
