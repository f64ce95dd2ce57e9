// internal/config/config.go
//
// This package loads the release configuration: where the scratch tree lives,
// which projects are released, which sites they are staged to, and the
// environment the external tools run with.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// Dir is the per-operator directory holding the default config file.
	Dir = ".cfrelease"

	// EnvConfigPath overrides the default config location.
	EnvConfigPath = "CFRELEASE_CONFIG"

	fileName      = "config.yaml"
	defaultBranch = "master"
)

const defaultReleaseConfigYAML = `# cfrelease configuration
version: 1

# Per-operator working tree: intermediate and build clones, sanity scratch, logs.
scratch_dir: /scratch/${USER}/cf-release

dev_site:
  url: https://checkerframework.org/dev/
  dir: /cse/www2/types/dev/checker-framework
live_site:
  url: https://checkerframework.org/
  dir: /cse/www2/types/checker-framework

branch: master

projects:
  - name: checker-framework
    short: cf
    remote: git@github.com:typetools/checker-framework.git
    tag_prefix: checker-framework-
    build:
      - run: [./gradlew, releaseBuild]
      - run: [./gradlew, allTests]
        slow: true
    outputs:
      - from: checker/dist/checker-framework-{version}.zip
        to: checker-framework-{version}.zip
      - from: docs/manual/manual.html
        to: manual/manual.html
      - from: docs/CHANGELOG.md
        to: CHANGELOG.md

tools: [git, java, javac, latex, make, perl, rsync, sh, unzip]

environment:
  path_prepend:
    - /usr/lib/jvm/java-17/bin
  vars:
    JAVA_HOME: /usr/lib/jvm/java-17
    BIBINPUTS: ".:/homes/gws/mernst/bib"
    TEXINPUTS: ".:/homes/gws/mernst/tex/sty:/homes/gws/mernst/tex/sty/hevea"

link_checker:
  checklink: /homes/gws/mernst/bin/checklink
  suppress: 404:https://checkerframework.org/checker-framework-{version}.zip

sanity:
  - name: javac
    archive: "{site}checker-framework-{version}.zip"
    fixture: NullnessReleaseTests.java
    command: ["checker-framework-{version}/checker/bin/javac", -processor, org.checkerframework.checker.nullness.NullnessChecker, "{fixture}"]
    expected:
      - "NullnessReleaseTests.java:24: error: (return)"
      - "NullnessReleaseTests.java:28: error: (dereference.of.nullable)"
    sites: [dev, live]

maven:
  settings: ~/.m2/settings.xml
  key_name: checker-framework-dev@googlegroups.com
  passphrase_file: /projects/swlab1/checker-framework/hosting-info/release-private.password

announcement:
  to: checker-framework-discuss@googlegroups.com
`

// Site is one copy of the project website.
type Site struct {
	URL string `yaml:"url"`
	Dir string `yaml:"dir"`
}

// BuildCommand is one command of a project's build, run in its build clone.
type BuildCommand struct {
	Run []string `yaml:"run"`
	Dir string   `yaml:"dir,omitempty"`
	// Slow commands are skipped with --notest.
	Slow bool `yaml:"slow,omitempty"`
}

// Output maps a build product to its place in the staged release directory.
type Output struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Project is one released sub-project.
type Project struct {
	Name      string         `yaml:"name"`
	Short     string         `yaml:"short,omitempty"`
	DependsOn []string       `yaml:"depends_on,omitempty"`
	Remote    string         `yaml:"remote"`
	TagPrefix string         `yaml:"tag_prefix"`
	Build     []BuildCommand `yaml:"build,omitempty"`
	Outputs   []Output       `yaml:"outputs,omitempty"`
}

// Environment is handed to every child process.
type Environment struct {
	PathPrepend []string          `yaml:"path_prepend,omitempty"`
	Vars        map[string]string `yaml:"vars,omitempty"`
}

// LinkChecker configures the external link-checking script.
type LinkChecker struct {
	// Script defaults to checkLinks.sh in the release scripts directory of
	// the first project's build clone.
	Script    string `yaml:"script,omitempty"`
	Checklink string `yaml:"checklink"`
	// Suppress is the broken link reported as harmless on the dev site, with
	// {version} standing for the new release.
	Suppress string `yaml:"suppress,omitempty"`
}

// SanityCheck is a smoke test of a built distribution.
type SanityCheck struct {
	Name     string   `yaml:"name"`
	Archive  string   `yaml:"archive,omitempty"`
	// Fixture is a source file the checker runs on. A bare file name lives
	// in the release scripts directory.
	Fixture  string   `yaml:"fixture,omitempty"`
	Command  []string `yaml:"command"`
	Expected []string `yaml:"expected"`
	Sites    []string `yaml:"sites,omitempty"`
}

// Maven configures staging to the central package repository.
type Maven struct {
	Settings       string   `yaml:"settings"`
	KeyName        string   `yaml:"key_name"`
	PassphraseFile string   `yaml:"passphrase_file"`
	Publish        []string `yaml:"publish,omitempty"`
	TestCommand    []string `yaml:"test_command,omitempty"`
	SanityScript   string   `yaml:"sanity_script,omitempty"`
}

// Announcement configures the release announcement template.
type Announcement struct {
	To           string `yaml:"to"`
	ChangelogURL string `yaml:"changelog_url,omitempty"`
	GitHubRepo   string `yaml:"github_repo,omitempty"`
	PluginURL    string `yaml:"gradle_plugin_url,omitempty"`
}

// ReleaseConfig models config.yaml.
type ReleaseConfig struct {
	Version      int           `yaml:"version"`
	ScratchDir   string        `yaml:"scratch_dir"`
	DevSite      Site          `yaml:"dev_site"`
	LiveSite     Site          `yaml:"live_site"`
	Branch       string        `yaml:"branch,omitempty"`
	Projects     []Project     `yaml:"projects"`
	Tools        []string      `yaml:"tools,omitempty"`
	Environment  Environment   `yaml:"environment,omitempty"`
	LinkChecker  LinkChecker   `yaml:"link_checker"`
	Sanity       []SanityCheck `yaml:"sanity,omitempty"`
	Maven        Maven         `yaml:"maven"`
	Announcement Announcement  `yaml:"announcement"`
}

// Config is the loaded configuration plus where it came from.
type Config struct {
	// Path is the config file that was read.
	Path string
	// BaseDir resolves relative paths inside the file.
	BaseDir string

	Release ReleaseConfig
}

// DefaultPath returns $CFRELEASE_CONFIG or ~/.cfrelease/config.yaml.
func DefaultPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home directory: %w", err)
	}
	return filepath.Join(home, Dir, fileName), nil
}

// Load reads the config at path, writing the commented default first when
// the file does not exist yet.
func Load(path string) (*Config, error) {
	if err := ensureReleaseConfig(path); err != nil {
		return nil, fmt.Errorf("config: create default %s: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve %s: %w", path, err)
	}
	c := &Config{Path: abs, BaseDir: filepath.Dir(abs), Release: defaultReleaseConfig()}
	if err := c.loadReleaseConfig(); err != nil {
		return nil, err
	}
	return c, nil
}

// Apply sets scalar keys from --set overrides, then revalidates.
func (c *Config) Apply(overrides map[string]string) error {
	for key, value := range overrides {
		value = strings.TrimSpace(value)
		switch key {
		case "scratch_dir":
			c.Release.ScratchDir = value
		case "branch":
			c.Release.Branch = value
		case "dev_site.url":
			c.Release.DevSite.URL = value
		case "dev_site.dir":
			c.Release.DevSite.Dir = value
		case "live_site.url":
			c.Release.LiveSite.URL = value
		case "live_site.dir":
			c.Release.LiveSite.Dir = value
		case "link_checker.checklink":
			c.Release.LinkChecker.Checklink = value
		case "link_checker.script":
			c.Release.LinkChecker.Script = value
		case "maven.settings":
			c.Release.Maven.Settings = value
		case "maven.passphrase_file":
			c.Release.Maven.PassphraseFile = value
		default:
			return fmt.Errorf("config: unknown override key %q", key)
		}
	}
	c.Release.applyDefaults()
	c.Release.normalize(c.BaseDir)
	if err := c.Release.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ScratchDir returns the per-operator working tree.
func (c *Config) ScratchDir() string {
	return c.Release.ScratchDir
}

// Branch returns the branch every repository releases from.
func (c *Config) Branch() string {
	return c.Release.Branch
}

// Project returns the project with the given name or short name.
func (c *Config) Project(name string) (Project, bool) {
	name = strings.TrimSpace(name)
	for _, p := range c.Release.Projects {
		if strings.EqualFold(p.Name, name) || (p.Short != "" && strings.EqualFold(p.Short, name)) {
			return p, true
		}
	}
	return Project{}, false
}

// SelectProjects resolves command-line project selectors. "all" or no
// selector selects every project. Dependencies of a selected project are
// always included, and the result keeps the configured order.
func (c *Config) SelectProjects(selectors []string) ([]Project, error) {
	if len(selectors) == 0 || containsFold(selectors, "all") {
		return append([]Project(nil), c.Release.Projects...), nil
	}
	selected := map[string]bool{}
	var visit func(name string) error
	visit = func(name string) error {
		p, ok := c.Project(name)
		if !ok {
			return fmt.Errorf("config: unknown project %q", name)
		}
		if selected[p.Name] {
			return nil
		}
		selected[p.Name] = true
		for _, dep := range p.DependsOn {
			if err := visit(dep); err != nil {
				return fmt.Errorf("%s depends on: %w", p.Name, err)
			}
		}
		return nil
	}
	for _, s := range selectors {
		if err := visit(s); err != nil {
			return nil, err
		}
	}
	var out []Project
	for _, p := range c.Release.Projects {
		if selected[p.Name] {
			out = append(out, p)
		}
	}
	return out, nil
}

// SanityChecksFor returns the checks that run against the named site.
func (c *Config) SanityChecksFor(site string) []SanityCheck {
	var out []SanityCheck
	for _, s := range c.Release.Sanity {
		if len(s.Sites) == 0 || containsFold(s.Sites, site) {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) loadReleaseConfig() error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", c.Path, err)
	}

	var parsed ReleaseConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", c.Path, err)
	}

	parsed.applyDefaults()
	parsed.normalize(c.BaseDir)
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Release = parsed
	return nil
}

func defaultReleaseConfig() ReleaseConfig {
	rc := ReleaseConfig{}
	rc.applyDefaults()
	return rc
}

func (rc *ReleaseConfig) applyDefaults() {
	if rc.Version == 0 {
		rc.Version = 1
	}
	if rc.Branch == "" {
		rc.Branch = defaultBranch
	}
	if rc.Maven.Settings == "" {
		rc.Maven.Settings = "~/.m2/settings.xml"
	}
	if len(rc.Maven.Publish) == 0 {
		rc.Maven.Publish = []string{"./gradlew", "publish", "-Prelease=true", "--no-parallel"}
	}
	if len(rc.Maven.TestCommand) == 0 {
		rc.Maven.TestCommand = []string{"./gradlew", "allTests"}
	}
	if rc.Announcement.ChangelogURL == "" {
		rc.Announcement.ChangelogURL = "https://github.com/typetools/checker-framework/blob/master/docs/CHANGELOG.md"
	}
	if rc.Announcement.GitHubRepo == "" {
		rc.Announcement.GitHubRepo = "typetools/checker-framework"
	}
	if rc.Announcement.PluginURL == "" {
		rc.Announcement.PluginURL = "https://github.com/kelloggm/checkerframework-gradle-plugin/blob/master/RELEASE.md#updating-the-checker-framework-version"
	}
	if rc.Environment.Vars == nil {
		rc.Environment.Vars = map[string]string{}
	}
}

func (rc *ReleaseConfig) normalize(base string) {
	rc.ScratchDir = resolvePath(base, rc.ScratchDir)
	rc.DevSite.normalize(base)
	rc.LiveSite.normalize(base)
	rc.Branch = strings.TrimSpace(rc.Branch)
	for i := range rc.Projects {
		rc.Projects[i].normalize()
	}
	for i, p := range rc.Environment.PathPrepend {
		rc.Environment.PathPrepend[i] = resolvePath(base, p)
	}
	rc.LinkChecker.Script = resolvePath(base, rc.LinkChecker.Script)
	rc.LinkChecker.Checklink = resolvePath(base, rc.LinkChecker.Checklink)
	rc.Maven.Settings = resolvePath(base, rc.Maven.Settings)
	rc.Maven.PassphraseFile = resolvePath(base, rc.Maven.PassphraseFile)
	rc.Maven.SanityScript = resolvePath(base, rc.Maven.SanityScript)
	for i := range rc.Sanity {
		rc.Sanity[i].Name = strings.TrimSpace(rc.Sanity[i].Name)
		// A bare file name is looked up in the release scripts directory.
		if f := rc.Sanity[i].Fixture; strings.ContainsRune(f, '/') || strings.HasPrefix(f, "~") {
			rc.Sanity[i].Fixture = resolvePath(base, f)
		}
	}
}

func (rc *ReleaseConfig) validate() error {
	if rc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if rc.ScratchDir == "" {
		return fmt.Errorf("scratch_dir is required")
	}
	if len(rc.Projects) == 0 {
		return fmt.Errorf("at least one project is required")
	}
	seen := map[string]bool{}
	for i := range rc.Projects {
		if err := rc.Projects[i].validate(); err != nil {
			return fmt.Errorf("projects[%d]: %w", i, err)
		}
		seen[rc.Projects[i].Name] = true
	}
	for _, p := range rc.Projects {
		for _, dep := range p.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("projects[%s]: unknown dependency %q", p.Name, dep)
			}
		}
	}
	for i, s := range rc.Sanity {
		if s.Name == "" {
			return fmt.Errorf("sanity[%d]: name is required", i)
		}
		if len(s.Command) == 0 {
			return fmt.Errorf("sanity[%s]: command is required", s.Name)
		}
		if len(s.Expected) == 0 {
			return fmt.Errorf("sanity[%s]: at least one expected string is required", s.Name)
		}
	}
	return nil
}

func (s *Site) normalize(base string) {
	s.URL = strings.TrimSpace(s.URL)
	if s.URL != "" && !strings.HasSuffix(s.URL, "/") {
		s.URL += "/"
	}
	s.Dir = resolvePath(base, s.Dir)
}

func (p *Project) normalize() {
	p.Name = strings.TrimSpace(p.Name)
	p.Short = strings.TrimSpace(p.Short)
	p.Remote = strings.TrimSpace(p.Remote)
	for i, d := range p.DependsOn {
		p.DependsOn[i] = strings.TrimSpace(d)
	}
}

func (p Project) validate() error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(p.Name, `/\`) {
		return fmt.Errorf("name %q must not contain path separators", p.Name)
	}
	if p.Remote == "" {
		return fmt.Errorf("remote is required for %s", p.Name)
	}
	for i, b := range p.Build {
		if len(b.Run) == 0 {
			return fmt.Errorf("build[%d] of %s has no command", i, p.Name)
		}
	}
	for i, o := range p.Outputs {
		if strings.TrimSpace(o.From) == "" || strings.TrimSpace(o.To) == "" {
			return fmt.Errorf("outputs[%d] of %s needs from and to", i, p.Name)
		}
	}
	return nil
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), target) {
			return true
		}
	}
	return false
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
		}
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureReleaseConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(defaultReleaseConfigYAML), 0o644)
}
