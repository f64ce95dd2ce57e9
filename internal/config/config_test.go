package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testConfigYAML = `
version: 1
scratch_dir: scratch
dev_site:
  url: https://example.org/dev
  dir: sites/dev
live_site:
  url: https://example.org/
  dir: sites/live
projects:
  - name: annotation-tools
    short: afu
    remote: https://example.org/annotation-tools.git
    tag_prefix: v
  - name: checker-framework
    short: cf
    depends_on: [annotation-tools]
    remote: https://example.org/checker-framework.git
    tag_prefix: checker-framework-
    build:
      - run: [./gradlew, assemble]
      - run: [./gradlew, test]
        slow: true
  - name: plugin
    remote: https://example.org/plugin.git
    tag_prefix: plugin-
environment:
  path_prepend: [tools/bin]
  vars:
    JAVA_HOME: /opt/jdk
sanity:
  - name: javac
    command: [javac, "{fixture}"]
    fixture: fixtures/Nullness.java
    expected: ["error: (return)"]
    sites: [dev]
  - name: maven
    command: [mvn, compile]
    expected: ["BUILD FAILURE"]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadWritesDefaultWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), Dir, "config.yaml")
	t.Setenv("USER", "releaser")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config to be written: %v", err)
	}
	if cfg.ScratchDir() != "/scratch/releaser/cf-release" {
		t.Fatalf("unexpected scratch dir %q", cfg.ScratchDir())
	}
	if cfg.Branch() != defaultBranch {
		t.Fatalf("expected branch %q, got %q", defaultBranch, cfg.Branch())
	}
	if _, ok := cfg.Project("cf"); !ok {
		t.Fatalf("default config must define the checker-framework project")
	}
	if cfg.Release.DevSite.URL != "https://checkerframework.org/dev/" {
		t.Fatalf("unexpected dev site %q", cfg.Release.DevSite.URL)
	}
}

func TestLoadParsesYamlAndResolvesPaths(t *testing.T) {
	path := writeConfig(t, testConfigYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	base := filepath.Dir(path)
	if got, want := cfg.ScratchDir(), filepath.Join(base, "scratch"); got != want {
		t.Fatalf("scratch dir = %q, want %q", got, want)
	}
	if got := cfg.Release.DevSite.URL; got != "https://example.org/dev/" {
		t.Fatalf("dev url should gain a trailing slash, got %q", got)
	}
	if got, want := cfg.Release.Environment.PathPrepend[0], filepath.Join(base, "tools", "bin"); got != want {
		t.Fatalf("path_prepend = %q, want %q", got, want)
	}
	if got := cfg.Release.Maven.TestCommand; len(got) != 2 || got[1] != "allTests" {
		t.Fatalf("expected default test command, got %v", got)
	}
	if got, want := cfg.Release.Sanity[0].Fixture, filepath.Join(base, "fixtures", "Nullness.java"); got != want {
		t.Fatalf("fixture = %q, want %q", got, want)
	}
	p, ok := cfg.Project("checker-framework")
	if !ok || len(p.Build) != 2 || !p.Build[1].Slow {
		t.Fatalf("unexpected project %+v", p)
	}
}

func TestSelectProjectsIncludesDependencies(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfigYAML))
	if err != nil {
		t.Fatal(err)
	}
	got, err := cfg.SelectProjects([]string{"cf"})
	if err != nil {
		t.Fatalf("SelectProjects returned error: %v", err)
	}
	if len(got) != 2 || got[0].Name != "annotation-tools" || got[1].Name != "checker-framework" {
		t.Fatalf("unexpected selection %+v", got)
	}

	all, err := cfg.SelectProjects([]string{"all"})
	if err != nil || len(all) != 3 {
		t.Fatalf("expected all three projects, got %d (%v)", len(all), err)
	}
	none, err := cfg.SelectProjects(nil)
	if err != nil || len(none) != 3 {
		t.Fatalf("no selector should select everything, got %d (%v)", len(none), err)
	}

	if _, err := cfg.SelectProjects([]string{"nope"}); err == nil {
		t.Fatalf("expected unknown project error")
	}
}

func TestSanityChecksFor(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfigYAML))
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.SanityChecksFor("dev"); len(got) != 2 {
		t.Fatalf("dev should run both checks, got %d", len(got))
	}
	if got := cfg.SanityChecksFor("live"); len(got) != 1 || got[0].Name != "maven" {
		t.Fatalf("live should run only the unrestricted check, got %+v", got)
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfigYAML))
	if err != nil {
		t.Fatal(err)
	}
	err = cfg.Apply(map[string]string{
		"scratch_dir":   "/tmp/cf-release",
		"live_site.url": "http://localhost:8080",
	})
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if cfg.ScratchDir() != "/tmp/cf-release" {
		t.Fatalf("scratch override ignored: %q", cfg.ScratchDir())
	}
	if cfg.Release.LiveSite.URL != "http://localhost:8080/" {
		t.Fatalf("live url override ignored: %q", cfg.Release.LiveSite.URL)
	}
	if err := cfg.Apply(map[string]string{"projects": "x"}); err == nil {
		t.Fatalf("expected unknown key error")
	}
}

func TestValidateRejectsBadProjects(t *testing.T) {
	cases := map[string]string{
		"missing remote": `
scratch_dir: s
projects:
  - name: cf
`,
		"unknown dependency": `
scratch_dir: s
projects:
  - name: cf
    remote: r
    depends_on: [afu]
`,
		"no projects": `
scratch_dir: s
`,
		"sanity without expectations": `
scratch_dir: s
projects:
  - name: cf
    remote: r
sanity:
  - name: javac
    command: [javac]
`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
