package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitCreatesScratchTree(t *testing.T) {
	root := filepath.Join(t.TempDir(), "cf-release")
	w := New(root)
	if err := w.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	for _, dir := range []string{w.IntermRoot(), w.BuildRoot(), w.SanityRoot(), w.LogsDir(), w.ReviewDir()} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}
	if err := w.Init(); err != nil {
		t.Fatalf("second Init should be a no-op: %v", err)
	}
}

func TestPaths(t *testing.T) {
	w := New("/scratch/me/cf-release")
	cases := map[string]string{
		w.IntermRepo("checker-framework"):  "/scratch/me/cf-release/interm/checker-framework",
		w.BuildRepo("checker-framework"):   "/scratch/me/cf-release/build/checker-framework",
		w.SanityDir("javac"):               "/scratch/me/cf-release/sanity/javac",
		w.JournalPath():                    "/scratch/me/cf-release/logs/journal.log",
		w.LinkReportPath("dev"):            "/scratch/me/cf-release/checker-framework.dev.check",
		w.CompletionFlagPath():             "/scratch/me/cf-release/release-build-completed",
		ReleaseDir("/www/dev/cf", "3.42.1"): "/www/dev/cf/releases/3.42.1",
	}
	for got, want := range cases {
		if got != want {
			t.Errorf("got %s, want %s", got, want)
		}
	}
}
