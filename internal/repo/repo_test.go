package repo

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/cfrelease/internal/prompt"
	"github.com/kingrea/cfrelease/internal/shell"
	"github.com/kingrea/cfrelease/internal/shell/shelltest"
)

func answers(lines ...string) *prompt.Prompter {
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	return prompt.New(prompt.NewScannerReader(in), io.Discard)
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func gitExecutor(t *testing.T) *shell.Executor {
	t.Helper()
	home := t.TempDir()
	return shell.New(shell.Environment{Vars: map[string]string{
		"HOME":                home,
		"GIT_CONFIG_NOSYSTEM": "1",
		"GIT_AUTHOR_NAME":     "Release Tester",
		"GIT_AUTHOR_EMAIL":    "release@example.org",
		"GIT_COMMITTER_NAME":  "Release Tester",
		"GIT_COMMITTER_EMAIL": "release@example.org",
		"GIT_TERMINAL_PROMPT": "0",
	}}, shell.WithOutput(io.Discard))
}

// newUpstream creates a non-bare repository with one commit on master.
func newUpstream(t *testing.T, ex *shell.Executor) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "upstream")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	ctx := context.Background()
	require.NoError(t, ex.Check(ctx, shell.Cmd("git", "init", "--quiet").In(dir)))
	require.NoError(t, ex.Check(ctx, shell.Cmd("git", "symbolic-ref", "HEAD", "refs/heads/master").In(dir)))
	commitFile(t, ex, dir, "README", "first\n")
	return dir
}

func commitFile(t *testing.T, ex *shell.Executor, dir, name, content string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	require.NoError(t, ex.Check(ctx, shell.Cmd("git", "add", name).In(dir)))
	require.NoError(t, ex.Check(ctx, shell.Cmd("git", "commit", "--quiet", "-m", "update "+name).In(dir)))
}

func head(t *testing.T, ex *shell.Executor, dir string) string {
	t.Helper()
	out, err := ex.Output(context.Background(), shell.Cmd("git", "rev-parse", "master").In(dir))
	require.NoError(t, err)
	return strings.TrimSpace(out)
}

func TestCloneOrUpdateIdempotent(t *testing.T) {
	requireGit(t)
	ex := gitExecutor(t)
	ctx := context.Background()
	upstream := newUpstream(t, ex)
	scratch := t.TempDir()

	interm := Repository{Name: "checker-framework", Remote: upstream, Path: filepath.Join(scratch, "interm", "checker-framework"), Bare: true}
	build := Repository{Name: "checker-framework", Remote: interm.Path, Path: filepath.Join(scratch, "build", "checker-framework")}
	s := New(ex, answers(), WithOutput(io.Discard))

	for i := 0; i < 2; i++ {
		require.NoError(t, s.CloneOrUpdate(ctx, interm, false))
		require.NoError(t, s.CloneOrUpdate(ctx, build, false))
	}
	assert.True(t, IsBare(interm.Path))
	assert.True(t, Exists(build.Path))
	assert.False(t, IsBare(build.Path))
	want := head(t, ex, upstream)
	assert.Equal(t, want, head(t, ex, interm.Path))
	assert.Equal(t, want, head(t, ex, build.Path))

	commitFile(t, ex, upstream, "CHANGES", "second\n")
	require.NoError(t, s.CloneOrUpdate(ctx, interm, false))
	require.NoError(t, s.CloneOrUpdate(ctx, build, false))
	want = head(t, ex, upstream)
	assert.Equal(t, want, head(t, ex, build.Path))

	require.NoError(t, os.WriteFile(filepath.Join(build.Path, "stale"), []byte("x"), 0o644))
	require.NoError(t, s.CloneOrUpdate(ctx, build, true))
	assert.NoFileExists(t, filepath.Join(build.Path, "stale"))
	assert.Equal(t, want, head(t, ex, build.Path))
}

func TestIsCleanAndUpdatedAfterCloneAndUntrackedFile(t *testing.T) {
	requireGit(t)
	ex := gitExecutor(t)
	ctx := context.Background()
	upstream := newUpstream(t, ex)
	scratch := t.TempDir()
	interm := Repository{Name: "cf", Remote: upstream, Path: filepath.Join(scratch, "interm", "cf"), Bare: true}
	build := Repository{Name: "cf", Remote: interm.Path, Path: filepath.Join(scratch, "build", "cf")}
	s := New(ex, answers(), WithOutput(io.Discard))
	require.NoError(t, s.CloneOrUpdate(ctx, interm, true))
	require.NoError(t, s.CloneOrUpdate(ctx, build, true))

	clean, err := s.IsCleanAndUpdated(ctx, interm.Path)
	require.NoError(t, err)
	assert.True(t, clean, "fresh bare clone")
	clean, err = s.IsCleanAndUpdated(ctx, build.Path)
	require.NoError(t, err)
	assert.True(t, clean, "fresh working clone")

	require.NoError(t, os.WriteFile(filepath.Join(build.Path, "untracked.txt"), []byte("x"), 0o644))
	clean, err = s.IsCleanAndUpdated(ctx, build.Path)
	require.NoError(t, err)
	assert.False(t, clean)

	err = s.Check(ctx, build.Path, true, false)
	var dirty *DirtyError
	require.True(t, errors.As(err, &dirty))
	assert.Equal(t, build.Path, dirty.Path)

	require.NoError(t, s.Clean(ctx, build.Path))
	clean, err = s.IsCleanAndUpdated(ctx, build.Path)
	require.NoError(t, err)
	assert.True(t, clean, "after Clean")
}

func TestCommitTagAndPushAgainstRealRepos(t *testing.T) {
	requireGit(t)
	ex := gitExecutor(t)
	ctx := context.Background()
	upstream := newUpstream(t, ex)
	scratch := t.TempDir()
	interm := Repository{Name: "cf", Remote: upstream, Path: filepath.Join(scratch, "interm", "cf"), Bare: true}
	build := Repository{Name: "cf", Remote: interm.Path, Path: filepath.Join(scratch, "build", "cf")}
	s := New(ex, answers(), WithOutput(io.Discard))
	require.NoError(t, s.CloneOrUpdate(ctx, interm, true))
	require.NoError(t, s.CloneOrUpdate(ctx, build, true))

	require.NoError(t, os.WriteFile(filepath.Join(build.Path, "README"), []byte("release 3.42.1\n"), 0o644))
	require.NoError(t, s.CommitTagAndPush(ctx, "3.42.1", build.Path, "checker-framework-"))

	commit, err := s.CommitForTag(ctx, "3.42.1", interm.Path, "checker-framework-")
	require.NoError(t, err)
	assert.Equal(t, head(t, ex, build.Path), commit)
	assert.Equal(t, commit, head(t, ex, interm.Path))

	_, err = s.CommitForTag(ctx, "9.9.9", interm.Path, "checker-framework-")
	assert.Error(t, err)
}

func TestUpdateBareUsesSyncerBranch(t *testing.T) {
	rec := &shelltest.Recorder{}
	s := New(rec, answers(), WithBranch("main"))
	r := Repository{Name: "cf", Remote: "git@example.org:cf.git", Path: "/scratch/interm/cf", Bare: true}
	require.NoError(t, s.Update(context.Background(), r))

	want := []string{
		"cf$ git fetch origin main",
		"cf$ git merge-base --is-ancestor main FETCH_HEAD",
		"cf$ git update-ref refs/heads/main FETCH_HEAD",
	}
	if diff := cmp.Diff(want, rec.Lines()); diff != "" {
		t.Fatalf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateBareKeepsDivergedBranch(t *testing.T) {
	rec := &shelltest.Recorder{Handler: func(cmd shell.Command) shell.Result {
		if shelltest.Is(cmd, "git", "merge-base") {
			return shell.Result{ExitCode: 1}
		}
		return shell.Result{}
	}}
	s := New(rec, answers())
	r := Repository{Name: "cf", Remote: "git@example.org:cf.git", Path: "/scratch/interm/cf", Bare: true}
	require.NoError(t, s.Update(context.Background(), r))
	for _, c := range rec.Calls() {
		assert.False(t, shelltest.Is(c, "git", "update-ref"), "moved a diverged branch: %v", c.Args)
	}
}

func TestSecondBuildOverUnpushedRelease(t *testing.T) {
	requireGit(t)
	ex := gitExecutor(t)
	ctx := context.Background()
	upstream := newUpstream(t, ex)
	scratch := t.TempDir()
	interm := Repository{Name: "cf", Remote: upstream, Path: filepath.Join(scratch, "interm", "cf"), Bare: true}
	build := Repository{Name: "cf", Remote: interm.Path, Path: filepath.Join(scratch, "build", "cf")}
	var out bytes.Buffer
	s := New(ex, answers("y"), WithOutput(&out))

	require.NoError(t, s.CloneOrUpdate(ctx, interm, false))
	require.NoError(t, s.CloneOrUpdate(ctx, build, false))
	require.NoError(t, os.WriteFile(filepath.Join(build.Path, "README"), []byte("release 3.42.1\n"), 0o644))
	require.NoError(t, s.CommitTagAndPush(ctx, "3.42.1", build.Path, "checker-framework-"))
	released := head(t, ex, interm.Path)

	require.NoError(t, s.CloneOrUpdate(ctx, interm, false))
	require.NoError(t, s.CloneOrUpdate(ctx, build, false))
	assert.Equal(t, released, head(t, ex, interm.Path))
	assert.Equal(t, released, head(t, ex, build.Path))

	clean, err := s.IsCleanAndUpdated(ctx, interm.Path)
	require.NoError(t, err)
	assert.False(t, clean)
	require.NoError(t, s.Check(ctx, interm.Path, false, true))
	assert.Contains(t, out.String(), "WARNING: Intermediate repository "+interm.Path)

	require.NoError(t, s.CommitTagAndPush(ctx, "3.42.1", build.Path, "checker-framework-"))
	commit, err := s.CommitForTag(ctx, "3.42.1", interm.Path, "checker-framework-")
	require.NoError(t, err)
	assert.Equal(t, released, commit)

	commitFile(t, ex, build.Path, "CHANGES", "after tag\n")
	assert.Error(t, s.CommitTagAndPush(ctx, "3.42.1", build.Path, "checker-framework-"))
}

func TestCommitTagAndPushSkipsCommitWhenNothingChanged(t *testing.T) {
	rec := &shelltest.Recorder{}
	s := New(rec, answers())
	require.NoError(t, s.CommitTagAndPush(context.Background(), "3.42.1", "/scratch/build/cf", "checker-framework-"))

	want := []string{
		"cf$ git diff-index --quiet HEAD",
		"cf$ git rev-parse -q --verify refs/tags/checker-framework-3.42.1^{commit}",
		"cf$ git tag checker-framework-3.42.1",
		"cf$ git push --tags",
		"cf$ git push origin master",
	}
	if diff := cmp.Diff(want, rec.Lines()); diff != "" {
		t.Fatalf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestCommitTagAndPushCommitsPendingChanges(t *testing.T) {
	rec := &shelltest.Recorder{Handler: func(cmd shell.Command) shell.Result {
		if shelltest.Is(cmd, "git", "diff-index") {
			return shell.Result{ExitCode: 1}
		}
		return shell.Result{}
	}}
	s := New(rec, answers(), WithBranch("main"))
	require.NoError(t, s.CommitTagAndPush(context.Background(), "1.0.1", "/scratch/build/plugin", "v"))

	calls := rec.Calls()
	require.Len(t, calls, 6)
	assert.Equal(t, []string{"git", "commit", "-a", "-m", "new release 1.0.1"}, calls[1].Args)
	assert.Equal(t, []string{"git", "tag", "v1.0.1"}, calls[3].Args)
	assert.Equal(t, []string{"git", "push", "origin", "main"}, calls[5].Args)
}

func TestPushPromptIfFailRetriesUntilSuccess(t *testing.T) {
	failures := 1
	rec := &shelltest.Recorder{Handler: func(cmd shell.Command) shell.Result {
		if shelltest.Is(cmd, "git", "push", "origin") && failures > 0 {
			failures--
			return shell.Result{ExitCode: 128}
		}
		return shell.Result{}
	}}
	var out bytes.Buffer
	s := New(rec, answers("y"), WithOutput(&out))

	pushed, err := s.PushPromptIfFail(context.Background(), "/scratch/interm/cf")
	require.NoError(t, err)
	assert.True(t, pushed)
	assert.Len(t, rec.Calls(), 4)
	assert.Contains(t, out.String(), "Could not push from: /scratch/interm/cf; result=128")
}

func TestPushPromptIfFailCanBeSkipped(t *testing.T) {
	rec := &shelltest.Recorder{Handler: func(cmd shell.Command) shell.Result {
		if shelltest.Is(cmd, "git", "push", "origin") {
			return shell.Result{ExitCode: 1}
		}
		return shell.Result{}
	}}
	s := New(rec, answers("n"), WithOutput(io.Discard))

	pushed, err := s.PushPromptIfFail(context.Background(), "/scratch/interm/cf")
	require.NoError(t, err)
	assert.False(t, pushed)
	assert.Len(t, rec.Calls(), 2)
}

func dirtyBareRecorder() *shelltest.Recorder {
	return &shelltest.Recorder{Handler: func(cmd shell.Command) shell.Result {
		if shelltest.Is(cmd, "git", "diff") {
			return shell.Result{Output: "diff --git a/README b/README\n"}
		}
		return shell.Result{}
	}}
}

func fakeBare(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "cf")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "refs"), 0o755))
	return dir
}

func TestCheckIntermediateWarnsAndPrompts(t *testing.T) {
	path := fakeBare(t)
	var out bytes.Buffer
	s := New(dirtyBareRecorder(), answers("y"), WithOutput(&out))

	require.NoError(t, s.Check(context.Background(), path, false, true))
	assert.Contains(t, out.String(), "WARNING: Intermediate repository "+path)
}

func TestCheckDeclinedIsDirtyError(t *testing.T) {
	path := fakeBare(t)
	s := New(dirtyBareRecorder(), answers("n"), WithOutput(io.Discard))

	err := s.Check(context.Background(), path, false, true)
	var dirty *DirtyError
	require.True(t, errors.As(err, &dirty))
	assert.Equal(t, "repo "+path+" is not clean and up to date", err.Error())
}

func TestCheckAllIgnoresMissingRepositories(t *testing.T) {
	rec := &shelltest.Recorder{}
	s := New(rec, answers())
	missing := filepath.Join(t.TempDir(), "absent")
	require.NoError(t, s.CheckAll(context.Background(), []string{missing, fakeBare(t)}, true, false))

	want := []string{"cf$ git fetch origin", "cf$ git diff master..FETCH_HEAD"}
	assert.Equal(t, want, rec.Lines())
}

func TestFailedDiffIsNotMistakenForClean(t *testing.T) {
	rec := &shelltest.Recorder{Handler: func(cmd shell.Command) shell.Result {
		if shelltest.Is(cmd, "git", "diff") {
			return shell.Result{ExitCode: 128}
		}
		return shell.Result{}
	}}
	s := New(rec, answers())
	_, err := s.IsCleanAndUpdated(context.Background(), fakeBare(t))
	var cmdErr *shell.CommandError
	assert.True(t, errors.As(err, &cmdErr))
}

func TestWriteLogAndDiffSince(t *testing.T) {
	rec := &shelltest.Recorder{Handler: func(cmd shell.Command) shell.Result {
		return shell.Result{Output: strings.Join(cmd.Args, " ")}
	}}
	s := New(rec, answers())
	dir := t.TempDir()
	logPath := filepath.Join(dir, "review", "cf.log")
	diffPath := filepath.Join(dir, "review", "cf.diff")
	require.NoError(t, s.WriteLogSince(context.Background(), "/scratch/interm/cf", "checker-framework-3.42.0", logPath))
	require.NoError(t, s.WriteDiffSince(context.Background(), "/scratch/interm/cf", "checker-framework-3.42.0", diffPath))

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, "git log --no-color --stat checker-framework-3.42.0..master", string(data))
	data, err = os.ReadFile(diffPath)
	require.NoError(t, err)
	assert.Equal(t, "git diff --no-color checker-framework-3.42.0..master", string(data))
}
