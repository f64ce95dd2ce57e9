package sanity

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/cfrelease/internal/config"
	"github.com/kingrea/cfrelease/internal/shell"
	"github.com/kingrea/cfrelease/internal/shell/shelltest"
)

const fakeJavac = `#!/bin/sh
for f in "$@"; do last="$f"; done
echo "$last:24: error: (return)" >&2
echo "$last:28: error: (dereference.of.nullable)" >&2
exit 1
`

func distribution(t *testing.T, version string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	hdr := &zip.FileHeader{Name: "checker-framework-" + version + "/checker/bin/javac", Method: zip.Deflate}
	hdr.SetMode(0o755)
	w, err := zw.CreateHeader(hdr)
	require.NoError(t, err)
	_, err = io.WriteString(w, fakeJavac)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func site(t *testing.T, version string) *httptest.Server {
	t.Helper()
	body := distribution(t, version)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/dev/checker-framework-"+version+".zip" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func javacCheck(expected ...string) config.SanityCheck {
	return config.SanityCheck{
		Name:     "javac",
		Archive:  "{site}checker-framework-{version}.zip",
		Fixture:  "NullnessReleaseTests.java",
		Command:  []string{"checker-framework-{version}/checker/bin/javac", "-processor", "nullness", "{fixture}"},
		Expected: expected,
	}
}

func writeFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "NullnessReleaseTests.java"), []byte("class NullnessReleaseTests {}\n"), 0o644))
	return dir
}

func TestFromConfigExpandsPlaceholders(t *testing.T) {
	c := FromConfig(javacCheck("x"), "https://checkerframework.org/dev/", "3.42.1", "/scratch/sanity/javac-dev", "/scratch/build/cf/docs/developer/release")

	assert.Equal(t, "https://checkerframework.org/dev/checker-framework-3.42.1.zip", c.ArchiveURL)
	assert.Equal(t, "/scratch/build/cf/docs/developer/release/NullnessReleaseTests.java", c.Fixture)
	assert.Equal(t, []string{"checker-framework-3.42.1/checker/bin/javac", "-processor", "nullness", "NullnessReleaseTests.java"}, c.Command)
	assert.Equal(t, "/scratch/sanity/javac-dev/javac-sanity.log", c.LogPath())
}

func TestRunPassesWhenExpectedErrorsAppear(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	srv := site(t, "1.2.3")
	dir := filepath.Join(t.TempDir(), "javac-dev")
	c := FromConfig(javacCheck(
		"NullnessReleaseTests.java:24: error: (return)",
		"NullnessReleaseTests.java:28: error: (dereference.of.nullable)",
	), srv.URL+"/dev/", "1.2.3", dir, writeFixture(t))

	// A stale tree from an earlier run must not survive.
	stale := filepath.Join(dir, "checker-framework-1.2.3", "leftover")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	var out bytes.Buffer
	r := New(shell.New(shell.Environment{}, shell.WithOutput(io.Discard)), WithOutput(&out), WithHTTPClient(srv.Client()))
	require.NoError(t, r.Run(context.Background(), c))
	assert.Contains(t, out.String(), "javac sanity check passed")
	assert.NoFileExists(t, stale)
	assert.FileExists(t, filepath.Join(dir, "NullnessReleaseTests.java"))
}

func TestRunReportsMissingExpectations(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	srv := site(t, "1.2.3")
	dir := filepath.Join(t.TempDir(), "javac-live")
	c := FromConfig(javacCheck(
		"NullnessReleaseTests.java:24: error: (return)",
		"NullnessReleaseTests.java:99: error: (assignment)",
	), srv.URL+"/dev/", "1.2.3", dir, writeFixture(t))

	r := New(shell.New(shell.Environment{}, shell.WithOutput(io.Discard)), WithOutput(io.Discard), WithHTTPClient(srv.Client()))
	err := r.Run(context.Background(), c)
	var failed *FailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, []string{"NullnessReleaseTests.java:99: error: (assignment)"}, failed.Missing)
	assert.Equal(t, c.LogPath(), failed.LogPath)
}

func TestRunWithoutContentLengthIsDownloadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		_, _ = w.Write([]byte("rest"))
	}))
	defer srv.Close()

	rec := &shelltest.Recorder{}
	r := New(rec, WithOutput(io.Discard), WithHTTPClient(srv.Client()))
	c := FromConfig(javacCheck("x"), srv.URL+"/", "1.2.3", t.TempDir(), "")
	err := r.Run(context.Background(), c)

	var dl *DownloadError
	require.True(t, errors.As(err, &dl))
	assert.Equal(t, srv.URL+"/checker-framework-1.2.3.zip", dl.URL)
	assert.Empty(t, rec.Calls())
}

func TestRunScript(t *testing.T) {
	rec := &shelltest.Recorder{}
	r := New(rec, WithOutput(io.Discard))
	dir := filepath.Join(t.TempDir(), "test-checker-framework")
	require.NoError(t, r.RunScript(context.Background(), "/scripts/test-checker-framework.sh", "1.2.3", dir))

	assert.DirExists(t, dir)
	assert.Equal(t, []string{"test-checker-framework$ sh /scripts/test-checker-framework.sh 1.2.3"}, rec.Lines())
}

func TestAreExpectedErrorsInFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "javac.log")
	require.NoError(t, os.WriteFile(path, []byte("a.java:10: error: X\na.java:20: error: Y\n"), 0o644))
	expected := []string{"error: X", "error: Y"}

	missing, err := AreExpectedErrorsInFile(path, expected)
	require.NoError(t, err)
	assert.Empty(t, missing)
	assert.Equal(t, []string{"error: X", "error: Y"}, expected, "input must not be modified")

	require.NoError(t, os.WriteFile(path, []byte("a.java:10: error: X\n"), 0o644))
	missing, err = AreExpectedErrorsInFile(path, expected)
	require.NoError(t, err)
	assert.Equal(t, []string{"error: Y"}, missing)

	missing, err = AreExpectedErrorsInFile(path, nil)
	require.NoError(t, err)
	assert.Empty(t, missing)

	_, err = AreExpectedErrorsInFile(filepath.Join(t.TempDir(), "absent.log"), expected)
	assert.Error(t, err)
}
