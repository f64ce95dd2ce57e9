package step

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/cfrelease/internal/logbook"
)

type recordingAnnouncer struct {
	titles []string
	notes  []string
}

func (a *recordingAnnouncer) Step(title, kind string) {
	a.titles = append(a.titles, title+" ["+kind+"]")
}

func (a *recordingAnnouncer) Note(text string) { a.notes = append(a.notes, text) }

func ok(context.Context) (Result, error) { return Done(), nil }

func TestSequenceRejectsDuplicatesAndInvalidSteps(t *testing.T) {
	seq := NewSequence("Build Step")
	require.NoError(t, seq.Add(New("delete-flag", "Delete old build-complete flag", KindAuto, ok)))
	assert.Error(t, seq.Add(New("delete-flag", "again", KindAuto, ok)))
	assert.Error(t, seq.Add(New("", "no id", KindAuto, ok)))
	assert.Error(t, seq.Add(New("x", "bad kind", Kind("sometimes"), ok)))
	assert.Error(t, seq.Add(New("y", "no func", KindManual, nil)))
	assert.Equal(t, []string{"delete-flag"}, seq.IDs())
}

func TestRunnerNumbersAndJournalsSteps(t *testing.T) {
	book, err := logbook.New(filepath.Join(t.TempDir(), "journal.log"), "run-1")
	require.NoError(t, err)

	seq := NewSequence("Push Step")
	seq.MustAdd(
		New("check-versions", "Checking versions", KindAuto, ok),
		New("copy-live", "Copy dev release to live", KindSemiAuto, func(context.Context) (Result, error) {
			return Skipped("Test mode: Skipping copy to live site!"), nil
		}),
		New("announce", "Announce the release", KindManual, ok),
	)
	var observed []string
	a := &recordingAnnouncer{}
	r := NewRunner(a, WithJournal(book), WithObserver(func(info Info, res Result) {
		observed = append(observed, info.ID+"="+string(res.Status))
	}))

	report, err := r.Run(context.Background(), seq)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Push Step 1: Checking versions [AUTO]",
		"Push Step 2: Copy dev release to live [SEMIAUTO]",
		"Push Step 3: Announce the release [MANUAL]",
	}, a.titles)
	assert.Equal(t, []string{"Test mode: Skipping copy to live site!"}, a.notes)
	assert.Equal(t, []string{"check-versions", "announce"}, report.Completed)
	assert.Equal(t, []string{"copy-live"}, report.Skipped)
	assert.Equal(t, "announce", report.Last)
	assert.Equal(t, []string{"check-versions=completed", "copy-live=skipped", "announce=completed"}, observed)

	run, last, found := book.LastCompleted()
	assert.True(t, found)
	assert.Equal(t, "run-1", run)
	assert.Equal(t, "announce", last)
}

func TestRunnerStopsAtFirstFailure(t *testing.T) {
	boom := errors.New("gradle exited with status 1")
	ran := 0
	seq := NewSequence("Build Step")
	seq.MustAdd(
		New("sync", "Clone or update repositories", KindSemiAuto, ok),
		New("build", "Build release", KindAuto, func(context.Context) (Result, error) { return Result{}, boom }),
		New("tag", "Commit and tag", KindAuto, func(context.Context) (Result, error) { ran++; return Done(), nil }),
	)
	a := &recordingAnnouncer{}
	report, err := NewRunner(a).Run(context.Background(), seq)

	var stepErr *Error
	require.True(t, errors.As(err, &stepErr))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "build", stepErr.Step.ID)
	assert.True(t, strings.HasPrefix(err.Error(), "Build Step 2: Build release failed"))
	assert.Equal(t, []string{"sync"}, report.Completed)
	assert.Zero(t, ran)
}

func TestRunnerHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	seq := NewSequence("Build Step")
	seq.MustAdd(New("sync", "Sync", KindAuto, ok))
	_, err := NewRunner(&recordingAnnouncer{}).Run(ctx, seq)
	assert.ErrorIs(t, err, context.Canceled)
}
