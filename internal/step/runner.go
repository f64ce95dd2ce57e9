// Package step runs a numbered list of release steps in order, announcing
// each one, journaling its outcome, and stopping at the first failure.
package step

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kingrea/cfrelease/internal/logbook"
)

// Announcer shows the banner for a step before it runs.
type Announcer interface {
	Step(title, kind string)
	Note(text string)
}

// Observer is told about every step that finishes without error.
type Observer func(info Info, res Result)

// Report summarizes a run.
type Report struct {
	Completed []string
	Skipped   []string
	Last      string
}

// Runner executes a Sequence.
type Runner struct {
	announce Announcer
	journal  *logbook.Logbook
	logger   *zap.Logger
	observe  Observer
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithJournal records step starts and outcomes in book.
func WithJournal(book *logbook.Logbook) RunnerOption {
	return func(r *Runner) { r.journal = book }
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithObserver registers fn to be called after each finished step.
func WithObserver(fn Observer) RunnerOption {
	return func(r *Runner) { r.observe = fn }
}

// NewRunner creates a Runner that announces steps through a.
func NewRunner(a Announcer, opts ...RunnerOption) *Runner {
	r := &Runner{announce: a, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes every step of seq in order. The first error stops the run
// and is returned as *Error. The report lists what finished before that.
func (r *Runner) Run(ctx context.Context, seq *Sequence) (Report, error) {
	var report Report
	for i, st := range seq.Steps() {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		title := fmt.Sprintf("%s %d: %s", seq.Title(), i+1, st.Info.Name)
		r.announce.Step(title, string(st.Info.Kind))
		r.journal.Info(st.Info.ID, "started %s", title)
		r.logger.Info("step started", zap.String("step", st.Info.ID), zap.Int("number", i+1), zap.String("kind", string(st.Info.Kind)))

		res, err := st.Run(ctx)
		if err != nil {
			r.journal.Error(st.Info.ID, "%v", err)
			r.logger.Error("step failed", zap.String("step", st.Info.ID), zap.Error(err))
			return report, &Error{Title: title, Step: st.Info, Err: err}
		}
		if res.Status == "" {
			res.Status = StatusCompleted
		}
		switch res.Status {
		case StatusSkipped:
			if res.Message != "" {
				r.announce.Note(res.Message)
			}
			r.journal.Info(st.Info.ID, "skipped %s", res.Message)
			report.Skipped = append(report.Skipped, st.Info.ID)
		case StatusFailed:
			err := fmt.Errorf("%s", res.Message)
			r.journal.Error(st.Info.ID, "%s", res.Message)
			return report, &Error{Title: title, Step: st.Info, Err: err}
		default:
			r.journal.Completed(st.Info.ID)
			report.Completed = append(report.Completed, st.Info.ID)
		}
		report.Last = st.Info.ID
		r.logger.Info("step finished", zap.String("step", st.Info.ID), zap.String("status", string(res.Status)))
		if r.observe != nil {
			r.observe(st.Info, res)
		}
	}
	return report, nil
}
