// Package shelltest provides a shell.Runner that records commands instead of
// running them.
package shelltest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kingrea/cfrelease/internal/shell"
)

// Handler decides the outcome of a recorded command.
type Handler func(cmd shell.Command) shell.Result

// Recorder implements shell.Runner. Every command succeeds with empty output
// unless Handler says otherwise.
type Recorder struct {
	Handler Handler
	// Missing names tools CheckTools reports as absent.
	Missing []string

	mu    sync.Mutex
	calls []shell.Command
}

// Calls returns the commands seen so far.
func (r *Recorder) Calls() []shell.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]shell.Command(nil), r.calls...)
}

// Lines renders each recorded command as "dir$ args" for easy comparison.
func (r *Recorder) Lines() []string {
	calls := r.Calls()
	lines := make([]string, len(calls))
	for i, c := range calls {
		lines[i] = filepath.Base(c.Dir) + "$ " + strings.Join(c.Args, " ")
	}
	return lines
}

func (r *Recorder) record(cmd shell.Command) shell.Result {
	r.mu.Lock()
	r.calls = append(r.calls, cmd)
	h := r.Handler
	r.mu.Unlock()
	if h == nil {
		return shell.Result{}
	}
	return h(cmd)
}

func (r *Recorder) Run(_ context.Context, cmd shell.Command) (shell.Result, error) {
	return r.record(cmd), nil
}

func (r *Recorder) Status(_ context.Context, cmd shell.Command, haltIfFail bool) (int, error) {
	res := r.record(cmd)
	if res.ExitCode != 0 && haltIfFail {
		return res.ExitCode, &shell.CommandError{Args: cmd.Args, Dir: cmd.Dir, ExitCode: res.ExitCode}
	}
	return res.ExitCode, nil
}

func (r *Recorder) Check(ctx context.Context, cmd shell.Command) error {
	_, err := r.Status(ctx, cmd, true)
	return err
}

func (r *Recorder) Output(_ context.Context, cmd shell.Command) (string, error) {
	return r.record(cmd).Output, nil
}

// RunToFile writes the handler's output to path.
func (r *Recorder) RunToFile(_ context.Context, cmd shell.Command, path string, haltIfFail bool) (int, error) {
	res := r.record(cmd)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return -1, err
	}
	if err := os.WriteFile(path, []byte(res.Output), 0o644); err != nil {
		return -1, err
	}
	if res.ExitCode != 0 && haltIfFail {
		return res.ExitCode, &shell.CommandError{Args: cmd.Args, Dir: cmd.Dir, ExitCode: res.ExitCode}
	}
	return res.ExitCode, nil
}

// Is reports whether cmd starts with the given arguments.
func Is(cmd shell.Command, prefix ...string) bool {
	if len(cmd.Args) < len(prefix) {
		return false
	}
	for i, p := range prefix {
		if cmd.Args[i] != p {
			return false
		}
	}
	return true
}

// CheckTools fails for any name listed in Missing.
func (r *Recorder) CheckTools(names ...string) error {
	var missing []string
	for _, n := range names {
		for _, m := range r.Missing {
			if n == m {
				missing = append(missing, n)
			}
		}
	}
	if len(missing) > 0 {
		return &shell.ToolMissingError{Tools: missing}
	}
	return nil
}
