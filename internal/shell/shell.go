// Package shell runs the external tools the release drives: git, gradle, the
// link checker, the compiler. Every command is echoed to the operator before
// it starts.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Command is an argument vector plus the directory to run it in.
type Command struct {
	Args []string
	Dir  string
	// Env holds variables for this command only, on top of the executor's.
	Env map[string]string

	secret map[string]bool
}

// Cmd builds a Command from its arguments.
func Cmd(args ...string) Command {
	return Command{Args: args}
}

// In returns a copy of c that runs in dir.
func (c Command) In(dir string) Command {
	c.Dir = dir
	return c
}

// With returns a copy of c with an extra environment variable.
func (c Command) With(key, value string) Command {
	env := make(map[string]string, len(c.Env)+1)
	for k, v := range c.Env {
		env[k] = v
	}
	env[key] = value
	c.Env = env
	return c
}

// WithSecret is With for a value that is masked when the command is echoed.
func (c Command) WithSecret(key, value string) Command {
	c = c.With(key, value)
	secret := map[string]bool{key: true}
	for k := range c.secret {
		secret[k] = true
	}
	c.secret = secret
	return c
}

func (c Command) String() string {
	quoted := make([]string, len(c.Args))
	for i, a := range c.Args {
		if a == "" || strings.ContainsAny(a, " \t\"'$") {
			quoted[i] = fmt.Sprintf("%q", a)
			continue
		}
		quoted[i] = a
	}
	return strings.Join(quoted, " ")
}

// Result carries both the captured standard output and the exit status of a
// finished command. Callers look at whichever they need.
type Result struct {
	Output   string
	ExitCode int
}

// OK reports a zero exit status.
func (r Result) OK() bool { return r.ExitCode == 0 }

// CommandError reports a command that exited nonzero where success was required.
type CommandError struct {
	Args     []string
	Dir      string
	ExitCode int
}

func (e *CommandError) Error() string {
	cmd := Command{Args: e.Args}.String()
	if e.Dir != "" {
		return fmt.Sprintf("command %q in %s exited with status %d", cmd, e.Dir, e.ExitCode)
	}
	return fmt.Sprintf("command %q exited with status %d", cmd, e.ExitCode)
}

// Environment is the configuration handed to every child process. The
// executor's own process environment is never modified.
type Environment struct {
	// PathPrepend entries are placed before the inherited PATH.
	PathPrepend []string
	Vars        map[string]string
}

// Runner is the subset of Executor the release packages depend on.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
	Status(ctx context.Context, cmd Command, haltIfFail bool) (int, error)
	Output(ctx context.Context, cmd Command) (string, error)
	Check(ctx context.Context, cmd Command) error
	RunToFile(ctx context.Context, cmd Command, path string, haltIfFail bool) (int, error)
}

// Executor runs commands with a fixed Environment.
type Executor struct {
	env    Environment
	out    io.Writer
	logger *zap.Logger
	base   func() []string
}

// Option customizes an Executor.
type Option func(*Executor)

// WithOutput sets where command echoes and streamed output go.
func WithOutput(w io.Writer) Option {
	return func(e *Executor) {
		if w != nil {
			e.out = w
		}
	}
}

// WithLogger attaches a logger that records every command at debug level.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithBaseEnviron overrides the inherited environment, mostly for tests.
func WithBaseEnviron(fn func() []string) Option {
	return func(e *Executor) {
		if fn != nil {
			e.base = fn
		}
	}
}

// New builds an executor for env.
func New(env Environment, opts ...Option) *Executor {
	e := &Executor{
		env:    env,
		out:    os.Stdout,
		logger: zap.NewNop(),
		base:   os.Environ,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes cmd and captures its standard output. A nonzero exit is
// reported in the Result, not as an error; err is set only when the process
// could not be started or was interrupted.
func (e *Executor) Run(ctx context.Context, cmd Command) (Result, error) {
	var stdout bytes.Buffer
	code, err := e.exec(ctx, cmd, &stdout, e.out)
	return Result{Output: stdout.String(), ExitCode: code}, err
}

// Status executes cmd with its output streamed to the operator and returns
// the exit status. With haltIfFail a nonzero status becomes a *CommandError.
func (e *Executor) Status(ctx context.Context, cmd Command, haltIfFail bool) (int, error) {
	code, err := e.exec(ctx, cmd, e.out, e.out)
	if err != nil {
		return code, err
	}
	if code != 0 && haltIfFail {
		return code, &CommandError{Args: cmd.Args, Dir: cmd.Dir, ExitCode: code}
	}
	return code, nil
}

// Check is Status with haltIfFail set.
func (e *Executor) Check(ctx context.Context, cmd Command) error {
	_, err := e.Status(ctx, cmd, true)
	return err
}

// Output returns the captured standard output of cmd whatever its exit code.
func (e *Executor) Output(ctx context.Context, cmd Command) (string, error) {
	res, err := e.Run(ctx, cmd)
	return res.Output, err
}

// RunToFile executes cmd with standard output and error redirected to path,
// replacing any earlier content.
func (e *Executor) RunToFile(ctx context.Context, cmd Command, path string, haltIfFail bool) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return -1, fmt.Errorf("shell: ensure output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return -1, fmt.Errorf("shell: create %s: %w", path, err)
	}
	defer f.Close()
	code, err := e.exec(ctx, cmd, f, f)
	if err != nil {
		return code, err
	}
	if code != 0 && haltIfFail {
		return code, &CommandError{Args: cmd.Args, Dir: cmd.Dir, ExitCode: code}
	}
	return code, nil
}

func (e *Executor) exec(ctx context.Context, cmd Command, stdout, stderr io.Writer) (int, error) {
	if len(cmd.Args) == 0 {
		return -1, errors.New("shell: empty command")
	}
	fmt.Fprintf(e.out, "Executing: %s%s\n", envPrefix(cmd), cmd)
	if cmd.Dir != "" {
		fmt.Fprintf(e.out, "  in directory: %s\n", cmd.Dir)
	}

	// Resolve against the child's PATH, which may carry prepended tool dirs.
	name := cmd.Args[0]
	if resolved, err := e.LookPath(name); err == nil {
		name = resolved
	}
	c := exec.CommandContext(ctx, name, cmd.Args[1:]...)
	c.Dir = cmd.Dir
	c.Env = e.environ(cmd.Env)
	c.Stdout = stdout
	c.Stderr = stderr
	c.Stdin = nil

	started := time.Now()
	err := c.Run()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) || ctx.Err() != nil {
			e.logger.Debug("command did not run",
				zap.Strings("args", cmd.Args),
				zap.String("dir", cmd.Dir),
				zap.Error(err))
			if ctxErr := ctx.Err(); ctxErr != nil {
				return -1, fmt.Errorf("shell: %s: %w", cmd, ctxErr)
			}
			return -1, fmt.Errorf("shell: start %s: %w", cmd, err)
		}
		code = exitErr.ExitCode()
	}
	e.logger.Debug("command finished",
		zap.Strings("args", cmd.Args),
		zap.String("dir", cmd.Dir),
		zap.Int("exit", code),
		zap.Duration("took", time.Since(started)))
	return code, nil
}

// Environ is the complete environment a child process receives.
func (e *Executor) Environ() []string {
	return e.environ(nil)
}

func (e *Executor) environ(extra map[string]string) []string {
	merged := map[string]string{}
	var order []string
	set := func(k, v string) {
		if _, seen := merged[k]; !seen {
			order = append(order, k)
		}
		merged[k] = v
	}
	for _, kv := range e.base() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		set(k, v)
	}
	for _, k := range sortedKeys(e.env.Vars) {
		set(k, e.env.Vars[k])
	}
	if len(e.env.PathPrepend) > 0 {
		path := strings.Join(e.env.PathPrepend, string(os.PathListSeparator))
		if existing := merged["PATH"]; existing != "" {
			path += string(os.PathListSeparator) + existing
		}
		set("PATH", path)
	}
	for _, k := range sortedKeys(extra) {
		set(k, extra[k])
	}
	out := make([]string, 0, len(order))
	for _, k := range order {
		out = append(out, k+"="+merged[k])
	}
	return out
}

// LookPath reports whether name resolves to an executable on the PATH the
// executor hands to its children.
func (e *Executor) LookPath(name string) (string, error) {
	if strings.ContainsRune(name, os.PathSeparator) {
		return exec.LookPath(name)
	}
	var path string
	for _, kv := range e.Environ() {
		if v, ok := strings.CutPrefix(kv, "PATH="); ok {
			path = v
		}
	}
	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			dir = "."
		}
		candidate := filepath.Join(dir, name)
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		if info.Mode()&0o111 != 0 {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("shell: %s: %w", name, exec.ErrNotFound)
}

// ToolMissingError lists required programs that are not on the PATH.
type ToolMissingError struct {
	Tools []string
}

func (e *ToolMissingError) Error() string {
	return "command not found: " + strings.Join(e.Tools, ", ")
}

// CheckTools fails with *ToolMissingError unless every name resolves with
// LookPath.
func (e *Executor) CheckTools(names ...string) error {
	var missing []string
	for _, name := range names {
		if _, err := e.LookPath(name); err != nil {
			missing = append(missing, name)
			e.logger.Debug("tool not found", zap.String("tool", name))
		}
	}
	if len(missing) > 0 {
		return &ToolMissingError{Tools: missing}
	}
	return nil
}

func envPrefix(cmd Command) string {
	if len(cmd.Env) == 0 {
		return ""
	}
	var b strings.Builder
	for _, k := range sortedKeys(cmd.Env) {
		v := cmd.Env[k]
		if cmd.secret[k] {
			v = "****"
		}
		fmt.Fprintf(&b, "%s=%s ", k, v)
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
