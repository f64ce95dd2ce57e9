// Package prompt asks the release operator questions on the console. Every
// question blocks until a valid answer arrives; an invalid answer repeats the
// question without limit.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// YesNoPattern is the validation pattern used by yes/no questions.
const YesNoPattern = `^(Yes|yes|No|no)$`

// ErrNoInput is returned when the input stream ends before a valid answer.
var ErrNoInput = errors.New("prompt: input closed before an answer was given")

// UserAbortedError records the question the operator declined.
type UserAbortedError struct {
	Prompt string
}

func (e *UserAbortedError) Error() string {
	return "User elected NOT to continue at prompt: " + e.Prompt
}

// LineReader supplies one line of operator input per call.
type LineReader interface {
	ReadLine(question string) (string, error)
}

// ScannerReader reads lines from any io.Reader.
type ScannerReader struct {
	scanner *bufio.Scanner
}

// NewScannerReader wraps r.
func NewScannerReader(r io.Reader) *ScannerReader {
	return &ScannerReader{scanner: bufio.NewScanner(r)}
}

// ReadLine ignores the question; the Prompter has already printed it.
func (s *ScannerReader) ReadLine(string) (string, error) {
	if s.scanner.Scan() {
		return s.scanner.Text(), nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// Prompter asks questions through a LineReader.
type Prompter struct {
	in   LineReader
	out  io.Writer
	auto bool
	// echo is false when the reader renders the question itself.
	echo bool
}

// Option customizes a Prompter.
type Option func(*Prompter)

// WithAuto makes every question take its default answer without reading input.
func WithAuto(auto bool) Option {
	return func(p *Prompter) { p.auto = auto }
}

// WithReaderRendersQuestion is for readers that draw the question themselves.
func WithReaderRendersQuestion() Option {
	return func(p *Prompter) { p.echo = false }
}

// New builds a Prompter.
func New(in LineReader, out io.Writer, opts ...Option) *Prompter {
	p := &Prompter{in: in, out: out, echo: true}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Auto reports whether defaults are taken without asking.
func (p *Prompter) Auto() bool { return p.auto }

var (
	questionStyle = lipgloss.NewStyle().Bold(true)
	invalidStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
)

// WithDefault asks msg and returns the answer. An empty answer yields def.
// A non-empty answer is trimmed and, when pattern is set, must match it.
func (p *Prompter) WithDefault(msg, def, pattern string) (string, error) {
	var re *regexp.Regexp
	if pattern != "" {
		compiled, err := regexp.Compile(anchor(pattern))
		if err != nil {
			return "", fmt.Errorf("prompt: invalid pattern %q: %w", pattern, err)
		}
		re = compiled
	}
	question := fmt.Sprintf("%s (%s): ", msg, def)
	if p.auto {
		fmt.Fprintln(p.out, styled(question)+def)
		return def, nil
	}
	for {
		if p.echo {
			fmt.Fprint(p.out, styled(question))
		}
		line, err := p.in.ReadLine(question)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", ErrNoInput
			}
			return "", fmt.Errorf("prompt: read answer: %w", err)
		}
		answer := strings.TrimSpace(line)
		if answer == "" {
			return def, nil
		}
		if re == nil || re.MatchString(answer) {
			return answer, nil
		}
		fmt.Fprintln(p.out, invalidStyle.Render("Invalid answer.  Validating regex: "+pattern))
	}
}

// YesNo asks a yes/no question.
func (p *Prompter) YesNo(msg string, def bool) (bool, error) {
	d := "no"
	if def {
		d = "yes"
	}
	answer, err := p.WithDefault(msg, d, YesNoPattern)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(answer, "yes"), nil
}

// ContinueOrExit is the gate between steps: answering no aborts the run.
func (p *Prompter) ContinueOrExit(msg string) error {
	ok, err := p.YesNo(msg+" Continue ('no' will exit the script)?", true)
	if err != nil {
		return err
	}
	if !ok {
		return &UserAbortedError{Prompt: msg}
	}
	return nil
}

// YN asks for a single-letter y or n answer. There is no default; in auto
// mode the answer is y.
func (p *Prompter) YN(msg string) (bool, error) {
	question := msg + " [y|n]"
	if p.auto {
		fmt.Fprintln(p.out, styled(question)+" y")
		return true, nil
	}
	for {
		if p.echo {
			fmt.Fprintln(p.out, styled(question))
		}
		line, err := p.in.ReadLine(question)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return false, ErrNoInput
			}
			return false, fmt.Errorf("prompt: read answer: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y":
			return true, nil
		case "n":
			return false, nil
		}
	}
}

// UntilYes repeats "Continue?" until the operator says yes. Used after
// instructions for a manual step.
func (p *Prompter) UntilYes() error {
	for {
		ok, err := p.YesNo("Continue?", true)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
}

// Choice asks for one of options, case-insensitively.
func (p *Prompter) Choice(msg, def string, options ...string) (string, error) {
	quoted := make([]string, len(options))
	for i, o := range options {
		quoted[i] = regexp.QuoteMeta(o)
	}
	pattern := "(?i)^(" + strings.Join(quoted, "|") + ")$"
	answer, err := p.WithDefault(fmt.Sprintf("%s [%s]", msg, strings.Join(options, "|")), def, pattern)
	if err != nil {
		return "", err
	}
	return strings.ToLower(answer), nil
}

// styled renders the question text, leaving trailing spaces unstyled.
func styled(question string) string {
	text := strings.TrimRight(question, " ")
	return questionStyle.Render(text) + question[len(text):]
}

func anchor(pattern string) string {
	// Patterns match from the start of the answer.
	if strings.HasPrefix(pattern, "^") || strings.HasPrefix(pattern, "(?i)^") {
		return pattern
	}
	return "^(?:" + pattern + ")"
}
