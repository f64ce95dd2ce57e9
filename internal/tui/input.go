// internal/tui/input.go
//
// Interactive line source for operator prompts. Each question runs a small
// bubbletea program inline (no alternate screen) holding one text input;
// Enter submits, Ctrl+D ends input, Ctrl+C interrupts the release.

package tui

import (
	"errors"
	"io"
	"os"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// ErrInterrupted is returned when the operator presses Ctrl+C at a prompt.
var ErrInterrupted = errors.New("interrupted at prompt")

var (
	questionStyle = lipgloss.NewStyle().Bold(true)
	answerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E3A1"))
)

// inputModel is the state of one question.
type inputModel struct {
	question string
	input    textinput.Model
	done     bool
	eof      bool
	canceled bool
}

func newInputModel(question string) inputModel {
	ti := textinput.New()
	ti.Prompt = ""
	ti.CharLimit = 256
	ti.Focus()
	return inputModel{question: question, input: ti}
}

func (m inputModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyEnter:
			m.done = true
			return m, tea.Quit
		case tea.KeyCtrlC:
			m.canceled = true
			return m, tea.Quit
		case tea.KeyCtrlD:
			if m.input.Value() == "" {
				m.eof = true
				return m, tea.Quit
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m inputModel) View() string {
	if m.done || m.canceled || m.eof {
		return questionStyle.Render(m.question) + " " + answerStyle.Render(m.input.Value()) + "\n"
	}
	return questionStyle.Render(m.question) + " " + m.input.View()
}

// Reader implements prompt.LineReader on a terminal.
type Reader struct {
	in  io.Reader
	out io.Writer
}

// NewReader creates a Reader on the given terminal streams.
func NewReader(in io.Reader, out io.Writer) *Reader {
	return &Reader{in: in, out: out}
}

// ReadLine shows question and returns what the operator typed.
func (r *Reader) ReadLine(question string) (string, error) {
	p := tea.NewProgram(newInputModel(question), tea.WithInput(r.in), tea.WithOutput(r.out))
	final, err := p.Run()
	if err != nil {
		return "", err
	}
	return result(final.(inputModel))
}

func result(m inputModel) (string, error) {
	switch {
	case m.canceled:
		return "", ErrInterrupted
	case m.eof:
		return "", io.EOF
	}
	return m.input.Value(), nil
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
