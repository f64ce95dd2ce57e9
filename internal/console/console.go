// Package console formats what the operator reads between prompts: step
// banners, mode banners and the instructions for manual steps.
package console

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	kindStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086"))
	noteStyle  = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("#F5A97F"))
	bannerBox  = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("#F38BA8")).
			Bold(true).
			Padding(0, 2)
)

// Console writes operator-facing text.
type Console struct {
	out   io.Writer
	plain bool
	wrap  int
	md    *glamour.TermRenderer
}

// Option customizes a Console.
type Option func(*Console)

// WithPlain disables styling and markdown rendering, for logs and pipes.
func WithPlain() Option {
	return func(c *Console) { c.plain = true }
}

// WithWordWrap sets the wrap width of rendered instructions.
func WithWordWrap(width int) Option {
	return func(c *Console) {
		if width > 0 {
			c.wrap = width
		}
	}
}

// New creates a Console writing to out.
func New(out io.Writer, opts ...Option) *Console {
	if out == nil {
		out = os.Stdout
	}
	c := &Console{out: out, wrap: 80}
	for _, opt := range opts {
		opt(c)
	}
	if !c.plain {
		renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(c.wrap),
		)
		if err == nil {
			c.md = renderer
		}
	}
	return c
}

// Writer returns the underlying writer.
func (c *Console) Writer() io.Writer { return c.out }

// Step prints a step banner: a blank line, the title, and a rule as long as
// the title.
func (c *Console) Step(title, kind string) {
	rule := strings.Repeat("-", len(title))
	if c.plain {
		fmt.Fprintf(c.out, "\n\n%s\n%s\n", title, rule)
		return
	}
	head := titleStyle.Render(title)
	if kind != "" {
		head += " " + kindStyle.Render("("+strings.ToLower(kind)+")")
	}
	fmt.Fprintf(c.out, "\n\n%s\n%s\n", head, rule)
}

// Note prints a short remark under the current step.
func (c *Console) Note(text string) {
	if c.plain {
		fmt.Fprintln(c.out, text)
		return
	}
	fmt.Fprintln(c.out, noteStyle.Render(text))
}

// Banner prints text in a box, for things the operator must not miss.
func (c *Console) Banner(text string) {
	if c.plain {
		rule := strings.Repeat("=", 60)
		fmt.Fprintf(c.out, "%s\n%s\n%s\n", rule, text, rule)
		return
	}
	fmt.Fprintln(c.out, bannerBox.Render(text))
}

// Printf writes formatted text.
func (c *Console) Printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

// Println writes a line.
func (c *Console) Println(args ...any) {
	fmt.Fprintln(c.out, args...)
}

// Instructions prints markdown for a manual step. Without a renderer the
// markdown is printed as is.
func (c *Console) Instructions(markdown string) {
	if c.md != nil {
		if rendered, err := c.md.Render(markdown); err == nil {
			fmt.Fprint(c.out, rendered)
			return
		}
	}
	fmt.Fprintln(c.out, strings.TrimRight(markdown, "\n"))
}

// Verbatim prints text that must be copied exactly, such as an e-mail body.
// It is never reflowed.
func (c *Console) Verbatim(text string) {
	fmt.Fprintf(c.out, "\n%s\n\n", strings.TrimRight(text, "\n"))
}
