package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/shamrockmuffin/open-interpreter-gui/internal/types"
)

// Color palette
var (
	colorAccent  = lipgloss.Color("#8BC34A") // Lime
	colorMuted   = lipgloss.Color("#8A93A6")
	colorCode    = lipgloss.Color("#E0E6F0")
	colorError   = lipgloss.Color("#FF6B6B")
	colorUser    = lipgloss.Color("#64B5F6")
	colorWarning = lipgloss.Color("#FFB74D")
)

var (
	headerStyle  = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	codeStyle    = lipgloss.NewStyle().Foreground(colorCode)
	outputStyle  = lipgloss.NewStyle().Foreground(colorMuted)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError)
	userStyle    = lipgloss.NewStyle().Foreground(colorUser).Italic(true)
	promptStyle  = lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	messageStyle = lipgloss.NewStyle()
)

// renderer prints the framed chunk stream of a turn. Assistant messages
// are buffered and rendered as markdown when their frame ends; everything
// else is streamed as it arrives.
type renderer struct {
	out      io.Writer
	markdown *glamour.TermRenderer

	open    types.Chunk
	inFrame bool
	text    strings.Builder
}

func newRenderer(out io.Writer) *renderer {
	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		// Fall back to plain text.
		md = nil
	}
	return &renderer{out: out, markdown: md}
}

// Handle renders one chunk.
func (r *renderer) Handle(c types.Chunk) {
	switch {
	case c.Start:
		r.begin(c)
	case c.End:
		r.end()
	default:
		r.content(c)
	}
}

func (r *renderer) begin(c types.Chunk) {
	r.open = c
	r.inFrame = true
	r.text.Reset()

	switch {
	case c.Role == types.RoleAssistant && c.Type == types.TypeCode:
		fmt.Fprintln(r.out, headerStyle.Render("▌ "+string(c.Format)))
	case c.Role == types.RoleComputer && c.IsConsoleOutput():
		fmt.Fprintln(r.out, headerStyle.Render("▌ output"))
	}
}

func (r *renderer) end() {
	if !r.inFrame {
		return
	}
	c := r.open
	r.inFrame = false

	switch {
	case c.Role == types.RoleAssistant && c.Type == types.TypeMessage:
		fmt.Fprint(r.out, r.renderMarkdown(r.text.String()))
	case c.IsActiveLine():
	default:
		if s := r.text.String(); s != "" && !strings.HasSuffix(s, "\n") {
			fmt.Fprintln(r.out)
		}
	}
	r.text.Reset()
}

func (r *renderer) content(c types.Chunk) {
	if c.IsActiveLine() || c.Type == types.TypeConfirmation {
		return
	}
	r.text.WriteString(c.Content)

	switch {
	case c.Role == types.RoleAssistant && c.Type == types.TypeMessage:
		// Rendered on end.
	case c.Role == types.RoleUser:
		fmt.Fprint(r.out, paint(userStyle, "> "+c.Content))
	case c.Type == types.TypeCode:
		fmt.Fprint(r.out, paint(codeStyle, c.Content))
	case c.Type == types.TypeError:
		fmt.Fprint(r.out, paint(errorStyle, c.Content))
	case c.Type == types.TypeConsole:
		fmt.Fprint(r.out, paint(outputStyle, c.Content))
	default:
		fmt.Fprint(r.out, paint(messageStyle, c.Content))
	}
}

func (r *renderer) renderMarkdown(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	if r.markdown != nil {
		if out, err := r.markdown.Render(s); err == nil {
			return out
		}
	}
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	return s
}

// paint styles each line separately so streamed fragments keep their
// newlines and lipgloss never pads them to a common width.
func paint(style lipgloss.Style, s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = style.Render(l)
		}
	}
	return strings.Join(lines, "\n")
}
