package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type styles struct {
	title     lipgloss.Style
	info      lipgloss.Style
	success   lipgloss.Style
	warn      lipgloss.Style
	err       lipgloss.Style
	dim       lipgloss.Style
	reasoning lipgloss.Style
	prompt    lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		title:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("6")),
		info:      r.NewStyle().Foreground(lipgloss.Color("8")),
		success:   r.NewStyle().Foreground(lipgloss.Color("2")),
		warn:      r.NewStyle().Foreground(lipgloss.Color("3")),
		err:       r.NewStyle().Bold(true).Foreground(lipgloss.Color("1")),
		dim:       r.NewStyle().Faint(true),
		reasoning: r.NewStyle().Italic(true).Foreground(lipgloss.Color("8")),
		prompt:    r.NewStyle().Foreground(lipgloss.Color("2")),
	}
}

func (r *Renderer) line(style lipgloss.Style, format string, args ...any) {
	fmt.Fprintln(r.writer, style.Render(fmt.Sprintf(format, args...)))
}

// Title prints a heading line.
func (r *Renderer) Title(format string, args ...any) { r.line(r.styles.title, format, args...) }

// Info prints a secondary status line.
func (r *Renderer) Info(format string, args ...any) { r.line(r.styles.info, format, args...) }

// Success prints a confirmation line.
func (r *Renderer) Success(format string, args ...any) { r.line(r.styles.success, format, args...) }

// Warn prints a warning line.
func (r *Renderer) Warn(format string, args ...any) { r.line(r.styles.warn, format, args...) }

// Error prints err prefixed with "Error:".
func (r *Renderer) Error(err error) {
	fmt.Fprintln(r.writer, r.styles.err.Render("Error:"), err.Error())
}

// Usage prints a per-turn usage line.
func (r *Renderer) Usage(line string) {
	if line == "" {
		return
	}
	r.line(r.styles.dim, "%s", line)
}

// Reasoning prints a model's chain of thought before its answer.
func (r *Renderer) Reasoning(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	fmt.Fprintln(r.writer, r.styles.title.Render("Reasoning:"))
	fmt.Fprintln(r.writer, r.styles.reasoning.Render(text))
	fmt.Fprintln(r.writer, r.styles.title.Render("Answer:"))
}

// ReasoningDelta writes a streamed fragment of reasoning.
func (r *Renderer) ReasoningDelta(delta string) {
	fmt.Fprint(r.writer, r.styles.reasoning.Render(delta))
}

// Prompt returns the styled interactive prompt string.
func (r *Renderer) Prompt(label string) string {
	return r.styles.prompt.Render(label)
}
