// Package render provides markdown rendering and styled status output for the terminal.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Options controls how a Renderer writes.
type Options struct {
	NoColor bool
	// Width overrides the detected wrap width when positive.
	Width int
}

// Renderer renders markdown and status lines to a writer.
type Renderer struct {
	gr     *glamour.TermRenderer
	writer io.Writer
	color  bool
	styles styles
}

// NewRenderer creates a Renderer writing to the given writer.
// If w is nil, os.Stdout is used.
func NewRenderer(w io.Writer, opts Options) (*Renderer, error) {
	if w == nil {
		w = os.Stdout
	}
	width := opts.Width
	if width <= 0 {
		width = Width(w)
	}

	profile := Profile(w, opts.NoColor)
	color := profile != termenv.Ascii

	styleOpt := glamour.WithStandardStyle("notty")
	if color {
		styleOpt = glamour.WithAutoStyle()
	}
	gr, err := glamour.NewTermRenderer(
		styleOpt,
		glamour.WithWordWrap(width),
		glamour.WithColorProfile(profile),
	)
	if err != nil {
		return nil, fmt.Errorf("create glamour renderer: %w", err)
	}

	lr := lipgloss.NewRenderer(w)
	lr.SetColorProfile(profile)

	return &Renderer{gr: gr, writer: w, color: color, styles: newStyles(lr)}, nil
}

// Writer returns the underlying writer.
func (r *Renderer) Writer() io.Writer { return r.writer }

// Color reports whether output is styled.
func (r *Renderer) Color() bool { return r.color }

// Render renders a complete markdown string to the writer.
func (r *Renderer) Render(markdown string) error {
	out, err := r.gr.Render(markdown)
	if err != nil {
		return fmt.Errorf("render markdown: %w", err)
	}
	_, err = fmt.Fprint(r.writer, out)
	return err
}

// Stream renders streamed markdown block by block. Plain output is
// written through as it arrives.
type Stream struct {
	r       *Renderer
	pending strings.Builder
	wrote   bool
}

// NewStream starts a streamed response.
func (r *Renderer) NewStream() *Stream {
	return &Stream{r: r}
}

// Write adds a content delta, rendering any complete blocks.
func (s *Stream) Write(delta string) error {
	if delta == "" {
		return nil
	}
	s.wrote = true
	if !s.r.color {
		_, err := io.WriteString(s.r.writer, delta)
		return err
	}

	s.pending.WriteString(delta)
	buf := s.pending.String()
	cut := blockEnd(buf)
	if cut < 0 {
		return nil
	}
	s.pending.Reset()
	s.pending.WriteString(buf[cut:])
	return s.r.Render(buf[:cut])
}

// blockEnd returns the offset just past the last blank line or closing
// code fence that is not inside a fence, or -1.
func blockEnd(buf string) int {
	cut := -1
	inFence := false
	offset := 0
	for _, line := range strings.SplitAfter(buf, "\n") {
		if !strings.HasSuffix(line, "\n") {
			break
		}
		offset += len(line)
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "```"):
			inFence = !inFence
			if !inFence {
				cut = offset
			}
		case !inFence && trimmed == "" && offset > len(line):
			cut = offset
		}
	}
	return cut
}

// Close renders whatever remains and ends the line.
func (s *Stream) Close() error {
	if !s.r.color {
		if s.wrote {
			_, err := io.WriteString(s.r.writer, "\n")
			return err
		}
		return nil
	}
	rest := s.pending.String()
	s.pending.Reset()
	if strings.TrimSpace(rest) == "" {
		return nil
	}
	return s.r.Render(rest)
}
