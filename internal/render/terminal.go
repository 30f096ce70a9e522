package render

import (
	"io"
	"os"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

const (
	// DefaultWidth is the wrap width when the terminal size is unknown.
	DefaultWidth = 100
	minWidth     = 40
)

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Width returns the wrap width for w.
func Width(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return DefaultWidth
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return DefaultWidth
	}
	return min(max(width-2, minWidth), DefaultWidth)
}

// Profile picks the color profile for w. Non-terminals and NO_COLOR get Ascii.
func Profile(w io.Writer, noColor bool) termenv.Profile {
	if noColor || !IsTerminal(w) {
		return termenv.Ascii
	}
	return termenv.NewOutput(w).EnvColorProfile()
}
