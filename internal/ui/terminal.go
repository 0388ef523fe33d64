package ui

import (
	"os"

	"golang.org/x/term"
)

// DefaultWidth is used when stdout is not a terminal.
const DefaultWidth = 100

// TerminalWidth returns the width of stdout, or DefaultWidth when it is
// redirected.
func TerminalWidth() int {
	fd := int(os.Stdout.Fd()) // #nosec G115 -- file descriptors fit in int
	if !term.IsTerminal(fd) {
		return DefaultWidth
	}
	if w, _, err := term.GetSize(fd); err == nil && w > 0 {
		return w
	}
	return DefaultWidth
}

// TitleWidth is the space left for a title after a fixed-width prefix,
// never less than 20 columns.
func TitleWidth(prefix int) int {
	return max(TerminalWidth()-prefix, 20)
}
