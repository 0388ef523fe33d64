package ui

import (
	"os"

	"charm.land/glamour/v2"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// maxMarkdownWidth caps word wrap for PRD bodies; long prose lines are hard to read.
const maxMarkdownWidth = 100

// RenderMarkdown renders a PRD body for the terminal. Redirected output and
// renderer failures get the markdown back unchanged.
func RenderMarkdown(markdown string) string {
	if !term.IsTerminal(int(os.Stdout.Fd())) { // #nosec G115 -- file descriptors fit in int
		return markdown
	}
	style := "light"
	if lipgloss.HasDarkBackground() {
		style = "dark"
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(min(TerminalWidth(), maxMarkdownWidth)),
	)
	if err != nil {
		return markdown
	}
	out, err := r.Render(markdown)
	if err != nil {
		return markdown
	}
	return out
}
