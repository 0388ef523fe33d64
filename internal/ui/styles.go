// Package ui provides terminal styling for prd CLI output.
// Uses the Ayu color theme with adaptive light/dark mode support.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/steveyegge/prdledger/internal/types"
)

// Ayu theme color palette
var (
	ColorPass   = lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#f2ae49", Dark: "#ffb454"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"}
)

var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)

	// CategoryStyle is for section headers.
	CategoryStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	// IDStyle is for PRD and task ids.
	IDStyle = lipgloss.NewStyle().Bold(true)
)

const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
	IconSkip = "-"
	IconInfo = "ℹ"
	IconPin  = "📌"
)

const (
	TreeChild  = "⎿ "
	TreeLast   = "└─ "
	TreeIndent = "  "

	SeparatorLight = "──────────────────────────────────────────"
)

func RenderPass(s string) string   { return PassStyle.Render(s) }
func RenderWarn(s string) string   { return WarnStyle.Render(s) }
func RenderFail(s string) string   { return FailStyle.Render(s) }
func RenderMuted(s string) string  { return MutedStyle.Render(s) }
func RenderAccent(s string) string { return AccentStyle.Render(s) }
func RenderID(s string) string     { return IDStyle.Render(s) }

// RenderCategory renders a category header in uppercase with accent color.
func RenderCategory(s string) string {
	return CategoryStyle.Render(strings.ToUpper(s))
}

// RenderSeparator renders the light separator line in muted color.
func RenderSeparator() string {
	return MutedStyle.Render(SeparatorLight)
}

func RenderPassIcon() string { return PassStyle.Render(IconPass) }
func RenderWarnIcon() string { return WarnStyle.Render(IconWarn) }
func RenderFailIcon() string { return FailStyle.Render(IconFail) }
func RenderSkipIcon() string { return MutedStyle.Render(IconSkip) }
func RenderInfoIcon() string { return AccentStyle.Render(IconInfo) }

// StatusStyle returns the style for a PRD status.
func StatusStyle(s types.Status) lipgloss.Style {
	switch s {
	case types.StatusDone:
		return PassStyle
	case types.StatusInProgress:
		return WarnStyle
	case types.StatusArchived:
		return MutedStyle
	default:
		return AccentStyle
	}
}

// RenderStatus renders a PRD status in its color.
func RenderStatus(s types.Status) string {
	return StatusStyle(s).Render(string(s))
}

// RenderTaskStatus renders a task status in its color.
func RenderTaskStatus(s types.TaskStatus) string {
	switch s {
	case types.TaskStatusDone:
		return PassStyle.Render(string(s))
	case types.TaskStatusInProgress, types.TaskStatusReview:
		return WarnStyle.Render(string(s))
	case types.TaskStatusBlocked, types.TaskStatusCancelled:
		return FailStyle.Render(string(s))
	default:
		return MutedStyle.Render(string(s))
	}
}

// RenderPriority renders a priority, emphasizing high.
func RenderPriority(p types.Priority) string {
	if p == types.PriorityHigh {
		return FailStyle.Render(string(p))
	}
	return MutedStyle.Render(string(p))
}

// RenderProgress draws a fixed-width completion bar such as "███░░░ 50%".
func RenderProgress(percent, width int) string {
	percent = max(0, min(100, percent))
	if width <= 0 {
		width = 10
	}
	filled := percent * width / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	style := WarnStyle
	switch {
	case percent == 100:
		style = PassStyle
	case percent == 0:
		style = MutedStyle
	}
	return style.Render(bar) + fmt.Sprintf(" %3d%%", percent)
}

// Truncate shortens s to maxLen runes, ending with "...".
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
