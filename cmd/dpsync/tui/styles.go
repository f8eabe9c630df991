// Package tui implements the dpsync watch dashboard: live target state,
// cycle progress and the daemon event feed.
package tui

import "github.com/charmbracelet/lipgloss"

// Color palette for the TUI.
var (
	primaryColor = lipgloss.Color("#7D56F4")
	accentColor  = lipgloss.Color("#00D9FF")

	successColor = lipgloss.Color("#28A745")
	warningColor = lipgloss.Color("#FFC107")
	dangerColor  = lipgloss.Color("#DC3545")

	mutedColor     = lipgloss.Color("#666666")
	subtleColor    = lipgloss.Color("#444444")
	borderColor    = lipgloss.Color("#333333")
	highlightColor = lipgloss.Color("#1A1A2E")
)

// Text styles.
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	mutedTextStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	errorTextStyle = lipgloss.NewStyle().
			Foreground(dangerColor)

	successTextStyle = lipgloss.NewStyle().
				Foreground(successColor)

	warningTextStyle = lipgloss.NewStyle().
				Foreground(warningColor)

	dividerStyle = lipgloss.NewStyle().
			Foreground(borderColor)
)

// Target table styles.
var (
	selectedRowStyle = lipgloss.NewStyle().
				Background(highlightColor).
				Foreground(lipgloss.Color("#FFFFFF")).
				Bold(true)

	normalRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#CCCCCC"))

	cursorStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true)

	sizeStyle = lipgloss.NewStyle().
			Foreground(accentColor)

	columnHeaderStyle = lipgloss.NewStyle().
				Foreground(mutedColor).
				Bold(true)
)

// Progress bar styles.
var (
	progressFillStyle = lipgloss.NewStyle().
				Foreground(successColor)

	progressEmptyStyle = lipgloss.NewStyle().
				Foreground(subtleColor)
)

// Event feed styles.
var (
	feedTimeStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	feedTargetStyle = lipgloss.NewStyle().
			Foreground(accentColor)

	feedDebugStyle = lipgloss.NewStyle().Foreground(subtleColor)
	feedInfoStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
	feedWarnStyle  = lipgloss.NewStyle().Foreground(warningColor)
	feedErrorStyle = lipgloss.NewStyle().Foreground(dangerColor)
)

// Key hint styles.
var (
	keyStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true)

	keyDescStyle = lipgloss.NewStyle().
			Foreground(mutedColor)
)

// renderDivider creates a horizontal divider line.
func renderDivider(width int) string {
	return dividerStyle.Render(repeatChar('─', width))
}

// repeatChar repeats a character n times.
func repeatChar(char rune, n int) string {
	if n <= 0 {
		return ""
	}
	result := make([]rune, n)
	for i := range result {
		result[i] = char
	}
	return string(result)
}

// truncate shortens s to maxLen runes, marking the cut with "...".
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// padRight pads s with spaces to width display cells.
func padRight(s string, width int) string {
	w := lipgloss.Width(s)
	if w >= width {
		return s
	}
	return s + repeatChar(' ', width-w)
}

// renderProgressBar draws done/total as a bar of the given width.
func renderProgressBar(done, total int64, width int) string {
	if width <= 0 {
		return ""
	}
	filled := 0
	if total > 0 {
		filled = int(float64(width) * float64(done) / float64(total))
	}
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return progressFillStyle.Render(repeatChar('█', filled)) +
		progressEmptyStyle.Render(repeatChar('░', width-filled))
}

// renderKeyHints renders "key desc" pairs separated by two spaces.
func renderKeyHints(pairs ...string) string {
	var out string
	for i := 0; i+1 < len(pairs); i += 2 {
		if i > 0 {
			out += "  "
		}
		out += keyStyle.Render(pairs[i]) + " " + keyDescStyle.Render(pairs[i+1])
	}
	return out
}
