package logbook

import "github.com/charmbracelet/lipgloss"

// Color constants
const (
	ColorPrimary   = "39"  // Blue
	ColorSuccess   = "42"  // Green
	ColorWarning   = "214" // Orange
	ColorError     = "196" // Red
	ColorMuted     = "245" // Gray
	ColorHighlight = "212" // Pink
)

// Styles contains the console styles for each log level plus the shared
// accents used by the stats report and watch view.
type Styles struct {
	Title   lipgloss.Style
	Info    lipgloss.Style
	Success lipgloss.Style
	Warn    lipgloss.Style
	Error   lipgloss.Style
	Muted   lipgloss.Style
	Border  lipgloss.Style
}

// DefaultStyles returns the default devloop styles.
func DefaultStyles() Styles {
	return Styles{
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(ColorPrimary)),
		Info: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorPrimary)),
		Success: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorSuccess)),
		Warn: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorWarning)),
		Error: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorError)),
		Muted: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorMuted)),
		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(ColorMuted)),
	}
}

// For returns the style for a log level.
func (s Styles) For(lv Level) lipgloss.Style {
	switch lv {
	case LevelSuccess:
		return s.Success
	case LevelWarn:
		return s.Warn
	case LevelError:
		return s.Error
	default:
		return s.Info
	}
}
