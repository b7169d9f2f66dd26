// Package ui holds the terminal styles shared by the CLI renderers.
package ui

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	// Colors meet WCAG AA contrast on dark backgrounds
	PrimaryColor = lipgloss.Color("#A78BFA") // Purple
	OKColor      = lipgloss.Color("#10B981") // Green
	WarningColor = lipgloss.Color("#F59E0B") // Amber
	ErrorColor   = lipgloss.Color("#F87171") // Red
	MutedColor   = lipgloss.Color("#9CA3AF") // Gray
	BlueColor    = lipgloss.Color("#60A5FA")
	BorderColor  = lipgloss.Color("#6B7280")
)

// Styles is the set of styles a renderer uses. The zero-color variant
// renders plain text.
type Styles struct {
	Title   lipgloss.Style
	Section lipgloss.Style
	OK      lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Muted   lipgloss.Style
	Accent  lipgloss.Style
	Box     lipgloss.Style
}

// Colored returns the styles used on a terminal.
func Colored() Styles {
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(PrimaryColor),
		Section: lipgloss.NewStyle().Bold(true).Foreground(BlueColor),
		OK:      lipgloss.NewStyle().Foreground(OKColor),
		Warning: lipgloss.NewStyle().Foreground(WarningColor),
		Error:   lipgloss.NewStyle().Bold(true).Foreground(ErrorColor),
		Muted:   lipgloss.NewStyle().Foreground(MutedColor),
		Accent:  lipgloss.NewStyle().Foreground(PrimaryColor),
		Box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderColor).
			Padding(0, 1),
	}
}

// Plain returns styles that add no escape sequences.
func Plain() Styles {
	s := lipgloss.NewStyle()
	return Styles{Title: s, Section: s, OK: s, Warning: s, Error: s, Muted: s, Accent: s, Box: s}
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// For returns Colored when w is a terminal and Plain otherwise.
func For(w io.Writer) Styles {
	if IsTerminal(w) {
		return Colored()
	}
	return Plain()
}

// Decision returns the style for a decision or proposal status name.
func (s Styles) Decision(name string) lipgloss.Style {
	switch name {
	case "auto_approve", "approved", "approve", "passed":
		return s.OK
	case "rfc", "escalated", "escalate", "pending":
		return s.Warning
	case "rejected", "reject", "failed":
		return s.Error
	default:
		return s.Muted
	}
}
