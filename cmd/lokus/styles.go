package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/felixgeelhaar/lokus/internal/domain/plugin"
)

var (
	colorSuccess = lipgloss.AdaptiveColor{Light: "#40a02b", Dark: "#a6e3a1"}
	colorWarning = lipgloss.AdaptiveColor{Light: "#df8e1d", Dark: "#f9e2af"}
	colorError   = lipgloss.AdaptiveColor{Light: "#d20f39", Dark: "#f38ba8"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#6c6f85", Dark: "#6c7086"}
	colorPrimary = lipgloss.AdaptiveColor{Light: "#1e66f5", Dark: "#89b4fa"}
)

var (
	successStyle = lipgloss.NewStyle().Foreground(colorSuccess)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
)

// renderStatus colors a plugin status for terminal output.
func renderStatus(status plugin.Status, disabled bool) string {
	if disabled {
		return mutedStyle.Render("disabled")
	}
	switch status {
	case plugin.StatusActive:
		return successStyle.Render(string(status))
	case plugin.StatusLoaded:
		return warningStyle.Render(string(status))
	case plugin.StatusError:
		return errorStyle.Render(string(status))
	default:
		return mutedStyle.Render(string(status))
	}
}

// tableHeader builds an upper-cased, tab separated header row.
func tableHeader(cols ...string) string {
	upper := cases.Upper(language.English)
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = upper.String(c)
	}
	return strings.Join(out, "\t")
}

// heading renders a section title.
func heading(s string) string {
	return titleStyle.Render(cases.Title(language.English).String(s))
}

func check(msg string) string {
	return successStyle.Render("✓") + " " + msg
}

func cross(msg string) string {
	return errorStyle.Render("✗") + " " + msg
}

func warn(msg string) string {
	return warningStyle.Render("!") + " " + msg
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
