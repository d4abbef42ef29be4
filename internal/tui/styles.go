package tui

import "github.com/charmbracelet/lipgloss"

var (
	primaryColor   = lipgloss.Color("#7C3AED")
	secondaryColor = lipgloss.Color("#10B981")
	mutedColor     = lipgloss.Color("#9CA3AF")
	errorColor     = lipgloss.Color("#EF4444")
	accentColor    = lipgloss.Color("#F59E0B")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Border(lipgloss.NormalBorder(), false, false, true, false).
			BorderForeground(mutedColor).
			Padding(0, 1)

	ownNameStyle   = lipgloss.NewStyle().Foreground(secondaryColor).Bold(true)
	otherNameStyle = lipgloss.NewStyle().Foreground(primaryColor).Bold(true)
	mutedStyle     = lipgloss.NewStyle().Foreground(mutedColor)
	replyStyle     = lipgloss.NewStyle().Foreground(mutedColor).Italic(true).PaddingLeft(2)
	noticeStyle    = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	typingStyle    = lipgloss.NewStyle().Foreground(mutedColor).Italic(true)

	selectedStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(secondaryColor).
			PaddingLeft(1)
	highlightStyle = lipgloss.NewStyle().
			Border(lipgloss.ThickBorder(), false, false, false, true).
			BorderForeground(accentColor).
			PaddingLeft(1)
	plainStyle = lipgloss.NewStyle().PaddingLeft(2)

	barStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Border(lipgloss.NormalBorder(), true, false, false, false).
			BorderForeground(mutedColor).
			Padding(0, 1)
)
