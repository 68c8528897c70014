package tui

import "github.com/charmbracelet/lipgloss"

// StyleConfig holds the dashboard palette.
type StyleConfig struct {
	PrimaryBlue    lipgloss.Color
	AccentBlue     lipgloss.Color
	DarkBackground lipgloss.Color
	CardBackground lipgloss.Color
	TextPrimary    lipgloss.Color
	TextSecondary  lipgloss.Color
	BorderColor    lipgloss.Color
	SelectedColor  lipgloss.Color

	// Outcome colors
	NewColor       lipgloss.Color
	DuplicateColor lipgloss.Color
	FailedColor    lipgloss.Color
	WarnColor      lipgloss.Color
}

// DefaultStyles returns the default color palette
func DefaultStyles() *StyleConfig {
	return &StyleConfig{
		PrimaryBlue:    lipgloss.Color("#8AB4F8"),
		AccentBlue:     lipgloss.Color("#4285F4"),
		DarkBackground: lipgloss.Color("#1E1E1E"),
		CardBackground: lipgloss.Color("#2D2D2D"),
		TextPrimary:    lipgloss.Color("#E8EAED"),
		TextSecondary:  lipgloss.Color("#9AA0A6"),
		BorderColor:    lipgloss.Color("#5F6368"),
		SelectedColor:  lipgloss.Color("#303134"),
		NewColor:       lipgloss.Color("#34A853"),
		DuplicateColor: lipgloss.Color("#24C1E0"),
		FailedColor:    lipgloss.Color("#EA4335"),
		WarnColor:      lipgloss.Color("#FBBC04"),
	}
}

// StatusColor maps an item status to its accent color.
func (s *StyleConfig) StatusColor(status string) lipgloss.Color {
	switch status {
	case StatusNew:
		return s.NewColor
	case StatusDuplicate:
		return s.DuplicateColor
	case StatusFailed:
		return s.FailedColor
	}
	return s.TextSecondary
}

// HelpStyle returns a help text lipgloss style using this config
func (s *StyleConfig) HelpStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(s.TextSecondary).
		Padding(0, 2)
}

// PanelStyle returns the bordered container used by both panels.
func (s *StyleConfig) PanelStyle(focused bool) lipgloss.Style {
	border := s.BorderColor
	if focused {
		border = s.AccentBlue
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border)
}

// LabelStyle renders field names in the detail panel.
func (s *StyleConfig) LabelStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(s.TextSecondary).Bold(true)
}
