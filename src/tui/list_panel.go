package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// renderListPanel renders the left panel with the result list.
func (m MainModel) renderListPanel(width, height int) string {
	listPanel := m.styles.PanelStyle(false).
		Width(width - 2).
		Height(height).
		Render(m.listView.Render())

	delegate := m.listView.Delegate()
	headerText := fmt.Sprintf("%*s │ %-*s │ %-*s │ Message → Interaction",
		delegate.SeqWidth, "#", statusWidth, "Status", timeWidth, "Time")
	headerRow := lipgloss.NewStyle().
		Foreground(m.styles.PrimaryBlue).
		Bold(true).
		Width(width-2).
		Padding(0, 1).
		Render(Truncate(headerText, width-4, true))

	return lipgloss.JoinVertical(lipgloss.Left, headerRow, listPanel)
}
