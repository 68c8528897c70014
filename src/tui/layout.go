package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

type panelDimensions struct {
	availableHeight int
	leftPanelWidth  int
	rightPanelWidth int
}

// calculateDimensions keeps render and resize on the same layout math.
func (m MainModel) calculateDimensions() panelDimensions {
	headerHeight := lipgloss.Height(m.header.Render(m.width))
	// header + help line (1) + panel header row (1) + panel borders (2)
	availableHeight := max(m.height-headerHeight-1-1-2, 1)

	// Results (45%) | Detail (55%)
	leftPanelWidth := int(float64(m.width) * 0.45)
	return panelDimensions{
		availableHeight: availableHeight,
		leftPanelWidth:  leftPanelWidth,
		rightPanelWidth: m.width - leftPanelWidth,
	}
}

func (m MainModel) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}

	header := m.header.Render(m.width)

	if len(m.items) == 0 {
		waiting := lipgloss.NewStyle().
			Width(m.width).
			Align(lipgloss.Center).
			PaddingTop(2).
			Render(m.progress.View())
		return lipgloss.JoinVertical(lipgloss.Left, header, waiting)
	}

	dims := m.calculateDimensions()
	main := lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderListPanel(dims.leftPanelWidth, dims.availableHeight),
		m.renderDetailPanel(dims.rightPanelWidth, dims.availableHeight))

	return lipgloss.JoinVertical(lipgloss.Left, header, main, m.renderHelpText())
}

func (m MainModel) renderHelpText() string {
	keyStyle := lipgloss.NewStyle().Foreground(m.styles.PrimaryBlue).Bold(true)
	sep := lipgloss.NewStyle().Foreground(m.styles.TextSecondary).Render("•")

	var helpText string
	switch {
	case m.searchMode:
		helpText = fmt.Sprintf("%s: Apply %s %s: Clear",
			keyStyle.Render("Enter"), sep, keyStyle.Render("Esc"))
	case m.detailFocused:
		helpText = fmt.Sprintf("%s: Scroll %s %s: Back %s %s: Quit",
			keyStyle.Render("j/k"), sep, keyStyle.Render("Esc"), sep, keyStyle.Render("q"))
	default:
		helpText = fmt.Sprintf("%s: Nav %s %s: View %s %s: Show %s %s: Search %s %s: Quit",
			keyStyle.Render("j/k"), sep,
			keyStyle.Render("Enter"), sep,
			keyStyle.Render("Tab"), sep,
			keyStyle.Render("/"), sep,
			keyStyle.Render("q"))
	}
	if m.dropped > 0 {
		helpText += " " + lipgloss.NewStyle().Foreground(m.styles.WarnColor).Render(fmt.Sprintf("(%d results not shown)", m.dropped))
	}
	return m.styles.HelpStyle().Render(helpText)
}

func (m *MainModel) resizeComponents() {
	dims := m.calculateDimensions()

	m.listView.SetSize(dims.leftPanelWidth-2, dims.availableHeight)

	// borders (2), and the topic row above the panel (1)
	m.detailViewport.Width = dims.rightPanelWidth - 2
	m.detailViewport.Height = dims.availableHeight - 1

	if item, ok := m.listView.SelectedItem(); ok {
		m.updateDetailContent(item)
	}
}
