package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var banner = []string{
	"██╗██╗  ██╗██╗███╗   ██╗ ██████╗ ███████╗███████╗████████╗",
	"██║╚██╗██╔╝██║████╗  ██║██╔════╝ ██╔════╝██╔════╝╚══██╔══╝",
	"██║ ╚███╔╝ ██║██╔██╗ ██║██║  ███╗█████╗  ███████╗   ██║   ",
	"██║ ██╔██╗ ██║██║╚██╗██║██║   ██║██╔══╝  ╚════██║   ██║   ",
	"██║██╔╝ ██╗██║██║ ╚████║╚██████╔╝███████╗███████║   ██║   ",
}

// Light (top) to dark (bottom).
var bannerGradient = []string{"#5DADE2", "#3498DB", "#2E86C1", "#2874A6", "#21618C"}

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// SpinnerTickMsg advances the spinner.
type SpinnerTickMsg time.Time

// ProgressModel is the waiting screen shown until the first result arrives.
type ProgressModel struct {
	topic        string
	received     int64
	filtered     int64
	stopped      bool
	spinnerFrame int
}

func NewProgressModel(topic string) ProgressModel {
	return ProgressModel{topic: topic}
}

func SpinnerTick() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(t time.Time) tea.Msg {
		return SpinnerTickMsg(t)
	})
}

func (m ProgressModel) Update(msg tea.Msg) (ProgressModel, tea.Cmd) {
	switch msg := msg.(type) {
	case StatsMsg:
		m.received, m.filtered = msg.Received, msg.Filtered
	case FeedClosedMsg:
		m.stopped = true
	case SpinnerTickMsg:
		m.spinnerFrame = (m.spinnerFrame + 1) % len(spinnerFrames)
		if !m.stopped {
			return m, SpinnerTick()
		}
	}
	return m, nil
}

func (m ProgressModel) View() string {
	lines := make([]string, 0, len(banner))
	for i, line := range banner {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(bannerGradient[i%len(bannerGradient)])).Bold(true)
		lines = append(lines, style.Render(line))
	}
	logo := strings.Join(lines, "\n")

	if m.stopped {
		status := lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Render("✓ Listener stopped. Press (q) to quit")
		return lipgloss.JoinVertical(lipgloss.Center, logo, "", status)
	}

	spinner := lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD700")).Render(spinnerFrames[m.spinnerFrame])
	status := fmt.Sprintf("%s Waiting for messages on %s", spinner, m.topic)
	if m.received > 0 {
		status = fmt.Sprintf("%s Waiting for results on %s (%d received, %d filtered)", spinner, m.topic, m.received, m.filtered)
	}
	return lipgloss.JoinVertical(lipgloss.Center, logo, "", status)
}
