package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"interaction-ingest/src/ingest"
)

// Header is the top status bar: topic, counters, filter and search.
type Header struct {
	topic          string
	stats          ingest.StatsSnapshot
	stopped        bool
	selectedFilter string
	searchQuery    string
	searchMode     bool
	styles         *StyleConfig
}

func NewHeader(topic string, styles *StyleConfig) Header {
	return Header{topic: topic, selectedFilter: StatusAll, styles: styles}
}

func (h *Header) SetStats(s ingest.StatsSnapshot) { h.stats = s }
func (h *Header) SetStopped() { h.stopped = true }
func (h Header) GetFilter() string { return h.selectedFilter }

// CycleFilter moves to the next status filter.
func (h *Header) CycleFilter() {
	next := 0
	for i, f := range statusFilters {
		if f == h.selectedFilter {
			next = (i + 1) % len(statusFilters)
			break
		}
	}
	h.selectedFilter = statusFilters[next]
}

func (h *Header) SetSearch(query string, mode bool) {
	h.searchQuery = query
	h.searchMode = mode
}

func (h Header) Render(width int) string {
	bold := lipgloss.NewStyle().Foreground(h.styles.PrimaryBlue).Bold(true).Padding(0, 2)
	dim := lipgloss.NewStyle().Foreground(h.styles.TextSecondary).Padding(0, 2)

	state := "listening"
	if h.stopped {
		state = "stopped"
	}
	topic := bold.Render(fmt.Sprintf("📡 %s (%s)", h.topic, state))

	s := h.stats
	counts := lipgloss.JoinHorizontal(lipgloss.Left,
		lipgloss.NewStyle().Foreground(h.styles.NewColor).PaddingLeft(2).Render(fmt.Sprintf("✔ %d new", s.NewMessages)),
		lipgloss.NewStyle().Foreground(h.styles.DuplicateColor).PaddingLeft(1).Render(fmt.Sprintf("↻ %d dup", s.Duplicates)),
		lipgloss.NewStyle().Foreground(h.styles.FailedColor).PaddingLeft(1).Render(fmt.Sprintf("✖ %d failed", s.TotalFailed())),
		dim.Render(fmt.Sprintf("%d received • %.1f%% ok", s.Received, s.SuccessRate())),
	)

	filter := bold.Render(fmt.Sprintf("⚙️ Show: %s", h.selectedFilter))

	var searchText string
	switch {
	case h.searchMode:
		searchText = fmt.Sprintf("🔍 Search: %s█", h.searchQuery)
	case h.searchQuery != "":
		searchText = fmt.Sprintf("🔍 Search: %s", h.searchQuery)
	default:
		searchText = "🔍 [/] to search"
	}
	searchStyle := dim
	if h.searchMode {
		searchStyle = searchStyle.Foreground(h.styles.PrimaryBlue)
	}

	content := lipgloss.JoinHorizontal(lipgloss.Left, topic, counts, filter, searchStyle.Render(searchText))
	if lipgloss.Width(content) > width {
		content = lipgloss.JoinHorizontal(lipgloss.Left, topic, counts)
	}

	return lipgloss.NewStyle().
		Background(h.styles.DarkBackground).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(h.styles.BorderColor).
		MaxWidth(width).
		Width(width).
		Render(content)
}
