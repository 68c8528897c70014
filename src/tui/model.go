// Package tui renders a live dashboard of the ingest listener: counters in
// the header, recent results on the left and the selected result on the right.
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"interaction-ingest/src/ingest"
)

const (
	// DefaultMaxItems bounds the results kept on screen.
	DefaultMaxItems = 500

	statsInterval = 500 * time.Millisecond
)

// EventMsg delivers one result from the feed.
type EventMsg Event

// StatsMsg carries a fresh counter snapshot.
type StatsMsg ingest.StatsSnapshot

// FeedClosedMsg reports that the listener stopped.
type FeedClosedMsg struct{}

// StatsSource is satisfied by *ingest.Stats.
type StatsSource interface {
	Snapshot() ingest.StatsSnapshot
}

// MainModel is the Bubble Tea model of the dashboard.
type MainModel struct {
	feed     *Feed
	stats    StatsSource
	maxItems int

	items   []Item // newest first
	dropped int64

	header         Header
	listView       View
	detailViewport viewport.Model
	detailSeq      int64
	progress       ProgressModel
	styles         *StyleConfig

	width, height int
	ready         bool
	detailFocused bool
	searchMode    bool
	searchQuery   string
}

func NewMainModel(topic string, feed *Feed, stats StatsSource) MainModel {
	styles := DefaultStyles()
	return MainModel{
		feed:           feed,
		stats:          stats,
		maxItems:       DefaultMaxItems,
		header:         NewHeader(topic, styles),
		listView:       NewView(styles),
		detailViewport: viewport.New(0, 0),
		progress:       NewProgressModel(topic),
		styles:         styles,
	}
}

func (m MainModel) Init() tea.Cmd {
	return tea.Batch(SpinnerTick(), m.waitForEvent(), m.pollStats())
}

func (m MainModel) waitForEvent() tea.Cmd {
	ch := m.feed.Events()
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return FeedClosedMsg{}
		}
		return EventMsg(e)
	}
}

func (m MainModel) pollStats() tea.Cmd {
	return tea.Tick(statsInterval, func(time.Time) tea.Msg {
		return StatsMsg(m.stats.Snapshot())
	})
}

func (m MainModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.ready = true
		m.resizeComponents()
		return m, nil

	case EventMsg:
		m.addEvent(Event(msg))
		m.dropped = m.feed.Dropped()
		return m, m.waitForEvent()

	case StatsMsg:
		m.header.SetStats(ingest.StatsSnapshot(msg))
		m.progress, _ = m.progress.Update(msg)
		return m, m.pollStats()

	case FeedClosedMsg:
		m.header.SetStopped()
		m.header.SetStats(m.stats.Snapshot())
		m.progress, _ = m.progress.Update(msg)
		return m, nil

	case SpinnerTickMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if m.searchMode {
			return m.updateSearch(msg)
		}
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m *MainModel) addEvent(e Event) {
	m.items = append([]Item{{Event: e}}, m.items...)
	if len(m.items) > m.maxItems {
		m.items = m.items[:m.maxItems]
	}
	m.applyFilter()
}

func (m MainModel) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.detailFocused = false
		return m, nil
	case "enter":
		if m.listView.Len() > 0 {
			m.detailFocused = true
		}
		return m, nil
	case "tab":
		m.header.CycleFilter()
		m.applyFilter()
		return m, nil
	case "/":
		m.searchMode = true
		m.detailFocused = false
		m.header.SetSearch(m.searchQuery, true)
		return m, nil
	}

	var cmd tea.Cmd
	if m.detailFocused {
		m.detailViewport, cmd = m.detailViewport.Update(msg)
		return m, cmd
	}
	m.listView, cmd = m.listView.Update(msg)
	if item, ok := m.listView.SelectedItem(); ok {
		m.updateDetailContent(item)
	}
	return m, cmd
}

func (m MainModel) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyEnter:
		m.searchMode = false
	case tea.KeyEsc:
		m.searchMode = false
		m.searchQuery = ""
	case tea.KeyBackspace:
		if r := []rune(m.searchQuery); len(r) > 0 {
			m.searchQuery = string(r[:len(r)-1])
		}
	case tea.KeySpace:
		m.searchQuery += " "
	case tea.KeyRunes:
		m.searchQuery += string(msg.Runes)
	default:
		return m, nil
	}
	m.header.SetSearch(m.searchQuery, m.searchMode)
	m.applyFilter()
	return m, nil
}
