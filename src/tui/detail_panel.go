package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// renderDetail renders everything known about one result.
func (m MainModel) renderDetail(item Item, maxWidth int) string {
	var b strings.Builder
	r := item.Event.Result
	o := r.Outcome
	label := m.styles.LabelStyle()

	field := func(name, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(&b, "%s %s\n", label.Render(name+":"), Wrap(value, max(maxWidth-len(name)-2, 10)))
	}

	status := item.Status()
	fmt.Fprintf(&b, "%s\n\n", lipgloss.NewStyle().
		Foreground(m.styles.StatusColor(status)).
		Bold(true).
		Render(fmt.Sprintf("#%d %s", item.Event.Seq, statusText(item))))

	field("Topic", item.Event.Topic)
	field("Received", item.Event.At.Format(time.RFC3339))
	field("Event", r.EventID)
	field("Message", o.MessageKey)
	field("Conversation", o.ConversationKey)
	field("Interaction", o.InteractionKey)
	field("Task", o.TaskKey)
	if o.InteractionCreated {
		field("Interaction created", "yes")
	}
	if r.Attempts > 1 {
		field("Attempts", fmt.Sprintf("%d", r.Attempts))
	}

	switch {
	case r.Archived:
		field("Archive", "stored")
	case r.ArchiveErr != nil:
		field("Archive", "failed: "+r.ArchiveErr.Error())
	}

	if r.SchemaDrift != nil {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, lipgloss.NewStyle().Foreground(m.styles.WarnColor).Bold(true).Render("SCHEMA DRIFT:"))
		fmt.Fprintln(&b, lipgloss.NewStyle().Foreground(m.styles.WarnColor).Render(Wrap(r.SchemaDrift.Error(), maxWidth)))
	}

	if r.Err != nil {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, lipgloss.NewStyle().Foreground(m.styles.FailedColor).Bold(true).Render("ERROR:"))
		fmt.Fprintln(&b, lipgloss.NewStyle().
			Foreground(m.styles.FailedColor).
			Render(Wrap(r.Err.Error(), maxWidth)))
	}
	return b.String()
}

func statusText(item Item) string {
	switch item.Status() {
	case StatusFailed:
		return "failed (" + string(item.Event.Result.Kind) + ")"
	case StatusNew:
		return "new message"
	}
	return "duplicate delivery"
}

func (m *MainModel) updateDetailContent(item Item) {
	m.detailViewport.SetContent(m.renderDetail(item, m.detailViewport.Width-2))
	if item.Event.Seq != m.detailSeq {
		m.detailSeq = item.Event.Seq
		m.detailViewport.GotoTop()
	}
}

// renderDetailPanel renders the right panel with the detail viewport.
func (m MainModel) renderDetailPanel(width, height int) string {
	item, ok := m.listView.SelectedItem()
	if !ok {
		placeholder := lipgloss.NewStyle().Padding(0, 1).Render(" ")
		empty := m.styles.PanelStyle(false).
			Width(width - 2).
			Height(height).
			Align(lipgloss.Center, lipgloss.Center).
			Foreground(m.styles.TextSecondary).
			Faint(true).
			Render("No results match the current filter")
		return lipgloss.JoinVertical(lipgloss.Left, placeholder, empty)
	}

	headerRow := lipgloss.NewStyle().
		Foreground(m.styles.PrimaryBlue).
		Bold(true).
		Padding(0, 1).
		Render(Truncate("Topic: "+item.Event.Topic, width-2, true))

	return lipgloss.JoinVertical(lipgloss.Left, headerRow,
		m.styles.PanelStyle(m.detailFocused).
			Width(width - 2).
			Height(height).
			Render(m.detailViewport.View()))
}
