package tui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	// listRenderingOverhead accounts for padding added by bubbles/list and panel borders.
	listRenderingOverhead = 10

	statusWidth = 6
	timeWidth   = 8
)

// Delegate renders ingest results as table rows.
type Delegate struct {
	SeqWidth int
	styles   *StyleConfig
}

func NewDelegate() Delegate {
	return NewDelegateWithStyles(DefaultStyles())
}

func NewDelegateWithStyles(styles *StyleConfig) Delegate {
	return Delegate{SeqWidth: 2, styles: styles}
}

// SetSeqWidth sizes the sequence column for the largest number shown.
func (d *Delegate) SetSeqWidth(maxSeq int64) {
	d.SeqWidth = max(2, len(fmt.Sprintf("%d", maxSeq)))
}

func (d Delegate) Height() int { return 1 }
func (d Delegate) Spacing() int { return 0 }
func (d Delegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d Delegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	entry, ok := item.(Item)
	if !ok {
		return
	}
	status := entry.Status()

	seqCol := fmt.Sprintf("%*d", d.SeqWidth, entry.Event.Seq)
	statusCol := TruncateAndPad(status, statusWidth, false)
	timeCol := entry.Event.At.Format("15:04:05")

	// seq + status + time + separators (9)
	fixedWidth := d.SeqWidth + statusWidth + timeWidth + 9
	var summary string
	if available := m.Width() - fixedWidth - listRenderingOverhead; available > 0 {
		summary = TruncateAndPad(entry.Summary(), available, true)
	}

	style := lipgloss.NewStyle().Foreground(d.styles.TextSecondary)
	statusStyle := lipgloss.NewStyle().Foreground(d.styles.StatusColor(status))
	if entry.Warned() {
		statusStyle = statusStyle.Underline(true)
	}
	if index == m.Index() {
		style = style.Bold(true).Foreground(d.styles.PrimaryBlue).Background(d.styles.SelectedColor)
		statusStyle = statusStyle.Bold(true).Background(d.styles.SelectedColor)
	}

	sep := style.Render(" │ ")
	fmt.Fprint(w, style.Render(seqCol)+sep+statusStyle.Render(statusCol)+sep+style.Render(timeCol)+sep+style.Render(summary))
}
