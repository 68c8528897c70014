package tui

import (
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
)

// View manages the list of results.
type View struct {
	list     list.Model
	delegate *Delegate
}

func NewView(styles *StyleConfig) View {
	delegate := NewDelegateWithStyles(styles)
	l := list.New([]list.Item{}, &delegate, 0, 0)
	l.SetShowStatusBar(false)
	l.SetShowTitle(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)
	l.DisableQuitKeybindings()

	return View{list: l, delegate: &delegate}
}

func (v View) Update(msg tea.Msg) (View, tea.Cmd) {
	var cmd tea.Cmd
	v.list, cmd = v.list.Update(msg)
	return v, cmd
}

func (v *View) SetSize(width, height int) {
	v.list.SetSize(width, height)
}

// SetItems replaces the rows. The selected result stays selected when it is
// still listed.
func (v *View) SetItems(items []Item) {
	selected, hadSelection := v.SelectedItem()

	var maxSeq int64
	listItems := make([]list.Item, len(items))
	for i, item := range items {
		maxSeq = max(maxSeq, item.Event.Seq)
		listItems[i] = item
	}
	v.delegate.SetSeqWidth(maxSeq)
	v.list.SetItems(listItems)

	if !hadSelection {
		return
	}
	for i, item := range items {
		if item.Event.Seq == selected.Event.Seq {
			v.list.Select(i)
			return
		}
	}
}

func (v View) SelectedItem() (Item, bool) {
	if len(v.list.Items()) == 0 {
		return Item{}, false
	}
	item, ok := v.list.SelectedItem().(Item)
	return item, ok
}

func (v View) Len() int { return len(v.list.Items()) }

func (v View) Render() string {
	return v.list.View()
}

func (v View) Delegate() *Delegate {
	return v.delegate
}
