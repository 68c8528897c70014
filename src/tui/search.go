package tui

import "strings"

// applyFilter lists the items matching the status filter and search query.
func (m *MainModel) applyFilter() {
	filter := m.header.GetFilter()
	query := strings.ToLower(m.searchQuery)

	var filtered []Item
	for _, item := range m.items {
		if filter != StatusAll && item.Status() != filter {
			continue
		}
		if query != "" && !matches(item, query) {
			continue
		}
		filtered = append(filtered, item)
	}

	m.listView.SetItems(filtered)
	if item, ok := m.listView.SelectedItem(); ok {
		m.updateDetailContent(item)
	}
}

// matches searches the topic, keys and error text.
func matches(item Item, query string) bool {
	r := item.Event.Result
	fields := []string{
		item.Event.Topic,
		r.EventID,
		r.Outcome.MessageKey,
		r.Outcome.ConversationKey,
		r.Outcome.InteractionKey,
		r.Outcome.TaskKey,
	}
	if r.Err != nil {
		fields = append(fields, r.Err.Error())
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), query) {
			return true
		}
	}
	return false
}
