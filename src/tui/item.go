package tui

import (
	"fmt"
	"time"

	"interaction-ingest/src/ingest"
)

// Item statuses, also the filter values cycled in the header.
const (
	StatusAll       = "ALL"
	StatusNew       = "NEW"
	StatusDuplicate = "DUP"
	StatusFailed    = "FAILED"
)

var statusFilters = []string{StatusAll, StatusNew, StatusDuplicate, StatusFailed}

// Event is one ingest result received from the listener.
type Event struct {
	Seq    int64
	Topic  string
	At     time.Time
	Result ingest.Result
}

// Item wraps an Event and implements bubbles/list.Item.
type Item struct {
	Event Event
}

func (i Item) FilterValue() string { return i.Event.Topic }
func (i Item) Title() string { return i.Event.Result.Outcome.MessageKey }
func (i Item) Description() string { return i.Event.Topic }

// Status classifies the result for coloring and filtering.
func (i Item) Status() string {
	r := i.Event.Result
	switch {
	case r.Err != nil:
		return StatusFailed
	case r.Outcome.MessageIsNew:
		return StatusNew
	default:
		return StatusDuplicate
	}
}

// Summary is the one-line text shown in the list.
func (i Item) Summary() string {
	r := i.Event.Result
	if r.Err != nil {
		return OneLine(fmt.Sprintf("%s: %v", r.Kind, r.Err))
	}
	o := r.Outcome
	if o.InteractionKey == "" {
		return fmt.Sprintf("%s (no interaction)", o.MessageKey)
	}
	return fmt.Sprintf("%s → %s", o.MessageKey, o.InteractionKey)
}

// Warned reports a result that succeeded with side issues.
func (i Item) Warned() bool {
	r := i.Event.Result
	return r.Err == nil && (r.SchemaDrift != nil || r.ArchiveErr != nil || r.Attempts > 1)
}
