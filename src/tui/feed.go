package tui

import (
	"sync/atomic"
	"time"

	"interaction-ingest/src/ingest"
)

// DefaultFeedBuffer is the number of results buffered for the dashboard.
const DefaultFeedBuffer = 256

// Feed carries ingest results from listener workers to the dashboard.
// Publish never blocks; results are dropped while the dashboard lags.
type Feed struct {
	ch      chan Event
	seq     atomic.Int64
	dropped atomic.Int64
	now     func() time.Time
}

func NewFeed(buffer int) *Feed {
	if buffer <= 0 {
		buffer = DefaultFeedBuffer
	}
	return &Feed{ch: make(chan Event, buffer), now: time.Now}
}

// Publish matches ingest.AgentConfig.OnResult.
func (f *Feed) Publish(topic string, r ingest.Result) {
	e := Event{Seq: f.seq.Add(1), Topic: topic, At: f.now(), Result: r}
	select {
	case f.ch <- e:
	default:
		f.dropped.Add(1)
	}
}

func (f *Feed) Events() <-chan Event { return f.ch }

// Dropped returns how many results the dashboard never saw.
func (f *Feed) Dropped() int64 { return f.dropped.Load() }

// Close ends the feed. Call it only after the last Publish, i.e. once the
// agent has drained.
func (f *Feed) Close() { close(f.ch) }
