package ingest

import (
	"sync"
	"time"
)

// Stats counts listener outcomes. Safe for concurrent use.
type Stats struct {
	mu              sync.Mutex
	started         time.Time
	received        int64
	filtered        int64
	succeeded       int64
	failed          map[FailureKind]int64
	newMessages     int64
	duplicates      int64
	retries         int64
	archived        int64
	archiveFailures int64
	schemaDrift     int64
	lastError       string
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Started         time.Time
	Received        int64
	Filtered        int64
	Succeeded       int64
	Failed          map[FailureKind]int64
	NewMessages     int64
	Duplicates      int64
	Retries         int64
	Archived        int64
	ArchiveFailures int64
	SchemaDrift     int64
	LastError       string
}

func NewStats() *Stats {
	return &Stats{started: time.Now(), failed: make(map[FailureKind]int64)}
}

func (s *Stats) Received() { s.add(&s.received) }
func (s *Stats) Filtered() { s.add(&s.filtered) }

func (s *Stats) add(n *int64) {
	s.mu.Lock()
	*n++
	s.mu.Unlock()
}

// Record counts the outcome of one ingested event.
func (s *Stats) Record(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Attempts > 1 {
		s.retries += int64(r.Attempts - 1)
	}
	if r.SchemaDrift != nil {
		s.schemaDrift++
	}
	if r.Archived {
		s.archived++
	} else if r.ArchiveErr != nil {
		s.archiveFailures++
	}
	if r.Err != nil {
		s.failed[r.Kind]++
		s.lastError = r.Err.Error()
		return
	}
	s.succeeded++
	if r.Outcome.MessageIsNew {
		s.newMessages++
	} else {
		s.duplicates++
	}
}

// Snapshot returns a copy of the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	failed := make(map[FailureKind]int64, len(s.failed))
	for k, v := range s.failed {
		failed[k] = v
	}
	return StatsSnapshot{
		Started:         s.started,
		Received:        s.received,
		Filtered:        s.filtered,
		Succeeded:       s.succeeded,
		Failed:          failed,
		NewMessages:     s.newMessages,
		Duplicates:      s.duplicates,
		Retries:         s.retries,
		Archived:        s.archived,
		ArchiveFailures: s.archiveFailures,
		SchemaDrift:     s.schemaDrift,
		LastError:       s.lastError,
	}
}

// TotalFailed sums failures of every kind.
func (s StatsSnapshot) TotalFailed() int64 {
	var n int64
	for _, v := range s.Failed {
		n += v
	}
	return n
}

// SuccessRate is the percentage of processed events that succeeded.
func (s StatsSnapshot) SuccessRate() float64 {
	processed := s.Succeeded + s.TotalFailed()
	if processed == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(processed) * 100
}
