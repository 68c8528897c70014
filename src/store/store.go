// Package store defines the persistence boundary of the ingestion pipeline
// and provides in-memory, Postgres and SQLite implementations.
package store

import (
	"context"
	"time"

	"interaction-ingest/src/contracts"
)

// Outcome is the result of a conditional insert. Conflicts are outcomes, not errors.
type Outcome int

const (
	Created Outcome = iota + 1
	AlreadyExists
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case AlreadyExists:
		return "already_exists"
	}
	return "unknown"
}

// Writer is the mutation side used by reconciliation.
type Writer interface {
	// UpsertConversation inserts the conversation if absent. An existing
	// conversation only gains a user profile when it has none.
	UpsertConversation(ctx context.Context, c *contracts.Conversation) (Outcome, error)

	// SetConversationStats overwrites the counters. Used by the non-atomic
	// read-modify-write path only.
	SetConversationStats(ctx context.Context, key string, s contracts.ConversationStats) error

	// InsertInteractionIfAbsent creates the interaction and assigns its
	// sequence number within the conversation. Racing callers get exactly
	// one Created.
	InsertInteractionIfAbsent(ctx context.Context, in *contracts.Interaction) (Outcome, error)

	// UpdateInteraction applies the patch in one atomic step.
	UpdateInteraction(ctx context.Context, key string, p *contracts.InteractionPatch) error

	// ReplaceInteractionTotals overwrites recomputed counters.
	ReplaceInteractionTotals(ctx context.Context, key string, t contracts.InteractionTotals) error

	InsertTaskIfAbsent(ctx context.Context, t *contracts.Task) (Outcome, error)
	UpdateTask(ctx context.Context, key string, p *contracts.TaskPatch) error

	InsertMessageIfAbsent(ctx context.Context, m *contracts.Message) (Outcome, error)

	// ClaimTally flips the counted flag of the message and, when subtaskKey
	// is set and the message flag flipped, of that task. Each flag flips once.
	ClaimTally(ctx context.Context, messageKey, subtaskKey string) (contracts.TallyClaim, error)
}

// Reader is the query side.
type Reader interface {
	GetConversation(ctx context.Context, key string) (*contracts.Conversation, error)
	GetInteraction(ctx context.Context, key string) (*contracts.Interaction, error)
	ListInteractions(ctx context.Context, conversationKey string) ([]contracts.Interaction, error)

	// FindMostRecentInteraction returns the latest interaction of the
	// conversation that started at or before atOrBefore.
	FindMostRecentInteraction(ctx context.Context, conversationKey string, atOrBefore time.Time) (string, bool, error)

	GetTask(ctx context.Context, key string) (*contracts.Task, error)
	ListSubtasks(ctx context.Context, parentTaskKey string) ([]contracts.Task, error)

	// ListMessages returns matching messages ordered by timestamp.
	ListMessages(ctx context.Context, f contracts.MessageFilter) ([]contracts.Message, error)
}

// Store is the full persistence boundary.
type Store interface {
	Writer
	Reader
	Close() error
}

// AtomicCounters is implemented by stores that can claim a message and add
// its tally in one transaction.
type AtomicCounters interface {
	// ApplyTally claims t.MessageKey and adds the tally to the conversation,
	// task and interaction counters atomically. It reports false, changing
	// nothing, when the message is missing or was already tallied.
	ApplyTally(ctx context.Context, t *contracts.Tally) (bool, error)
}

// WithoutAtomicCounters hides the atomic tally capability of s, forcing
// callers onto the claim then read-modify-write fallback.
func WithoutAtomicCounters(s Store) Store {
	return plainStore{s}
}

type plainStore struct {
	Store
}
