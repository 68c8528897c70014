// Package keys derives the aggregate keys a normalized record belongs to.
package keys

import (
	"context"
	"errors"
	"fmt"
	"time"

	"interaction-ingest/src/contracts"
	"interaction-ingest/src/normalize"
)

// ErrMissingConversationKey is returned for records without a conversation key.
// It is permanent for the event.
var ErrMissingConversationKey = errors.New("missing conversation key")

// Linkage records how the interaction key was found.
type Linkage string

const (
	LinkedByParent   Linkage = "parent"
	LinkedByOwnTask  Linkage = "own_task"
	LinkedByLookup   Linkage = "lookup"
	LinkedUnresolved Linkage = "unresolved"
)

// Keys are the aggregate keys of one record.
type Keys struct {
	ConversationKey string
	TaskKey         string
	// InteractionKey is empty when the record could not be linked.
	InteractionKey string
	Linkage        Linkage
}

// InteractionLookup finds the most recently started interaction of a
// conversation at or before a timestamp.
type InteractionLookup func(ctx context.Context, conversationKey string, atOrBefore time.Time) (key string, found bool, err error)

// Resolver applies the task naming conventions.
type Resolver struct {
	conventions contracts.Conventions
}

func NewResolver(c contracts.Conventions) *Resolver {
	return &Resolver{conventions: c}
}

// Resolve derives the keys of rec. lookup is consulted only when neither a
// parent task nor a top-level own task links the record; it may be nil.
// A lookup error is returned wrapped.
func (r *Resolver) Resolve(ctx context.Context, rec *normalize.Record, lookup InteractionLookup) (Keys, error) {
	if rec.ConversationKey == "" {
		return Keys{}, ErrMissingConversationKey
	}
	k := Keys{
		ConversationKey: rec.ConversationKey,
		TaskKey:         rec.EventID,
	}

	switch {
	case rec.ParentTaskKey != "":
		k.InteractionKey, k.Linkage = rec.ParentTaskKey, LinkedByParent
	case r.conventions.IsTopLevel(rec.EventID):
		k.InteractionKey, k.Linkage = rec.EventID, LinkedByOwnTask
	case lookup != nil:
		key, found, err := lookup(ctx, rec.ConversationKey, lookupTime(rec))
		if err != nil {
			return Keys{}, fmt.Errorf("failed to look up prior interaction: %w", err)
		}
		if found {
			k.InteractionKey, k.Linkage = key, LinkedByLookup
		} else {
			k.Linkage = LinkedUnresolved
		}
	default:
		k.Linkage = LinkedUnresolved
	}
	return k, nil
}

// lookupTime is the record timestamp; records without one match any earlier interaction.
func lookupTime(rec *normalize.Record) time.Time {
	if rec.Timestamp.IsZero() {
		return time.Now().UTC()
	}
	return rec.Timestamp
}
