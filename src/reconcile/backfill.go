package reconcile

import (
	"context"
	"fmt"
	"slices"

	"interaction-ingest/src/contracts"
	"interaction-ingest/src/logger"
	"interaction-ingest/src/sanitize"
	"interaction-ingest/src/store"
)

// BackfillReport summarizes one conversation backfill.
type BackfillReport struct {
	ConversationKey string
	Interactions    int
	Messages        int
	// Unlinked counts messages stored without an interaction.
	Unlinked int
	// Changed lists the interactions whose counters differed from the recomputed ones.
	Changed []string
}

// Backfiller recomputes aggregate counters from stored messages and tasks.
// It repairs counters left short by events that failed part way through.
type Backfiller struct {
	store  store.Store
	logger logger.Logger
}

func NewBackfiller(s store.Store, log logger.Logger) *Backfiller {
	return &Backfiller{store: s, logger: log}
}

// Backfill rewrites the totals of every interaction of the conversation and
// the conversation's own counters.
func (b *Backfiller) Backfill(ctx context.Context, conversationKey string) (BackfillReport, error) {
	report := BackfillReport{ConversationKey: conversationKey}

	if _, err := b.store.GetConversation(ctx, conversationKey); err != nil {
		return report, fmt.Errorf("failed to load conversation: %w", err)
	}
	stored, err := b.store.ListMessages(ctx, contracts.MessageFilter{ConversationKey: conversationKey})
	if err != nil {
		return report, fmt.Errorf("failed to list messages: %w", err)
	}
	interactions, err := b.store.ListInteractions(ctx, conversationKey)
	if err != nil {
		return report, fmt.Errorf("failed to list interactions: %w", err)
	}

	// Recomputed totals include every stored message, so each is marked
	// counted to keep a later redelivery from adding it again.
	for _, m := range stored {
		subtask := ""
		if m.ParentTaskKey != "" && m.InteractionKey != "" {
			subtask = m.TaskKey
		}
		if _, err := b.store.ClaimTally(ctx, m.Key, subtask); err != nil {
			return report, fmt.Errorf("failed to claim message %s: %w", sanitize.TruncateKey(m.Key), err)
		}
	}

	byInteraction := make(map[string][]contracts.Message)
	var stats contracts.ConversationStats
	for _, m := range stored {
		m = Expand(m)
		stats.TotalMessages++
		stats.Tokens = stats.Tokens.Add(m.Tokens)
		if m.Timestamp.After(stats.EndedAt) {
			stats.EndedAt = m.Timestamp
		}
		if m.InteractionKey == "" {
			report.Unlinked++
			continue
		}
		byInteraction[m.InteractionKey] = append(byInteraction[m.InteractionKey], m)
	}
	report.Messages = len(stored)

	for i := range interactions {
		in := &interactions[i]
		changed, err := b.backfillInteraction(ctx, in, byInteraction[in.Key])
		if err != nil {
			return report, err
		}
		report.Interactions++
		if changed {
			report.Changed = append(report.Changed, in.Key)
		}
	}

	if err := b.store.SetConversationStats(ctx, conversationKey, stats); err != nil {
		return report, fmt.Errorf("failed to write conversation stats: %w", err)
	}
	b.logger.Info("[Backfill] Conversation %s: %d interactions, %d messages, %d repaired",
		sanitize.TruncateKey(conversationKey), report.Interactions, report.Messages, len(report.Changed))
	return report, nil
}

func (b *Backfiller) backfillInteraction(ctx context.Context, in *contracts.Interaction, msgs []contracts.Message) (bool, error) {
	subtasks, err := b.store.ListSubtasks(ctx, in.Key)
	if err != nil {
		return false, fmt.Errorf("failed to list subtasks of %s: %w", sanitize.TruncateKey(in.Key), err)
	}

	totals := contracts.InteractionTotals{
		TotalMessages:   int64(len(msgs)),
		NumSubtasks:     int64(len(subtasks)),
		DelegatedAgents: []string{},
	}
	patch := &contracts.InteractionPatch{PrimaryAgent: in.PrimaryAgent}
	for _, m := range msgs {
		totals.Tokens = totals.Tokens.Add(m.Tokens)
		for _, c := range m.ToolCalls {
			totals.NumToolCalls += toolTraffic(c)
		}
		if patch.StartedAt.IsZero() || m.Timestamp.Before(patch.StartedAt) {
			patch.StartedAt = m.Timestamp
		}

		if m.TaskKey != in.Key {
			continue
		}
		if patch.PrimaryAgent == "" {
			patch.PrimaryAgent = m.AgentName
		}
		if q := queryRef(m.Role, m.Key, m.Content, m.Timestamp); q != nil {
			patch.Query = q
		}
		if r := responseRef(m.Role, m.TaskState, m.Key, m.Content, m.Timestamp); r != nil && patch.Response == nil {
			patch.Response = r
		}
	}
	for _, m := range msgs {
		if a := m.AgentName; a != "" && a != patch.PrimaryAgent && !slices.Contains(totals.DelegatedAgents, a) {
			totals.DelegatedAgents = append(totals.DelegatedAgents, a)
		}
	}

	changed := in.TotalMessages != totals.TotalMessages ||
		in.NumToolCalls != totals.NumToolCalls ||
		in.NumSubtasks != totals.NumSubtasks ||
		in.Tokens != totals.Tokens ||
		!slices.Equal(in.DelegatedAgents, totals.DelegatedAgents)

	if err := b.store.UpdateInteraction(ctx, in.Key, patch); err != nil {
		return false, fmt.Errorf("failed to patch interaction %s: %w", sanitize.TruncateKey(in.Key), err)
	}
	if err := b.store.ReplaceInteractionTotals(ctx, in.Key, totals); err != nil {
		return false, fmt.Errorf("failed to replace totals of %s: %w", sanitize.TruncateKey(in.Key), err)
	}
	return changed, nil
}
