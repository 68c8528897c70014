// Package reconcile folds normalized records into the conversation,
// interaction, task and message aggregates.
//
// Events arrive unordered, duplicated and concurrently. Every store mutation
// is either insert-if-absent or a single additive update, so racing workers
// never create two roots for one key and a redelivered event changes nothing.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"interaction-ingest/src/cache"
	"interaction-ingest/src/contracts"
	"interaction-ingest/src/keys"
	"interaction-ingest/src/logger"
	"interaction-ingest/src/normalize"
	"interaction-ingest/src/sanitize"
	"interaction-ingest/src/store"
)

// Outcome reports what one reconciliation did.
type Outcome struct {
	ConversationKey string
	InteractionKey  string
	TaskKey         string
	MessageKey      string
	MessageIsNew    bool
	// InteractionCreated is true for the one call that created the interaction.
	InteractionCreated bool
}

// Config tunes an Engine.
type Config struct {
	Shape       StorageShape
	Conventions contracts.Conventions
	// ConversationCacheSize bounds the conversation-exists cache. Zero disables it.
	ConversationCacheSize int
	// AgentCacheSize bounds the task to agent-name cache. Zero disables it.
	AgentCacheSize int
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		Shape:                 ShapeNormalized,
		Conventions:           contracts.DefaultConventions(),
		ConversationCacheSize: 10000,
		AgentCacheSize:        10000,
	}
}

// Engine applies records to the store.
type Engine struct {
	store       store.Store
	counters    store.AtomicCounters
	serializer  MessageSerializer
	conventions contracts.Conventions

	conversations *cache.LRU[string, struct{}]
	taskAgents    *cache.LRU[string, string]

	logger logger.Logger
	now    func() time.Time
}

// NewEngine creates an Engine over s. Counters are applied in one store
// transaction when s implements store.AtomicCounters and by claim then
// read-modify-write otherwise.
func NewEngine(s store.Store, cfg Config, log logger.Logger) *Engine {
	counters, _ := s.(store.AtomicCounters)
	if counters == nil {
		log.Warn("[Reconcile] Store has no atomic counters; counters use read-modify-write and may lose updates")
	}
	return &Engine{
		store:         s,
		counters:      counters,
		serializer:    NewSerializer(cfg.Shape),
		conventions:   cfg.Conventions,
		conversations: cache.NewLRU[string, struct{}](cfg.ConversationCacheSize),
		taskAgents:    cache.NewLRU[string, string](cfg.AgentCacheSize),
		logger:        log,
		now:           time.Now,
	}
}

// Reconcile applies one record. Store failures are returned wrapped and are
// not retried here. The aggregates are written in reference order:
// conversation, interaction, task, message. Counters move once per message,
// so redelivery changes nothing and a retry finishes what a failed attempt
// started.
func (e *Engine) Reconcile(ctx context.Context, rec *normalize.Record, k keys.Keys) (Outcome, error) {
	out := Outcome{
		ConversationKey: k.ConversationKey,
		InteractionKey:  k.InteractionKey,
		TaskKey:         k.TaskKey,
		MessageKey:      rec.MessageKey,
	}
	at := rec.Timestamp
	if at.IsZero() {
		at = e.now().UTC()
	}

	if err := e.ensureConversation(ctx, rec, k.ConversationKey, at); err != nil {
		return out, err
	}

	topLevel := k.InteractionKey != "" && k.TaskKey == k.InteractionKey
	agent, err := e.resolveAgent(ctx, rec, k.TaskKey)
	if err != nil {
		return out, err
	}

	if k.InteractionKey != "" {
		in := &contracts.Interaction{
			Key:             k.InteractionKey,
			ConversationKey: k.ConversationKey,
			StartedAt:       at,
			ResponseState:   contracts.ResponseInProgress,
		}
		if topLevel {
			in.PrimaryAgent = agent
		}
		res, err := e.store.InsertInteractionIfAbsent(ctx, in)
		if err != nil {
			return out, fmt.Errorf("failed to insert interaction %s: %w", sanitize.TruncateKey(k.InteractionKey), err)
		}
		out.InteractionCreated = res == store.Created
	}

	if err := e.ensureTask(ctx, rec, k, agent, at); err != nil {
		return out, err
	}

	msg, err := e.serializer.Message(rec, k, agent, at)
	if err != nil {
		return out, err
	}
	res, err := e.store.InsertMessageIfAbsent(ctx, msg)
	if err != nil {
		return out, fmt.Errorf("failed to insert message %s: %w", sanitize.TruncateKey(rec.MessageKey), err)
	}
	out.MessageIsNew = res == store.Created

	// The merges below are idempotent and run on every delivery, so a retry
	// after a partial failure completes them. Counters go through the tally,
	// which applies once per message.
	patch := &contracts.TaskPatch{AgentName: agent, Status: rec.TaskState, At: at, Final: rec.Final}
	if err := e.store.UpdateTask(ctx, k.TaskKey, patch); err != nil {
		return out, fmt.Errorf("failed to update task %s: %w", sanitize.TruncateKey(k.TaskKey), err)
	}

	var ip *contracts.InteractionPatch
	if k.InteractionKey != "" {
		ip = &contracts.InteractionPatch{StartedAt: at, DelegatedAgent: agent}
		if topLevel {
			ip.PrimaryAgent = agent
			ip.Query = queryRef(rec.Role, msg.Key, normalize.ContentSummary(rec), at)
			ip.Response = responseRef(rec.Role, rec.TaskState, msg.Key, normalize.ContentSummary(rec), at)
		}
		if err := e.store.UpdateInteraction(ctx, k.InteractionKey, ip); err != nil {
			return out, fmt.Errorf("failed to update interaction %s: %w", sanitize.TruncateKey(k.InteractionKey), err)
		}
	}

	applied, err := e.applyTally(ctx, e.tally(rec, k, at))
	if err != nil {
		return out, err
	}
	switch {
	case !applied:
		e.logger.Debug("[Reconcile] Message %s already counted", sanitize.TruncateKey(rec.MessageKey))
	case k.InteractionKey == "":
		e.logger.Debug("[Reconcile] Message %s stored without interaction (conversation %s)",
			sanitize.TruncateKey(rec.MessageKey), sanitize.TruncateKey(k.ConversationKey))
	case ip.Response != nil:
		e.logger.Info("[Reconcile] Interaction %s answered by %s", sanitize.TruncateKey(k.InteractionKey), orUnknown(agent))
	}
	return out, nil
}

// tally collects the counters one message adds to its aggregates.
func (e *Engine) tally(rec *normalize.Record, k keys.Keys, at time.Time) *contracts.Tally {
	t := &contracts.Tally{
		MessageKey:      rec.MessageKey,
		ConversationKey: k.ConversationKey,
		Conversation:    contracts.ConversationDelta{Messages: 1, Tokens: rec.Tokens(), EndedAt: at},
		TaskKey:         k.TaskKey,
		InteractionKey:  k.InteractionKey,
	}
	if rec.TaskTokenUsage != nil {
		t.TaskTokens = rec.TaskTokenUsage.TokenTotals
	}
	if k.InteractionKey != "" {
		t.Messages = 1
		t.ToolCalls = int64(len(rec.ToolInvocations) + len(rec.ToolResults))
		t.Tokens = rec.Tokens()
		if rec.ParentTaskKey != "" {
			t.SubtaskKey = k.TaskKey
		}
	}
	return t
}

// applyTally adds t once. With atomic counters the claim and the increments
// commit together. The fallback claims first and then writes each aggregate
// separately: a failure in between leaves the message uncounted until
// backfill, and concurrent events of one conversation can lose updates.
func (e *Engine) applyTally(ctx context.Context, t *contracts.Tally) (bool, error) {
	if e.counters != nil {
		applied, err := e.counters.ApplyTally(ctx, t)
		if err != nil {
			return false, fmt.Errorf("failed to apply tally of message %s: %w", sanitize.TruncateKey(t.MessageKey), err)
		}
		return applied, nil
	}

	claim, err := e.store.ClaimTally(ctx, t.MessageKey, t.SubtaskKey)
	if err != nil {
		return false, fmt.Errorf("failed to claim message %s: %w", sanitize.TruncateKey(t.MessageKey), err)
	}
	if !claim.Message {
		return false, nil
	}
	if err := e.addConversationStats(ctx, t.ConversationKey, t.Conversation); err != nil {
		return true, err
	}
	if !t.TaskTokens.IsZero() {
		if err := e.store.UpdateTask(ctx, t.TaskKey, &contracts.TaskPatch{Tokens: t.TaskTokens}); err != nil {
			return true, fmt.Errorf("failed to update task %s: %w", sanitize.TruncateKey(t.TaskKey), err)
		}
	}
	if t.InteractionKey == "" {
		return true, nil
	}
	ip := &contracts.InteractionPatch{Messages: t.Messages, ToolCalls: t.ToolCalls, Tokens: t.Tokens}
	if claim.Subtask {
		ip.Subtasks = 1
	}
	if err := e.store.UpdateInteraction(ctx, t.InteractionKey, ip); err != nil {
		return true, fmt.Errorf("failed to update interaction %s: %w", sanitize.TruncateKey(t.InteractionKey), err)
	}
	return true, nil
}

// ensureConversation upserts the conversation unless the cache already knows it.
// Records carrying a profile always reach the store so a missing profile is filled.
func (e *Engine) ensureConversation(ctx context.Context, rec *normalize.Record, key string, at time.Time) error {
	if len(rec.UserProfile) == 0 && e.conversations.Contains(key) {
		return nil
	}
	c := &contracts.Conversation{
		Key:         key,
		StartedAt:   at,
		EndedAt:     at,
		UserProfile: rec.UserProfile,
		User:        rec.User,
	}
	res, err := e.store.UpsertConversation(ctx, c)
	if err != nil {
		return fmt.Errorf("failed to upsert conversation %s: %w", sanitize.TruncateKey(key), err)
	}
	if res == store.Created {
		e.logger.Debug("[Reconcile] New conversation %s", sanitize.TruncateKey(key))
	}
	e.conversations.Add(key, struct{}{})
	return nil
}

// resolveAgent returns the record's agent, falling back to the agent already
// known for the same task.
func (e *Engine) resolveAgent(ctx context.Context, rec *normalize.Record, taskKey string) (string, error) {
	if rec.AgentName != "" {
		e.taskAgents.Add(taskKey, rec.AgentName)
		return rec.AgentName, nil
	}
	if name, ok := e.taskAgents.Get(taskKey); ok {
		return name, nil
	}
	t, err := e.store.GetTask(ctx, taskKey)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read task %s: %w", sanitize.TruncateKey(taskKey), err)
	}
	if t.AgentName != "" {
		e.taskAgents.Add(taskKey, t.AgentName)
	}
	return t.AgentName, nil
}

// ensureTask inserts the task if absent.
func (e *Engine) ensureTask(ctx context.Context, rec *normalize.Record, k keys.Keys, agent string, at time.Time) error {
	t := &contracts.Task{
		Key:             k.TaskKey,
		ConversationKey: k.ConversationKey,
		ParentTaskKey:   rec.ParentTaskKey,
		AgentName:       agent,
		Type:            contracts.TaskTypeMain,
		Status:          contracts.TaskWorking,
		StartedAt:       at,
		Topic:           rec.Topic,
		Method:          rec.Method,
	}
	if rec.ParentTaskKey != "" || e.conventions.IsSubtask(k.TaskKey) {
		t.Type = contracts.TaskTypeSubtask
	}
	if _, err := e.store.InsertTaskIfAbsent(ctx, t); err != nil {
		return fmt.Errorf("failed to insert task %s: %w", sanitize.TruncateKey(k.TaskKey), err)
	}
	return nil
}

// addConversationStats is the read-modify-write fallback for conversation counters.
func (e *Engine) addConversationStats(ctx context.Context, key string, d contracts.ConversationDelta) error {
	c, err := e.store.GetConversation(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to read conversation %s: %w", sanitize.TruncateKey(key), err)
	}
	st := contracts.ConversationStats{TotalMessages: c.TotalMessages, Tokens: c.Tokens, EndedAt: c.EndedAt}.Apply(d)
	if err := e.store.SetConversationStats(ctx, key, st); err != nil {
		return fmt.Errorf("failed to write conversation %s: %w", sanitize.TruncateKey(key), err)
	}
	return nil
}

// gatewayAck is the placeholder text gateways send before the real query.
const gatewayAck = "Request received by gateway"

// queryRef returns the user query an end-user message supplies, if any.
func queryRef(role contracts.Role, messageKey, content string, at time.Time) *contracts.MessageRef {
	if role != contracts.RoleUser || !isQueryText(content) {
		return nil
	}
	return &contracts.MessageRef{Text: content, MessageKey: messageKey, At: at}
}

// responseRef returns the agent response a completed agent message supplies, if any.
func responseRef(role contracts.Role, state contracts.TaskState, messageKey, content string, at time.Time) *contracts.MessageRef {
	if role != contracts.RoleAgent || state != contracts.TaskCompleted {
		return nil
	}
	return &contracts.MessageRef{Text: content, MessageKey: messageKey, At: at}
}

// isQueryText rejects gateway acknowledgements and the summaries written for
// messages without text.
func isQueryText(s string) bool {
	switch s {
	case "", gatewayAck, "Task in progress", "Task completed", "Task failed":
		return false
	}
	return true
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown agent"
	}
	return s
}
