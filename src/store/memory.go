package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"interaction-ingest/src/contracts"
)

// MemoryStore is an in-memory implementation of Store.
// Every operation runs under one lock, so all updates are atomic.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*contracts.Conversation
	interactions  map[string]*contracts.Interaction
	tasks         map[string]*contracts.Task
	messages      map[string]*contracts.Message

	// counted flags of messages and subtasks already tallied
	countedMessages map[string]bool
	countedSubtasks map[string]bool

	closed bool
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*contracts.Conversation),
		interactions:  make(map[string]*contracts.Interaction),
		tasks:         make(map[string]*contracts.Task),
		messages:      make(map[string]*contracts.Message),

		countedMessages: make(map[string]bool),
		countedSubtasks: make(map[string]bool),
	}
}

func (s *MemoryStore) checkOpen() error {
	if s.closed {
		return Unavailable(fmt.Errorf("memory store is closed"))
	}
	return nil
}

// UpsertConversation inserts the conversation if absent.
func (s *MemoryStore) UpsertConversation(ctx context.Context, c *contracts.Conversation) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	if existing, ok := s.conversations[c.Key]; ok {
		if len(existing.UserProfile) == 0 && len(c.UserProfile) > 0 {
			existing.UserProfile = cloneRaw(c.UserProfile)
			existing.User = c.User
		}
		return AlreadyExists, nil
	}
	cp := *c
	cp.UserProfile = cloneRaw(c.UserProfile)
	if cp.EndedAt.IsZero() {
		cp.EndedAt = cp.StartedAt
	}
	s.conversations[c.Key] = &cp
	return Created, nil
}

// ClaimTally flips the counted flags of a message and its subtask.
func (s *MemoryStore) ClaimTally(ctx context.Context, messageKey, subtaskKey string) (contracts.TallyClaim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return contracts.TallyClaim{}, err
	}
	return s.claim(messageKey, subtaskKey), nil
}

func (s *MemoryStore) claim(messageKey, subtaskKey string) contracts.TallyClaim {
	var c contracts.TallyClaim
	if _, ok := s.messages[messageKey]; !ok || s.countedMessages[messageKey] {
		return c
	}
	s.countedMessages[messageKey] = true
	c.Message = true
	if _, ok := s.tasks[subtaskKey]; ok && !s.countedSubtasks[subtaskKey] {
		s.countedSubtasks[subtaskKey] = true
		c.Subtask = true
	}
	return c
}

// ApplyTally claims the message and adds its tally under one lock.
func (s *MemoryStore) ApplyTally(ctx context.Context, t *contracts.Tally) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	claim := s.claim(t.MessageKey, t.SubtaskKey)
	if !claim.Message {
		return false, nil
	}
	if c, ok := s.conversations[t.ConversationKey]; ok {
		stats := contracts.ConversationStats{TotalMessages: c.TotalMessages, Tokens: c.Tokens, EndedAt: c.EndedAt}.Apply(t.Conversation)
		c.TotalMessages, c.Tokens, c.EndedAt = stats.TotalMessages, stats.Tokens, stats.EndedAt
	}
	if task, ok := s.tasks[t.TaskKey]; ok {
		task.Tokens = task.Tokens.Add(t.TaskTokens)
	}
	if in, ok := s.interactions[t.InteractionKey]; ok {
		in.TotalMessages += t.Messages
		in.NumToolCalls += t.ToolCalls
		in.Tokens = in.Tokens.Add(t.Tokens)
		if claim.Subtask {
			in.NumSubtasks++
		}
	}
	return true, nil
}

// SetConversationStats overwrites the conversation counters.
func (s *MemoryStore) SetConversationStats(ctx context.Context, key string, st contracts.ConversationStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	c, ok := s.conversations[key]
	if !ok {
		return fmt.Errorf("conversation %s: %w", key, ErrNotFound)
	}
	c.TotalMessages, c.Tokens, c.EndedAt = st.TotalMessages, st.Tokens, st.EndedAt
	return nil
}

// GetConversation returns a copy of the conversation.
func (s *MemoryStore) GetConversation(ctx context.Context, key string) (*contracts.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[key]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", key, ErrNotFound)
	}
	cp := *c
	cp.UserProfile = cloneRaw(c.UserProfile)
	return &cp, nil
}

// InsertInteractionIfAbsent creates the interaction and assigns its sequence.
func (s *MemoryStore) InsertInteractionIfAbsent(ctx context.Context, in *contracts.Interaction) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	if _, ok := s.interactions[in.Key]; ok {
		return AlreadyExists, nil
	}
	cp := copyInteraction(in)
	if cp.ResponseState == "" {
		cp.ResponseState = contracts.ResponseInProgress
	}
	if conv, ok := s.conversations[in.ConversationKey]; ok {
		conv.InteractionCount++
		cp.Sequence = conv.InteractionCount
	}
	s.interactions[in.Key] = cp
	return Created, nil
}

// UpdateInteraction applies the patch.
func (s *MemoryStore) UpdateInteraction(ctx context.Context, key string, p *contracts.InteractionPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	in, ok := s.interactions[key]
	if !ok {
		return fmt.Errorf("interaction %s: %w", key, ErrNotFound)
	}
	in.TotalMessages += p.Messages
	in.NumToolCalls += p.ToolCalls
	in.NumSubtasks += p.Subtasks
	in.Tokens = in.Tokens.Add(p.Tokens)

	if !p.StartedAt.IsZero() && p.StartedAt.Before(in.StartedAt) {
		in.StartedAt = p.StartedAt
	}
	if in.PrimaryAgent == "" {
		in.PrimaryAgent = p.PrimaryAgent
	}
	if a := p.DelegatedAgent; a != "" && a != in.PrimaryAgent && !slices.Contains(in.DelegatedAgents, a) {
		in.DelegatedAgents = append(in.DelegatedAgents, a)
	}
	if q := p.Query; q != nil {
		at := q.At
		in.UserQuery, in.UserQueryMessageKey, in.UserQueryAt = q.Text, q.MessageKey, &at
	}
	if r := p.Response; r != nil && in.ResponseState != contracts.ResponseCompleted {
		at := r.At
		in.AgentResponse, in.AgentResponseMessageKey, in.AgentResponseAt = r.Text, r.MessageKey, &at
		in.ResponseState = contracts.ResponseCompleted
		completed := r.At
		in.CompletedAt = &completed
	}
	return nil
}

// ReplaceInteractionTotals overwrites recomputed counters.
func (s *MemoryStore) ReplaceInteractionTotals(ctx context.Context, key string, t contracts.InteractionTotals) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	in, ok := s.interactions[key]
	if !ok {
		return fmt.Errorf("interaction %s: %w", key, ErrNotFound)
	}
	in.TotalMessages = t.TotalMessages
	in.NumToolCalls = t.NumToolCalls
	in.NumSubtasks = t.NumSubtasks
	in.Tokens = t.Tokens
	in.DelegatedAgents = slices.Clone(t.DelegatedAgents)
	return nil
}

// GetInteraction returns a copy of the interaction.
func (s *MemoryStore) GetInteraction(ctx context.Context, key string) (*contracts.Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	in, ok := s.interactions[key]
	if !ok {
		return nil, fmt.Errorf("interaction %s: %w", key, ErrNotFound)
	}
	return copyInteraction(in), nil
}

// ListInteractions returns the interactions of a conversation by sequence.
func (s *MemoryStore) ListInteractions(ctx context.Context, conversationKey string) ([]contracts.Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []contracts.Interaction
	for _, in := range s.interactions {
		if in.ConversationKey == conversationKey {
			out = append(out, *copyInteraction(in))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

// FindMostRecentInteraction returns the latest interaction started at or before atOrBefore.
func (s *MemoryStore) FindMostRecentInteraction(ctx context.Context, conversationKey string, atOrBefore time.Time) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return "", false, err
	}

	var best *contracts.Interaction
	for _, in := range s.interactions {
		if in.ConversationKey != conversationKey || in.StartedAt.After(atOrBefore) {
			continue
		}
		if best == nil || in.StartedAt.After(best.StartedAt) ||
			(in.StartedAt.Equal(best.StartedAt) && in.Sequence > best.Sequence) {
			best = in
		}
	}
	if best == nil {
		return "", false, nil
	}
	return best.Key, true, nil
}

// InsertTaskIfAbsent creates the task if absent.
func (s *MemoryStore) InsertTaskIfAbsent(ctx context.Context, t *contracts.Task) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	if _, ok := s.tasks[t.Key]; ok {
		return AlreadyExists, nil
	}
	cp := *t
	s.tasks[t.Key] = &cp
	return Created, nil
}

// UpdateTask merges the patch into the task.
func (s *MemoryStore) UpdateTask(ctx context.Context, key string, p *contracts.TaskPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	t, ok := s.tasks[key]
	if !ok {
		return fmt.Errorf("task %s: %w", key, ErrNotFound)
	}
	if t.AgentName == "" {
		t.AgentName = p.AgentName
	}
	if !t.Status.Terminal() && p.Status != "" {
		if p.Status.Terminal() {
			at := p.At
			t.CompletedAt = &at
		}
		t.Status = p.Status
	}
	t.IsFinal = t.IsFinal || p.Final
	t.Tokens = t.Tokens.Add(p.Tokens)
	return nil
}

// GetTask returns a copy of the task.
func (s *MemoryStore) GetTask(ctx context.Context, key string) (*contracts.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[key]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", key, ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

// ListSubtasks returns the tasks delegated by parentTaskKey by start time.
func (s *MemoryStore) ListSubtasks(ctx context.Context, parentTaskKey string) ([]contracts.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []contracts.Task
	for _, t := range s.tasks {
		if t.ParentTaskKey == parentTaskKey {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

// InsertMessageIfAbsent stores the message unless its key is already present.
func (s *MemoryStore) InsertMessageIfAbsent(ctx context.Context, m *contracts.Message) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	if _, ok := s.messages[m.Key]; ok {
		return AlreadyExists, nil
	}
	s.messages[m.Key] = copyMessage(m)
	return Created, nil
}

// ListMessages returns matching messages ordered by timestamp.
func (s *MemoryStore) ListMessages(ctx context.Context, f contracts.MessageFilter) ([]contracts.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []contracts.Message
	for _, m := range s.messages {
		if f.ConversationKey != "" && m.ConversationKey != f.ConversationKey {
			continue
		}
		if f.InteractionKey != "" && m.InteractionKey != f.InteractionKey {
			continue
		}
		if f.TaskKey != "" && m.TaskKey != f.TaskKey {
			continue
		}
		out = append(out, *copyMessage(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Key < out[j].Key
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// Close marks the store closed. Later writes fail as unavailable.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func copyInteraction(in *contracts.Interaction) *contracts.Interaction {
	cp := *in
	cp.DelegatedAgents = slices.Clone(in.DelegatedAgents)
	if cp.DelegatedAgents == nil {
		cp.DelegatedAgents = []string{}
	}
	return &cp
}

func copyMessage(m *contracts.Message) *contracts.Message {
	cp := *m
	cp.ToolCalls = slices.Clone(m.ToolCalls)
	cp.Document = cloneRaw(m.Document)
	return &cp
}

func cloneRaw(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
