package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"interaction-ingest/src/contracts"
)

// runContract exercises the behavior every Store implementation must share.
// Keys are prefixed per run so shared databases can be reused.
func runContract(t *testing.T, open func(t *testing.T) Store) {
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("conversation upsert is idempotent", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		key := uniqueKey("conv")

		out, err := s.UpsertConversation(ctx, &contracts.Conversation{Key: key, StartedAt: t0})
		if err != nil {
			t.Fatalf("UpsertConversation() error = %v", err)
		}
		if out != Created {
			t.Fatalf("first upsert = %v, want created", out)
		}
		out, err = s.UpsertConversation(ctx, &contracts.Conversation{Key: key, StartedAt: t0.Add(time.Hour)})
		if err != nil {
			t.Fatalf("UpsertConversation() error = %v", err)
		}
		if out != AlreadyExists {
			t.Fatalf("second upsert = %v, want already_exists", out)
		}

		c, err := s.GetConversation(ctx, key)
		if err != nil {
			t.Fatalf("GetConversation() error = %v", err)
		}
		if !c.StartedAt.Equal(t0) {
			t.Errorf("StartedAt = %v, want %v", c.StartedAt, t0)
		}
	})

	t.Run("conversation gains a missing profile once", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		key := uniqueKey("conv")

		mustUpsert(t, s, key, t0)
		first := &contracts.Conversation{
			Key:         key,
			StartedAt:   t0,
			UserProfile: json.RawMessage(`{"email":"a@example.com"}`),
			User:        contracts.UserIdentity{Email: "a@example.com"},
		}
		if _, err := s.UpsertConversation(ctx, first); err != nil {
			t.Fatalf("UpsertConversation() error = %v", err)
		}
		second := &contracts.Conversation{
			Key:         key,
			StartedAt:   t0,
			UserProfile: json.RawMessage(`{"email":"b@example.com"}`),
			User:        contracts.UserIdentity{Email: "b@example.com"},
		}
		if _, err := s.UpsertConversation(ctx, second); err != nil {
			t.Fatalf("UpsertConversation() error = %v", err)
		}

		c, err := s.GetConversation(ctx, key)
		if err != nil {
			t.Fatalf("GetConversation() error = %v", err)
		}
		if c.User.Email != "a@example.com" {
			t.Errorf("User.Email = %q, want a@example.com", c.User.Email)
		}
		var profile map[string]string
		if err := json.Unmarshal(c.UserProfile, &profile); err != nil {
			t.Fatalf("profile is not JSON: %v", err)
		}
		if profile["email"] != "a@example.com" {
			t.Errorf("profile email = %q, want a@example.com", profile["email"])
		}
	})

	t.Run("missing aggregates are not found", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		if _, err := s.GetConversation(ctx, uniqueKey("nope")); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetConversation() error = %v, want ErrNotFound", err)
		}
		if _, err := s.GetInteraction(ctx, uniqueKey("nope")); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetInteraction() error = %v, want ErrNotFound", err)
		}
		if _, err := s.GetTask(ctx, uniqueKey("nope")); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetTask() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("racing interaction inserts create exactly one", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		conv := uniqueKey("conv")
		key := uniqueKey("gdk-task-")
		mustUpsert(t, s, conv, t0)

		const workers = 8
		var wg sync.WaitGroup
		var mu sync.Mutex
		created := 0
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				out, err := s.InsertInteractionIfAbsent(ctx, &contracts.Interaction{
					Key: key, ConversationKey: conv, StartedAt: t0,
				})
				if err != nil {
					t.Errorf("InsertInteractionIfAbsent() error = %v", err)
					return
				}
				if out == Created {
					mu.Lock()
					created++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if created != 1 {
			t.Fatalf("created = %d, want 1", created)
		}
		in, err := s.GetInteraction(ctx, key)
		if err != nil {
			t.Fatalf("GetInteraction() error = %v", err)
		}
		if in.Sequence != 1 {
			t.Errorf("Sequence = %d, want 1", in.Sequence)
		}
		if in.ResponseState != contracts.ResponseInProgress {
			t.Errorf("ResponseState = %q, want in_progress", in.ResponseState)
		}

		next := uniqueKey("gdk-task-")
		if _, err := s.InsertInteractionIfAbsent(ctx, &contracts.Interaction{
			Key: next, ConversationKey: conv, StartedAt: t0.Add(time.Minute),
		}); err != nil {
			t.Fatalf("InsertInteractionIfAbsent() error = %v", err)
		}
		in, err = s.GetInteraction(ctx, next)
		if err != nil {
			t.Fatalf("GetInteraction() error = %v", err)
		}
		if in.Sequence != 2 {
			t.Errorf("second Sequence = %d, want 2", in.Sequence)
		}

		list, err := s.ListInteractions(ctx, conv)
		if err != nil {
			t.Fatalf("ListInteractions() error = %v", err)
		}
		if len(list) != 2 || list[0].Key != key || list[1].Key != next {
			t.Errorf("ListInteractions() = %+v, want [%s %s]", list, key, next)
		}
	})

	t.Run("interaction patch merges", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		conv := uniqueKey("conv")
		key := uniqueKey("gdk-task-")
		mustUpsert(t, s, conv, t0)
		mustInsertInteraction(t, s, key, conv, t0.Add(time.Minute))

		patches := []*contracts.InteractionPatch{
			{
				Messages:  1,
				Tokens:    contracts.TokenTotals{Total: 10, Input: 6, Output: 4},
				StartedAt: t0,
				Query:     &contracts.MessageRef{Text: "What is the policy?", MessageKey: "m1", At: t0},
			},
			{Messages: 1, ToolCalls: 1, Subtasks: 1, DelegatedAgent: "PolicyBot", PrimaryAgent: ""},
			{Messages: 1, PrimaryAgent: "Orchestrator", DelegatedAgent: "Orchestrator"},
			{Messages: 1, DelegatedAgent: "PolicyBot", Tokens: contracts.TokenTotals{Total: 5, Cached: 2}},
			{
				Messages: 1,
				Response: &contracts.MessageRef{Text: "Here is the policy...", MessageKey: "m4", At: t0.Add(2 * time.Minute)},
			},
			{
				Messages: 1,
				Response: &contracts.MessageRef{Text: "second", MessageKey: "m5", At: t0.Add(3 * time.Minute)},
			},
		}
		for i, p := range patches {
			if err := s.UpdateInteraction(ctx, key, p); err != nil {
				t.Fatalf("UpdateInteraction(%d) error = %v", i, err)
			}
		}

		in, err := s.GetInteraction(ctx, key)
		if err != nil {
			t.Fatalf("GetInteraction() error = %v", err)
		}
		if in.TotalMessages != 6 || in.NumToolCalls != 1 || in.NumSubtasks != 1 {
			t.Errorf("counters = %d/%d/%d, want 6/1/1", in.TotalMessages, in.NumToolCalls, in.NumSubtasks)
		}
		if want := (contracts.TokenTotals{Total: 15, Input: 6, Output: 4, Cached: 2}); in.Tokens != want {
			t.Errorf("Tokens = %+v, want %+v", in.Tokens, want)
		}
		if !in.StartedAt.Equal(t0) {
			t.Errorf("StartedAt = %v, want lowered to %v", in.StartedAt, t0)
		}
		if in.PrimaryAgent != "Orchestrator" {
			t.Errorf("PrimaryAgent = %q, want Orchestrator", in.PrimaryAgent)
		}
		if len(in.DelegatedAgents) != 1 || in.DelegatedAgents[0] != "PolicyBot" {
			t.Errorf("DelegatedAgents = %v, want [PolicyBot]", in.DelegatedAgents)
		}
		if in.UserQuery != "What is the policy?" || in.UserQueryMessageKey != "m1" {
			t.Errorf("UserQuery = %q (%s)", in.UserQuery, in.UserQueryMessageKey)
		}
		if in.ResponseState != contracts.ResponseCompleted {
			t.Errorf("ResponseState = %q, want completed", in.ResponseState)
		}
		if in.AgentResponse != "Here is the policy..." || in.AgentResponseMessageKey != "m4" {
			t.Errorf("AgentResponse = %q (%s), want first completion", in.AgentResponse, in.AgentResponseMessageKey)
		}
		if in.CompletedAt == nil || !in.CompletedAt.Equal(t0.Add(2*time.Minute)) {
			t.Errorf("CompletedAt = %v, want %v", in.CompletedAt, t0.Add(2*time.Minute))
		}
	})

	t.Run("replace totals overwrites counters", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		conv := uniqueKey("conv")
		key := uniqueKey("gdk-task-")
		mustUpsert(t, s, conv, t0)
		mustInsertInteraction(t, s, key, conv, t0)
		if err := s.UpdateInteraction(ctx, key, &contracts.InteractionPatch{Messages: 9, DelegatedAgent: "Stale"}); err != nil {
			t.Fatalf("UpdateInteraction() error = %v", err)
		}

		totals := contracts.InteractionTotals{
			TotalMessages:   3,
			NumToolCalls:    2,
			NumSubtasks:     1,
			Tokens:          contracts.TokenTotals{Total: 7},
			DelegatedAgents: []string{"A", "B"},
		}
		if err := s.ReplaceInteractionTotals(ctx, key, totals); err != nil {
			t.Fatalf("ReplaceInteractionTotals() error = %v", err)
		}
		in, err := s.GetInteraction(ctx, key)
		if err != nil {
			t.Fatalf("GetInteraction() error = %v", err)
		}
		if in.TotalMessages != 3 || in.NumToolCalls != 2 || in.NumSubtasks != 1 || in.Tokens.Total != 7 {
			t.Errorf("totals = %+v", in)
		}
		if len(in.DelegatedAgents) != 2 || in.DelegatedAgents[0] != "A" || in.DelegatedAgents[1] != "B" {
			t.Errorf("DelegatedAgents = %v, want [A B]", in.DelegatedAgents)
		}
	})

	t.Run("most recent interaction at or before", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		conv := uniqueKey("conv")
		mustUpsert(t, s, conv, t0)
		early := uniqueKey("gdk-task-")
		late := uniqueKey("gdk-task-")
		mustInsertInteraction(t, s, early, conv, t0)
		mustInsertInteraction(t, s, late, conv, t0.Add(10*time.Minute))

		tests := []struct {
			name  string
			at    time.Time
			want  string
			found bool
		}{
			{"before any", t0.Add(-time.Second), "", false},
			{"exact start", t0, early, true},
			{"between", t0.Add(5 * time.Minute), early, true},
			{"after both", t0.Add(time.Hour), late, true},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, found, err := s.FindMostRecentInteraction(ctx, conv, tt.at)
				if err != nil {
					t.Fatalf("FindMostRecentInteraction() error = %v", err)
				}
				if found != tt.found || got != tt.want {
					t.Errorf("FindMostRecentInteraction() = %q, %v, want %q, %v", got, found, tt.want, tt.found)
				}
			})
		}
	})

	t.Run("task status never leaves a terminal state", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		key := uniqueKey("a2a_subtask_")
		parent := uniqueKey("gdk-task-")

		task := &contracts.Task{
			Key:           key,
			ParentTaskKey: parent,
			Type:          contracts.TaskTypeSubtask,
			Status:        contracts.TaskWorking,
			StartedAt:     t0,
		}
		out, err := s.InsertTaskIfAbsent(ctx, task)
		if err != nil || out != Created {
			t.Fatalf("InsertTaskIfAbsent() = %v, %v, want created", out, err)
		}
		if out, _ := s.InsertTaskIfAbsent(ctx, task); out != AlreadyExists {
			t.Fatalf("second InsertTaskIfAbsent() = %v, want already_exists", out)
		}

		steps := []*contracts.TaskPatch{
			{AgentName: "PolicyBot", Status: contracts.TaskWorking, At: t0},
			{AgentName: "Other", Status: contracts.TaskCompleted, At: t0.Add(time.Minute), Final: true,
				Tokens: contracts.TokenTotals{Total: 3}},
			{Status: contracts.TaskWorking, At: t0.Add(2 * time.Minute), Tokens: contracts.TokenTotals{Total: 2}},
		}
		for i, p := range steps {
			if err := s.UpdateTask(ctx, key, p); err != nil {
				t.Fatalf("UpdateTask(%d) error = %v", i, err)
			}
		}

		got, err := s.GetTask(ctx, key)
		if err != nil {
			t.Fatalf("GetTask() error = %v", err)
		}
		if got.AgentName != "PolicyBot" {
			t.Errorf("AgentName = %q, want PolicyBot", got.AgentName)
		}
		if got.Status != contracts.TaskCompleted {
			t.Errorf("Status = %q, want completed", got.Status)
		}
		if got.CompletedAt == nil || !got.CompletedAt.Equal(t0.Add(time.Minute)) {
			t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, t0.Add(time.Minute))
		}
		if !got.IsFinal || got.Tokens.Total != 5 {
			t.Errorf("IsFinal = %v, Tokens = %+v", got.IsFinal, got.Tokens)
		}

		subs, err := s.ListSubtasks(ctx, parent)
		if err != nil {
			t.Fatalf("ListSubtasks() error = %v", err)
		}
		if len(subs) != 1 || subs[0].Key != key {
			t.Errorf("ListSubtasks() = %+v", subs)
		}
	})

	t.Run("message insert tolerates redelivery", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		conv := uniqueKey("conv")
		mustUpsert(t, s, conv, t0)
		interaction := uniqueKey("gdk-task-")

		msgs := []*contracts.Message{
			{
				Key: uniqueKey("m"), ConversationKey: conv, TaskKey: interaction, InteractionKey: interaction,
				Role: contracts.RoleAgent, MessageType: "tool_invocation", TaskState: contracts.TaskWorking,
				Content: "Calling tools: lookup", Timestamp: t0.Add(time.Second),
				ToolCalls: []contracts.ToolCall{{
					ID: "call-1", Name: "lookup", Input: json.RawMessage(`{"q":"policy"}`), Status: contracts.ToolCallCalled,
				}},
			},
			{
				Key: uniqueKey("m"), ConversationKey: conv, TaskKey: interaction, InteractionKey: interaction,
				Role: contracts.RoleUser, MessageType: "user_query", TaskState: contracts.TaskWorking,
				Content: "hello", Timestamp: t0, Document: json.RawMessage(`{"text":"hello"}`),
			},
			{
				Key: uniqueKey("m"), ConversationKey: conv, TaskKey: uniqueKey("orphan"),
				Role: contracts.RoleSystem, MessageType: "agent_message", TaskState: contracts.TaskWorking,
				Timestamp: t0.Add(2 * time.Second), KeySynthesized: true,
			},
		}
		for _, m := range msgs {
			out, err := s.InsertMessageIfAbsent(ctx, m)
			if err != nil || out != Created {
				t.Fatalf("InsertMessageIfAbsent(%s) = %v, %v, want created", m.Key, out, err)
			}
		}
		out, err := s.InsertMessageIfAbsent(ctx, msgs[0])
		if err != nil {
			t.Fatalf("redelivered InsertMessageIfAbsent() error = %v", err)
		}
		if out != AlreadyExists {
			t.Fatalf("redelivered InsertMessageIfAbsent() = %v, want already_exists", out)
		}

		all, err := s.ListMessages(ctx, contracts.MessageFilter{ConversationKey: conv})
		if err != nil {
			t.Fatalf("ListMessages() error = %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("ListMessages() returned %d, want 3", len(all))
		}
		if all[0].Key != msgs[1].Key || all[1].Key != msgs[0].Key {
			t.Errorf("ListMessages() not ordered by timestamp: %s, %s", all[0].Key, all[1].Key)
		}
		if len(all[1].ToolCalls) != 1 || all[1].ToolCalls[0].ID != "call-1" {
			t.Errorf("ToolCalls = %+v", all[1].ToolCalls)
		}
		if all[2].InteractionKey != "" || !all[2].KeySynthesized {
			t.Errorf("orphan message = %+v", all[2])
		}

		linked, err := s.ListMessages(ctx, contracts.MessageFilter{InteractionKey: interaction})
		if err != nil {
			t.Fatalf("ListMessages() error = %v", err)
		}
		if len(linked) != 2 {
			t.Errorf("ListMessages(interaction) returned %d, want 2", len(linked))
		}
	})

	t.Run("tally claims each message once", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		conv := uniqueKey("conv")
		mustUpsert(t, s, conv, t0)
		sub := uniqueKey("a2a_subtask_")
		mustInsertTask(t, s, sub, uniqueKey("gdk-task-"), t0)
		first := mustInsertMessage(t, s, conv, sub, t0)
		second := mustInsertMessage(t, s, conv, sub, t0.Add(time.Second))

		claim, err := s.ClaimTally(ctx, first, sub)
		if err != nil {
			t.Fatalf("ClaimTally() error = %v", err)
		}
		if !claim.Message || !claim.Subtask {
			t.Fatalf("first ClaimTally() = %+v, want both flipped", claim)
		}
		if claim, _ = s.ClaimTally(ctx, first, sub); claim.Message || claim.Subtask {
			t.Errorf("repeated ClaimTally() = %+v, want nothing flipped", claim)
		}
		if claim, _ = s.ClaimTally(ctx, second, sub); !claim.Message || claim.Subtask {
			t.Errorf("ClaimTally(second) = %+v, want message only", claim)
		}
		if claim, _ = s.ClaimTally(ctx, uniqueKey("missing"), ""); claim.Message {
			t.Errorf("ClaimTally(missing) = %+v, want nothing flipped", claim)
		}
	})

	t.Run("applied tally is not repeated", func(t *testing.T) {
		s := open(t)
		counters, ok := s.(AtomicCounters)
		if !ok {
			t.Skip("store has no atomic counters")
		}
		ctx := context.Background()
		conv := uniqueKey("conv")
		mustUpsert(t, s, conv, t0)
		interaction := uniqueKey("gdk-task-")
		mustInsertInteraction(t, s, interaction, conv, t0)
		sub := uniqueKey("a2a_subtask_")
		mustInsertTask(t, s, sub, interaction, t0)

		tally := &contracts.Tally{
			MessageKey:      mustInsertMessage(t, s, conv, sub, t0),
			ConversationKey: conv,
			Conversation:    contracts.ConversationDelta{Messages: 1, Tokens: contracts.TokenTotals{Total: 7}, EndedAt: t0.Add(time.Minute)},
			TaskKey:         sub,
			TaskTokens:      contracts.TokenTotals{Total: 5},
			InteractionKey:  interaction,
			Messages:        1,
			ToolCalls:       2,
			Tokens:          contracts.TokenTotals{Total: 7},
			SubtaskKey:      sub,
		}
		for i, want := range []bool{true, false} {
			applied, err := counters.ApplyTally(ctx, tally)
			if err != nil {
				t.Fatalf("ApplyTally(%d) error = %v", i, err)
			}
			if applied != want {
				t.Errorf("ApplyTally(%d) = %v, want %v", i, applied, want)
			}
		}

		c, err := s.GetConversation(ctx, conv)
		if err != nil {
			t.Fatalf("GetConversation() error = %v", err)
		}
		if c.TotalMessages != 1 || c.Tokens.Total != 7 || !c.EndedAt.Equal(t0.Add(time.Minute)) {
			t.Errorf("conversation = %+v", c)
		}
		task, err := s.GetTask(ctx, sub)
		if err != nil {
			t.Fatalf("GetTask() error = %v", err)
		}
		if task.Tokens.Total != 5 {
			t.Errorf("task Tokens.Total = %d, want 5", task.Tokens.Total)
		}
		in, err := s.GetInteraction(ctx, interaction)
		if err != nil {
			t.Fatalf("GetInteraction() error = %v", err)
		}
		if in.TotalMessages != 1 || in.NumToolCalls != 2 || in.NumSubtasks != 1 || in.Tokens.Total != 7 {
			t.Errorf("interaction = %+v", in)
		}
	})

	t.Run("concurrent tallies are not lost", func(t *testing.T) {
		s := open(t)
		counters, ok := s.(AtomicCounters)
		if !ok {
			t.Skip("store has no atomic counters")
		}
		ctx := context.Background()
		conv := uniqueKey("conv")
		mustUpsert(t, s, conv, t0)
		task := uniqueKey("gdk-task-")

		const n = 40
		messageKeys := make([]string, n)
		for i := range messageKeys {
			messageKeys[i] = mustInsertMessage(t, s, conv, task, t0)
		}

		var wg sync.WaitGroup
		for i := range n {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				tally := &contracts.Tally{
					MessageKey:      messageKeys[i],
					ConversationKey: conv,
					Conversation: contracts.ConversationDelta{
						Messages: 1,
						Tokens:   contracts.TokenTotals{Total: 2, Input: 1, Output: 1},
						EndedAt:  t0.Add(time.Duration(i) * time.Second),
					},
					TaskKey: task,
				}
				// Each message is offered twice; only one of them counts.
				for range 2 {
					if _, err := counters.ApplyTally(ctx, tally); err != nil {
						t.Errorf("ApplyTally() error = %v", err)
					}
				}
			}(i)
		}
		wg.Wait()

		c, err := s.GetConversation(ctx, conv)
		if err != nil {
			t.Fatalf("GetConversation() error = %v", err)
		}
		if c.TotalMessages != n || c.Tokens.Total != 2*n {
			t.Errorf("TotalMessages = %d, Tokens.Total = %d, want %d, %d", c.TotalMessages, c.Tokens.Total, n, 2*n)
		}
	})

	t.Run("plain store hides atomic counters", func(t *testing.T) {
		s := WithoutAtomicCounters(open(t))
		if _, ok := s.(AtomicCounters); ok {
			t.Fatal("WithoutAtomicCounters() still exposes ApplyTally")
		}
		ctx := context.Background()
		conv := uniqueKey("conv")
		mustUpsert(t, s, conv, t0)
		st := contracts.ConversationStats{TotalMessages: 4, Tokens: contracts.TokenTotals{Total: 9}, EndedAt: t0.Add(time.Hour)}
		if err := s.SetConversationStats(ctx, conv, st); err != nil {
			t.Fatalf("SetConversationStats() error = %v", err)
		}
		c, err := s.GetConversation(ctx, conv)
		if err != nil {
			t.Fatalf("GetConversation() error = %v", err)
		}
		if c.TotalMessages != 4 || c.Tokens.Total != 9 || !c.EndedAt.Equal(t0.Add(time.Hour)) {
			t.Errorf("conversation = %+v", c)
		}
	})
}

func uniqueKey(prefix string) string {
	return prefix + uuid.NewString()
}

func mustUpsert(t *testing.T, s Store, key string, at time.Time) {
	t.Helper()
	if _, err := s.UpsertConversation(context.Background(), &contracts.Conversation{Key: key, StartedAt: at}); err != nil {
		t.Fatalf("UpsertConversation() error = %v", err)
	}
}

func mustInsertInteraction(t *testing.T, s Store, key, conv string, at time.Time) {
	t.Helper()
	in := &contracts.Interaction{Key: key, ConversationKey: conv, StartedAt: at}
	if _, err := s.InsertInteractionIfAbsent(context.Background(), in); err != nil {
		t.Fatalf("InsertInteractionIfAbsent() error = %v", err)
	}
}

func mustInsertTask(t *testing.T, s Store, key, parent string, at time.Time) {
	t.Helper()
	task := &contracts.Task{Key: key, ParentTaskKey: parent, Type: contracts.TaskTypeSubtask, Status: contracts.TaskWorking, StartedAt: at}
	if _, err := s.InsertTaskIfAbsent(context.Background(), task); err != nil {
		t.Fatalf("InsertTaskIfAbsent() error = %v", err)
	}
}

func mustInsertMessage(t *testing.T, s Store, conv, task string, at time.Time) string {
	t.Helper()
	m := &contracts.Message{
		Key: uniqueKey("m"), ConversationKey: conv, TaskKey: task,
		Role: contracts.RoleAgent, MessageType: "agent_message", TaskState: contracts.TaskWorking, Timestamp: at,
	}
	if _, err := s.InsertMessageIfAbsent(context.Background(), m); err != nil {
		t.Fatalf("InsertMessageIfAbsent() error = %v", err)
	}
	return m.Key
}
