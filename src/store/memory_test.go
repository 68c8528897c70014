package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"interaction-ingest/src/contracts"
)

func TestMemoryStore_Contract(t *testing.T) {
	runContract(t, func(t *testing.T) Store {
		s := NewMemoryStore()
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestMemoryStore_ClosedWritesAreTransient(t *testing.T) {
	s := NewMemoryStore()
	s.Close()

	_, err := s.UpsertConversation(context.Background(), &contracts.Conversation{Key: "c1", StartedAt: time.Now()})
	if err == nil {
		t.Fatal("UpsertConversation() on closed store succeeded")
	}
	if !IsTransient(err) {
		t.Errorf("IsTransient(%v) = false, want true", err)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	mustUpsert(t, s, "c1", time.Now())
	mustInsertInteraction(t, s, "gdk-task-1", "c1", time.Now())
	if err := s.UpdateInteraction(ctx, "gdk-task-1", &contracts.InteractionPatch{DelegatedAgent: "A"}); err != nil {
		t.Fatalf("UpdateInteraction() error = %v", err)
	}

	in, err := s.GetInteraction(ctx, "gdk-task-1")
	if err != nil {
		t.Fatalf("GetInteraction() error = %v", err)
	}
	in.DelegatedAgents[0] = "mutated"

	again, _ := s.GetInteraction(ctx, "gdk-task-1")
	if again.DelegatedAgents[0] != "A" {
		t.Errorf("stored interaction was mutated through a returned copy: %v", again.DelegatedAgents)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"not found", ErrNotFound, false},
		{"marked", Unavailable(errors.New("down")), true},
		{"wrapped mark", errors.Join(errors.New("ctx"), Unavailable(errors.New("down"))), true},
		{"deadline", context.DeadlineExceeded, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.err
			if err != nil && transientConnError(err) {
				err = Unavailable(err)
			}
			if got := IsTransient(err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
