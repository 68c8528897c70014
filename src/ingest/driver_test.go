package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"testing"
	"time"

	"interaction-ingest/src/contracts"
	"interaction-ingest/src/keys"
	"interaction-ingest/src/logger"
	"interaction-ingest/src/normalize"
	"interaction-ingest/src/query"
	"interaction-ingest/src/reconcile"
	"interaction-ingest/src/store"
)

type pipeline struct {
	store  store.Store
	driver *Driver
	delays []time.Duration
}

func newPipeline(t *testing.T, s store.Store, rec Reconciler, cfg DriverConfig) *pipeline {
	t.Helper()
	conv := contracts.DefaultConventions()
	if rec == nil {
		rec = reconcile.NewEngine(s, reconcile.DefaultConfig(), logger.NewSilentLogger())
	}
	p := &pipeline{store: s}
	p.driver = NewDriver(normalize.New(conv), keys.NewResolver(conv), rec, s.FindMostRecentInteraction, cfg, logger.NewSilentLogger())
	p.driver.sleep = func(ctx context.Context, d time.Duration) error {
		p.delays = append(p.delays, d)
		return ctx.Err()
	}
	return p
}

// flakyReconciler fails the first n calls with err.
type flakyReconciler struct {
	mu    sync.Mutex
	n     int
	err   error
	calls int
	next  Reconciler
}

func (f *flakyReconciler) Reconcile(ctx context.Context, rec *normalize.Record, k keys.Keys) (reconcile.Outcome, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.n
	f.mu.Unlock()
	if fail {
		return reconcile.Outcome{}, f.err
	}
	return f.next.Reconcile(ctx, rec, k)
}

func jsonEqual(t *testing.T, got []byte, want string) {
	t.Helper()
	var g, w any
	if err := json.Unmarshal(got, &g); err != nil {
		t.Fatalf("invalid JSON %s: %v", got, err)
	}
	if err := json.Unmarshal([]byte(want), &w); err != nil {
		t.Fatalf("invalid JSON %s: %v", want, err)
	}
	if !reflect.DeepEqual(g, w) {
		t.Errorf("JSON = %s, want %s", got, want)
	}
}

// checkScenarioInteraction asserts the aggregates after all four scenario events.
func checkScenarioInteraction(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	c, err := s.GetConversation(ctx, "ctx-1")
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if c.TotalMessages != 4 {
		t.Errorf("conversation TotalMessages = %d, want 4", c.TotalMessages)
	}

	ins, err := s.ListInteractions(ctx, "ctx-1")
	if err != nil {
		t.Fatalf("ListInteractions() error = %v", err)
	}
	if len(ins) != 1 {
		t.Fatalf("ListInteractions() returned %d, want 1", len(ins))
	}
	in := ins[0]
	if in.Key != "gdk-task-T1" {
		t.Errorf("interaction key = %q, want gdk-task-T1", in.Key)
	}
	if !slices.Equal(in.DelegatedAgents, []string{"PolicyBot"}) {
		t.Errorf("DelegatedAgents = %v, want [PolicyBot]", in.DelegatedAgents)
	}
	if in.ResponseState != contracts.ResponseCompleted {
		t.Errorf("ResponseState = %q, want completed", in.ResponseState)
	}
	if in.UserQuery != "What is the policy?" || in.AgentResponse != "Here is the policy..." {
		t.Errorf("UserQuery = %q, AgentResponse = %q", in.UserQuery, in.AgentResponse)
	}
	if in.TotalMessages != 4 || in.NumSubtasks != 1 {
		t.Errorf("TotalMessages = %d, NumSubtasks = %d, want 4, 1", in.TotalMessages, in.NumSubtasks)
	}
}

func TestIngest_Scenario(t *testing.T) {
	for _, shape := range []reconcile.StorageShape{reconcile.ShapeNormalized, reconcile.ShapeDocument, reconcile.ShapeHybrid} {
		t.Run(string(shape), func(t *testing.T) {
			s := store.NewMemoryStore()
			cfg := reconcile.DefaultConfig()
			cfg.Shape = shape
			p := newPipeline(t, s, reconcile.NewEngine(s, cfg, logger.NewSilentLogger()), DefaultDriverConfig())
			ctx := context.Background()

			for i, raw := range scenario(t) {
				res := p.driver.Ingest(ctx, raw)
				if !res.OK() {
					t.Fatalf("E%d: Ingest() error = %v", i+1, res.Err)
				}
				if !res.Outcome.MessageIsNew || res.Outcome.InteractionKey != "gdk-task-T1" {
					t.Errorf("E%d: outcome = %+v", i+1, res.Outcome)
				}
			}
			checkScenarioInteraction(t, s)

			msgs, err := s.ListMessages(ctx, contracts.MessageFilter{ConversationKey: "ctx-1"})
			if err != nil {
				t.Fatalf("ListMessages() error = %v", err)
			}
			if len(msgs) != 4 {
				t.Errorf("ListMessages() returned %d, want 4", len(msgs))
			}

			calls, err := query.NewService(s, contracts.DefaultConventions()).ToolCalls(ctx, "gdk-task-T1")
			if err != nil {
				t.Fatalf("ToolCalls() error = %v", err)
			}
			if len(calls) != 1 {
				t.Fatalf("ToolCalls() returned %d, want 1", len(calls))
			}
			if calls[0].Status != contracts.ToolCallSuccess {
				t.Errorf("Status = %q, want success", calls[0].Status)
			}
			jsonEqual(t, calls[0].Input, `{"policy":"travel"}`)
			jsonEqual(t, calls[0].Output, `{"text":"economy only"}`)
			if calls[0].Duration == nil || *calls[0].Duration != 1500*time.Millisecond {
				t.Errorf("Duration = %v, want 1.5s", calls[0].Duration)
			}
		})
	}
}

func TestIngest_RedeliveryIsIdempotent(t *testing.T) {
	s := store.NewMemoryStore()
	p := newPipeline(t, s, nil, DefaultDriverConfig())
	ctx := context.Background()
	raw := scenario(t)[0]

	first := p.driver.Ingest(ctx, raw)
	second := p.driver.Ingest(ctx, raw)
	if !first.OK() || !second.OK() {
		t.Fatalf("Ingest() errors = %v, %v", first.Err, second.Err)
	}
	if !first.Outcome.MessageIsNew || second.Outcome.MessageIsNew {
		t.Errorf("MessageIsNew = %v, %v, want true, false", first.Outcome.MessageIsNew, second.Outcome.MessageIsNew)
	}

	c, err := s.GetConversation(ctx, "ctx-1")
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if c.TotalMessages != 1 {
		t.Errorf("TotalMessages = %d, want 1", c.TotalMessages)
	}
}

func TestIngest_ShuffledDeliveryConverges(t *testing.T) {
	s := store.NewMemoryStore()
	p := newPipeline(t, s, nil, DefaultDriverConfig())
	ctx := context.Background()
	events := scenario(t)

	// Tool result and final answer first, then the query, then the invocation.
	for _, i := range []int{2, 3, 0, 1} {
		if res := p.driver.Ingest(ctx, events[i]); !res.OK() {
			t.Fatalf("E%d: Ingest() error = %v", i+1, res.Err)
		}
	}

	in, err := s.GetInteraction(ctx, "gdk-task-T1")
	if err != nil {
		t.Fatalf("GetInteraction() error = %v", err)
	}
	if in.ResponseState != contracts.ResponseCompleted || in.UserQuery != "What is the policy?" {
		t.Errorf("ResponseState = %q, UserQuery = %q", in.ResponseState, in.UserQuery)
	}

	calls, err := query.NewService(s, contracts.DefaultConventions()).ToolCalls(ctx, "gdk-task-T1")
	if err != nil {
		t.Fatalf("ToolCalls() error = %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("ToolCalls() returned %d, want 1", len(calls))
	}
	if calls[0].Status != contracts.ToolCallSuccess || len(calls[0].Input) == 0 || len(calls[0].Output) == 0 {
		t.Errorf("ToolCalls()[0] = %+v, want a merged successful call", calls[0])
	}
}

// failOnceStore fails the first write of kind op with a transient error.
type failOnceStore struct {
	*store.MemoryStore
	op string

	mu     sync.Mutex
	failed bool
}

func (f *failOnceStore) fail(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if op != f.op || f.failed {
		return nil
	}
	f.failed = true
	return store.Unavailable(errors.New("connection reset"))
}

func (f *failOnceStore) UpdateInteraction(ctx context.Context, key string, p *contracts.InteractionPatch) error {
	if p.Response != nil {
		if err := f.fail("response"); err != nil {
			return err
		}
	}
	return f.MemoryStore.UpdateInteraction(ctx, key, p)
}

func (f *failOnceStore) ApplyTally(ctx context.Context, t *contracts.Tally) (bool, error) {
	if err := f.fail("tally"); err != nil {
		return false, err
	}
	return f.MemoryStore.ApplyTally(ctx, t)
}

func TestIngest_RetryAfterPartialWriteCompletesInteraction(t *testing.T) {
	for _, op := range []string{"response", "tally"} {
		t.Run(op, func(t *testing.T) {
			s := &failOnceStore{MemoryStore: store.NewMemoryStore(), op: op}
			p := newPipeline(t, s, nil, DefaultDriverConfig())

			retried := 0
			for i, raw := range scenario(t) {
				res := p.driver.Ingest(context.Background(), raw)
				if !res.OK() {
					t.Fatalf("E%d: Ingest() error = %v", i+1, res.Err)
				}
				if !res.Outcome.MessageIsNew {
					t.Errorf("E%d: MessageIsNew = false after %d attempt(s)", i+1, res.Attempts)
				}
				if res.Attempts > 1 {
					retried++
				}
			}
			if retried != 1 {
				t.Errorf("events retried = %d, want 1", retried)
			}
			checkScenarioInteraction(t, s)
		})
	}
}

type panickingReconciler struct{}

func (panickingReconciler) Reconcile(context.Context, *normalize.Record, keys.Keys) (reconcile.Outcome, error) {
	var m map[string]int
	m["x"]++
	return reconcile.Outcome{}, nil
}

func TestIngest_PanicIsReportedAsUnknown(t *testing.T) {
	p := newPipeline(t, store.NewMemoryStore(), panickingReconciler{}, DefaultDriverConfig())

	res := p.driver.Ingest(context.Background(), scenario(t)[0])
	if res.OK() {
		t.Fatal("Ingest() succeeded, want failure")
	}
	if !errors.Is(res.Err, ErrPanic) {
		t.Errorf("Err = %v, want ErrPanic", res.Err)
	}
	if res.Kind != FailureUnknown || res.Attempts != 1 {
		t.Errorf("Kind = %q, Attempts = %d, want unknown after 1", res.Kind, res.Attempts)
	}
}

func TestIngest_MissingConversationKeyIsPermanent(t *testing.T) {
	s := store.NewMemoryStore()
	flaky := &flakyReconciler{}
	p := newPipeline(t, s, flaky, DefaultDriverConfig())

	res := p.driver.Ingest(context.Background(), []byte(`{"payload":{"id":"gdk-task-1","result":{"kind":"status-update"}}}`))
	if res.OK() {
		t.Fatal("Ingest() succeeded, want failure")
	}
	if res.Kind != FailureMissingField || !errors.Is(res.Err, keys.ErrMissingConversationKey) {
		t.Errorf("Kind = %q, Err = %v, want missing conversation key", res.Kind, res.Err)
	}
	if res.Attempts != 1 || flaky.calls != 0 || len(p.delays) != 0 {
		t.Errorf("Attempts = %d, reconciler calls = %d, delays = %v, want no retries", res.Attempts, flaky.calls, p.delays)
	}
}

func TestIngest_GarbageDoesNotPanic(t *testing.T) {
	p := newPipeline(t, store.NewMemoryStore(), nil, DefaultDriverConfig())
	for _, raw := range [][]byte{nil, []byte("not json"), []byte(`[1,2]`), {0xff, 0x00}} {
		res := p.driver.Ingest(context.Background(), raw)
		if res.Kind != FailureMissingField {
			t.Errorf("Ingest(%q) Kind = %q, want %q", raw, res.Kind, FailureMissingField)
		}
		if res.EventID == "" {
			t.Errorf("Ingest(%q) has no event id", raw)
		}
	}
}

func TestIngest_RetriesTransientFailures(t *testing.T) {
	s := store.NewMemoryStore()
	engine := reconcile.NewEngine(s, reconcile.DefaultConfig(), logger.NewSilentLogger())
	transient := store.Unavailable(errors.New("connection reset"))

	t.Run("recovers within budget", func(t *testing.T) {
		flaky := &flakyReconciler{n: 2, err: transient, next: engine}
		cfg := DriverConfig{MaxAttempts: 4, InitialBackoff: 100 * time.Millisecond, MaxBackoff: 150 * time.Millisecond}
		p := newPipeline(t, s, flaky, cfg)

		res := p.driver.Ingest(context.Background(), scenario(t)[0])
		if !res.OK() {
			t.Fatalf("Ingest() error = %v", res.Err)
		}
		if res.Attempts != 3 {
			t.Errorf("Attempts = %d, want 3", res.Attempts)
		}
		if want := []time.Duration{100 * time.Millisecond, 150 * time.Millisecond}; !slices.Equal(p.delays, want) {
			t.Errorf("delays = %v, want %v", p.delays, want)
		}
	})

	t.Run("exhausted", func(t *testing.T) {
		flaky := &flakyReconciler{n: 10, err: transient, next: engine}
		p := newPipeline(t, s, flaky, DriverConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond})

		res := p.driver.Ingest(context.Background(), scenario(t)[1])
		if res.OK() || res.Kind != FailureStoreCommunication {
			t.Errorf("Kind = %q, Err = %v, want store_communication", res.Kind, res.Err)
		}
		if res.Attempts != 3 || flaky.calls != 3 {
			t.Errorf("Attempts = %d, calls = %d, want 3, 3", res.Attempts, flaky.calls)
		}
	})

	t.Run("permanent errors are not retried", func(t *testing.T) {
		flaky := &flakyReconciler{n: 10, err: fmt.Errorf("constraint violated"), next: engine}
		p := newPipeline(t, s, flaky, DefaultDriverConfig())

		res := p.driver.Ingest(context.Background(), scenario(t)[1])
		if res.Kind != FailureUnknown || res.Attempts != 1 {
			t.Errorf("Kind = %q, Attempts = %d, want unknown after 1", res.Kind, res.Attempts)
		}
	})

	t.Run("cancelled context stops waiting", func(t *testing.T) {
		flaky := &flakyReconciler{n: 10, err: transient, next: engine}
		p := newPipeline(t, s, flaky, DefaultDriverConfig())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		res := p.driver.Ingest(ctx, scenario(t)[1])
		if res.Kind != FailureStoreCommunication || res.Attempts != 1 {
			t.Errorf("Kind = %q, Attempts = %d, want store_communication after 1", res.Kind, res.Attempts)
		}
	})
}

func TestBackoffIsCapped(t *testing.T) {
	d := &Driver{cfg: DriverConfig{InitialBackoff: 200 * time.Millisecond, MaxBackoff: time.Second}}
	want := []time.Duration{200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second, time.Second}
	for i, w := range want {
		if got := d.backoff(i + 1); got != w {
			t.Errorf("backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}

type recordingArchiver struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (a *recordingArchiver) Archive(ctx context.Context, raw []byte, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.names = append(a.names, name)
	return a.err
}

func TestIngest_ArchiveIsIndependent(t *testing.T) {
	t.Run("archive failure does not fail reconciliation", func(t *testing.T) {
		arch := &recordingArchiver{err: errors.New("disk full")}
		cfg := DefaultDriverConfig()
		cfg.Archiver = arch
		p := newPipeline(t, store.NewMemoryStore(), nil, cfg)

		res := p.driver.Ingest(context.Background(), scenario(t)[1])
		if !res.OK() {
			t.Fatalf("Ingest() error = %v", res.Err)
		}
		if res.Archived || res.ArchiveErr == nil {
			t.Errorf("Archived = %v, ArchiveErr = %v, want a failed archive", res.Archived, res.ArchiveErr)
		}
		if !slices.Equal(arch.names, []string{"PolicyBot"}) {
			t.Errorf("archived names = %v, want [PolicyBot]", arch.names)
		}
	})

	t.Run("reconciliation failure still archives", func(t *testing.T) {
		arch := &recordingArchiver{}
		cfg := DefaultDriverConfig()
		cfg.Archiver = arch
		p := newPipeline(t, store.NewMemoryStore(), nil, cfg)

		res := p.driver.Ingest(context.Background(), []byte(`{"payload":{"id":"x"}}`))
		if res.OK() {
			t.Fatal("Ingest() succeeded, want failure")
		}
		if !res.Archived {
			t.Errorf("Archived = false, ArchiveErr = %v", res.ArchiveErr)
		}
		if !slices.Equal(arch.names, []string{"unknown"}) {
			t.Errorf("archived names = %v, want [unknown]", arch.names)
		}
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want FailureKind
	}{
		{nil, ""},
		{fmt.Errorf("resolve: %w", keys.ErrMissingConversationKey), FailureMissingField},
		{fmt.Errorf("insert: %w", store.Unavailable(errors.New("timeout"))), FailureStoreCommunication},
		{errors.New("boom"), FailureUnknown},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
