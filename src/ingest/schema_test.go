package ingest

import (
	"encoding/json"
	"testing"

	"interaction-ingest/src/store"
)

func TestSchemaChecker(t *testing.T) {
	c, err := NewSchemaChecker()
	if err != nil {
		t.Fatalf("NewSchemaChecker() error = %v", err)
	}

	for i, raw := range scenario(t) {
		if err := c.Check(raw); err != nil {
			t.Errorf("Check(E%d) error = %v", i+1, err)
		}
	}

	tests := []struct {
		name  string
		raw   string
		drift bool
	}{
		{"bare rpc payload", `{"jsonrpc":"2.0","id":"gdk-task-1","result":{"kind":"task"}}`, false},
		{"payload without params or result", `{"metadata":{"topic":"a"},"payload":{"jsonrpc":"2.0","id":"x"}}`, true},
		{"topic is not a string", `{"metadata":{"topic":7},"payload":{"result":{}}}`, true},
		{"params is an array", `{"payload":{"params":[1,2]}}`, true},
		{"not json", `not json`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Check([]byte(tt.raw))
			if (err != nil) != tt.drift {
				t.Errorf("Check() error = %v, want drift %v", err, tt.drift)
			}
		})
	}
}

func TestIngest_SchemaDriftIsReportedNotEnforced(t *testing.T) {
	c, err := NewSchemaChecker()
	if err != nil {
		t.Fatalf("NewSchemaChecker() error = %v", err)
	}
	cfg := DefaultDriverConfig()
	cfg.Schema = c
	p := newPipeline(t, store.NewMemoryStore(), nil, cfg)

	payload, err := json.Marshal(userSend("gdk-task-9", "m-9", "hi"))
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	raw := []byte(`{"metadata":{"topic":"a","message_number":"seven"},"payload":` + string(payload) + `}`)

	res := p.driver.Ingest(t.Context(), raw)
	if res.SchemaDrift == nil {
		t.Error("SchemaDrift = nil, want drift")
	}
	if !res.OK() || !res.Outcome.MessageIsNew {
		t.Errorf("Ingest() = %+v, want a new stored message", res)
	}
}
