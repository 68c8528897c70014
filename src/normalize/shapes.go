package normalize

import (
	"interaction-ingest/src/contracts"
)

// shapeStrategy recognizes one producer message format and fills the
// shape-specific parts of a record. Strategies are tried in order.
type shapeStrategy struct {
	shape Shape
	match func(d *document) bool
	apply func(d *document, rec *Record)
}

var defaultShapes = []shapeStrategy{
	{shape: ShapeSend, match: hasSendMessage, apply: applySend},
	{shape: ShapeTaskResult, match: resultKindIs("task"), apply: applyTaskResult},
	{shape: ShapeStatusUpdate, match: isStatusUpdate, apply: applyStatusUpdate},
}

func hasSendMessage(d *document) bool {
	return objectAt(d.payload, "params", "message") != nil
}

func resultKindIs(kind string) func(d *document) bool {
	return func(d *document) bool {
		return stringAt(d.payload, "result", "kind") == kind
	}
}

func isStatusUpdate(d *document) bool {
	if stringAt(d.payload, "result", "kind") == "status-update" {
		return true
	}
	return objectAt(d.payload, "result", "status") != nil
}

func applySend(d *document, rec *Record) {
	d.message = objectAt(d.payload, "params", "message")
	d.parts = arrayAt(d.message, "parts")
	rec.Role = mapRole(stringAt(d.message, "role"), contracts.RoleSystem)
	rec.TaskState = contracts.TaskWorking
}

func applyStatusUpdate(d *document, rec *Record) {
	d.message = objectAt(d.payload, "result", "status", "message")
	d.parts = arrayAt(d.message, "parts")
	rec.Role = mapRole(stringAt(d.message, "role"), contracts.RoleAgent)
	rec.TaskState = mapState(stringAt(d.payload, "result", "status", "state"), contracts.TaskWorking)
	rec.Final = boolAt(d.payload, "result", "final")
}

func applyTaskResult(d *document, rec *Record) {
	d.message = objectAt(d.payload, "result", "status", "message")
	d.parts = arrayAt(d.message, "parts")
	rec.Role = mapRole(stringAt(d.message, "role"), contracts.RoleAgent)
	rec.TaskState = mapState(stringAt(d.payload, "result", "status", "state"), contracts.TaskCompleted)
	rec.Final = boolAt(d.payload, "result", "final")
	rec.TaskTokenUsage = taskTokenUsage(d.payload)
	if a := rawAt(d.payload, "result", "metadata", "produced_artifacts"); a != nil {
		rec.Artifacts = a
	} else {
		rec.Artifacts = rawAt(d.payload, "result", "artifacts")
	}
}

var roles = map[string]contracts.Role{
	"user":  contracts.RoleUser,
	"agent": contracts.RoleAgent,
}

func mapRole(s string, def contracts.Role) contracts.Role {
	if s == "" {
		return def
	}
	if r, ok := roles[s]; ok {
		return r
	}
	return contracts.RoleSystem
}

// taskStates is matched case-sensitively.
var taskStates = map[string]contracts.TaskState{
	"working":   contracts.TaskWorking,
	"completed": contracts.TaskCompleted,
	"done":      contracts.TaskCompleted,
	"failed":    contracts.TaskFailed,
	"error":     contracts.TaskFailed,
}

// mapState maps a producer state. def applies only when the state is absent.
func mapState(s string, def contracts.TaskState) contracts.TaskState {
	if s == "" {
		return def
	}
	if st, ok := taskStates[s]; ok {
		return st
	}
	return contracts.TaskWorking
}
