package normalize

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/google/uuid"

	"interaction-ingest/src/contracts"
)

// messageKeySpace namespaces synthesized message keys.
var messageKeySpace = uuid.MustParse("6f3c1a9e-2b7d-5e40-9c1f-8a4d2e7b6c30")

// Normalizer converts raw envelopes into Records.
type Normalizer struct {
	conventions contracts.Conventions
	shapes      []shapeStrategy
	agentNames  []extractor
	eventIDs    []extractor
}

// New creates a Normalizer for the given naming conventions.
func New(c contracts.Conventions) *Normalizer {
	eventIDs := append([]extractor{}, eventIDChain...)
	eventIDs = append(eventIDs, func(d *document) string { return TaskFromTopic(d.topic, c) })
	return &Normalizer{
		conventions: c,
		shapes:      defaultShapes,
		agentNames:  agentNameChain(c),
		eventIDs:    eventIDs,
	}
}

// Normalize converts one envelope. It never fails: unreadable input yields an
// unknown-shape system record whose EventID is derived from the input bytes.
func (n *Normalizer) Normalize(raw []byte) (rec *Record) {
	defer func() {
		if r := recover(); r != nil {
			rec = n.fallback(raw)
		}
	}()

	d := newDocument(raw)
	rec = &Record{
		Role:        contracts.RoleSystem,
		TaskState:   contracts.TaskWorking,
		Shape:       ShapeUnknown,
		RawEnvelope: copyRaw(raw),
		Topic:       d.topic,
	}

	for _, s := range n.shapes {
		if s.match(d) {
			rec.Shape = s.shape
			s.apply(d, rec)
			break
		}
	}

	rec.Method = stringAt(d.payload, "method")
	rec.SourceAgentID = stringAt(d.metadata, "feedback_id")
	rec.MessageNumber = intAt(d.metadata, "message_number")
	rec.CorrelationID = TaskFromTopic(d.topic, n.conventions)
	if ts, ok := contracts.ParseTimestamp(stringAt(d.metadata, "timestamp")); ok {
		rec.Timestamp = ts
	}

	rec.EventID = firstNonEmpty(n.eventIDs, d)
	if rec.EventID == "" {
		rec.EventID = "evt-" + contentHash(raw)
	}
	rec.ConversationKey = firstNonEmpty(conversationChain, d)
	rec.ParentTaskKey = firstNonEmpty(parentTaskChain, d)
	rec.FunctionCallID = firstNonEmpty(functionCallChain, d)
	rec.AgentName = firstNonEmpty(n.agentNames, d)

	scan := scanParts(d.parts)
	rec.Text = strings.Join(scan.texts, " ")
	if rec.Text == "" && rec.Shape == ShapeTaskResult {
		rec.Text = artifactText(d.payload)
	}
	rec.ToolInvocations = scan.invocations
	rec.ToolResults = scan.results
	rec.TokenUsage = scan.usage
	rec.Partial = scan.partial
	if d.parts != nil {
		rec.Parts = copyRaw(d.parts)
	}

	rec.UserProfile = metadataProfile(d.metadata)
	if rec.UserProfile == nil {
		rec.UserProfile = instructionProfile(scan.instructions)
	}
	rec.User = Identity(rec.UserProfile)

	if rec.Final && rec.TaskState != contracts.TaskFailed {
		rec.TaskState = contracts.TaskCompleted
	}

	rec.MessageKey = firstNonEmpty(messageKeyChain, d)
	if rec.MessageKey == "" {
		rec.MessageKey = SynthesizeMessageKey(rec.EventID, stringAt(d.metadata, "timestamp"))
		rec.MessageKeySynthesized = true
	}
	rec.MessageType = messageType(rec)
	return rec
}

func (n *Normalizer) fallback(raw []byte) *Record {
	id := "evt-" + contentHash(raw)
	return &Record{
		EventID:               id,
		MessageKey:            SynthesizeMessageKey(id, ""),
		MessageKeySynthesized: true,
		Role:                  contracts.RoleSystem,
		TaskState:             contracts.TaskWorking,
		Shape:                 ShapeUnknown,
		MessageType:           TypeAgentMessage,
		RawEnvelope:           copyRaw(raw),
	}
}

// SynthesizeMessageKey derives a stable message key for events that carry
// none. The same event id and timestamp always yield the same key.
func SynthesizeMessageKey(eventID, timestamp string) string {
	return "syn-" + uuid.NewSHA1(messageKeySpace, []byte(eventID+"|"+timestamp)).String()
}

// artifactText joins the text parts of a task result's artifacts.
func artifactText(payload []byte) string {
	var texts []string
	eachItem(payload, func(artifact []byte, t jsonparser.ValueType) {
		if t != jsonparser.Object {
			return
		}
		texts = append(texts, scanParts(arrayAt(artifact, "parts")).texts...)
	}, "result", "artifacts")
	return strings.Join(texts, " ")
}

func contentHash(raw []byte) string {
	sum := sha1.Sum(raw)
	return hex.EncodeToString(sum[:8])
}
