package normalize

import (
	"encoding/json"
	"strings"

	"github.com/buger/jsonparser"
)

// document is the parsed view of one envelope that extractors run against.
type document struct {
	raw      []byte
	payload  []byte
	metadata []byte
	topic    string

	// Set by the shape strategy: the message object and its content parts.
	message []byte
	parts   []byte
}

func newDocument(raw []byte) *document {
	d := &document{raw: raw}
	if p, t, _, err := jsonparser.Get(raw, "payload"); err == nil {
		if t == jsonparser.Object {
			d.payload = p
		}
		d.metadata = objectAt(raw, "metadata")
	} else if isBarePayload(raw) {
		d.payload = raw
	}
	d.topic = stringAt(d.metadata, "topic")
	return d
}

// isBarePayload reports whether raw is a JSON-RPC payload without an envelope.
func isBarePayload(raw []byte) bool {
	if _, t, _, err := jsonparser.Get(raw); err != nil || t != jsonparser.Object {
		return false
	}
	for _, k := range []string{"jsonrpc", "params", "result"} {
		if _, _, _, err := jsonparser.Get(raw, k); err == nil {
			return true
		}
	}
	return false
}

// extractor pulls one string out of a document; empty means not found.
type extractor func(d *document) string

// firstNonEmpty runs the chain in order and returns the first hit.
func firstNonEmpty(chain []extractor, d *document) string {
	for _, ex := range chain {
		if v := strings.TrimSpace(ex(d)); v != "" {
			return v
		}
	}
	return ""
}

func payloadField(keys ...string) extractor {
	return func(d *document) string {
		return stringAt(d.payload, keys...)
	}
}

func stringAt(data []byte, keys ...string) string {
	if len(data) == 0 {
		return ""
	}
	v, t, _, err := jsonparser.Get(data, keys...)
	if err != nil {
		return ""
	}
	switch t {
	case jsonparser.String:
		s, err := jsonparser.ParseString(v)
		if err != nil {
			return string(v)
		}
		return s
	case jsonparser.Number:
		return string(v)
	}
	return ""
}

func intAt(data []byte, keys ...string) int64 {
	if len(data) == 0 {
		return 0
	}
	v, t, _, err := jsonparser.Get(data, keys...)
	if err != nil || t != jsonparser.Number {
		return 0
	}
	if n, err := jsonparser.ParseInt(v); err == nil {
		return n
	}
	f, err := jsonparser.ParseFloat(v)
	if err != nil {
		return 0
	}
	return int64(f)
}

func boolAt(data []byte, keys ...string) bool {
	if len(data) == 0 {
		return false
	}
	b, err := jsonparser.GetBoolean(data, keys...)
	return err == nil && b
}

// objectAt returns the object at keys, or nil when absent or not an object.
func objectAt(data []byte, keys ...string) []byte {
	if len(data) == 0 {
		return nil
	}
	v, t, _, err := jsonparser.Get(data, keys...)
	if err != nil || t != jsonparser.Object {
		return nil
	}
	return v
}

// arrayAt returns the array at keys, or nil when absent or not an array.
func arrayAt(data []byte, keys ...string) []byte {
	if len(data) == 0 {
		return nil
	}
	v, t, _, err := jsonparser.Get(data, keys...)
	if err != nil || t != jsonparser.Array {
		return nil
	}
	return v
}

// rawAt returns the value at keys as standalone JSON, nil when absent.
func rawAt(data []byte, keys ...string) json.RawMessage {
	if len(data) == 0 {
		return nil
	}
	v, t, _, err := jsonparser.Get(data, keys...)
	if err != nil {
		return nil
	}
	return toRaw(v, t)
}

func toRaw(v []byte, t jsonparser.ValueType) json.RawMessage {
	switch t {
	case jsonparser.NotExist, jsonparser.Unknown:
		return nil
	case jsonparser.Null:
		return json.RawMessage("null")
	case jsonparser.String:
		s, err := jsonparser.ParseString(v)
		if err != nil {
			s = string(v)
		}
		b, _ := json.Marshal(s)
		return b
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out
}

// eachItem calls fn for every element of the array at keys. Malformed arrays stop silently.
func eachItem(data []byte, fn func(item []byte, t jsonparser.ValueType), keys ...string) {
	if len(data) == 0 {
		return
	}
	_, _ = jsonparser.ArrayEach(data, func(value []byte, t jsonparser.ValueType, _ int, err error) {
		if err != nil {
			return
		}
		fn(value, t)
	}, keys...)
}

// firstKey returns the first key of the object at keys.
func firstKey(data []byte, keys ...string) string {
	obj := objectAt(data, keys...)
	if obj == nil {
		return ""
	}
	var first string
	_ = jsonparser.ObjectEach(obj, func(k []byte, _ []byte, _ jsonparser.ValueType, _ int) error {
		if first == "" {
			first = string(k)
		}
		return nil
	})
	return first
}
