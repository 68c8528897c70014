package normalize

import (
	"encoding/json"
	"strings"

	"github.com/buger/jsonparser"

	"interaction-ingest/src/contracts"
)

// profileMarkers locate an embedded profile object in free text, in order.
var profileMarkers = []string{`"user_info"`, `"id"`}

// metadataProfile reads user_properties.a2aUserConfig.user_profile from the
// envelope metadata. Transports that flatten properties to strings deliver
// a2aUserConfig as encoded JSON, which is decoded first.
func metadataProfile(metadata []byte) json.RawMessage {
	cfg, t, _, err := jsonparser.Get(metadata, "user_properties", "a2aUserConfig")
	if err != nil {
		return nil
	}
	if t == jsonparser.String {
		s, err := jsonparser.ParseString(cfg)
		if err != nil || !json.Valid([]byte(s)) {
			return nil
		}
		cfg = []byte(s)
	}
	p := objectAt(cfg, "user_profile")
	if isEmptyObject(p) {
		return nil
	}
	return copyRaw(p)
}

// instructionProfile searches model system instructions for an embedded
// profile object.
func instructionProfile(instructions []string) json.RawMessage {
	for _, si := range instructions {
		if !strings.Contains(si, `"user_info"`) && !strings.Contains(si, "User Profile") {
			continue
		}
		if obj := EmbeddedObject(si, profileMarkers...); obj != nil {
			return obj
		}
	}
	return nil
}

// EmbeddedObject finds the first marker in text and returns the JSON object
// that encloses it, located by matching braces. It returns nil when no marker
// is found or the span does not parse.
func EmbeddedObject(text string, markers ...string) json.RawMessage {
	at := -1
	for _, m := range markers {
		if at = strings.Index(text, m); at >= 0 {
			break
		}
	}
	if at < 0 {
		return nil
	}
	start := strings.LastIndexByte(text[:at], '{')
	if start < 0 {
		return nil
	}
	end := matchBrace(text, start)
	if end < 0 {
		return nil
	}
	span := []byte(text[start : end+1])
	if !json.Valid(span) {
		return nil
	}
	return span
}

// matchBrace returns the index of the brace closing the one at start,
// skipping braces inside string literals.
func matchBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// identityFields lists, per identity column, the keys tried on user_info and
// then on the profile itself.
var identityFields = []struct {
	set  func(u *contracts.UserIdentity, v string)
	keys []string
}{
	{func(u *contracts.UserIdentity, v string) { u.ID = v }, []string{"id"}},
	{func(u *contracts.UserIdentity, v string) { u.Email = v }, []string{"email", "workEmail"}},
	{func(u *contracts.UserIdentity, v string) { u.Name = v }, []string{"name", "displayName"}},
	{func(u *contracts.UserIdentity, v string) { u.Country = v }, []string{"country"}},
	{func(u *contracts.UserIdentity, v string) { u.Company = v }, []string{"company"}},
	{func(u *contracts.UserIdentity, v string) { u.Language = v }, []string{"nativePreferredLanguage"}},
}

// Identity lifts the core user columns out of a profile snapshot.
func Identity(profile json.RawMessage) contracts.UserIdentity {
	var u contracts.UserIdentity
	if len(profile) == 0 {
		return u
	}
	sources := [][]byte{profile}
	if info := objectAt(profile, "user_info"); info != nil {
		sources = [][]byte{info, profile}
	}
	for _, f := range identityFields {
	field:
		for _, src := range sources {
			for _, k := range f.keys {
				if v := stringAt(src, k); v != "" {
					f.set(&u, v)
					break field
				}
			}
		}
	}
	return u
}

func isEmptyObject(obj []byte) bool {
	if obj == nil {
		return true
	}
	empty := true
	_ = jsonparser.ObjectEach(obj, func(_ []byte, _ []byte, _ jsonparser.ValueType, _ int) error {
		empty = false
		return nil
	})
	return empty
}

func copyRaw(b []byte) json.RawMessage {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
