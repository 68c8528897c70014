package ingest

import (
	"regexp"
	"strings"
)

// TopicFilter excludes deliveries whose topic matches any of its patterns.
// Patterns use bus wildcards on "/"-separated segments: "*" matches exactly
// one segment and a trailing ">" matches one or more remaining segments.
type TopicFilter struct {
	patterns [][]string
}

// NewTopicFilter compiles the exclusion patterns. Empty patterns are ignored.
func NewTopicFilter(patterns []string) *TopicFilter {
	f := &TopicFilter{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		f.patterns = append(f.patterns, strings.Split(p, "/"))
	}
	return f
}

// Excluded reports whether topic matches an exclusion pattern.
func (f *TopicFilter) Excluded(topic string) bool {
	if f == nil || len(f.patterns) == 0 {
		return false
	}
	segs := strings.Split(topic, "/")
	for _, p := range f.patterns {
		if matchSegments(p, segs) {
			return true
		}
	}
	return false
}

func matchSegments(pattern, topic []string) bool {
	for i, p := range pattern {
		if p == ">" && i == len(pattern)-1 {
			return len(topic) > i
		}
		if i >= len(topic) {
			return false
		}
		if p != "*" && p != topic[i] {
			return false
		}
	}
	return len(pattern) == len(topic)
}

// SubscriptionPattern translates a wildcard topic into the regular expression
// form brokers accept. Topics without wildcards are returned unchanged.
func SubscriptionPattern(topic string) string {
	segs := strings.Split(topic, "/")
	wild := false
	for i, s := range segs {
		switch {
		case s == "*":
			segs[i], wild = `[^/]+`, true
		case s == ">" && i == len(segs)-1:
			segs[i], wild = `.+`, true
		default:
			segs[i] = regexp.QuoteMeta(s)
		}
	}
	if !wild {
		return topic
	}
	return "^" + strings.Join(segs, "/") + "$"
}
