// Package broker defines the interface for message brokers and provides implementations.
package broker

import (
	"context"
	"regexp"
	"strings"
)

// Broker abstracts message publishing and consumption.
// This interface supports both in-memory and distributed (Redpanda/Kafka) implementations.
type Broker interface {
	// Publish sends a message to a topic with an optional key for partitioning.
	// For in-memory broker, key is ignored.
	// For Redpanda/Kafka, key is used for partition assignment.
	Publish(ctx context.Context, topic string, key string, value []byte) error

	// Subscribe returns a channel for consuming messages from a topic.
	// A topic starting with "^" is a regular expression matched against topic names.
	// groupID is used for consumer group coordination in Kafka.
	// For in-memory broker, groupID is ignored.
	// The channel is closed when ctx is cancelled or the broker is closed.
	Subscribe(ctx context.Context, topic string, groupID string) (<-chan Message, error)

	// Close shuts down the broker connection gracefully.
	Close() error
}

// Message represents a consumed message from a broker.
type Message struct {
	// Topic is the bus topic of the event. When the broker is configured
	// with a topic header, the header value replaces the transport topic.
	Topic     string
	Key       string
	Value     []byte
	Headers   map[string]string
	Offset    int64
	Partition int32
	// Timestamp is in Unix milliseconds.
	Timestamp int64
}

// Options configure the Kafka-compatible brokers.
type Options struct {
	// TopicHeader names a record header carrying the original bus topic.
	TopicHeader string
	// FromStart makes new consumer groups start at the oldest offset.
	FromStart bool
}

// IsPattern reports whether a subscription topic is a regular expression.
func IsPattern(topic string) bool {
	return strings.HasPrefix(topic, "^")
}

// compileTopic returns a matcher for a subscription topic.
func compileTopic(topic string) (func(string) bool, error) {
	if !IsPattern(topic) {
		return func(t string) bool { return t == topic }, nil
	}
	re, err := regexp.Compile(topic)
	if err != nil {
		return nil, err
	}
	return re.MatchString, nil
}

// busTopic picks the topic reported to consumers.
func busTopic(transportTopic string, headers map[string]string, headerName string) string {
	if headerName != "" {
		if t := headers[headerName]; t != "" {
			return t
		}
	}
	return transportTopic
}
