package broker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// InMemoryBroker is a channel-based Broker for tests and local runs.
// Every subscription receives every matching message published after it subscribed.
type InMemoryBroker struct {
	mu     sync.RWMutex
	subs   []*subscription
	offset int64
	closed bool
}

type subscription struct {
	match func(string) bool
	ch    chan Message
	done  chan struct{}
	once  sync.Once
}

func (s *subscription) close() {
	s.once.Do(func() {
		close(s.done)
	})
}

// NewInMemoryBroker creates a new InMemoryBroker instance.
func NewInMemoryBroker() *InMemoryBroker {
	return &InMemoryBroker{}
}

// Publish delivers value to all subscribers of topic.
func (b *InMemoryBroker) Publish(ctx context.Context, topic string, key string, value []byte) error {
	return b.PublishMessage(ctx, Message{Topic: topic, Key: key, Value: value})
}

// PublishMessage delivers msg, headers included, to all subscribers of msg.Topic.
// It blocks while a subscriber's buffer is full.
func (b *InMemoryBroker) PublishMessage(ctx context.Context, msg Message) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("broker is closed")
	}
	b.offset++
	msg.Offset = b.offset
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	subs := make([]*subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		if !s.match(msg.Topic) {
			continue
		}
		select {
		case s.ch <- msg:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe registers a subscription. groupID is ignored.
func (b *InMemoryBroker) Subscribe(ctx context.Context, topic string, groupID string) (<-chan Message, error) {
	match, err := compileTopic(topic)
	if err != nil {
		return nil, fmt.Errorf("invalid topic pattern %q: %w", topic, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("broker is closed")
	}

	s := &subscription{match: match, ch: make(chan Message, 100), done: make(chan struct{})}
	b.subs = append(b.subs, s)

	out := make(chan Message, 100)
	go func() {
		defer close(out)
		defer s.close()
		for {
			select {
			case msg := <-s.ch:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				case <-s.done:
					return
				}
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		}
	}()
	return out, nil
}

// Close ends all subscriptions.
func (b *InMemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, s := range b.subs {
		s.close()
	}
	b.subs = nil
	return nil
}
