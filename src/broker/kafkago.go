package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/segmentio/kafka-go"

	"interaction-ingest/src/logger"
)

// KafkaGoBroker implements Broker with segmentio/kafka-go. Offsets are
// committed explicitly after a message is handed to the consumer channel.
type KafkaGoBroker struct {
	brokers []string
	opts    Options
	logger  logger.Logger
	writer  *kafka.Writer

	mu      sync.Mutex
	readers []*kafka.Reader
	closed  bool
}

// NewKafkaGoBroker creates a broker for the given bootstrap addresses.
func NewKafkaGoBroker(brokers []string, opts Options, log logger.Logger) (*KafkaGoBroker, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker address is required")
	}
	return &KafkaGoBroker{
		brokers: brokers,
		opts:    opts,
		logger:  log,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
	}, nil
}

// Publish writes one message synchronously.
func (b *KafkaGoBroker) Publish(ctx context.Context, topic string, key string, value []byte) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return fmt.Errorf("broker is closed")
	}

	if err := b.writer.WriteMessages(ctx, kafka.Message{Topic: topic, Key: []byte(key), Value: value}); err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}
	return nil
}

// Subscribe starts a group reader. A regex topic is resolved to the matching
// topics that exist at subscription time.
func (b *KafkaGoBroker) Subscribe(ctx context.Context, topic string, groupID string) (<-chan Message, error) {
	topics := []string{topic}
	if IsPattern(topic) {
		var err error
		if topics, err = b.matchingTopics(ctx, topic); err != nil {
			return nil, err
		}
		if len(topics) == 0 {
			return nil, fmt.Errorf("no topics match %s", topic)
		}
	}

	start := kafka.LastOffset
	if b.opts.FromStart {
		start = kafka.FirstOffset
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     b.brokers,
		GroupID:     groupID,
		GroupTopics: topics,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: start,
	})

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		reader.Close()
		return nil, fmt.Errorf("broker is closed")
	}
	b.readers = append(b.readers, reader)
	b.mu.Unlock()

	msgChan := make(chan Message, 100)
	go b.readLoop(ctx, reader, msgChan)
	return msgChan, nil
}

func (b *KafkaGoBroker) readLoop(ctx context.Context, r *kafka.Reader, msgChan chan<- Message) {
	defer close(msgChan)
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			b.logger.Warn("[KafkaGoBroker] Read error: %v", err)
			continue
		}

		select {
		case msgChan <- b.fromKafka(m):
		case <-ctx.Done():
			return
		}
		if err := r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			b.logger.Warn("[KafkaGoBroker] Commit failed for %s/%d@%d: %v", m.Topic, m.Partition, m.Offset, err)
		}
	}
}

func (b *KafkaGoBroker) fromKafka(m kafka.Message) Message {
	var headers map[string]string
	if len(m.Headers) > 0 {
		headers = make(map[string]string, len(m.Headers))
		for _, h := range m.Headers {
			headers[h.Key] = string(h.Value)
		}
	}
	return Message{
		Topic:     busTopic(m.Topic, headers, b.opts.TopicHeader),
		Key:       string(m.Key),
		Value:     m.Value,
		Headers:   headers,
		Offset:    m.Offset,
		Partition: int32(m.Partition),
		Timestamp: m.Time.UnixMilli(),
	}
}

// matchingTopics lists cluster topics matching a regex subscription.
func (b *KafkaGoBroker) matchingTopics(ctx context.Context, pattern string) ([]string, error) {
	match, err := compileTopic(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid topic pattern %q: %w", pattern, err)
	}
	conn, err := kafka.DialContext(ctx, "tcp", b.brokers[0])
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", b.brokers[0], err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	seen := make(map[string]bool)
	var topics []string
	for _, p := range partitions {
		if !seen[p.Topic] && match(p.Topic) {
			seen[p.Topic] = true
			topics = append(topics, p.Topic)
		}
	}
	return topics, nil
}

// Close stops all readers and flushes the writer.
func (b *KafkaGoBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	for _, r := range b.readers {
		errs = append(errs, r.Close())
	}
	b.readers = nil
	errs = append(errs, b.writer.Close())
	return errors.Join(errs...)
}
