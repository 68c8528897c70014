package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"interaction-ingest/src/broker"
	"interaction-ingest/src/logger"
)

// ErrDrainTimeout is returned by Run when in-flight events did not finish
// within the drain timeout.
var ErrDrainTimeout = errors.New("drain timeout exceeded")

// AgentConfig configures the listener.
type AgentConfig struct {
	// Topic is a concrete topic or a wildcard pattern ("*" and trailing ">").
	Topic   string
	GroupID string
	Workers int
	// DrainTimeout bounds the wait for in-flight events at shutdown.
	DrainTimeout time.Duration
	Filter       *TopicFilter
	// OnResult is called from worker goroutines after every event. Optional.
	OnResult func(topic string, r Result)
}

// Agent consumes bus deliveries and feeds them to a bounded worker pool.
type Agent struct {
	broker broker.Broker
	driver *Driver
	cfg    AgentConfig
	stats  *Stats
	logger logger.Logger

	mu       sync.Mutex
	received int64
	now      func() time.Time
}

type job struct {
	topic string
	raw   []byte
}

// NewAgent creates a listener. A nil stats allocates a fresh one.
func NewAgent(brk broker.Broker, driver *Driver, cfg AgentConfig, stats *Stats, log logger.Logger) *Agent {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if stats == nil {
		stats = NewStats()
	}
	return &Agent{
		broker: brk,
		driver: driver,
		cfg:    cfg,
		stats:  stats,
		logger: log,
		now:    time.Now,
	}
}

// Stats returns the live counters.
func (a *Agent) Stats() *Stats { return a.stats }

// Run consumes until ctx is cancelled or the subscription closes, then
// drains in-flight events.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("[Listener] Starting with %d worker(s)...", a.cfg.Workers)

	topic := SubscriptionPattern(a.cfg.Topic)
	msgChan, err := a.broker.Subscribe(ctx, topic, a.cfg.GroupID)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", a.cfg.Topic, err)
	}
	a.logger.Info("[Listener] Listening on '%s' (group %s)", a.cfg.Topic, a.cfg.GroupID)

	jobs := make(chan job, a.cfg.Workers)
	var wg sync.WaitGroup
	for i := 0; i < a.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				res := a.driver.Ingest(ctx, j.raw)
				a.stats.Record(res)
				if a.cfg.OnResult != nil {
					a.cfg.OnResult(j.topic, res)
				}
			}
		}()
	}

	runErr := a.consume(ctx, msgChan, jobs)
	close(jobs)

	if err := a.drain(&wg); err != nil {
		return err
	}
	return runErr
}

func (a *Agent) consume(ctx context.Context, msgChan <-chan broker.Message, jobs chan<- job) error {
	for {
		select {
		case msg, ok := <-msgChan:
			if !ok {
				a.logger.Info("[Listener] Message channel closed, shutting down")
				return nil
			}
			a.stats.Received()
			if a.cfg.Filter.Excluded(msg.Topic) {
				a.stats.Filtered()
				a.logger.Debug("[Listener] Skipping filtered topic %s", msg.Topic)
				continue
			}

			raw, err := Wrap(msg, a.nextNumber(), a.now())
			if err != nil {
				a.logger.Error("[Listener] Failed to wrap delivery from %s: %v", msg.Topic, err)
				continue
			}

			select {
			case jobs <- job{topic: msg.Topic, raw: raw}:
			case <-ctx.Done():
				a.logger.Info("[Listener] Context cancelled, shutting down")
				return ctx.Err()
			}

		case <-ctx.Done():
			a.logger.Info("[Listener] Context cancelled, shutting down")
			return ctx.Err()
		}
	}
}

func (a *Agent) drain(wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	if a.cfg.DrainTimeout <= 0 {
		<-done
		return nil
	}
	select {
	case <-done:
		a.logger.Info("[Listener] Drained in-flight events")
		return nil
	case <-time.After(a.cfg.DrainTimeout):
		a.logger.Warn("[Listener] In-flight events still running after %s", a.cfg.DrainTimeout)
		return ErrDrainTimeout
	}
}

func (a *Agent) nextNumber() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.received++
	return a.received
}
