// Package pipeline assembles the ingest pipeline from configuration.
// The CLI, the MCP server and the end-to-end tests build it the same way.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"interaction-ingest/src/archive"
	"interaction-ingest/src/broker"
	"interaction-ingest/src/config"
	"interaction-ingest/src/ingest"
	"interaction-ingest/src/keys"
	"interaction-ingest/src/logger"
	"interaction-ingest/src/normalize"
	"interaction-ingest/src/query"
	"interaction-ingest/src/reconcile"
	"interaction-ingest/src/store"
)

// Mode describes where reconciled state lives.
type Mode int

const (
	// LocalMode keeps everything in process memory; state is lost on exit.
	LocalMode Mode = iota
	// PersistentMode writes to Postgres or SQLite.
	PersistentMode
)

func (m Mode) String() string {
	if m == LocalMode {
		return "local"
	}
	return "persistent"
}

// DetectMode returns the mode implied by the store driver.
func DetectMode(cfg *config.Config) Mode {
	if cfg.Store.Driver == "memory" {
		return LocalMode
	}
	return PersistentMode
}

// Pipeline is the assembled write and read path over one store.
type Pipeline struct {
	Store  store.Store
	Engine *reconcile.Engine
	Driver *ingest.Driver
	Query  *query.Service
	// Sink is nil unless archiving is enabled.
	Sink *archive.Sink

	cfg *config.Config
	log logger.Logger
}

// New opens the store and wires normalizer, resolver, engine and driver.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*Pipeline, error) {
	s, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	p, err := Assemble(s, cfg, log)
	if err != nil {
		s.Close()
		return nil, err
	}
	return p, nil
}

// Assemble wires the pipeline over an already open store.
func Assemble(s store.Store, cfg *config.Config, log logger.Logger) (*Pipeline, error) {
	conv := cfg.TaskConventions()
	engine := reconcile.NewEngine(s, cfg.ReconcileConfig(), log)

	dcfg := cfg.DriverConfig()
	var sink *archive.Sink
	if cfg.Ingest.Archive {
		var err error
		if sink, err = archive.NewSink(cfg.Ingest.ArchiveDir); err != nil {
			return nil, err
		}
		dcfg.Archiver = sink
		log.Info("[Pipeline] Archiving envelopes to %s", sink.Dir())
	}
	if cfg.Ingest.SchemaCheck {
		checker, err := ingest.NewSchemaChecker()
		if err != nil {
			return nil, err
		}
		dcfg.Schema = checker
	}

	driver := ingest.NewDriver(normalize.New(conv), keys.NewResolver(conv), engine, s.FindMostRecentInteraction, dcfg, log)
	return &Pipeline{
		Store:  s,
		Engine: engine,
		Driver: driver,
		Query:  query.NewService(s, conv),
		Sink:   sink,
		cfg:    cfg,
		log:    log,
	}, nil
}

// OpenStore opens the configured backend.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	var (
		s   store.Store
		err error
	)
	switch cfg.Driver {
	case "memory":
		s = store.NewMemoryStore()
	case "postgres":
		s, err = store.NewPostgresStore(ctx, cfg.DSN)
	case "sqlite":
		s, err = store.NewSQLiteStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Driver, err)
	}
	if cfg.NonAtomicStats {
		s = store.WithoutAtomicCounters(s)
	}
	return s, nil
}

// OpenBroker connects the configured bus client.
func OpenBroker(cfg config.BrokerConfig, log logger.Logger) (broker.Broker, error) {
	opts := broker.Options{TopicHeader: cfg.TopicHeader, FromStart: cfg.FromStart}
	switch cfg.Client {
	case "franz":
		b, err := broker.NewRedpandaBroker(cfg.Brokers, opts, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create franz-go broker: %w", err)
		}
		return b, nil
	case "kafka-go":
		b, err := broker.NewKafkaGoBroker(cfg.Brokers, opts, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka-go broker: %w", err)
		}
		return b, nil
	case "memory":
		return broker.NewInMemoryBroker(), nil
	}
	return nil, fmt.Errorf("unknown broker client %q", cfg.Client)
}

// Agent builds a listener over brk. onResult may be nil.
func (p *Pipeline) Agent(brk broker.Broker, stats *ingest.Stats, onResult func(topic string, r ingest.Result)) *ingest.Agent {
	return ingest.NewAgent(brk, p.Driver, ingest.AgentConfig{
		Topic:        p.cfg.Broker.Topic,
		GroupID:      p.cfg.Broker.GroupID,
		Workers:      p.cfg.Ingest.Workers,
		DrainTimeout: p.cfg.Ingest.DrainTimeout,
		Filter:       ingest.NewTopicFilter(p.cfg.Broker.FilterTopics),
		OnResult:     onResult,
	}, stats, p.log)
}

// Replayer ingests archived envelopes through this pipeline's driver.
func (p *Pipeline) Replayer(maxSamples int) *archive.Replayer {
	return archive.NewReplayer(p.Driver, maxSamples, p.log)
}

func (p *Pipeline) Backfiller() *reconcile.Backfiller {
	return reconcile.NewBackfiller(p.Store, p.log)
}

func (p *Pipeline) Close() error {
	return p.Store.Close()
}

// Listen runs a listener until ctx is cancelled and closes the broker after
// the agent has drained.
func Listen(ctx context.Context, p *Pipeline, brk broker.Broker, stats *ingest.Stats, onResult func(string, ingest.Result)) error {
	err := p.Agent(brk, stats, onResult).Run(ctx)
	if cerr := brk.Close(); cerr != nil {
		p.log.Warn("[Pipeline] Failed to close broker: %v", cerr)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
