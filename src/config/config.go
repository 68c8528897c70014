// Package config loads the ixingest configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"interaction-ingest/src/contracts"
	"interaction-ingest/src/ingest"
	"interaction-ingest/src/logger"
	"interaction-ingest/src/reconcile"
)

// Prefix is the environment variable prefix of every setting.
const Prefix = "IXINGEST"

// Config holds the application configuration.
type Config struct {
	Broker      BrokerConfig
	Store       StoreConfig
	Ingest      IngestConfig
	Conventions ConventionsConfig
	Log         LogConfig
}

// BrokerConfig selects and tunes the bus client.
type BrokerConfig struct {
	// Client is franz, kafka-go or memory.
	Client  string   `envconfig:"CLIENT" default:"franz"`
	Brokers []string `envconfig:"BROKERS" default:"localhost:9092"`
	// Topic to consume. Wildcards "*" and a trailing ">" are allowed.
	Topic   string `envconfig:"TOPIC" default:"ns/a2a/v1/>"`
	GroupID string `envconfig:"GROUP_ID" default:"ixingest"`
	// TopicHeader names a record header carrying the hierarchical topic
	// when it differs from the transport topic.
	TopicHeader  string   `envconfig:"TOPIC_HEADER"`
	FilterTopics []string `envconfig:"FILTER_TOPICS"`
	FromStart    bool     `envconfig:"FROM_START"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is memory, postgres or sqlite.
	Driver string `envconfig:"DRIVER" default:"memory"`
	// DSN is the Postgres connection string or the SQLite file path.
	DSN   string `envconfig:"DSN"`
	Shape string `envconfig:"SHAPE" default:"normalized"`
	// NonAtomicStats forces the read-modify-write counter path.
	NonAtomicStats bool `envconfig:"NON_ATOMIC_STATS"`
}

// IngestConfig tunes the worker pool, retries and archival.
type IngestConfig struct {
	Workers               int           `envconfig:"WORKERS" default:"8"`
	MaxAttempts           int           `envconfig:"MAX_ATTEMPTS" default:"4"`
	InitialBackoff        time.Duration `envconfig:"INITIAL_BACKOFF" default:"200ms"`
	MaxBackoff            time.Duration `envconfig:"MAX_BACKOFF" default:"5s"`
	DrainTimeout          time.Duration `envconfig:"DRAIN_TIMEOUT" default:"30s"`
	ConversationCacheSize int           `envconfig:"CONVERSATION_CACHE_SIZE" default:"10000"`
	AgentCacheSize        int           `envconfig:"AGENT_CACHE_SIZE" default:"10000"`
	Archive               bool          `envconfig:"ARCHIVE"`
	ArchiveDir            string        `envconfig:"ARCHIVE_DIR" default:"messages"`
	SchemaCheck           bool          `envconfig:"SCHEMA_CHECK" default:"true"`
}

// ConventionsConfig overrides the task naming rules.
type ConventionsConfig struct {
	TopLevelPrefix string   `envconfig:"TOP_LEVEL_PREFIX" default:"gdk-task-"`
	SubtaskPrefix  string   `envconfig:"SUBTASK_PREFIX" default:"a2a_subtask_"`
	InfraPrefixes  []string `envconfig:"INFRA_PREFIXES" default:"gdk-"`
}

type LogConfig struct {
	Level string `envconfig:"LEVEL" default:"info"`
}

// LoadFromEnv loads env files, then reads every group from the environment
// and validates the result.
func LoadFromEnv() (*Config, error) {
	if err := LoadEnvFileCandidates(); err != nil {
		return nil, &UserError{
			Message: "Cannot read the env file",
			Hint:    fmt.Sprintf("Point %s_ENV_FILE at a readable file or unset it.", Prefix),
			Err:     err,
		}
	}

	cfg := &Config{}
	groups := []struct {
		prefix string
		spec   any
	}{
		{Prefix + "_BROKER", &cfg.Broker},
		{Prefix + "_STORE", &cfg.Store},
		{Prefix + "_INGEST", &cfg.Ingest},
		{Prefix + "_CONVENTIONS", &cfg.Conventions},
		{Prefix + "_LOG", &cfg.Log},
	}
	for _, g := range groups {
		if err := envconfig.Process(g.prefix, g.spec); err != nil {
			return nil, &UserError{
				Message: "Invalid environment configuration",
				Hint:    fmt.Sprintf("Check the %s_* variables.", g.prefix),
				Err:     err,
			}
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting as a *UserError.
func (c *Config) Validate() error {
	switch c.Broker.Client {
	case "franz", "kafka-go", "memory":
	default:
		return invalid("IXINGEST_BROKER_CLIENT", c.Broker.Client, "Use one of: franz, kafka-go, memory.")
	}
	if c.Broker.Client != "memory" && len(nonEmpty(c.Broker.Brokers)) == 0 {
		return invalid("IXINGEST_BROKER_BROKERS", "", "Set a comma-separated list of host:port seed brokers.")
	}
	if strings.TrimSpace(c.Broker.Topic) == "" {
		return invalid("IXINGEST_BROKER_TOPIC", "", "Set the topic or wildcard pattern to consume.")
	}

	switch c.Store.Driver {
	case "memory":
	case "postgres", "sqlite":
		if c.Store.DSN == "" {
			return invalid("IXINGEST_STORE_DSN", "", "The postgres and sqlite drivers need a DSN (connection string or file path).")
		}
	default:
		return invalid("IXINGEST_STORE_DRIVER", c.Store.Driver, "Use one of: memory, postgres, sqlite.")
	}
	if _, err := reconcile.ParseStorageShape(c.Store.Shape); err != nil {
		return &UserError{Message: "Invalid IXINGEST_STORE_SHAPE", Hint: "Use one of: normalized, document, hybrid.", Err: err}
	}

	if c.Ingest.Workers < 1 {
		return invalid("IXINGEST_INGEST_WORKERS", fmt.Sprint(c.Ingest.Workers), "Use at least one worker.")
	}
	if c.Ingest.MaxAttempts < 1 {
		return invalid("IXINGEST_INGEST_MAX_ATTEMPTS", fmt.Sprint(c.Ingest.MaxAttempts), "Use at least one attempt.")
	}
	if c.Ingest.MaxBackoff < c.Ingest.InitialBackoff {
		return invalid("IXINGEST_INGEST_MAX_BACKOFF", c.Ingest.MaxBackoff.String(), "MAX_BACKOFF must not be below INITIAL_BACKOFF.")
	}
	if c.Ingest.Archive && c.Ingest.ArchiveDir == "" {
		return invalid("IXINGEST_INGEST_ARCHIVE_DIR", "", "Set a directory when archiving is enabled.")
	}
	if c.Conventions.TopLevelPrefix == "" {
		return invalid("IXINGEST_CONVENTIONS_TOP_LEVEL_PREFIX", "", "Interactions are keyed by top-level tasks; the prefix cannot be empty.")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return invalid("IXINGEST_LOG_LEVEL", c.Log.Level, "Use one of: debug, info, warn, error.")
	}
	return nil
}

// TaskConventions returns the naming rules.
func (c *Config) TaskConventions() contracts.Conventions {
	return contracts.Conventions{
		TopLevelPrefix: c.Conventions.TopLevelPrefix,
		SubtaskPrefix:  c.Conventions.SubtaskPrefix,
		InfraPrefixes:  nonEmpty(c.Conventions.InfraPrefixes),
	}
}

// ReconcileConfig returns the engine settings. Call after Validate.
func (c *Config) ReconcileConfig() reconcile.Config {
	shape, _ := reconcile.ParseStorageShape(c.Store.Shape)
	return reconcile.Config{
		Shape:                 shape,
		Conventions:           c.TaskConventions(),
		ConversationCacheSize: c.Ingest.ConversationCacheSize,
		AgentCacheSize:        c.Ingest.AgentCacheSize,
	}
}

// DriverConfig returns the retry settings. Archiver and schema checker are
// wired by the caller.
func (c *Config) DriverConfig() ingest.DriverConfig {
	return ingest.DriverConfig{
		MaxAttempts:    c.Ingest.MaxAttempts,
		InitialBackoff: c.Ingest.InitialBackoff,
		MaxBackoff:     c.Ingest.MaxBackoff,
	}
}

// Level returns the parsed log level.
func (c *Config) Level() logger.Level {
	return logger.ParseLevel(c.Log.Level)
}

func invalid(name, value, hint string) error {
	msg := "Missing " + name
	if value != "" {
		msg = fmt.Sprintf("Invalid %s %q", name, value)
	}
	return &UserError{Message: msg, Hint: hint}
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
