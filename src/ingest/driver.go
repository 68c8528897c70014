// Package ingest drives raw bus envelopes through normalization, key
// resolution and reconciliation, and runs the live bus listener.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"interaction-ingest/src/keys"
	"interaction-ingest/src/logger"
	"interaction-ingest/src/normalize"
	"interaction-ingest/src/reconcile"
	"interaction-ingest/src/sanitize"
	"interaction-ingest/src/store"
)

// FailureKind classifies a failed event.
type FailureKind string

const (
	FailureMissingField       FailureKind = "missing_required_field"
	FailureStoreCommunication FailureKind = "store_communication"
	FailureUnknown            FailureKind = "unknown"
)

// ErrPanic wraps a panic recovered while processing an event.
var ErrPanic = errors.New("panic during processing")

// Result is the outcome of one ingested event. Err is nil on success.
type Result struct {
	Outcome  reconcile.Outcome
	EventID  string
	Kind     FailureKind
	Err      error
	Attempts int

	Archived    bool
	ArchiveErr  error
	SchemaDrift error
}

// OK reports whether the event was reconciled.
func (r Result) OK() bool { return r.Err == nil }

// Reconciler applies a normalized record to the aggregates.
type Reconciler interface {
	Reconcile(ctx context.Context, rec *normalize.Record, k keys.Keys) (reconcile.Outcome, error)
}

// Archiver stores the raw envelope. name is a suggested file label.
type Archiver interface {
	Archive(ctx context.Context, raw []byte, name string) error
}

// DriverConfig tunes retries and the optional side channels.
type DriverConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Archiver receives every envelope in parallel with reconciliation. Optional.
	Archiver Archiver
	// Schema reports envelope drift. Optional.
	Schema *SchemaChecker
}

func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		MaxAttempts:    4,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

// Driver processes one envelope per Ingest call and is safe for concurrent use.
type Driver struct {
	normalizer *normalize.Normalizer
	resolver   *keys.Resolver
	reconciler Reconciler
	lookup     keys.InteractionLookup
	cfg        DriverConfig
	logger     logger.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewDriver wires the pipeline stages. lookup backs interaction linkage for
// records without a parent or top-level task and may be nil.
func NewDriver(n *normalize.Normalizer, r *keys.Resolver, rec Reconciler, lookup keys.InteractionLookup, cfg DriverConfig, log logger.Logger) *Driver {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Driver{
		normalizer: n,
		resolver:   r,
		reconciler: rec,
		lookup:     lookup,
		cfg:        cfg,
		logger:     log,
		sleep:      sleepCtx,
	}
}

// Ingest processes one raw envelope. It never panics on input and never
// returns an error: failures are reported in the Result.
//
// Reconciliation is detached from ctx cancellation so an event that started
// is applied completely; ctx only interrupts the wait between retries.
func (d *Driver) Ingest(ctx context.Context, raw []byte) Result {
	var res Result
	if d.cfg.Schema != nil {
		res.SchemaDrift = d.cfg.Schema.Check(raw)
	}

	rec := d.normalizer.Normalize(raw)
	res.EventID = rec.EventID

	var wg sync.WaitGroup
	if d.cfg.Archiver != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res.ArchiveErr = d.cfg.Archiver.Archive(context.WithoutCancel(ctx), raw, archiveLabel(rec))
			res.Archived = res.ArchiveErr == nil
		}()
	}

	outcome, attempts, err := d.reconcileWithRetry(ctx, rec)
	wg.Wait()

	res.Outcome = outcome
	res.Attempts = attempts
	if err != nil {
		res.Err = err
		res.Kind = Classify(err)
		d.logger.Error("[Driver] Event %s failed (%s) after %d attempt(s): conversation=%s interaction=%s: %v",
			sanitize.TruncateKey(rec.EventID), res.Kind, attempts,
			sanitize.TruncateKey(rec.ConversationKey), sanitize.TruncateKey(outcome.InteractionKey), err)
	}
	if res.ArchiveErr != nil {
		d.logger.Warn("[Driver] Archive of event %s failed: %v", sanitize.TruncateKey(rec.EventID), res.ArchiveErr)
	}
	if res.SchemaDrift != nil {
		d.logger.Debug("[Driver] Event %s: %v", sanitize.TruncateKey(rec.EventID), res.SchemaDrift)
	}
	return res
}

func (d *Driver) reconcileWithRetry(ctx context.Context, rec *normalize.Record) (reconcile.Outcome, int, error) {
	work := context.WithoutCancel(ctx)
	var (
		out reconcile.Outcome
		err error
	)
	for attempt := 1; ; attempt++ {
		var next reconcile.Outcome
		next, err = d.process(work, rec)
		// A failed attempt may already have created rows; the retry then
		// finds them present but the event still created them.
		next.MessageIsNew = next.MessageIsNew || out.MessageIsNew
		next.InteractionCreated = next.InteractionCreated || out.InteractionCreated
		out = next
		if err == nil || !store.IsTransient(err) || attempt >= d.cfg.MaxAttempts {
			return out, attempt, err
		}
		delay := d.backoff(attempt)
		d.logger.Warn("[Driver] Transient store failure for event %s (attempt %d/%d), retrying in %s: %v",
			sanitize.TruncateKey(rec.EventID), attempt, d.cfg.MaxAttempts, delay, err)
		if serr := d.sleep(ctx, delay); serr != nil {
			return out, attempt, err
		}
	}
}

// process resolves and reconciles one record. A panic in either step is
// reported as an error so the listener keeps running.
func (d *Driver) process(ctx context.Context, rec *normalize.Record) (out reconcile.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("[Driver] Panic while processing event %s: %v\n%s", sanitize.TruncateKey(rec.EventID), r, debug.Stack())
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	k, err := d.resolver.Resolve(ctx, rec, d.lookup)
	if err != nil {
		return reconcile.Outcome{ConversationKey: rec.ConversationKey, TaskKey: rec.EventID}, err
	}
	return d.reconciler.Reconcile(ctx, rec, k)
}

// backoff doubles from InitialBackoff and is capped at MaxBackoff.
func (d *Driver) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(d.cfg.InitialBackoff) * math.Pow(2, float64(attempt-1)))
	if d.cfg.MaxBackoff > 0 && delay > d.cfg.MaxBackoff {
		delay = d.cfg.MaxBackoff
	}
	return delay
}

// Classify maps a pipeline error to its failure kind.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, keys.ErrMissingConversationKey):
		return FailureMissingField
	case store.IsTransient(err):
		return FailureStoreCommunication
	default:
		return FailureUnknown
	}
}

func archiveLabel(rec *normalize.Record) string {
	switch {
	case rec.AgentName != "":
		return rec.AgentName
	case rec.SourceAgentID != "":
		return rec.SourceAgentID
	default:
		return "unknown"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
