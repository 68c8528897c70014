package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"interaction-ingest/src/broker"
	"interaction-ingest/src/ingest"
	"interaction-ingest/src/pipeline"
	"interaction-ingest/src/tui"
)

var listenTUI bool

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Consume the bus and reconcile every event",
	Long: `Subscribes to IXINGEST_BROKER_TOPIC and reconciles every delivery.

Topics matching IXINGEST_BROKER_FILTER_TOPICS are skipped. With
IXINGEST_INGEST_ARCHIVE=true each envelope is also written to
IXINGEST_INGEST_ARCHIVE_DIR for later replay.

On SIGINT/SIGTERM the listener stops consuming, waits for in-flight events
up to IXINGEST_INGEST_DRAIN_TIMEOUT and prints its statistics.`,
	Args: cobra.NoArgs,
	RunE: runListen,
}

func init() {
	listenCmd.Flags().BoolVar(&listenTUI, "tui", false, "show a live dashboard instead of logs")
}

func runListen(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	p, err := pipeline.New(ctx, appConfig, log)
	if err != nil {
		return err
	}
	defer p.Close()

	brk, err := pipeline.OpenBroker(appConfig.Broker, log)
	if err != nil {
		return err
	}
	if pipeline.DetectMode(appConfig) == pipeline.LocalMode {
		log.Warn("[Listen] Store driver is memory; reconciled state is lost on exit")
	}
	if appConfig.Broker.Client == "memory" {
		log.Warn("[Listen] In-memory bus: only this process can publish to it")
	}

	stats := ingest.NewStats()
	if listenTUI {
		return runDashboard(ctx, cancel, p, brk, stats)
	}

	log.Info("[Listen] Consuming %s as group %s (%d workers, %s store)",
		appConfig.Broker.Topic, appConfig.Broker.GroupID, appConfig.Ingest.Workers, appConfig.Store.Driver)
	err = pipeline.Listen(ctx, p, brk, stats, nil)
	printStats(os.Stdout, stats.Snapshot())
	return err
}

// runDashboard runs the listener behind the dashboard. Quitting the
// dashboard stops the listener.
func runDashboard(ctx context.Context, cancel context.CancelFunc, p *pipeline.Pipeline, brk broker.Broker, stats *ingest.Stats) error {
	feed := tui.NewFeed(tui.DefaultFeedBuffer)
	listenErr := make(chan error, 1)
	go func() {
		err := pipeline.Listen(ctx, p, brk, stats, feed.Publish)
		feed.Close()
		listenErr <- err
	}()

	model := tui.NewMainModel(appConfig.Broker.Topic, feed, stats)
	_, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	cancel()
	lerr := <-listenErr

	printStats(os.Stdout, stats.Snapshot())
	if dropped := feed.Dropped(); dropped > 0 {
		fmt.Printf("%d results were not shown on the dashboard\n", dropped)
	}
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("dashboard failed: %w", err)
	}
	return lerr
}
