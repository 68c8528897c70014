package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"interaction-ingest/src/archive"
	"interaction-ingest/src/pipeline"
)

var (
	replaySamples int
	watchExisting bool
	watchSettle   time.Duration
)

var replayCmd = &cobra.Command{
	Use:   "replay <dir>",
	Short: "Ingest every archived envelope in a directory",
	Long: `Ingests every *.json file under <dir>, recursively and sorted by name,
through the same driver as the live listener.

Failures are collected into the report instead of stopping the batch. The
command exits non-zero when any file failed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		p, err := pipeline.New(ctx, appConfig, log)
		if err != nil {
			return err
		}
		defer p.Close()
		warnLocal()

		report, err := p.Replayer(replaySamples).Replay(ctx, args[0])
		printReport(os.Stdout, report)
		if err != nil {
			return err
		}
		return failuresError(report)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Ingest envelopes as they are written to a directory",
	Long: `Watches <dir> and its subdirectories and ingests each *.json file once it
has stopped changing. Runs until interrupted, then prints the report.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		p, err := pipeline.New(ctx, appConfig, log)
		if err != nil {
			return err
		}
		defer p.Close()
		warnLocal()

		w := archive.NewWatcher(p.Replayer(replaySamples), watchSettle, log)
		w.IncludeExisting = watchExisting
		report, err := w.Watch(ctx, args[0])
		printReport(os.Stdout, report)
		return err
	},
}

func failuresError(r archive.Report) error {
	if r.Failed == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d files failed", r.Failed, r.Total)
}

func warnLocal() {
	if pipeline.DetectMode(appConfig) == pipeline.LocalMode {
		log.Warn("Store driver is memory; results are discarded on exit. Set IXINGEST_STORE_DRIVER to persist them.")
	}
}

func init() {
	for _, c := range []*cobra.Command{replayCmd, watchCmd} {
		c.Flags().IntVar(&replaySamples, "samples", archive.DefaultMaxSamples, "number of failures to list in the report")
	}
	watchCmd.Flags().BoolVar(&watchExisting, "existing", false, "also ingest files already in the directory")
	watchCmd.Flags().DurationVar(&watchSettle, "settle", archive.DefaultSettle, "time a file must stay unchanged before it is ingested")
}
