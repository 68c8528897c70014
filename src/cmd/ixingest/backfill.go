package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"interaction-ingest/src/pipeline"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill <conversation-key>...",
	Short: "Recompute interaction counters from stored messages",
	Long: `Recomputes the totals of every interaction in each conversation (messages,
tool calls, subtasks, tokens, delegated agents, query and response) from the
stored messages and tasks. Use it after partial failures left counters behind.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		p, err := pipeline.New(ctx, appConfig, log)
		if err != nil {
			return err
		}
		defer p.Close()

		b := p.Backfiller()
		failed := 0
		for _, key := range args {
			report, err := b.Backfill(ctx, key)
			if err != nil {
				log.Error("[Backfill] %s: %v", key, err)
				failed++
				continue
			}
			printBackfill(os.Stdout, report)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d conversations failed", failed, len(args))
		}
		return nil
	},
}
