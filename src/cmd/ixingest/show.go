package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"interaction-ingest/src/config"
	"interaction-ingest/src/pipeline"
	"interaction-ingest/src/query"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Show a reconciled interaction, subtask or conversation",
	Long: `Prints what the store knows about <key>:

  top-level task key   the interaction flow: messages, tool calls, subtasks
  subtask key          the tool calls of that subtask
  any other key        the interactions of that conversation

Tool calls are joined by call id across messages, so a result stored before
its invocation still pairs up.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		p, err := pipeline.New(ctx, appConfig, log)
		if err != nil {
			return err
		}
		defer p.Close()

		key := args[0]
		conv := appConfig.TaskConventions()
		switch {
		case conv.IsTopLevel(key):
			flow, err := p.Query.TaskFlow(ctx, key)
			if err != nil {
				return lookupError("interaction", key, err)
			}
			if showJSON {
				return writeJSON(os.Stdout, flow)
			}
			printFlow(os.Stdout, flow)

		case conv.IsSubtask(key):
			calls, err := p.Query.ToolCalls(ctx, key)
			if err != nil {
				return lookupError("subtask", key, err)
			}
			if showJSON {
				return writeJSON(os.Stdout, calls)
			}
			printToolCalls(os.Stdout, calls)

		default:
			ins, err := p.Query.Interactions(ctx, key)
			if err != nil {
				return lookupError("conversation", key, err)
			}
			if showJSON {
				return writeJSON(os.Stdout, ins)
			}
			printInteractions(os.Stdout, ins)
		}
		return nil
	},
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "print the full result as JSON")
}

func lookupError(kind, key string, err error) error {
	if !query.IsNotFound(err) {
		return fmt.Errorf("failed to load %s %s: %w", kind, key, err)
	}
	hint := "Check the key and that the listener has processed its events."
	if pipeline.DetectMode(appConfig) == pipeline.LocalMode {
		hint = "The memory store starts empty. Set IXINGEST_STORE_DRIVER and IXINGEST_STORE_DSN to the store the listener writes to."
	}
	return &config.UserError{Message: fmt.Sprintf("No %s %q found", kind, key), Hint: hint, Err: err}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
