package main

import (
	"github.com/spf13/cobra"

	"interaction-ingest/src/mcp"
	"interaction-ingest/src/pipeline"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve reconciled interactions over MCP (stdio)",
	Long: `Runs a Model Context Protocol server on stdin/stdout with the tools
list_interactions, get_interaction, get_task_flow and get_tool_call.

Logs go to stderr. Point IXINGEST_STORE_* at the store the listener writes to.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		p, err := pipeline.New(ctx, appConfig, log)
		if err != nil {
			return err
		}
		defer p.Close()

		log.Info("[MCP] Serving %s store over stdio", appConfig.Store.Driver)
		return mcp.NewServer(p.Query, version).Run()
	},
}
