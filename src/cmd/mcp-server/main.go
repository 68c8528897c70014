// Package main provides the standalone MCP server. It exposes reconciled
// interactions to MCP clients over stdio; `ixingest mcp` does the same.
package main

import (
	"context"
	"fmt"
	"os"

	"interaction-ingest/src/config"
	"interaction-ingest/src/logger"
	"interaction-ingest/src/mcp"
	"interaction-ingest/src/pipeline"
)

var version = "dev"

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	// stdout carries the protocol
	log := logger.NewStderrLogger(cfg.Level())

	p, err := pipeline.New(context.Background(), cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer p.Close()

	if err := mcp.NewServer(p.Query, version).Run(); err != nil {
		log.Error("MCP server error: %v", err)
		p.Close()
		os.Exit(1)
	}
}
