// Package main provides the ixingest CLI. It listens to the agent bus and
// reconciles every event into conversations, interactions and messages, and
// it replays archives, repairs counters and inspects reconciled tasks.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"interaction-ingest/src/config"
	"interaction-ingest/src/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	appConfig *config.Config
	log       logger.Logger
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "ixingest",
	Short: "ixingest - reconcile agent bus traffic into queryable interactions",
	Long: `ixingest consumes the JSON-RPC traffic agents exchange on the bus and
reconciles it into conversations, interactions, tasks and messages.

Every event is idempotent: redelivery and replay never double count.

Configuration is read from IXINGEST_* environment variables and optional
env files (IXINGEST_ENV_FILE, ./.env, ~/.config/ixingest/env).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		appConfig, err = config.LoadFromEnv()
		if err != nil {
			return err
		}
		if logLevel != "" {
			appConfig.Log.Level = logLevel
			if err := appConfig.Validate(); err != nil {
				return err
			}
		}
		log = newLogger(cmd)
		return nil
	},
}

// newLogger keeps stdout clean for the dashboard and for MCP over stdio.
func newLogger(cmd *cobra.Command) logger.Logger {
	switch {
	case cmd.Name() == "listen" && listenTUI:
		return logger.NewSilentLogger()
	case cmd.Name() == "mcp":
		return logger.NewStderrLogger(appConfig.Level())
	}
	return logger.NewConsoleLoggerAt(appConfig.Level())
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			log.Info("Shutdown signal received, stopping...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override IXINGEST_LOG_LEVEL (debug, info, warn, error)")
	rootCmd.Version = version

	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(mcpCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var userErr *config.UserError
		if errors.As(err, &userErr) {
			fmt.Fprintln(os.Stderr, color.RedString("Configuration error:"), userErr.Error())
		} else {
			fmt.Fprintln(os.Stderr, color.RedString("Error:"), err)
		}
		os.Exit(1)
	}
}
