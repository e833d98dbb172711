// Package main provides the CLI entry point for choirosd, the ChoirOS
// supervision daemon: a per-user automatic computer that plans, dispatches,
// and supervises workers producing a versioned document in response to a
// natural-language objective (§1).
//
// # Basic Usage
//
// Start the server:
//
//	choirosd serve --config choiros.yaml
//
// Apply database migrations:
//
//	choirosd migrate
//
// Run environment preflight checks:
//
//	choirosd doctor
//
// Print a point-in-time snapshot of the supervision forest:
//
//	choirosd status
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "choirosd",
		Short:        "ChoirOS supervision daemon",
		Long:         "choirosd hosts the ApplicationSupervisor and its HTTP/WebSocket front door (§6).",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
		buildDoctorCmd(),
		buildStatusCmd(),
	)
	return root
}
