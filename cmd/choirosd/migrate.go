package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/choiros/choiros/internal/config"
	"github.com/choiros/choiros/internal/eventstore"
)

// buildMigrateCmd creates the "migrate" command: applies any pending
// EventStore schema migrations against the configured database path,
// grounded on the teacher's commands_migrate.go buildMigrateCmd group but
// narrowed to the single SQLite schema choirosd owns (no workspace/session
// import-export subcommands).
func buildMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending EventStore schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := eventstore.Migrate(cfg.Database.Path); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "event store at %s is up to date\n", cfg.Database.Path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "choiros.yaml", "Path to YAML configuration file")
	return cmd
}
