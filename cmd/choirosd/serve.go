package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/choiros/choiros/internal/api"
	"github.com/choiros/choiros/internal/config"
	"github.com/choiros/choiros/internal/core"
	"github.com/choiros/choiros/internal/eventstore"
	"github.com/choiros/choiros/internal/harness"
	"github.com/choiros/choiros/internal/modelpolicy"
	"github.com/choiros/choiros/internal/observability"
	"github.com/choiros/choiros/internal/supervisor"
)

// buildServeCmd creates the "serve" command: loads config, boots the
// ApplicationSupervisor, and starts the HTTP/WS front door (§6), shutting
// down gracefully on SIGINT/SIGTERM.
func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the choirosd supervision daemon",
		Long: `Start choirosd with its configured model bindings and HTTP/WS front door.

The server will:
1. Load configuration from the specified file (or choiros.yaml)
2. Apply any pending EventStore migrations
3. Boot the ApplicationSupervisor
4. Start the HTTP/WebSocket front door for §6's external interfaces

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "choiros.yaml", "Path to YAML configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	metrics := observability.NewMetrics()

	if err := eventstore.Migrate(cfg.Database.Path); err != nil {
		return fmt.Errorf("migrate event store: %w", err)
	}

	bindings, err := buildModelBindings(cfg)
	if err != nil {
		return fmt.Errorf("build model bindings: %w", err)
	}

	app, err := supervisor.NewApplication(supervisor.ApplicationConfig{
		EventStorePath:    cfg.Database.Path,
		DocumentRoot:      cfg.Documents.Root,
		WorkspaceRoot:     cfg.Workspace.Root,
		ConductorBindings: bindings,
		HarnessConfig: harness.Config{
			MaxSteps:     uint32(cfg.Policy.MaxPlannerSteps),
			StepDeadline: cfg.Policy.ToolCallTimeout,
			RunDeadline:  cfg.Policy.RunTimeout,
		},
	})
	if err != nil {
		return fmt.Errorf("start application: %w", err)
	}
	defer app.Close()

	server := api.NewServer(app, logger, metrics)

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("choirosd listening", "addr", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-sigCtx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// buildModelBindings resolves each configured role to a model client,
// grounded on the teacher's per-provider LLM client construction in
// cmd/nexus (api_client.go) but narrowed to the two providers §4.10 names.
func buildModelBindings(cfg *config.Config) ([]modelpolicy.Binding, error) {
	bindings := make([]modelpolicy.Binding, 0, len(cfg.Models.Bindings))
	for _, b := range cfg.Models.Bindings {
		apiKey := os.Getenv(b.APIKeyEnv)
		client := modelpolicy.NewHTTPClient(b.Role+"-"+b.Provider, b.Provider, b.Model, apiKey)

		clients := []modelpolicy.ModelClient{client}
		for i, fallbackModel := range b.Fallbacks {
			clients = append(clients, modelpolicy.NewHTTPClient(
				fmt.Sprintf("%s-fallback-%d", b.Role, i), b.Provider, fallbackModel, apiKey,
			))
		}

		bindings = append(bindings, modelpolicy.Binding{
			Role:    core.Capability(b.Role),
			Clients: clients,
		})
	}
	return bindings, nil
}
