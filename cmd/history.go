package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vigilanteye/config"
	"vigilanteye/storage"
)

// openStore opens the configured event store for CLI queries.
func openStore() (*storage.SQLite, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	store, err := storage.NewSQLite(cfg.GetSQLitePath(), zap.NewNop().Sugar())
	if err != nil {
		return nil, fmt.Errorf("failed to open event store: %w", err)
	}
	return store, nil
}

// newEventsCmd creates the 'events' subcommand
func newEventsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:     "events",
		Aliases: []string{"logs"},
		Short:   "List recent events",
		Long:    "Display the most recently stored events, newest first.",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive, got %d", limit)
			}

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			events, err := store.ListRecentEvents(ctx, limit)
			if err != nil {
				return fmt.Errorf("failed to list events: %w", err)
			}

			if outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), events)
			}
			renderEventsTable(cmd.OutOrStdout(), events)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 15, "Maximum number of events to show")

	return cmd
}

// newAlertsCmd creates the 'alerts' subcommand
func newAlertsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "alerts",
		Short: "List alerts",
		Long:  "Display every stored alert with its rule, priority and the event it references.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			alerts, err := store.ListAlerts(ctx)
			if err != nil {
				return fmt.Errorf("failed to list alerts: %w", err)
			}

			if outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), alerts)
			}
			renderAlertsTable(cmd.OutOrStdout(), alerts)
			return nil
		},
	}
}
