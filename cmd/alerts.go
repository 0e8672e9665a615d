package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/drake-forum/technoshield/storage"

	"github.com/spf13/cobra"
)

// newAlertsCmd creates the 'alerts' command group over the SQLite store
func newAlertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Browse alerts stored in the local SQLite store",
	}
	cmd.AddCommand(newAlertsListCmd())
	cmd.AddCommand(newAlertsShowCmd())
	return cmd
}

func openAlertStore() (*storage.SQLite, error) {
	cfg, sugar, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Storage.SQLite.Enabled {
		return nil, errors.New("storage.sqlite is disabled; no local alerts to browse")
	}
	return storage.NewSQLite(cfg.Storage.SQLite.Path, sugar)
}

// newAlertsListCmd creates the 'alerts list' subcommand
func newAlertsListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the most recent alerts",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			db, err := openAlertStore()
			if err != nil {
				return err
			}
			defer db.Close()

			alerts, err := db.ListAlerts(ctx, limit)
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

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of alerts")
	return cmd
}

// newAlertsShowCmd creates the 'alerts show' subcommand
func newAlertsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <alert-id>",
		Short: "Show one alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			db, err := openAlertStore()
			if err != nil {
				return err
			}
			defer db.Close()

			alert, err := db.GetAlert(ctx, args[0])
			if errors.Is(err, storage.ErrAlertNotFound) {
				return fmt.Errorf("alert %s not found", args[0])
			}
			if err != nil {
				return err
			}
			if outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), alert)
			}
			renderAlertDetails(cmd.OutOrStdout(), alert)
			return nil
		},
	}
}
