package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/drake-forum/technoshield/bootstrap"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

// newRunCmd creates the 'run' command
func newRunCmd() *cobra.Command {
	var (
		showProgress bool
		timeout      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one collect, detect and store cycle",
		Long: `Collect every enabled data source, normalize the records, run the
correlation detectors, suppress alerts already reported and write the
remaining alerts to every enabled sink.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, sugar, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = sugar.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			app, err := bootstrap.NewApp(ctx, cfg, bootstrap.WithLogger(sugar))
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			defer app.Shutdown()

			if !outputJSON {
				printf(cmd.OutOrStdout(), infoColor, "Running cycle over %d data sources\n", len(cfg.DataSources))
			}

			var s *spinner.Spinner
			if showProgress && !outputJSON && !quiet {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
				s.Suffix = " Running cycle..."
				s.Start()
			}

			report, runErr := app.RunCycle(ctx)

			if s != nil {
				s.Stop()
			}

			out := cmd.OutOrStdout()
			if outputJSON {
				if err := outputAsJSON(out, report); err != nil {
					return err
				}
			} else {
				renderCycleReport(out, report)
				if len(report.Alerts) > 0 {
					renderAlertsTable(out, report.Alerts)
				}
			}

			if runErr != nil {
				return fmt.Errorf("cycle failed: %w", runErr)
			}
			if !outputJSON {
				printf(out, successColor, "✓ Cycle complete\n")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showProgress, "progress", true, "Show progress indicator")
	cmd.Flags().DurationVar(&timeout, "timeout", defaultTimeout, "Abort the cycle after this long")

	return cmd
}
