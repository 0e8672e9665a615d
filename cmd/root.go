// Package cmd provides the technoshield command-line interface.
package cmd

import (
	"encoding/json"
	"io"
	"time"

	"github.com/drake-forum/technoshield/bootstrap"
	"github.com/drake-forum/technoshield/config"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags
var (
	outputJSON bool
	configFile string
	noColor    bool
	quiet      bool
	logLevel   string
)

const defaultTimeout = 5 * time.Minute

// NewRootCmd creates the technoshield command with all subcommands
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "technoshield",
		Short: "Security telemetry normalization, correlation and alerting",
		Long: `technoshield collects security telemetry from APIs, files and syslog,
normalizes it into canonical events, runs correlation detectors over each
batch and stores the deduplicated alerts.

Each invocation of 'run' performs exactly one cycle; schedule it with cron,
a systemd timer or a Kubernetes CronJob.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	root.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	root.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (default: ./config.yaml or ./config/config.yaml)")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	root.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress non-essential output")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level")

	root.AddCommand(newRunCmd())
	root.AddCommand(newDetectCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newAlertsCmd())

	return root
}

// loadConfig loads the config named by --config and builds its logger
func loadConfig() (*config.Config, *zap.SugaredLogger, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, nil, err
	}
	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	if quiet && logLevel == "" {
		level = "error"
	}
	_, sugar, err := bootstrap.InitLogger(level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, sugar, nil
}

// outputAsJSON writes data as indented JSON to w
func outputAsJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func printf(w io.Writer, c *color.Color, format string, args ...interface{}) {
	if quiet {
		return
	}
	_, _ = c.Fprintf(w, format, args...)
}

// Execute runs the root command and returns the process exit code
func Execute() int {
	root := NewRootCmd()
	root.SilenceErrors = true
	if err := root.Execute(); err != nil {
		_, _ = errorColor.Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
		return 1
	}
	return 0
}
