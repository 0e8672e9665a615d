package cmd

import (
	"fmt"
	"strings"

	"github.com/drake-forum/technoshield/bootstrap"
	"github.com/drake-forum/technoshield/config"

	"github.com/spf13/cobra"
)

// configSummary is the JSON form of 'config validate'
type configSummary struct {
	Valid       bool            `json:"valid"`
	Error       string          `json:"error,omitempty"`
	DataSources []sourceSummary `json:"data_sources,omitempty"`
	Sinks       []string        `json:"sinks,omitempty"`
	Suppression bool            `json:"suppression"`
}

type sourceSummary struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Target  string `json:"target"`
	Enabled bool   `json:"enabled"`
}

// newConfigCmd creates the 'config' command group
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(newConfigValidateCmd())
	return cmd
}

// newConfigValidateCmd creates the 'config validate' subcommand
func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and the detection settings it produces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			cfg, sugar, err := loadConfig()
			if err == nil {
				_, err = bootstrap.DetectionSettings(cfg.Detection, sugar)
			}
			if err != nil {
				if outputJSON {
					_ = outputAsJSON(out, configSummary{Valid: false, Error: err.Error()})
				}
				return err
			}

			summary := summarizeConfig(cfg)
			if outputJSON {
				return outputAsJSON(out, summary)
			}

			printf(out, successColor, "✓ Configuration is valid\n\n")
			if quiet {
				return nil
			}
			printSection(out, "Data Sources")
			if len(summary.DataSources) == 0 {
				_, _ = warningColor.Fprintln(out, "  No data sources configured")
			}
			for _, s := range summary.DataSources {
				state := "enabled"
				if !s.Enabled {
					state = "disabled"
				}
				fmt.Fprintf(out, "  %-20s %-8s %-9s %s\n", s.Name, s.Type, state, s.Target)
			}
			fmt.Fprintln(out)
			printSection(out, "Sinks")
			printField(out, "Alert and event sinks", strings.Join(summary.Sinks, ", "))
			printField(out, "Redis suppression", fmt.Sprintf("%t", summary.Suppression))
			return nil
		},
	}
}

func summarizeConfig(cfg *config.Config) configSummary {
	s := configSummary{Valid: true, Suppression: cfg.Storage.Redis.Enabled}
	for _, ds := range cfg.DataSources {
		target := ds.Path
		if ds.Type == "api" {
			target = ds.URL
		}
		s.DataSources = append(s.DataSources, sourceSummary{
			Name:    ds.Name,
			Type:    ds.Type,
			Target:  target,
			Enabled: !ds.Disabled,
		})
	}
	if cfg.Storage.SQLite.Enabled {
		s.Sinks = append(s.Sinks, "sqlite")
	}
	if cfg.Storage.ClickHouse.Enabled {
		s.Sinks = append(s.Sinks, "clickhouse")
	}
	if cfg.Storage.MongoDB.Enabled {
		s.Sinks = append(s.Sinks, "mongodb")
	}
	if cfg.Storage.Kafka.Enabled {
		s.Sinks = append(s.Sinks, "kafka")
	}
	return s
}
