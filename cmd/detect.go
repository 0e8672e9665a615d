package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/drake-forum/technoshield/bootstrap"
	"github.com/drake-forum/technoshield/core"
	"github.com/drake-forum/technoshield/metrics"
	"github.com/drake-forum/technoshield/pipeline"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

// maxInputFileSize bounds what 'detect' reads into memory
const maxInputFileSize = 64 * 1024 * 1024

// detectOutput is the JSON form of a detect run
type detectOutput struct {
	Status         pipeline.Status   `json:"status"`
	Stats          pipeline.RunStats `json:"stats"`
	Alerts         []core.Alert      `json:"alerts"`
	SkippedRecords []string          `json:"skipped_records,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// newDetectCmd creates the 'detect' command
func newDetectCmd() *cobra.Command {
	var (
		input        string
		showProgress bool
	)

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Run the detection pipeline over a file of raw records",
		Long: `Normalize, correlate and deduplicate the raw records in a JSON file
without collecting sources or storing anything. The file holds either an
array of objects or an object with an "events" array. Use "-" for stdin.`,
		Example: `  technoshield detect --input events.json
  cat events.json | technoshield detect --input - --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, sugar, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = sugar.Sync() }()

			records, err := readRecords(input, cmd.InOrStdin())
			if err != nil {
				return err
			}

			coordinator, err := bootstrap.InitCoordinator(cfg, core.SystemClock{}, metrics.NewRecorder(), sugar)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			var s *spinner.Spinner
			if showProgress && !outputJSON && !quiet {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
				s.Suffix = fmt.Sprintf(" Analyzing %d records...", len(records))
				s.Start()
			}

			res := coordinator.Run(ctx, records)

			if s != nil {
				s.Stop()
			}

			out := cmd.OutOrStdout()
			if outputJSON {
				o := detectOutput{Status: res.Status, Stats: res.Stats, Alerts: res.Alerts}
				for _, re := range res.RecordErrors {
					o.SkippedRecords = append(o.SkippedRecords, re.Error())
				}
				if res.Err != nil {
					o.Error = res.Err.Error()
				}
				if err := outputAsJSON(out, o); err != nil {
					return err
				}
			} else {
				renderRunSummary(out, res)
				renderAlertsTable(out, res.Alerts)
			}
			return res.Err
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "JSON file of raw records (- for stdin)")
	cmd.Flags().BoolVar(&showProgress, "progress", true, "Show progress indicator")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

// readRecords decodes a JSON array of objects, or an object holding one under "events"
func readRecords(input string, stdin io.Reader) ([]core.RawRecord, error) {
	var r io.Reader
	if input == "-" {
		r = stdin
	} else {
		f, err := os.Open(input)
		if err != nil {
			return nil, fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat input: %w", err)
		}
		if info.Size() > maxInputFileSize {
			return nil, fmt.Errorf("input file too large: %d bytes (max %d)", info.Size(), maxInputFileSize)
		}
		r = f
	}

	data, err := io.ReadAll(io.LimitReader(r, maxInputFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	if len(data) > maxInputFileSize {
		return nil, fmt.Errorf("input too large (max %d bytes)", maxInputFileSize)
	}

	var list []core.RawRecord
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Events []core.RawRecord `json:"events"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("input is not a JSON array of records: %w", err)
	}
	if wrapped.Events == nil {
		return nil, fmt.Errorf("input object has no \"events\" array")
	}
	return wrapped.Events, nil
}
