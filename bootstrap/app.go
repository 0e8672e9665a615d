package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/drake-forum/technoshield/config"
	"github.com/drake-forum/technoshield/core"
	"github.com/drake-forum/technoshield/ingest"
	"github.com/drake-forum/technoshield/metrics"
	"github.com/drake-forum/technoshield/pipeline"

	"go.uber.org/zap"
)

// App is one configured collect, detect and store cycle
type App struct {
	Config      *config.Config
	Sugar       *zap.SugaredLogger
	Metrics     *metrics.Recorder
	Collectors  *ingest.CollectorManager
	Coordinator *pipeline.Coordinator
	Storage     *StorageComponents

	clock core.Clock
}

// CycleReport summarizes one RunCycle
type CycleReport struct {
	Status           pipeline.Status `json:"status"`
	Sources          int             `json:"sources"`
	SourcesFailed    int             `json:"sources_failed"`
	RecordsCollected int             `json:"records_collected"`
	EventsNormalized int             `json:"events_normalized"`
	RecordsSkipped   int             `json:"records_skipped"`
	AlertsDetected   int             `json:"alerts_detected"`
	AlertsSuppressed int             `json:"alerts_suppressed"`
	AlertsStored     int             `json:"alerts_stored"`
	EventsStored     int             `json:"events_stored"`
	Alerts           []core.Alert    `json:"alerts"`
	Duration         time.Duration   `json:"duration_ns"`
}

// AppOption customizes NewApp
type AppOption func(*App)

// WithLogger sets the application logger
func WithLogger(sugar *zap.SugaredLogger) AppOption {
	return func(a *App) {
		if sugar != nil {
			a.Sugar = sugar
		}
	}
}

// WithClock sets the clock used for timestamps and retention
func WithClock(clock core.Clock) AppOption {
	return func(a *App) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// NewApp resolves secrets and builds collectors, the pipeline and the sinks
func NewApp(ctx context.Context, cfg *config.Config, opts ...AppOption) (*App, error) {
	app := &App{
		Config: cfg,
		Sugar:  zap.NewNop().Sugar(),
		clock:  core.SystemClock{},
	}
	for _, opt := range opts {
		opt(app)
	}
	sugar := app.Sugar

	sugar.Info("technoshield starting...")
	LogConfigSummary(cfg, sugar)

	if err := EnsureDataDirectories(cfg, sugar); err != nil {
		return nil, fmt.Errorf("pre-flight check failed: %w", err)
	}

	secrets, err := config.NewSecretManager(cfg.Secrets)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize secret manager: %w", err)
	}
	if err := config.ResolveSourceSecrets(cfg, secrets); err != nil {
		return nil, fmt.Errorf("failed to resolve data source secrets: %w", err)
	}

	app.Metrics = metrics.NewRecorder()

	app.Coordinator, err = InitCoordinator(cfg, app.clock, app.Metrics, sugar)
	if err != nil {
		return nil, err
	}

	app.Collectors = ingest.NewCollectorManager(sugar, app.clock,
		ingest.WithCollectionMetrics(app.Metrics),
		ingest.WithCollectTimeout(cfg.Pipeline.CollectTimeout))

	app.Storage, err = InitStorage(ctx, cfg.Storage, app.Metrics, sugar)
	if err != nil {
		return nil, err
	}

	return app, nil
}

// RunCycle collects every source, runs the pipeline once, drops alerts
// already reported in earlier cycles and stores the rest. Stored alerts are
// then marked reported. A failed pipeline run or a sink error is returned
// alongside the partial report.
func (a *App) RunCycle(ctx context.Context) (CycleReport, error) {
	started := time.Now()
	report := CycleReport{}

	collected := a.Collectors.CollectAll(ctx, a.Config.DataSources)
	report.Sources = len(collected.Sources)
	report.SourcesFailed = collected.Failed()
	report.RecordsCollected = len(collected.Records)
	a.Sugar.Infow("Collection complete",
		"sources", report.Sources,
		"failed", report.SourcesFailed,
		"records", report.RecordsCollected)

	alerts, res, err := a.process(ctx, collected.Records, &report)
	if err != nil {
		report.Duration = time.Since(started)
		a.writeMetrics()
		return report, err
	}

	var errs []error
	if a.Config.Pipeline.StoreEvents && len(res.Events) > 0 {
		n, err := a.Storage.Sinks.StoreEvents(ctx, res.Events)
		report.EventsStored = n
		if err != nil {
			errs = append(errs, fmt.Errorf("store events: %w", err))
		}
	}

	n, err := a.Storage.Sinks.StoreAlerts(ctx, alerts)
	report.AlertsStored = n
	if err != nil {
		errs = append(errs, fmt.Errorf("store alerts: %w", err))
	} else {
		a.markReported(ctx, alerts)
	}

	if a.Storage.Retention != nil && a.Storage.Retention.Enabled() {
		if _, err := a.Storage.Retention.Cleanup(ctx, a.clock.Now()); err != nil {
			a.Sugar.Errorw("Retention cleanup failed", "error", err)
		}
	}

	report.Duration = time.Since(started)
	a.writeMetrics()

	a.Sugar.Infow("Cycle complete",
		"status", report.Status,
		"alerts", report.AlertsDetected,
		"suppressed", report.AlertsSuppressed,
		"stored", report.AlertsStored,
		"duration", report.Duration)
	return report, errors.Join(errs...)
}

func (a *App) process(ctx context.Context, records []core.RawRecord, report *CycleReport) ([]core.Alert, pipeline.RunResult, error) {
	res := a.Coordinator.Run(ctx, records)
	report.Status = res.Status
	report.EventsNormalized = res.Stats.EventsNormalized
	report.RecordsSkipped = res.Stats.RecordsFailed
	report.AlertsDetected = len(res.Alerts)
	if res.Status == pipeline.StatusFailed {
		return nil, res, res.Err
	}

	alerts := res.Alerts
	if a.Storage.Suppressor != nil && len(alerts) > 0 {
		kept, suppressed, err := a.Storage.Suppressor.Filter(ctx, alerts)
		if err != nil {
			a.Sugar.Warnw("Alert suppression failed; storing unfiltered alerts", "error", err)
		}
		alerts = kept
		report.AlertsSuppressed = suppressed
		a.Metrics.RecordSuppressed(suppressed)
	}
	report.Alerts = alerts
	return alerts, res, nil
}

// markReported records stored alerts for suppression. Alerts whose store
// failed stay unmarked so the next cycle retries them.
func (a *App) markReported(ctx context.Context, alerts []core.Alert) {
	if a.Storage.Suppressor == nil || len(alerts) == 0 {
		return
	}
	if _, err := a.Storage.Suppressor.MarkReported(ctx, alerts); err != nil {
		a.Sugar.Warnw("Failed to record reported alerts", "alerts", len(alerts), "error", err)
	}
}

func (a *App) writeMetrics() {
	path := a.Config.Metrics.TextfilePath
	if path == "" {
		return
	}
	a.Metrics.UpdateFreshness(a.clock.Now())
	if err := a.Metrics.WriteTextfile(path); err != nil {
		a.Sugar.Errorw("Failed to write metrics", "path", path, "error", err)
	}
}

// Shutdown closes every sink
func (a *App) Shutdown() {
	if a.Storage == nil {
		return
	}
	if err := a.Storage.Close(); err != nil {
		a.Sugar.Errorw("Error closing storage", "error", err)
	}
	a.Sugar.Info("Shutdown complete")
}
