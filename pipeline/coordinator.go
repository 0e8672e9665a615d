package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/drake-forum/technoshield/core"
	"github.com/drake-forum/technoshield/detect"
	"github.com/drake-forum/technoshield/ingest"
	"github.com/drake-forum/technoshield/util/goroutine"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// ErrRunAborted wraps the cause of a failed run
var ErrRunAborted = errors.New("pipeline run aborted")

// Status is the outcome of one run
type Status string

const (
	// StatusSuccess means every record normalized and every detector ran
	StatusSuccess Status = "success"
	// StatusDegraded means the run completed but skipped records or lost a detector
	StatusDegraded Status = "degraded"
	// StatusFailed means the run produced no alerts; see RunResult.Err
	StatusFailed Status = "failed"
)

// TracerName is the instrumentation scope of pipeline spans
const TracerName = "github.com/drake-forum/technoshield/pipeline"

// RunStats are the counters of one run
type RunStats struct {
	RecordsIn        int            `json:"records_in"`
	EventsNormalized int            `json:"events_normalized"`
	RecordsFailed    int            `json:"records_failed"`
	CandidateAlerts  int            `json:"candidate_alerts"`
	UniqueAlerts     int            `json:"unique_alerts"`
	MergedGroups     int            `json:"merged_groups"`
	DetectorAlerts   map[string]int `json:"detector_alerts"`
	DetectorErrors   []string       `json:"detector_errors,omitempty"`
	StartedAt        time.Time      `json:"started_at"`
	Duration         time.Duration  `json:"duration_ns"`
}

// RunResult is everything one run produced
type RunResult struct {
	Status         Status
	Alerts         []core.Alert
	Events         []core.Event
	Stats          RunStats
	RecordErrors   []ingest.RecordError
	DetectorErrors []*detect.DetectorError
	Err            error
}

// Coordinator drives normalize, detect and deduplicate for one batch at a time.
// It keeps no state between runs.
type Coordinator struct {
	normalizer *ingest.Normalizer
	engine     *detect.Engine
	dedup      *core.Deduplicator
	metrics    MetricsSink
	clock      core.Clock
	tracer     trace.Tracer
	logger     *zap.SugaredLogger
	timeout    time.Duration
}

// Option customizes a Coordinator
type Option func(*Coordinator)

// WithLogger sets the logger
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the observability hook
func WithMetrics(m MetricsSink) Option {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithClock sets the clock used for run timestamps
func WithClock(clock core.Clock) Option {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithTracerProvider takes the tracer from tp
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Coordinator) {
		if tp != nil {
			c.tracer = tp.Tracer(TracerName)
		}
	}
}

// WithTimeout bounds every run. Zero means no deadline beyond the caller's.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.timeout = d
	}
}

// NewCoordinator wires a coordinator around an existing normalizer and engine
func NewCoordinator(normalizer *ingest.Normalizer, engine *detect.Engine, opts ...Option) *Coordinator {
	c := &Coordinator{
		normalizer: normalizer,
		engine:     engine,
		dedup:      core.NewDeduplicator(),
		metrics:    NopMetrics{},
		clock:      core.SystemClock{},
		tracer:     noop.NewTracerProvider().Tracer(TracerName),
		logger:     zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run processes one batch. It never panics: any stage failure that is not
// absorbed locally yields StatusFailed with no alerts and Err set.
func (c *Coordinator) Run(ctx context.Context, batch []core.RawRecord) RunResult {
	started := time.Now()
	res := RunResult{Stats: RunStats{RecordsIn: len(batch), StartedAt: c.clock.Now(), DetectorAlerts: map[string]int{}}}

	ctx, span := c.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(attribute.Int("pipeline.records", len(batch))))
	defer span.End()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	err := func() (err error) {
		defer goroutine.RecoverToError("pipeline-run", c.logger, &err)
		return c.run(ctx, batch, &res)
	}()

	res.Stats.Duration = time.Since(started)

	if err != nil {
		res.Status = StatusFailed
		res.Alerts = []core.Alert{}
		res.Events = nil
		res.Err = fmt.Errorf("%w: %w", ErrRunAborted, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Errorw("Pipeline run failed",
			"records", res.Stats.RecordsIn,
			"duration", res.Stats.Duration,
			"error", err)
	} else {
		res.Status = StatusSuccess
		if res.Stats.RecordsFailed > 0 || len(res.DetectorErrors) > 0 {
			res.Status = StatusDegraded
		}
		span.SetAttributes(
			attribute.Int("pipeline.events", res.Stats.EventsNormalized),
			attribute.Int("pipeline.alerts", res.Stats.UniqueAlerts))
		c.logger.Infow("Pipeline run complete",
			"status", res.Status,
			"records", res.Stats.RecordsIn,
			"events", res.Stats.EventsNormalized,
			"skipped", res.Stats.RecordsFailed,
			"candidate_alerts", res.Stats.CandidateAlerts,
			"unique_alerts", res.Stats.UniqueAlerts,
			"duration", res.Stats.Duration)
	}

	c.metrics.RecordRun(string(res.Status), res.Stats.Duration)
	return res
}

func (c *Coordinator) run(ctx context.Context, batch []core.RawRecord, res *RunResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, nspan := c.tracer.Start(ctx, "pipeline.normalize")
	events, recordErrs := c.normalizer.Normalize(batch)
	nspan.SetAttributes(attribute.Int("pipeline.skipped", len(recordErrs)))
	nspan.End()

	res.Events = events
	res.RecordErrors = recordErrs
	res.Stats.EventsNormalized = len(events)
	res.Stats.RecordsFailed = len(recordErrs)
	c.metrics.RecordNormalization(len(events), len(recordErrs))

	dctx, dspan := c.tracer.Start(ctx, "pipeline.detect")
	detection, err := c.engine.Detect(dctx, events)
	if err != nil {
		dspan.RecordError(err)
		dspan.End()
		return fmt.Errorf("detection: %w", err)
	}
	dspan.End()

	for _, outcome := range detection.Outcomes {
		if outcome.Err != nil {
			res.Stats.DetectorErrors = append(res.Stats.DetectorErrors, outcome.Name)
			continue
		}
		res.Stats.DetectorAlerts[outcome.Name] = outcome.Alerts
	}
	res.DetectorErrors = detection.Errors
	res.Stats.CandidateAlerts = len(detection.Alerts)

	if err := ctx.Err(); err != nil {
		return err
	}

	_, uspan := c.tracer.Start(ctx, "pipeline.deduplicate")
	deduped := c.dedup.Process(detection.Alerts)
	uspan.End()

	res.Alerts = deduped.Alerts
	res.Stats.UniqueAlerts = len(deduped.Alerts)
	res.Stats.MergedGroups = deduped.MergedGroups

	// detector counters only cover runs that produced a result
	for _, outcome := range detection.Outcomes {
		if outcome.Err != nil {
			c.metrics.RecordDetectorError(outcome.Name)
			continue
		}
		c.metrics.RecordDetectorAlerts(outcome.Name, outcome.Alerts)
	}
	c.metrics.RecordUniqueAlerts(deduped.Alerts)
	return nil
}
