package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/drake-forum/technoshield/core"
	"github.com/drake-forum/technoshield/detect"
	"github.com/drake-forum/technoshield/ingest"
	"github.com/drake-forum/technoshield/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

var _ MetricsSink = (*metrics.Recorder)(nil)

var runTime = time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

func newCoordinator(t *testing.T, engineOpts []detect.EngineOption, opts ...Option) *Coordinator {
	t.Helper()
	clock := core.NewFixedClock(runTime)
	logger := zaptest.NewLogger(t).Sugar()

	engineOpts = append([]detect.EngineOption{detect.WithClock(clock), detect.WithLogger(logger)}, engineOpts...)
	engine, err := detect.NewEngine(detect.DefaultSettings(), engineOpts...)
	require.NoError(t, err)

	opts = append([]Option{WithClock(clock), WithLogger(logger)}, opts...)
	return NewCoordinator(ingest.NewNormalizer(logger, clock, nil), engine, opts...)
}

// scenarioBatch has three failed logins from one IP, a ransomware mention and
// a 20MB outbound export at 02:00 to an unlisted domain
func scenarioBatch() []core.RawRecord {
	failed := func(id string) core.RawRecord {
		return core.RawRecord{
			"id":          id,
			"event_type":  "authentication",
			"source_ip":   "192.168.1.100",
			"username":    "admin",
			"message":     "Failed login attempt for user admin",
			"timestamp":   "2024-01-15T08:00:00Z",
			"source_name": "vpn",
			"source_type": "syslog",
		}
	}
	return []core.RawRecord{
		failed("auth-1"),
		failed("auth-2"),
		failed("auth-3"),
		{
			"id":          "mal-1",
			"event_type":  "endpoint",
			"source_ip":   "192.168.1.101",
			"message":     "EDR: ransomware behaviour detected on host ws-17",
			"severity":    "critical",
			"source_name": "edr",
			"source_type": "api",
		},
		{
			"id":                 "xfer-1",
			"event_type":         "network",
			"source_ip":          "192.168.1.102",
			"destination_ip":     "203.0.113.50",
			"destination_domain": "unknown-site.xyz",
			"direction":          "outbound",
			"bytes_out":          float64(20000000),
			"filename":           "customer_database.sql",
			"action":             "export",
			"timestamp":          "2024-01-15T02:00:00Z",
			"source_name":        "proxy",
			"source_type":        "file",
		},
	}
}

func TestCoordinator_EndToEndScenario(t *testing.T) {
	rec := metrics.NewRecorder()
	c := newCoordinator(t, nil, WithMetrics(rec))

	res := c.Run(context.Background(), scenarioBatch())
	require.NoError(t, res.Err)
	assert.Equal(t, StatusSuccess, res.Status)

	assert.Equal(t, 5, res.Stats.RecordsIn)
	assert.Equal(t, 5, res.Stats.EventsNormalized)
	assert.Len(t, res.Events, 5)
	assert.Equal(t, 5, res.Stats.CandidateAlerts)
	assert.Equal(t, 1, res.Stats.MergedGroups)
	assert.Equal(t, 3, res.Stats.DetectorAlerts["exfiltration"])

	require.Len(t, res.Alerts, 4)

	seen := map[string]core.Alert{}
	for _, a := range res.Alerts {
		key := a.DedupKey()
		_, dup := seen[key]
		assert.False(t, dup, "duplicate key %s after dedup", key)
		seen[key] = a
	}

	auth := seen["authentication_attack:192.168.1.100:high"]
	assert.Equal(t, []string{"auth-1", "auth-2", "auth-3"}, auth.RelatedEvents)

	mal := seen["malware:192.168.1.101:critical"]
	assert.Equal(t, "Potential malware detected: ransomware", mal.Title)

	high := seen["data_exfiltration:192.168.1.102:high"]
	assert.Contains(t, high.Description, "Large data transfer")
	assert.Contains(t, high.Description, "(2 similar alerts merged)")
	assert.Equal(t, []string{"xfer-1"}, high.RelatedEvents)

	medium := seen["data_exfiltration:192.168.1.102:medium"]
	assert.Contains(t, medium.Description, "unusual hours")

	// fixed detector order survives deduplication
	assert.Equal(t, core.CategoryAuthenticationAttack, res.Alerts[0].EventType)
	assert.Equal(t, core.CategoryMalware, res.Alerts[1].EventType)

	assert.Equal(t, float64(5), testutil.ToFloat64(rec.RecordsNormalized))
	assert.Equal(t, float64(4), testutil.ToFloat64(rec.UniqueAlerts))
	assert.Equal(t, float64(1), testutil.ToFloat64(rec.DetectionRuns.WithLabelValues("success")))
	assert.Equal(t, float64(3), testutil.ToFloat64(rec.DetectorAlerts.WithLabelValues("exfiltration")))
}

func TestCoordinator_EmptyBatch(t *testing.T) {
	c := newCoordinator(t, nil)
	res := c.Run(context.Background(), nil)

	require.NoError(t, res.Err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Empty(t, res.Alerts)
	assert.Empty(t, res.Events)
	assert.Equal(t, runTime, res.Stats.StartedAt)
}

func TestCoordinator_DegradedOnSkippedRecords(t *testing.T) {
	c := newCoordinator(t, nil)
	batch := append(scenarioBatch(), nil)

	res := c.Run(context.Background(), batch)
	require.NoError(t, res.Err)
	assert.Equal(t, StatusDegraded, res.Status)
	assert.Equal(t, 1, res.Stats.RecordsFailed)
	require.Len(t, res.RecordErrors, 1)
	assert.Equal(t, 5, res.RecordErrors[0].Index)
	assert.Len(t, res.Alerts, 4)
}

type failingDetector struct{}

func (failingDetector) Name() string                 { return "broken" }
func (failingDetector) Category() core.AlertCategory { return core.CategoryMalware }
func (failingDetector) Detect(context.Context, *detect.Batch) ([]core.Alert, error) {
	return nil, errors.New("rule table corrupt")
}

func TestCoordinator_DegradedOnDetectorError(t *testing.T) {
	settings := detect.DefaultSettings()
	detectors := append(detect.BuiltinDetectors(settings), failingDetector{})
	c := newCoordinator(t, []detect.EngineOption{detect.WithDetectors(detectors...)})

	res := c.Run(context.Background(), scenarioBatch())
	require.NoError(t, res.Err)
	assert.Equal(t, StatusDegraded, res.Status)
	assert.Equal(t, []string{"broken"}, res.Stats.DetectorErrors)
	require.Len(t, res.DetectorErrors, 1)
	assert.Len(t, res.Alerts, 4)
}

func TestCoordinator_CancelledContext(t *testing.T) {
	obs, logs := observer.New(zap.ErrorLevel)
	c := newCoordinator(t, nil, WithLogger(zap.New(obs).Sugar()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := c.Run(ctx, scenarioBatch())
	assert.Equal(t, StatusFailed, res.Status)
	assert.Empty(t, res.Alerts)
	assert.NotNil(t, res.Alerts)
	assert.ErrorIs(t, res.Err, ErrRunAborted)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, 1, logs.FilterMessage("Pipeline run failed").Len())
}

type slowDetector struct{}

func (slowDetector) Name() string                 { return "slow" }
func (slowDetector) Category() core.AlertCategory { return core.CategoryNetworkScan }
func (slowDetector) Detect(ctx context.Context, _ *detect.Batch) ([]core.Alert, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Second):
		return nil, nil
	}
}

func TestCoordinator_Timeout(t *testing.T) {
	c := newCoordinator(t,
		[]detect.EngineOption{detect.WithDetectors(slowDetector{})},
		WithTimeout(20*time.Millisecond))

	res := c.Run(context.Background(), scenarioBatch())
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.Less(t, res.Stats.Duration, 5*time.Second)
}

// panickySink panics the first time normalization is reported
type panickySink struct {
	NopMetrics
	mu       sync.Mutex
	statuses []string
}

func (p *panickySink) RecordNormalization(int, int) {
	panic("metrics backend gone")
}

func (p *panickySink) RecordRun(status string, _ time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, status)
}

func TestCoordinator_PanicBecomesFailedResult(t *testing.T) {
	sink := &panickySink{}
	c := newCoordinator(t, nil, WithMetrics(sink))

	var res RunResult
	require.NotPanics(t, func() {
		res = c.Run(context.Background(), scenarioBatch())
	})
	assert.Equal(t, StatusFailed, res.Status)
	assert.Empty(t, res.Alerts)
	assert.Nil(t, res.Events)
	assert.ErrorIs(t, res.Err, ErrRunAborted)
	assert.Contains(t, res.Err.Error(), "metrics backend gone")
	assert.Equal(t, []string{"failed"}, sink.statuses)
}

func TestCoordinator_Spans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	c := newCoordinator(t, nil, WithTracerProvider(tp))
	res := c.Run(context.Background(), scenarioBatch())
	require.NoError(t, res.Err)

	var names []string
	for _, s := range sr.Ended() {
		names = append(names, s.Name())
	}
	assert.ElementsMatch(t, []string{"pipeline.normalize", "pipeline.detect", "pipeline.deduplicate", "pipeline.run"}, names)
}

// cancelOnSpanEnd cancels a context when the named span ends
type cancelOnSpanEnd struct {
	name   string
	cancel context.CancelFunc
}

func (c cancelOnSpanEnd) OnStart(context.Context, sdktrace.ReadWriteSpan) {}
func (c cancelOnSpanEnd) OnEnd(s sdktrace.ReadOnlySpan) {
	if s.Name() == c.name {
		c.cancel()
	}
}
func (c cancelOnSpanEnd) Shutdown(context.Context) error   { return nil }
func (c cancelOnSpanEnd) ForceFlush(context.Context) error { return nil }

func TestCoordinator_CancelAfterDetectionRecordsNoDetectorAlerts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(cancelOnSpanEnd{name: "pipeline.detect", cancel: cancel}))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	rec := metrics.NewRecorder()
	c := newCoordinator(t, nil, WithMetrics(rec), WithTracerProvider(tp))

	res := c.Run(ctx, scenarioBatch())
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Empty(t, res.Alerts)

	assert.Equal(t, 0, testutil.CollectAndCount(rec.DetectorAlerts))
	assert.Equal(t, 0, testutil.CollectAndCount(rec.ThreatsDetected))
	assert.Equal(t, float64(1), testutil.ToFloat64(rec.DetectionRuns.WithLabelValues("failed")))
}

func TestCoordinator_IsStatelessAcrossRuns(t *testing.T) {
	c := newCoordinator(t, nil)

	first := c.Run(context.Background(), scenarioBatch())
	second := c.Run(context.Background(), scenarioBatch())
	require.Len(t, second.Alerts, len(first.Alerts))
	for i := range first.Alerts {
		assert.Equal(t, first.Alerts[i].Title, second.Alerts[i].Title)
		assert.Equal(t, first.Alerts[i].Description, second.Alerts[i].Description)
		assert.Equal(t, first.Alerts[i].RelatedEvents, second.Alerts[i].RelatedEvents)
	}
}
