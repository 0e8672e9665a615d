package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/drake-forum/technoshield/core"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "technoshield"

// Recorder owns the pipeline metrics. Each Recorder has its own registry so
// tests and repeated CLI invocations never collide on registration.
type Recorder struct {
	registry *prometheus.Registry

	RecordsNormalized     prometheus.Counter
	NormalizationFailures prometheus.Counter
	DetectorAlerts        *prometheus.CounterVec
	ThreatsDetected       *prometheus.CounterVec
	UniqueAlerts          prometheus.Gauge
	DetectionRuns         *prometheus.CounterVec
	DetectionDuration     prometheus.Histogram
	ProcessingErrors      *prometheus.CounterVec
	DataCollection        *prometheus.CounterVec
	DataPointsCollected   *prometheus.CounterVec
	CollectionDuration    *prometheus.HistogramVec
	DataFreshness         *prometheus.GaugeVec
	AlertsStored          *prometheus.CounterVec
	AlertsSuppressed      prometheus.Counter

	mu            sync.Mutex
	lastCollected map[string]time.Time
}

// CollectionBuckets spans quick file reads up to slow paginated APIs
var CollectionBuckets = []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0, 300.0}

// NewRecorder creates a Recorder registered on a fresh registry
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry:      reg,
		lastCollected: make(map[string]time.Time),

		RecordsNormalized: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_records_normalized_total",
			Help:      "Total number of raw records normalized into events",
		}),
		NormalizationFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_normalization_failures_total",
			Help:      "Total number of raw records skipped by the normalizer",
		}),
		DetectorAlerts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_detector_alerts_total",
			Help:      "Candidate alerts emitted per detector before deduplication",
		}, []string{"detector"}),
		ThreatsDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threats_detected_total",
			Help:      "Deduplicated alerts by category and severity",
		}, []string{"type", "severity"}),
		UniqueAlerts: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_unique_alerts",
			Help:      "Number of alerts left after deduplication in the last run",
		}),
		DetectionRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threat_detection_total",
			Help:      "Pipeline runs by final status",
		}, []string{"status"}),
		DetectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "threat_detection_duration_seconds",
			Help:      "Wall time of one pipeline run",
			Buckets:   prometheus.DefBuckets,
		}),
		ProcessingErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processing_errors_total",
			Help:      "Errors by pipeline component and error type",
		}, []string{"component", "error_type"}),
		DataCollection: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_collection_total",
			Help:      "Collection attempts by source and status",
		}, []string{"source", "status"}),
		DataPointsCollected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_points_collected_total",
			Help:      "Raw records collected per source",
		}, []string{"source"}),
		CollectionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "data_collection_duration_seconds",
			Help:      "Wall time of one collection attempt per source",
			Buckets:   CollectionBuckets,
		}, []string{"source"}),
		DataFreshness: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "data_freshness_seconds",
			Help:      "Seconds since the last successful collection per source",
		}, []string{"source"}),
		AlertsStored: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_stored_total",
			Help:      "Alerts newly written per sink",
		}, []string{"sink"}),
		AlertsSuppressed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_suppressed_total",
			Help:      "Alerts dropped because the same condition was already reported",
		}),
	}
}

// Registry exposes the underlying registry for exporters
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// RecordNormalization counts normalized and skipped records of one run
func (r *Recorder) RecordNormalization(normalized, failed int) {
	r.RecordsNormalized.Add(float64(normalized))
	r.NormalizationFailures.Add(float64(failed))
	if failed > 0 {
		r.ProcessingErrors.WithLabelValues("normalizer", "record_error").Add(float64(failed))
	}
}

// RecordDetectorAlerts counts candidate alerts of one detector
func (r *Recorder) RecordDetectorAlerts(detector string, count int) {
	r.DetectorAlerts.WithLabelValues(detector).Add(float64(count))
}

// RecordDetectorError counts a discarded detector contribution
func (r *Recorder) RecordDetectorError(detector string) {
	r.ProcessingErrors.WithLabelValues("detector_"+detector, "detector_error").Inc()
}

// RecordUniqueAlerts records the deduplicated alert set by category and severity
func (r *Recorder) RecordUniqueAlerts(alerts []core.Alert) {
	r.UniqueAlerts.Set(float64(len(alerts)))
	for i := range alerts {
		r.ThreatsDetected.WithLabelValues(alerts[i].EventType.String(), alerts[i].Severity.String()).Inc()
	}
}

// RecordRun records the status and wall time of one pipeline run
func (r *Recorder) RecordRun(status string, d time.Duration) {
	r.DetectionRuns.WithLabelValues(status).Inc()
	r.DetectionDuration.Observe(d.Seconds())
	if status != "success" {
		r.ProcessingErrors.WithLabelValues("pipeline", status).Inc()
	}
}

// RecordCollection counts one collection attempt for a source that took d
// and finished at at. A successful attempt resets the source's freshness.
func (r *Recorder) RecordCollection(source string, records int, d time.Duration, at time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
		r.ProcessingErrors.WithLabelValues("collector", source).Inc()
	}
	r.DataCollection.WithLabelValues(source, status).Inc()
	r.DataPointsCollected.WithLabelValues(source).Add(float64(records))
	r.CollectionDuration.WithLabelValues(source).Observe(d.Seconds())
	if err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if last, ok := r.lastCollected[source]; !ok || at.After(last) {
		r.lastCollected[source] = at
	}
	r.DataFreshness.WithLabelValues(source).Set(0)
}

// UpdateFreshness sets every source's freshness to the age of its last
// successful collection at now
func (r *Recorder) UpdateFreshness(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for source, last := range r.lastCollected {
		r.DataFreshness.WithLabelValues(source).Set(max(now.Sub(last).Seconds(), 0))
	}
}

// RecordStored counts alerts newly written by a sink
func (r *Recorder) RecordStored(sink string, count int) {
	r.AlertsStored.WithLabelValues(sink).Add(float64(count))
}

// RecordSuppressed counts alerts dropped as already reported
func (r *Recorder) RecordSuppressed(count int) {
	r.AlertsSuppressed.Add(float64(count))
}

// WriteTextfile writes the registry in the text exposition format for the
// node_exporter textfile collector
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
