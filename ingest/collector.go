package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/drake-forum/technoshield/config"
	"github.com/drake-forum/technoshield/core"
	"github.com/drake-forum/technoshield/util/goroutine"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// SourceTypeAPI, SourceTypeFile and SourceTypeSyslog are the collector kinds
	SourceTypeAPI    = string(core.SourceTypeAPI)
	SourceTypeFile   = string(core.SourceTypeFile)
	SourceTypeSyslog = string(core.SourceTypeSyslog)

	// DefaultCollectConcurrency bounds how many sources are read at once
	DefaultCollectConcurrency = 4

	unnamedSource = "unnamed"
)

var (
	// ErrUnknownSourceType is reported for sources nobody can collect
	ErrUnknownSourceType = errors.New("unknown source type")
	// ErrMissingPath is returned when a file or syslog source has no path
	ErrMissingPath = errors.New("source path not configured")
	// ErrMissingURL is returned when an API source has no URL
	ErrMissingURL = errors.New("source url not configured")
	// ErrUnsupportedFormat is returned for file formats without a reader
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrEventsPath is returned when events_path does not lead to a list
	ErrEventsPath = errors.New("events path did not resolve to a list")
)

// Collector reads raw records from one data source
type Collector interface {
	Collect(ctx context.Context, src config.DataSource) ([]core.RawRecord, error)
}

// CollectionMetrics observes per-source collection outcomes
type CollectionMetrics interface {
	RecordCollection(source string, records int, d time.Duration, at time.Time, err error)
}

type nopCollectionMetrics struct{}

func (nopCollectionMetrics) RecordCollection(string, int, time.Duration, time.Time, error) {}

// SourceResult is the outcome of collecting one source
type SourceResult struct {
	Name     string
	Type     string
	Records  int
	Err      error
	Duration time.Duration
}

// CollectionResult holds every record gathered in one pass, in source order
type CollectionResult struct {
	Records []core.RawRecord
	Sources []SourceResult
}

// Failed returns the number of sources that produced an error
func (r CollectionResult) Failed() int {
	n := 0
	for _, s := range r.Sources {
		if s.Err != nil {
			n++
		}
	}
	return n
}

// CollectorManager dispatches data sources to the collector for their type
type CollectorManager struct {
	collectors  map[string]Collector
	logger      *zap.SugaredLogger
	clock       core.Clock
	metrics     CollectionMetrics
	timeout     time.Duration
	concurrency int
}

// ManagerOption customizes a CollectorManager
type ManagerOption func(*CollectorManager)

// WithCollectionMetrics sets the metrics hook
func WithCollectionMetrics(m CollectionMetrics) ManagerOption {
	return func(cm *CollectorManager) {
		if m != nil {
			cm.metrics = m
		}
	}
}

// WithCollectTimeout bounds each source. Zero disables the bound.
func WithCollectTimeout(d time.Duration) ManagerOption {
	return func(cm *CollectorManager) {
		cm.timeout = d
	}
}

// WithConcurrency sets how many sources are collected in parallel
func WithConcurrency(n int) ManagerOption {
	return func(cm *CollectorManager) {
		if n > 0 {
			cm.concurrency = n
		}
	}
}

// WithCollector registers c for sourceType, replacing any existing collector
func WithCollector(sourceType string, c Collector) ManagerOption {
	return func(cm *CollectorManager) {
		cm.collectors[strings.ToLower(sourceType)] = c
	}
}

// NewCollectorManager creates a manager with the api, file and syslog collectors
func NewCollectorManager(logger *zap.SugaredLogger, clock core.Clock, opts ...ManagerOption) *CollectorManager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if clock == nil {
		clock = core.SystemClock{}
	}
	cm := &CollectorManager{
		collectors:  make(map[string]Collector),
		logger:      logger,
		clock:       clock,
		metrics:     nopCollectionMetrics{},
		concurrency: DefaultCollectConcurrency,
	}
	cm.collectors[SourceTypeAPI] = NewAPICollector(logger, clock)
	cm.collectors[SourceTypeFile] = NewFileCollector(logger)
	cm.collectors[SourceTypeSyslog] = NewSyslogCollector(logger)

	for _, opt := range opts {
		opt(cm)
	}
	return cm
}

// CollectAll reads every enabled source. A failing source is logged and
// contributes nothing; the others are unaffected. Records are stamped with
// source_name, source_type and collection_time.
func (cm *CollectorManager) CollectAll(ctx context.Context, sources []config.DataSource) CollectionResult {
	results := make([]SourceResult, len(sources))
	records := make([][]core.RawRecord, len(sources))

	g := new(errgroup.Group)
	g.SetLimit(cm.concurrency)
	for i := range sources {
		src := sources[i]
		if src.Disabled {
			results[i] = SourceResult{Name: src.Name, Type: src.Type}
			cm.logger.Debugw("Skipping disabled data source", "source", src.Name)
			continue
		}
		g.Go(func() error {
			records[i], results[i] = cm.collectSource(ctx, src)
			return nil
		})
	}
	_ = g.Wait()

	out := CollectionResult{Sources: results}
	for i, recs := range records {
		out.Records = append(out.Records, recs...)
		if len(recs) > 0 {
			cm.logger.Infow("Collected events", "source", sources[i].Name, "count", len(recs))
		}
	}
	if out.Records == nil {
		out.Records = []core.RawRecord{}
	}
	return out
}

func (cm *CollectorManager) collectSource(ctx context.Context, src config.DataSource) (recs []core.RawRecord, res SourceResult) {
	name := src.Name
	if name == "" {
		name = unnamedSource
	}
	sourceType := strings.ToLower(src.Type)
	res = SourceResult{Name: name, Type: sourceType}
	started := time.Now()

	defer func() {
		res.Duration = time.Since(started)
		res.Records = len(recs)
		cm.metrics.RecordCollection(sourceType, len(recs), res.Duration, cm.clock.Now(), res.Err)
	}()

	collector, ok := cm.collectors[sourceType]
	if !ok {
		res.Err = fmt.Errorf("%w: %q", ErrUnknownSourceType, src.Type)
		cm.logger.Warnw("Unknown source type", "source", name, "type", src.Type)
		return nil, res
	}

	cm.logger.Infow("Collecting data", "source", name, "type", sourceType)

	if cm.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cm.timeout)
		defer cancel()
	}

	var err error
	func() {
		defer goroutine.RecoverToError("collector-"+name, cm.logger, &err)
		recs, err = collector.Collect(ctx, src)
	}()
	if err != nil {
		res.Err = err
		cm.logger.Errorw("Data collection failed",
			"source", name,
			"type", sourceType,
			"error", err)
		return nil, res
	}

	stampedType := src.Type
	if stampedType == "" {
		stampedType = string(core.SourceTypeUnknown)
	}
	collectedAt := cm.clock.Now().Format(time.RFC3339)
	for _, rec := range recs {
		rec[core.FieldSourceName] = name
		rec[core.FieldSourceType] = stampedType
		rec[core.FieldCollectionTime] = collectedAt
	}
	return recs, res
}

// extractEvents turns a decoded JSON or msgpack document into records.
// With a dot-separated path the path must resolve to a list; without one a
// list is taken as-is and a single object becomes a one-element batch.
func extractEvents(data interface{}, path string, logger *zap.SugaredLogger) ([]core.RawRecord, error) {
	if path != "" {
		current := data
		for _, key := range strings.Split(path, ".") {
			obj, ok := asObject(current)
			if !ok {
				return nil, fmt.Errorf("%w: %q is not an object", ErrEventsPath, key)
			}
			next, ok := obj[key]
			if !ok {
				return nil, fmt.Errorf("%w: could not find %q", ErrEventsPath, key)
			}
			current = next
		}
		list, ok := current.([]interface{})
		if !ok {
			return nil, ErrEventsPath
		}
		return objectsOf(list, logger), nil
	}

	switch v := data.(type) {
	case []interface{}:
		return objectsOf(v, logger), nil
	default:
		if obj, ok := asObject(v); ok {
			return []core.RawRecord{core.RawRecord(obj)}, nil
		}
		return nil, fmt.Errorf("document is neither an object nor a list (%T)", data)
	}
}

func objectsOf(list []interface{}, logger *zap.SugaredLogger) []core.RawRecord {
	out := make([]core.RawRecord, 0, len(list))
	for i, item := range list {
		obj, ok := asObject(item)
		if !ok {
			logger.Warnw("Skipping non-object entry", "index", i, "type", fmt.Sprintf("%T", item))
			continue
		}
		out = append(out, core.RawRecord(obj))
	}
	return out
}

func asObject(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case core.RawRecord:
		return m, true
	default:
		return nil, false
	}
}
