package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/drake-forum/technoshield/core"

	"go.uber.org/zap"
)

// AlertSink persists alerts. Implementations upsert by alert_id and return
// how many alerts were new.
type AlertSink interface {
	StoreAlerts(ctx context.Context, alerts []core.Alert) (int, error)
}

// EventSink persists normalized events, returning how many were new
type EventSink interface {
	StoreEvents(ctx context.Context, events []core.Event) (int, error)
}

// StoreMetrics observes how many alerts each sink accepted
type StoreMetrics interface {
	RecordStored(sink string, count int)
}

type namedAlertSink struct {
	name string
	sink AlertSink
}

type namedEventSink struct {
	name string
	sink EventSink
}

// MultiSink fans alerts and events out to every registered sink. One sink
// failing does not stop the others; errors are joined.
type MultiSink struct {
	alertSinks []namedAlertSink
	eventSinks []namedEventSink
	closers    []io.Closer
	logger     *zap.SugaredLogger
	metrics    StoreMetrics
}

// NewMultiSink creates an empty fan-out sink. metrics may be nil.
func NewMultiSink(logger *zap.SugaredLogger, metrics StoreMetrics) *MultiSink {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &MultiSink{logger: logger, metrics: metrics}
}

// AddAlertSink registers an alert sink under name
func (m *MultiSink) AddAlertSink(name string, s AlertSink) {
	m.alertSinks = append(m.alertSinks, namedAlertSink{name, s})
	m.trackCloser(s)
}

// AddEventSink registers an event sink under name
func (m *MultiSink) AddEventSink(name string, s EventSink) {
	m.eventSinks = append(m.eventSinks, namedEventSink{name, s})
	m.trackCloser(s)
}

func (m *MultiSink) trackCloser(s interface{}) {
	c, ok := s.(io.Closer)
	if !ok {
		return
	}
	for _, existing := range m.closers {
		if existing == c {
			return
		}
	}
	m.closers = append(m.closers, c)
}

// AlertSinks returns the registered alert sink names in order
func (m *MultiSink) AlertSinks() []string {
	names := make([]string, len(m.alertSinks))
	for i, s := range m.alertSinks {
		names[i] = s.name
	}
	return names
}

// StoreAlerts writes alerts to every alert sink and returns the highest
// new-alert count any sink reported
func (m *MultiSink) StoreAlerts(ctx context.Context, alerts []core.Alert) (int, error) {
	if len(alerts) == 0 {
		return 0, nil
	}
	best := 0
	var errs []error
	for _, s := range m.alertSinks {
		n, err := s.sink.StoreAlerts(ctx, alerts)
		if err != nil {
			m.logger.Errorw("Failed to store alerts", "sink", s.name, "alerts", len(alerts), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		if m.metrics != nil {
			m.metrics.RecordStored(s.name, n)
		}
		best = max(best, n)
	}
	return best, errors.Join(errs...)
}

// StoreEvents writes events to every event sink and returns the highest
// new-event count any sink reported
func (m *MultiSink) StoreEvents(ctx context.Context, events []core.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	best := 0
	var errs []error
	for _, s := range m.eventSinks {
		n, err := s.sink.StoreEvents(ctx, events)
		if err != nil {
			m.logger.Errorw("Failed to store events", "sink", s.name, "events", len(events), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		best = max(best, n)
	}
	return best, errors.Join(errs...)
}

// Close closes every sink that holds a connection
func (m *MultiSink) Close() error {
	var errs []error
	for _, c := range m.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.closers = nil
	return errors.Join(errs...)
}
