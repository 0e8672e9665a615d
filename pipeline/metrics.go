package pipeline

import (
	"time"

	"github.com/drake-forum/technoshield/core"
)

// MetricsSink observes pipeline runs. Implementations must be safe for
// concurrent use when one sink is shared by several coordinators.
type MetricsSink interface {
	RecordNormalization(normalized, failed int)
	RecordDetectorAlerts(detector string, count int)
	RecordDetectorError(detector string)
	RecordUniqueAlerts(alerts []core.Alert)
	RecordRun(status string, d time.Duration)
}

// NopMetrics discards everything
type NopMetrics struct{}

func (NopMetrics) RecordNormalization(int, int) {}
func (NopMetrics) RecordDetectorAlerts(string, int) {}
func (NopMetrics) RecordDetectorError(string) {}
func (NopMetrics) RecordUniqueAlerts([]core.Alert) {}
func (NopMetrics) RecordRun(string, time.Duration) {}
