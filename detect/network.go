package detect

import (
	"context"
	"fmt"

	"github.com/drake-forum/technoshield/core"
)

// NetworkScanDetector flags source IPs producing many distinct port-related network events.
//
// The "port signal" is the full serialized text of a network event containing
// the signal term, not a parsed port number, so it counts distinct events that
// mention ports.
type NetworkScanDetector struct {
	threshold int
	term      string
}

// NewNetworkScanDetector creates the port-scan detector
func NewNetworkScanDetector(s Settings) *NetworkScanDetector {
	return &NetworkScanDetector{threshold: s.PortScanThreshold, term: s.PortSignalTerm}
}

// Name implements Detector
func (d *NetworkScanDetector) Name() string { return "network" }

// Category implements Detector
func (d *NetworkScanDetector) Category() core.AlertCategory { return core.CategoryNetworkScan }

// Detect emits one alert per source IP with at least threshold distinct port signals
func (d *NetworkScanDetector) Detect(ctx context.Context, b *Batch) ([]core.Alert, error) {
	var alerts []core.Alert
	m := b.Matcher()

	for _, ip := range b.SourceIPs() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		signals := make(map[string]struct{})
		var matched []int
		for _, i := range b.EventsFrom(ip) {
			if b.Event(i).EventType != core.EventTypeNetwork {
				continue
			}
			text := b.Text(i)
			if !m.Contains(text, d.term) {
				continue
			}
			signals[text] = struct{}{}
			matched = append(matched, i)
		}
		if len(signals) < d.threshold {
			continue
		}

		alert := core.NewAlert(core.CategoryNetworkScan, core.SeverityMedium,
			fmt.Sprintf("Potential port scanning from %s", ip),
			fmt.Sprintf("Detected connections to %d different ports from %s", len(signals), ip),
			b.Now())
		alert.SourceIP = ip
		alert.RelatedEvents = b.eventIDs(matched)
		alert.Details["distinct_port_signals"] = len(signals)
		alert.Details["threshold"] = d.threshold
		alerts = append(alerts, *alert)
	}
	return alerts, nil
}
