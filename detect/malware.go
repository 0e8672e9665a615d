package detect

import (
	"context"
	"fmt"

	"github.com/drake-forum/technoshield/core"
)

// MalwareDetector raises one alert per event mentioning a malware indicator
type MalwareDetector struct {
	keywords []string
}

// NewMalwareDetector creates the indicator detector
func NewMalwareDetector(s Settings) *MalwareDetector {
	return &MalwareDetector{keywords: s.MalwareKeywords}
}

// Name implements Detector
func (d *MalwareDetector) Name() string { return "malware" }

// Category implements Detector
func (d *MalwareDetector) Category() core.AlertCategory { return core.CategoryMalware }

// Detect titles each alert with the first keyword (in list order) found in the event
func (d *MalwareDetector) Detect(ctx context.Context, b *Batch) ([]core.Alert, error) {
	var alerts []core.Alert
	m := b.Matcher()

	for i := 0; i < b.Len(); i++ {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		kw, ok := m.FirstMatch(b.Text(i), d.keywords)
		if !ok {
			continue
		}
		ev := b.Event(i)
		alert := core.NewAlert(core.CategoryMalware, core.SeverityCritical,
			fmt.Sprintf("Potential malware detected: %s", kw),
			ev.Description,
			b.Now())
		alert.SourceIP = ev.SourceIP
		alert.DestinationIP = ev.DestinationIP
		alert.RelatedEvents = []string{ev.EventID}
		alert.Details["keyword"] = kw
		alert.Details["source"] = ev.Source.Name
		alerts = append(alerts, *alert)
	}
	return alerts, nil
}
