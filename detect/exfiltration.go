package detect

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/drake-forum/technoshield/core"
)

// Raw fields read by the exfiltration criteria
var (
	directionFields   = []string{"direction", "traffic_direction"}
	byteCountFields   = []string{"bytes_out", "bytes", "size"}
	destinationFields = []string{"destination_domain", "destination_host"}
)

const outbound = "outbound"

// ExfiltrationDetector evaluates three independent criteria per event:
// large outbound transfers, sensitive content sent to untrusted destinations,
// and sizeable outbound transfers during off-hours.
type ExfiltrationDetector struct {
	settings Settings
}

// NewExfiltrationDetector creates the exfiltration detector
func NewExfiltrationDetector(s Settings) *ExfiltrationDetector {
	return &ExfiltrationDetector{settings: s}
}

// Name implements Detector
func (d *ExfiltrationDetector) Name() string { return "exfiltration" }

// Category implements Detector
func (d *ExfiltrationDetector) Category() core.AlertCategory { return core.CategoryDataExfiltration }

// Detect may emit up to three alerts for the same event
func (d *ExfiltrationDetector) Detect(ctx context.Context, b *Batch) ([]core.Alert, error) {
	var alerts []core.Alert

	for i := 0; i < b.Len(); i++ {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		ev := b.Event(i)
		isOutbound := isOutboundTransfer(ev.RawData)
		size := TransferredBytes(ev.RawData)

		if isOutbound && size > d.settings.LargeTransferBytes {
			alerts = append(alerts, d.largeTransferAlert(b, ev, size))
		}
		if a, ok := d.unusualDestinationAlert(b, i); ok {
			alerts = append(alerts, a)
		}
		if isOutbound && size > d.settings.OffHoursTransferBytes {
			if ts, ok := ev.ParsedTime(); ok && d.settings.inOffHours(ts.Hour()) {
				alerts = append(alerts, d.offHoursAlert(b, ev, size, ts.Hour()))
			}
		}
	}
	return alerts, nil
}

func (d *ExfiltrationDetector) largeTransferAlert(b *Batch, ev *core.Event, size int64) core.Alert {
	alert := d.newAlert(b, ev, core.SeverityHigh,
		fmt.Sprintf("Large data transfer detected from %s", orUnknown(ev.SourceIP)),
		fmt.Sprintf("Large data transfer of %d bytes outbound to %s", size, orUnknown(ev.DestinationIP)))
	alert.Details["criterion"] = "large_transfer"
	alert.Details["bytes_transferred"] = size
	alert.Details["protocol"] = ev.RawData["protocol"]
	alert.Details["destination_port"] = ev.RawData["destination_port"]
	return alert
}

func (d *ExfiltrationDetector) unusualDestinationAlert(b *Batch, i int) (core.Alert, bool) {
	ev := b.Event(i)
	destination := ev.RawData.FirstString(destinationFields...)
	// bytes_out and bytes are checked independently; size does not count here
	size := max(fieldBytes(ev.RawData, "bytes_out"), fieldBytes(ev.RawData, "bytes"))
	if destination == "" || d.isTrusted(destination) || size <= 0 {
		return core.Alert{}, false
	}
	matched := b.Matcher().AllMatches(b.Text(i), d.settings.SensitiveKeywords)
	if len(matched) == 0 {
		return core.Alert{}, false
	}

	alert := d.newAlert(b, ev, core.SeverityHigh,
		"Potential data exfiltration to unusual destination",
		fmt.Sprintf("Potential data exfiltration of sensitive data to unusual destination: %s", destination))
	alert.Details["criterion"] = "unusual_destination"
	alert.Details["destination"] = destination
	alert.Details["sensitive_keywords"] = matched
	alert.Details["bytes_transferred"] = size
	return alert, true
}

func (d *ExfiltrationDetector) offHoursAlert(b *Batch, ev *core.Event, size int64, hour int) core.Alert {
	alert := d.newAlert(b, ev, core.SeverityMedium,
		"After-hours data transfer detected",
		fmt.Sprintf("Large data transfer of %d bytes detected during unusual hours (%02d:00)", size, hour))
	alert.Details["criterion"] = "off_hours"
	alert.Details["transfer_time"] = ev.Timestamp
	alert.Details["bytes_transferred"] = size
	return alert
}

func (d *ExfiltrationDetector) newAlert(b *Batch, ev *core.Event, sev core.Severity, title, desc string) core.Alert {
	alert := core.NewAlert(core.CategoryDataExfiltration, sev, title, desc, b.Now())
	alert.SourceIP = ev.SourceIP
	alert.DestinationIP = ev.DestinationIP
	alert.RelatedEvents = []string{ev.EventID}
	return *alert
}

func (d *ExfiltrationDetector) isTrusted(destination string) bool {
	dest := strings.ToLower(destination)
	for _, domain := range d.settings.TrustedDomains {
		if domain != "" && strings.Contains(dest, strings.ToLower(domain)) {
			return true
		}
	}
	return false
}

func isOutboundTransfer(raw core.RawRecord) bool {
	for _, key := range directionFields {
		if strings.EqualFold(raw.String(key), outbound) {
			return true
		}
	}
	return false
}

// TransferredBytes resolves the byte count of a transfer from the first present
// of bytes_out, bytes and size. Unparseable values count as zero.
func TransferredBytes(raw core.RawRecord) int64 {
	v, ok := raw.FirstPresent(byteCountFields...)
	if !ok {
		return 0
	}
	return coerceBytes(v)
}

func fieldBytes(raw core.RawRecord, key string) int64 {
	v, ok := raw.Get(key)
	if !ok {
		return 0
	}
	return coerceBytes(v)
}

func coerceBytes(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case float32:
		return int64(n)
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint64:
		return int64(n)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

func orUnknown(s string) string {
	if s == "" {
		return core.UnknownSource
	}
	return s
}
