package detect

import (
	"context"
	"fmt"

	"github.com/drake-forum/technoshield/core"
)

// AuthAttackDetector flags source IPs with repeated failed authentications
type AuthAttackDetector struct {
	threshold int
	terms     []string
}

// NewAuthAttackDetector creates the brute-force detector
func NewAuthAttackDetector(s Settings) *AuthAttackDetector {
	return &AuthAttackDetector{threshold: s.AuthFailureThreshold, terms: s.AuthFailureTerms}
}

// Name implements Detector
func (d *AuthAttackDetector) Name() string { return "authentication" }

// Category implements Detector
func (d *AuthAttackDetector) Category() core.AlertCategory { return core.CategoryAuthenticationAttack }

// Detect emits one alert per source IP with at least threshold failed authentication events
func (d *AuthAttackDetector) Detect(ctx context.Context, b *Batch) ([]core.Alert, error) {
	var alerts []core.Alert
	m := b.Matcher()

	for _, ip := range b.SourceIPs() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var failed []int
		for _, i := range b.EventsFrom(ip) {
			if b.Event(i).EventType != core.EventTypeAuthentication {
				continue
			}
			if _, ok := m.FirstMatch(b.Text(i), d.terms); ok {
				failed = append(failed, i)
			}
		}
		if len(failed) < d.threshold {
			continue
		}

		alert := core.NewAlert(core.CategoryAuthenticationAttack, core.SeverityHigh,
			fmt.Sprintf("Potential brute force attack from %s", ip),
			fmt.Sprintf("Detected %d failed authentication attempts from %s", len(failed), ip),
			b.Now())
		alert.SourceIP = ip
		alert.RelatedEvents = b.eventIDs(failed)
		alert.Details["failed_attempts"] = len(failed)
		alert.Details["threshold"] = d.threshold
		if user := b.Event(failed[0]).User; user != "" {
			alert.Details["user"] = user
		}
		alerts = append(alerts, *alert)
	}
	return alerts, nil
}
