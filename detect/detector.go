package detect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/drake-forum/technoshield/core"
	"github.com/drake-forum/technoshield/ingest"
)

// ErrDetectorPanic marks a detector that panicked and was isolated
var ErrDetectorPanic = errors.New("detector panicked")

// Detector evaluates one correlation rule over a normalized batch.
// Implementations must not retain or modify the batch.
type Detector interface {
	Name() string
	Category() core.AlertCategory
	Detect(ctx context.Context, batch *Batch) ([]core.Alert, error)
}

// DetectorError records a detector whose contribution was discarded
type DetectorError struct {
	Detector string
	Err      error
}

func (e *DetectorError) Error() string {
	return fmt.Sprintf("detector %s: %v", e.Detector, e.Err)
}

// Unwrap returns the underlying cause
func (e *DetectorError) Unwrap() error {
	return e.Err
}

// Batch is the read-only view detectors share: the events, their lower-cased
// serialized text and the events grouped by source IP.
type Batch struct {
	events  []core.Event
	texts   []string
	ipOrder []string
	byIP    map[string][]int
	matcher core.Matcher
	clock   core.Clock
}

// NewBatch indexes events for detection. nil matcher and clock use the defaults.
func NewBatch(events []core.Event, matcher core.Matcher, clock core.Clock) *Batch {
	if matcher == nil {
		matcher = core.NewSubstringMatcher()
	}
	if clock == nil {
		clock = core.SystemClock{}
	}
	b := &Batch{
		events:  events,
		texts:   make([]string, len(events)),
		byIP:    make(map[string][]int),
		matcher: matcher,
		clock:   clock,
	}
	for i := range events {
		b.texts[i] = eventText(&events[i])
		ip := events[i].SourceIP
		if ip == "" {
			continue
		}
		if _, seen := b.byIP[ip]; !seen {
			b.ipOrder = append(b.ipOrder, ip)
		}
		b.byIP[ip] = append(b.byIP[ip], i)
	}
	return b
}

func eventText(ev *core.Event) string {
	data, err := ingest.Serialize(ev)
	if err != nil {
		return strings.ToLower(fmt.Sprintf("%s %s %v", ev.EventType, ev.Description, map[string]interface{}(ev.RawData)))
	}
	return strings.ToLower(string(data))
}

// Len returns the number of events
func (b *Batch) Len() int {
	return len(b.events)
}

// Event returns the i-th event
func (b *Batch) Event(i int) *core.Event {
	return &b.events[i]
}

// Text returns the lower-cased serialized form of the i-th event
func (b *Batch) Text(i int) string {
	return b.texts[i]
}

// SourceIPs returns the distinct source IPs in first-appearance order
func (b *Batch) SourceIPs() []string {
	return b.ipOrder
}

// EventsFrom returns the indices of events from ip, in batch order
func (b *Batch) EventsFrom(ip string) []int {
	return b.byIP[ip]
}

// Matcher returns the keyword matcher
func (b *Batch) Matcher() core.Matcher {
	return b.matcher
}

// Now returns the instant new alerts are stamped with
func (b *Batch) Now() time.Time {
	return b.clock.Now()
}

// eventIDs collects the ids of the events at idx
func (b *Batch) eventIDs(idx []int) []string {
	ids := make([]string, 0, len(idx))
	for _, i := range idx {
		ids = append(ids, b.events[i].EventID)
	}
	return ids
}
