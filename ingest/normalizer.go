package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/drake-forum/technoshield/core"

	"go.uber.org/zap"
)

var (
	// ErrNilRecord is reported for nil entries in a batch
	ErrNilRecord = errors.New("nil record")
	// ErrUnserializableRecord is reported when a record cannot be rendered as JSON
	ErrUnserializableRecord = errors.New("record is not serializable")
	// ErrRecordPanic is reported when normalizing a record panicked
	ErrRecordPanic = errors.New("panic while normalizing record")
)

// RecordError describes one record that was skipped
type RecordError struct {
	Index int
	Err   error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

// Unwrap returns the underlying cause
func (e RecordError) Unwrap() error {
	return e.Err
}

// generatedIDLength is the number of hex characters kept from the hash of generated event ids
const generatedIDLength = 32

// Normalizer converts raw collector records into canonical events.
// A Normalizer holds no per-batch state and may be shared between goroutines.
type Normalizer struct {
	logger  *zap.SugaredLogger
	clock   core.Clock
	matcher core.Matcher
}

// NewNormalizer creates a normalizer. nil arguments fall back to a no-op
// logger, the system clock and substring matching.
func NewNormalizer(logger *zap.SugaredLogger, clock core.Clock, matcher core.Matcher) *Normalizer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if clock == nil {
		clock = core.SystemClock{}
	}
	if matcher == nil {
		matcher = core.NewSubstringMatcher()
	}
	return &Normalizer{logger: logger, clock: clock, matcher: matcher}
}

// Normalize maps every record of the batch independently. Events keep input
// order; records that fail are logged, skipped and reported in the second return value.
func (n *Normalizer) Normalize(batch []core.RawRecord) ([]core.Event, []RecordError) {
	events := make([]core.Event, 0, len(batch))
	var failures []RecordError

	for i, rec := range batch {
		ev, err := n.NormalizeRecord(rec)
		if err != nil {
			n.logger.Warnw("Skipping record that failed normalization",
				"index", i,
				"source_name", rec.String(core.FieldSourceName),
				"error", err)
			failures = append(failures, RecordError{Index: i, Err: err})
			continue
		}
		events = append(events, ev)
	}

	n.logger.Debugf("Normalized %d of %d records", len(events), len(batch))
	return events, failures
}

// NormalizeRecord maps a single record. Panics are converted into ErrRecordPanic.
func (n *Normalizer) NormalizeRecord(rec core.RawRecord) (ev core.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			ev = core.Event{}
			err = fmt.Errorf("%w: %v", ErrRecordPanic, r)
		}
	}()

	if rec == nil {
		return core.Event{}, ErrNilRecord
	}

	serialized, err := Serialize(rec)
	if err != nil {
		return core.Event{}, fmt.Errorf("%w: %v", ErrUnserializableRecord, err)
	}

	now := n.clock.Now()

	ev = core.Event{
		EventID:       n.resolveEventID(rec, serialized, now),
		Timestamp:     n.resolveTimestamp(rec, now),
		Source:        resolveSource(rec),
		EventType:     n.resolveEventType(rec, serialized),
		Severity:      resolveSeverity(rec),
		RawData:       rec.Clone(),
		SourceIP:      rec.FirstString(sourceIPFields...),
		DestinationIP: rec.FirstString(destIPFields...),
		User:          rec.FirstString(userFields...),
		ProcessedAt:   now,
	}
	ev.Description = resolveDescription(rec, ev.EventType)

	return ev, nil
}

func (n *Normalizer) resolveEventID(rec core.RawRecord, serialized []byte, now time.Time) string {
	if id := rec.FirstString(idFields...); id != "" {
		return id
	}
	h := sha256.New()
	h.Write(serialized)
	h.Write([]byte("-"))
	h.Write([]byte(now.Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))[:generatedIDLength]
}

func (n *Normalizer) resolveTimestamp(rec core.RawRecord, now time.Time) string {
	for _, key := range timestampFields {
		if ts, ok := formatTimestamp(rec[key]); ok {
			return ts
		}
	}
	if ts, ok := formatTimestamp(rec[core.FieldCollectionTime]); ok {
		return ts
	}
	return now.Format(time.RFC3339Nano)
}

// formatTimestamp renders a raw timestamp value as ISO-8601. Unparseable
// strings are returned unchanged; empty values report false.
func formatTimestamp(v interface{}) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case time.Time:
		if t.IsZero() {
			return "", false
		}
		return t.Format(time.RFC3339Nano), true
	case float64:
		return epochToISO(t), true
	case int:
		return epochToISO(float64(t)), true
	case int64:
		return epochToISO(float64(t)), true
	}

	s := strings.TrimSpace(core.Stringify(v))
	if s == "" {
		return "", false
	}
	if parsed, ok := core.ParseTimestamp(s); ok {
		return parsed.Format(time.RFC3339Nano), true
	}
	if len(s) >= 9 {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return epochToISO(f), true
		}
	}
	return s, true
}

// epochToISO converts Unix seconds to RFC 3339. Values of 1e12 and above are read as milliseconds.
func epochToISO(v float64) string {
	if math.Abs(v) >= 1e12 {
		v /= 1000
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC().Format(time.RFC3339Nano)
}

func resolveSource(rec core.RawRecord) core.Source {
	name := rec.String(core.FieldSourceName)
	if name == "" {
		name = core.UnknownSource
	}
	typ := core.SourceType(strings.ToLower(rec.String(core.FieldSourceType)))
	switch typ {
	case core.SourceTypeAPI, core.SourceTypeFile, core.SourceTypeSyslog:
	default:
		typ = core.SourceTypeUnknown
	}
	return core.Source{Name: name, Type: typ.String()}
}

func (n *Normalizer) resolveEventType(rec core.RawRecord, serialized []byte) string {
	if explicit := rec.FirstString(eventTypeFields...); explicit != "" {
		return explicit
	}
	return InferEventType(strings.ToLower(string(serialized)), n.matcher)
}

func resolveSeverity(rec core.RawRecord) core.Severity {
	for _, key := range severityFields {
		v, ok := rec.Get(key)
		if !ok || v == nil {
			continue
		}
		if sev, ok := MapSeverity(v); ok {
			return sev
		}
	}
	return core.DefaultSeverity
}

func resolveDescription(rec core.RawRecord, eventType string) string {
	if d := rec.FirstString(descriptionFields...); d != "" {
		return d
	}
	source := rec.String(core.FieldSourceName)
	if source == "" {
		source = "unknown source"
	}
	return fmt.Sprintf("%s event from %s", capitalize(eventType), source)
}
