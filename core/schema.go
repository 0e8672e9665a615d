package core

import (
	"strings"
	"time"
)

// Source identifies the collector a record came from
type Source struct {
	Name string `json:"name" bson:"name" example:"firewall-logs"`
	Type string `json:"type" bson:"type" example:"syslog"`
}

// Event is the canonical, normalized shape of one security record.
// Events are created by the normalizer and never modified afterwards.
type Event struct {
	EventID       string    `json:"event_id" bson:"event_id" example:"evt-1"`
	Timestamp     string    `json:"timestamp" bson:"timestamp" example:"2023-10-31T12:00:00Z"`
	Source        Source    `json:"source" bson:"source"`
	EventType     string    `json:"event_type" bson:"event_type" example:"authentication"`
	Severity      Severity  `json:"severity" bson:"severity" example:"medium"`
	Description   string    `json:"description" bson:"description"`
	RawData       RawRecord `json:"raw_data" bson:"raw_data"`
	SourceIP      string    `json:"source_ip,omitempty" bson:"source_ip,omitempty" example:"192.168.1.100"`
	DestinationIP string    `json:"destination_ip,omitempty" bson:"destination_ip,omitempty"`
	User          string    `json:"user,omitempty" bson:"user,omitempty"`
	ProcessedAt   time.Time `json:"processed_at" bson:"processed_at"`
}

// Validate checks the fields every normalized event must carry
func (e *Event) Validate() error {
	var missing []string
	if e.EventID == "" {
		missing = append(missing, "event_id")
	}
	if e.Timestamp == "" {
		missing = append(missing, "timestamp")
	}
	if e.EventType == "" {
		missing = append(missing, "event_type")
	}
	if !e.Severity.IsValid() {
		missing = append(missing, "severity")
	}
	if e.Description == "" {
		missing = append(missing, "description")
	}
	if len(missing) > 0 {
		return &ValidationError{Entity: "event", Fields: missing}
	}
	return nil
}

// ParsedTime parses Timestamp. The boolean is false when it is not a recognizable instant.
func (e *Event) ParsedTime() (time.Time, bool) {
	return ParseTimestamp(e.Timestamp)
}

// RawString returns a raw field rendered as a trimmed string
func (e *Event) RawString(key string) string {
	return e.RawData.String(key)
}

// timestampLayouts are tried in order by ParseTimestamp. Layouts without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	"2006-01-02",
}

// ParseTimestamp parses the timestamp formats produced by collectors
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
