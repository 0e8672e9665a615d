package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Alert is a candidate security finding raised by a detector
type Alert struct {
	AlertID       string                 `json:"alert_id" bson:"_id" example:"3f2b..."`
	Title         string                 `json:"title" bson:"title"`
	Description   string                 `json:"description" bson:"description"`
	Severity      Severity               `json:"severity" bson:"severity" example:"high"`
	EventType     AlertCategory          `json:"event_type" bson:"event_type" example:"authentication_attack"`
	SourceIP      string                 `json:"source_ip,omitempty" bson:"source_ip,omitempty"`
	DestinationIP string                 `json:"destination_ip,omitempty" bson:"destination_ip,omitempty"`
	CreatedAt     time.Time              `json:"created_at" bson:"created_at"`
	RelatedEvents []string               `json:"related_events" bson:"related_events"`
	Status        AlertStatus            `json:"status" bson:"status" example:"new"`
	Details       map[string]interface{} `json:"details,omitempty" bson:"details,omitempty"`
}

// NewAlert creates an alert with a fresh UUID, status new and the given creation instant
func NewAlert(category AlertCategory, severity Severity, title, description string, createdAt time.Time) *Alert {
	return &Alert{
		AlertID:     uuid.New().String(),
		Title:       title,
		Description: description,
		Severity:    severity,
		EventType:   category,
		CreatedAt:   createdAt,
		Status:      AlertStatusNew,
		Details:     make(map[string]interface{}),
	}
}

// DedupKey returns the grouping key used to merge alerts describing the same condition
func (a *Alert) DedupKey() string {
	ip := a.SourceIP
	if ip == "" {
		ip = UnknownSource
	}
	return fmt.Sprintf("%s:%s:%s", a.EventType, ip, a.Severity)
}

// Clone returns a copy that shares no slices or maps with a
func (a *Alert) Clone() Alert {
	out := *a
	if a.RelatedEvents != nil {
		out.RelatedEvents = append([]string(nil), a.RelatedEvents...)
	}
	if a.Details != nil {
		out.Details = make(map[string]interface{}, len(a.Details))
		for k, v := range a.Details {
			out.Details[k] = v
		}
	}
	return out
}

// Validate checks the fields every alert must carry
func (a *Alert) Validate() error {
	var missing []string
	if a.AlertID == "" {
		missing = append(missing, "alert_id")
	}
	if a.Title == "" {
		missing = append(missing, "title")
	}
	if !a.EventType.IsValid() {
		missing = append(missing, "event_type")
	}
	if !a.Severity.IsValid() || a.Severity == SeverityInfo {
		missing = append(missing, "severity")
	}
	if len(a.RelatedEvents) == 0 {
		missing = append(missing, "related_events")
	}
	if len(missing) > 0 {
		return &ValidationError{Entity: "alert", Fields: missing}
	}
	return nil
}
