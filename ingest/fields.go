package ingest

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/drake-forum/technoshield/core"
)

// Field resolution order. The first key holding a non-empty value wins.
var (
	idFields          = []string{"id"}
	timestampFields   = []string{"timestamp", "time", "date", "created_at", "event_time"}
	eventTypeFields   = []string{"event_type", "type"}
	severityFields    = []string{"severity", "priority", "level", "risk"}
	descriptionFields = []string{"description", "message", "msg", "detail", "summary"}
	sourceIPFields    = []string{"source_ip", "src_ip", "ip_address", "client_ip"}
	destIPFields      = []string{"destination_ip", "dest_ip", "dst_ip"}
	userFields        = []string{"user", "username", "user_name"}
)

// inferenceRule maps keywords found in a record to an event type
type inferenceRule struct {
	eventType string
	keywords  []string
}

// inferenceRules are evaluated in order; the first rule with a matching keyword wins
var inferenceRules = []inferenceRule{
	{core.EventTypeAuthentication, []string{"login", "auth", "password", "credential"}},
	{core.EventTypeNetwork, []string{"firewall", "block", "allow", "network"}},
	{core.EventTypeMalware, []string{"malware", "virus", "trojan", "ransomware"}},
	{core.EventTypeAccessControl, []string{"permission", "access", "privilege"}},
}

// severityAliases maps lower-cased source severities onto the canonical scale
var severityAliases = map[string]core.Severity{
	"critical":  core.SeverityCritical,
	"high":      core.SeverityHigh,
	"medium":    core.SeverityMedium,
	"low":       core.SeverityLow,
	"info":      core.SeverityInfo,
	"1":         core.SeverityCritical,
	"2":         core.SeverityHigh,
	"3":         core.SeverityMedium,
	"4":         core.SeverityLow,
	"5":         core.SeverityInfo,
	"emergency": core.SeverityCritical,
	"alert":     core.SeverityCritical,
	"error":     core.SeverityCritical,
	"warning":   core.SeverityMedium,
	"notice":    core.SeverityLow,
	"debug":     core.SeverityLow,
}

// MapSeverity translates one raw severity value. ok is false for unmappable values.
func MapSeverity(raw interface{}) (core.Severity, bool) {
	s := strings.ToLower(strings.TrimSpace(core.Stringify(raw)))
	if s == "" {
		return "", false
	}
	sev, ok := severityAliases[s]
	return sev, ok
}

// InferEventType classifies lower-cased record text by keyword
func InferEventType(text string, matcher core.Matcher) string {
	for _, rule := range inferenceRules {
		if _, ok := matcher.FirstMatch(text, rule.keywords); ok {
			return rule.eventType
		}
	}
	return core.EventTypeUnknown
}

// Serialize renders v as compact JSON with sorted map keys and without HTML escaping
func Serialize(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// capitalize upper-cases the first letter and lower-cases the rest
func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(strings.ToLower(s))
	r[0] = []rune(strings.ToUpper(string(r[0])))[0]
	return string(r)
}
