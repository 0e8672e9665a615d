package core

// Severity is the normalized severity of an event or alert
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// DefaultSeverity is assigned when no severity-bearing field maps
const DefaultSeverity = SeverityMedium

// String returns the string representation
func (s Severity) String() string {
	return string(s)
}

// IsValid checks if the severity is one of the known levels
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	default:
		return false
	}
}

// Rank orders severities from info (0) to critical (4). Unknown values rank -1.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return -1
	}
}

// Well-known event types produced by keyword inference. Explicit types
// supplied by a source are passed through verbatim and need not be one of these.
const (
	EventTypeAuthentication = "authentication"
	EventTypeNetwork        = "network"
	EventTypeMalware        = "malware"
	EventTypeAccessControl  = "access_control"
	EventTypeUnknown        = "unknown"
)

// AlertCategory identifies which detector raised an alert
type AlertCategory string

const (
	CategoryAuthenticationAttack AlertCategory = "authentication_attack"
	CategoryMalware              AlertCategory = "malware"
	CategoryNetworkScan          AlertCategory = "network_scan"
	CategoryDataExfiltration     AlertCategory = "data_exfiltration"
)

// AllCategories lists alert categories in detector order
var AllCategories = []AlertCategory{
	CategoryAuthenticationAttack,
	CategoryMalware,
	CategoryNetworkScan,
	CategoryDataExfiltration,
}

// String returns the string representation
func (c AlertCategory) String() string {
	return string(c)
}

// IsValid checks if the category is known
func (c AlertCategory) IsValid() bool {
	switch c {
	case CategoryAuthenticationAttack, CategoryMalware, CategoryNetworkScan, CategoryDataExfiltration:
		return true
	default:
		return false
	}
}

// AlertStatus represents the status of an alert
type AlertStatus string

const (
	// AlertStatusNew is the status of every alert the pipeline creates
	AlertStatusNew AlertStatus = "new"
	// AlertStatusAcknowledged is set by downstream consumers
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	// AlertStatusResolved is set by downstream consumers
	AlertStatusResolved AlertStatus = "resolved"
)

// String returns the string representation
func (s AlertStatus) String() string {
	return string(s)
}

// IsValid checks if the status is valid
func (s AlertStatus) IsValid() bool {
	switch s {
	case AlertStatusNew, AlertStatusAcknowledged, AlertStatusResolved:
		return true
	default:
		return false
	}
}

// SourceType is the kind of collector that produced a raw record
type SourceType string

const (
	SourceTypeAPI     SourceType = "api"
	SourceTypeFile    SourceType = "file"
	SourceTypeSyslog  SourceType = "syslog"
	SourceTypeUnknown SourceType = "unknown"
)

// String returns the string representation
func (t SourceType) String() string {
	return string(t)
}

// Raw record fields stamped by collectors
const (
	FieldSourceName     = "source_name"
	FieldSourceType     = "source_type"
	FieldCollectionTime = "collection_time"
)

// UnknownSource is used when a record carries no source name or type
const UnknownSource = "unknown"
