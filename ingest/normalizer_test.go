package ingest

import (
	"math"
	"testing"
	"time"

	"github.com/drake-forum/technoshield/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

var fixedNow = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func newTestNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	return NewNormalizer(zaptest.NewLogger(t).Sugar(), core.NewFixedClock(fixedNow), nil)
}

func TestNormalize_EmptyBatch(t *testing.T) {
	n := newTestNormalizer(t)
	events, failures := n.Normalize(nil)
	assert.Empty(t, events)
	assert.Empty(t, failures)
}

func TestNormalize_PreservesOrderAndCount(t *testing.T) {
	n := newTestNormalizer(t)
	batch := []core.RawRecord{
		{"id": "a", "message": "first"},
		{"id": "b", "message": "second"},
		{"id": "c", "message": "third"},
	}

	events, failures := n.Normalize(batch)
	require.Empty(t, failures)
	require.Len(t, events, 3)
	assert.Equal(t, "a", events[0].EventID)
	assert.Equal(t, "b", events[1].EventID)
	assert.Equal(t, "c", events[2].EventID)
}

func TestNormalize_SkipsBadRecords(t *testing.T) {
	obs, logs := observer.New(zap.WarnLevel)
	n := NewNormalizer(zap.New(obs).Sugar(), core.NewFixedClock(fixedNow), nil)

	batch := []core.RawRecord{
		{"id": "ok-1"},
		nil,
		{"id": "bad", "value": math.NaN()},
		{"id": "ok-2"},
	}

	events, failures := n.Normalize(batch)
	require.Len(t, events, 2)
	assert.Equal(t, "ok-1", events[0].EventID)
	assert.Equal(t, "ok-2", events[1].EventID)

	require.Len(t, failures, 2)
	assert.Equal(t, 1, failures[0].Index)
	assert.ErrorIs(t, failures[0], ErrNilRecord)
	assert.Equal(t, 2, failures[1].Index)
	assert.ErrorIs(t, failures[1], ErrUnserializableRecord)

	assert.Equal(t, 2, logs.FilterMessage("Skipping record that failed normalization").Len())
}

func TestNormalizeRecord_RequiredFieldsAlwaysSet(t *testing.T) {
	n := newTestNormalizer(t)
	ev, err := n.NormalizeRecord(core.RawRecord{})
	require.NoError(t, err)

	require.NoError(t, ev.Validate())
	assert.Len(t, ev.EventID, generatedIDLength)
	assert.Equal(t, fixedNow.Format(time.RFC3339Nano), ev.Timestamp)
	assert.Equal(t, core.EventTypeUnknown, ev.EventType)
	assert.Equal(t, core.SeverityMedium, ev.Severity)
	assert.Equal(t, "Unknown event from unknown source", ev.Description)
	assert.Equal(t, core.Source{Name: "unknown", Type: "unknown"}, ev.Source)
	assert.Equal(t, fixedNow, ev.ProcessedAt)
}

func TestNormalizeRecord_GeneratedIDIsDeterministic(t *testing.T) {
	n := newTestNormalizer(t)
	rec := core.RawRecord{"b": 1, "a": "x"}

	first, err := n.NormalizeRecord(rec)
	require.NoError(t, err)
	second, err := n.NormalizeRecord(core.RawRecord{"a": "x", "b": 1})
	require.NoError(t, err)
	assert.Equal(t, first.EventID, second.EventID)

	other, err := n.NormalizeRecord(core.RawRecord{"a": "y", "b": 1})
	require.NoError(t, err)
	assert.NotEqual(t, first.EventID, other.EventID)
}

func TestNormalizeRecord_Timestamp(t *testing.T) {
	tests := []struct {
		name string
		rec  core.RawRecord
		want string
	}{
		{"timestamp field", core.RawRecord{"timestamp": "2024-01-01T10:00:00Z"}, "2024-01-01T10:00:00Z"},
		{"time before date", core.RawRecord{"time": "2024-01-02T10:00:00+02:00", "date": "2024-01-03"}, "2024-01-02T10:00:00+02:00"},
		{"naive read as utc", core.RawRecord{"created_at": "2024-01-01 23:30:00"}, "2024-01-01T23:30:00Z"},
		{"epoch seconds", core.RawRecord{"event_time": float64(1704067200)}, "2024-01-01T00:00:00Z"},
		{"epoch millis", core.RawRecord{"timestamp": float64(1704067200000)}, "2024-01-01T00:00:00Z"},
		{"unparseable kept", core.RawRecord{"timestamp": "last tuesday"}, "last tuesday"},
		{"empty skipped", core.RawRecord{"timestamp": "", "date": "2024-02-02T00:00:00Z"}, "2024-02-02T00:00:00Z"},
		{"collection time fallback", core.RawRecord{"collection_time": "2024-03-03T03:03:03Z"}, "2024-03-03T03:03:03Z"},
	}
	n := newTestNormalizer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := n.NormalizeRecord(tt.rec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev.Timestamp)
		})
	}
}

func TestNormalizeRecord_Severity(t *testing.T) {
	tests := []struct {
		name string
		rec  core.RawRecord
		want core.Severity
	}{
		{"direct", core.RawRecord{"severity": "HIGH"}, core.SeverityHigh},
		{"numeric string", core.RawRecord{"severity": "1"}, core.SeverityCritical},
		{"numeric value", core.RawRecord{"priority": float64(4)}, core.SeverityLow},
		{"syslog error", core.RawRecord{"level": "error"}, core.SeverityCritical},
		{"syslog warning", core.RawRecord{"level": "warning"}, core.SeverityMedium},
		{"syslog debug", core.RawRecord{"level": "debug"}, core.SeverityLow},
		{"unmappable falls through", core.RawRecord{"severity": "urgent", "risk": "low"}, core.SeverityLow},
		{"out of scale number", core.RawRecord{"priority": float64(9)}, core.SeverityMedium},
		{"none", core.RawRecord{"message": "x"}, core.SeverityMedium},
	}
	n := newTestNormalizer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := n.NormalizeRecord(tt.rec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev.Severity)
		})
	}
}

func TestNormalizeRecord_EventType(t *testing.T) {
	tests := []struct {
		name string
		rec  core.RawRecord
		want string
	}{
		{"explicit event_type", core.RawRecord{"event_type": "custom_thing"}, "custom_thing"},
		{"explicit type", core.RawRecord{"type": "dns"}, "dns"},
		{"empty explicit ignored", core.RawRecord{"event_type": "", "message": "user login ok"}, core.EventTypeAuthentication},
		{"authentication wins over network", core.RawRecord{"message": "firewall blocked login"}, core.EventTypeAuthentication},
		{"network", core.RawRecord{"message": "firewall allow tcp"}, core.EventTypeNetwork},
		{"malware", core.RawRecord{"message": "trojan found"}, core.EventTypeMalware},
		{"access control", core.RawRecord{"message": "privilege escalation"}, core.EventTypeAccessControl},
		{"unknown", core.RawRecord{"message": "disk full"}, core.EventTypeUnknown},
	}
	n := newTestNormalizer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := n.NormalizeRecord(tt.rec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev.EventType)
		})
	}
}

func TestNormalizeRecord_DescriptionAndSource(t *testing.T) {
	n := newTestNormalizer(t)

	ev, err := n.NormalizeRecord(core.RawRecord{"msg": "short", "summary": "long"})
	require.NoError(t, err)
	assert.Equal(t, "short", ev.Description)

	ev, err = n.NormalizeRecord(core.RawRecord{
		"event_type":  "AUTHENTICATION",
		"source_name": "vpn",
		"source_type": "syslog",
	})
	require.NoError(t, err)
	assert.Equal(t, "Authentication event from vpn", ev.Description)
	assert.Equal(t, core.Source{Name: "vpn", Type: "syslog"}, ev.Source)

	ev, err = n.NormalizeRecord(core.RawRecord{"source_type": "kafka"})
	require.NoError(t, err)
	assert.Equal(t, "unknown", ev.Source.Type)
}

func TestNormalizeRecord_Aliases(t *testing.T) {
	n := newTestNormalizer(t)
	rec := core.RawRecord{
		"ip_address": "10.0.0.1",
		"dst_ip":     "10.0.0.2",
		"username":   "alice",
	}
	ev, err := n.NormalizeRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", ev.SourceIP)
	assert.Equal(t, "10.0.0.2", ev.DestinationIP)
	assert.Equal(t, "alice", ev.User)

	// raw data is a copy of the input
	rec["ip_address"] = "changed"
	assert.Equal(t, "10.0.0.1", ev.RawData["ip_address"])
}

func TestMapSeverity(t *testing.T) {
	sev, ok := MapSeverity(" Critical ")
	assert.True(t, ok)
	assert.Equal(t, core.SeverityCritical, sev)

	_, ok = MapSeverity(nil)
	assert.False(t, ok)
}

func TestCapitalize(t *testing.T) {
	assert.Equal(t, "Network", capitalize("NETWORK"))
	assert.Equal(t, "", capitalize(""))
}
