package core

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in     string
		ok     bool
		hour   int
		offset int
	}{
		{"2024-01-01T23:15:00Z", true, 23, 0},
		{"2024-01-01T23:15:00+02:00", true, 23, 7200},
		{"2024-01-01T03:00:00.123456", true, 3, 0},
		{"2024-01-01 05:30:00", true, 5, 0},
		{"Mon, 02 Jan 2006 15:04:05 -0700", true, 15, -25200},
		{"2024-01-01", true, 0, 0},
		{"yesterday", false, 0, 0},
		{"", false, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseTimestamp(tt.in)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.hour, got.Hour())
			_, off := got.Zone()
			assert.Equal(t, tt.offset, off)
		})
	}
}

func TestEvent_Validate(t *testing.T) {
	e := Event{
		EventID:     "e1",
		Timestamp:   "2024-01-01T00:00:00Z",
		EventType:   EventTypeNetwork,
		Severity:    SeverityLow,
		Description: "d",
	}
	require.NoError(t, e.Validate())

	e.EventID = ""
	e.Severity = "urgent"
	err := e.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"event_id", "severity"}, verr.Fields)
}

func TestNewAlert(t *testing.T) {
	a := NewAlert(CategoryMalware, SeverityCritical, "t", "d", baseTime)
	assert.NotEmpty(t, a.AlertID)
	assert.Equal(t, AlertStatusNew, a.Status)
	assert.Equal(t, baseTime, a.CreatedAt)
	assert.NotNil(t, a.Details)

	other := NewAlert(CategoryMalware, SeverityCritical, "t", "d", baseTime)
	assert.NotEqual(t, a.AlertID, other.AlertID)

	// an alert without related events is not valid
	assert.Error(t, a.Validate())
	a.RelatedEvents = []string{"e1"}
	assert.NoError(t, a.Validate())
}

func TestAlert_CloneIsIndependent(t *testing.T) {
	a := NewAlert(CategoryNetworkScan, SeverityMedium, "t", "d", baseTime)
	a.RelatedEvents = []string{"e1"}
	a.Details["ports"] = 5

	c := a.Clone()
	c.RelatedEvents[0] = "changed"
	c.Details["ports"] = 9

	assert.Equal(t, "e1", a.RelatedEvents[0])
	assert.Equal(t, 5, a.Details["ports"])
}

func TestRawRecord_Accessors(t *testing.T) {
	r := RawRecord{
		"a":     "  x  ",
		"n":     float64(3),
		"f":     1.5,
		"empty": "",
		"nil":   nil,
	}
	assert.Equal(t, "x", r.String("a"))
	assert.Equal(t, "3", r.String("n"))
	assert.Equal(t, "1.5", r.String("f"))
	assert.Equal(t, "", r.String("missing"))
	assert.Equal(t, "x", r.FirstString("empty", "nil", "a"))

	v, ok := r.FirstPresent("nil", "missing", "n")
	require.True(t, ok)
	assert.Equal(t, float64(3), v)

	var nilRecord RawRecord
	assert.Equal(t, "", nilRecord.String("a"))
	assert.Nil(t, nilRecord.Clone())
}

func TestSeverity(t *testing.T) {
	assert.True(t, SeverityInfo.IsValid())
	assert.False(t, Severity("urgent").IsValid())
	assert.Greater(t, SeverityCritical.Rank(), SeverityHigh.Rank())
	assert.Equal(t, -1, Severity("x").Rank())
	assert.Equal(t, SeverityMedium, DefaultSeverity)
}

func TestFixedClock(t *testing.T) {
	c := NewFixedClock(baseTime)
	assert.Equal(t, baseTime, c.Now())
	c.Advance(time.Hour)
	assert.Equal(t, baseTime.Add(time.Hour), c.Now())
}
