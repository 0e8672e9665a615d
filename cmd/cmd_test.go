package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/drake-forum/technoshield/bootstrap"
	"github.com/drake-forum/technoshield/core"
	"github.com/drake-forum/technoshield/pipeline"
	"github.com/drake-forum/technoshield/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scenarioRecords() []map[string]interface{} {
	var records []map[string]interface{}
	for i := 1; i <= 3; i++ {
		records = append(records, map[string]interface{}{
			"id":         fmt.Sprintf("auth-%d", i),
			"event_type": "authentication",
			"source_ip":  "192.168.1.100",
			"message":    "Failed login attempt for user admin",
			"timestamp":  "2024-01-15T08:00:00Z",
		})
	}
	return append(records, map[string]interface{}{
		"id":        "mal-1",
		"source_ip": "192.168.1.101",
		"message":   "EDR: ransomware behaviour detected on host ws-17",
		"severity":  "critical",
	})
}

func writeJSON(t *testing.T, path string, v interface{}) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func writeTestConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append(args, "--no-color"))
	err := root.Execute()
	return out.String(), err
}

func TestNewRootCmd(t *testing.T) {
	root := NewRootCmd()
	assert.Equal(t, "technoshield", root.Use)

	names := map[string]bool{}
	for _, sub := range root.Commands() {
		names[sub.Name()] = true
	}
	for _, expected := range []string{"run", "detect", "config", "alerts"} {
		assert.True(t, names[expected], "Missing command: %s", expected)
	}
	for _, flag := range []string{"json", "config", "no-color", "quiet", "log-level"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), "Missing flag: %s", flag)
	}
}

func TestDetectCmd_JSON(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, "storage:\n  sqlite:\n    enabled: false\n")
	input := writeJSON(t, filepath.Join(dir, "events.json"), scenarioRecords())

	out, err := execute(t, "detect", "--config", cfgPath, "--input", input, "--json")
	require.NoError(t, err)

	var result detectOutput
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, pipeline.StatusSuccess, result.Status)
	assert.Equal(t, 4, result.Stats.EventsNormalized)
	require.Len(t, result.Alerts, 2)
	assert.Equal(t, core.CategoryAuthenticationAttack, result.Alerts[0].EventType)
	assert.Equal(t, core.CategoryMalware, result.Alerts[1].EventType)
}

func TestDetectCmd_Table(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, "storage:\n  sqlite:\n    enabled: false\n")
	input := writeJSON(t, filepath.Join(dir, "events.json"),
		map[string]interface{}{"events": scenarioRecords()})

	out, err := execute(t, "detect", "--config", cfgPath, "--input", input, "--progress=false")
	require.NoError(t, err)
	assert.Contains(t, out, "ALERTS")
	assert.Contains(t, out, "authentication_attack")
	assert.Contains(t, out, "malware")
	assert.Contains(t, out, "Unique alerts:")
}

func TestDetectCmd_RequiresInput(t *testing.T) {
	_, err := execute(t, "detect")
	assert.ErrorContains(t, err, "input")
}

func TestReadRecords(t *testing.T) {
	dir := t.TempDir()

	list, err := readRecords(writeJSON(t, filepath.Join(dir, "a.json"), scenarioRecords()), nil)
	require.NoError(t, err)
	assert.Len(t, list, 4)

	wrapped, err := readRecords("-", strings.NewReader(`{"events": [{"message": "x"}]}`))
	require.NoError(t, err)
	require.Len(t, wrapped, 1)
	assert.Equal(t, "x", wrapped[0]["message"])

	_, err = readRecords("-", strings.NewReader(`{"items": []}`))
	assert.ErrorContains(t, err, `no "events" array`)

	_, err = readRecords("-", strings.NewReader(`not json`))
	assert.Error(t, err)

	_, err = readRecords(filepath.Join(dir, "missing.json"), nil)
	assert.ErrorContains(t, err, "failed to open input")
}

func TestConfigValidateCmd(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, `
data_sources:
  - name: vpn
    type: syslog
    path: /var/log/vpn.log
  - name: edr
    type: api
    url: https://edr.example.com/api/events
    disabled: true
storage:
  sqlite:
    enabled: true
    path: ./data/test.db
  kafka:
    enabled: true
    brokers: [localhost:9092]
    topic: alerts
`)

	out, err := execute(t, "config", "validate", "--config", cfgPath, "--json")
	require.NoError(t, err)

	var summary configSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.True(t, summary.Valid)
	assert.Equal(t, []string{"sqlite", "kafka"}, summary.Sinks)
	require.Len(t, summary.DataSources, 2)
	assert.Equal(t, "/var/log/vpn.log", summary.DataSources[0].Target)
	assert.Equal(t, "https://edr.example.com/api/events", summary.DataSources[1].Target)
	assert.False(t, summary.DataSources[1].Enabled)

	out, err = execute(t, "config", "validate", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")
	assert.Contains(t, out, "sqlite, kafka")
}

func TestConfigValidateCmd_Invalid(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, `
data_sources:
  - name: dup
    type: file
    path: a.json
  - name: dup
    type: file
    path: b.json
`)

	out, err := execute(t, "config", "validate", "--config", cfgPath, "--json")
	require.Error(t, err)

	var summary configSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.False(t, summary.Valid)
	assert.Contains(t, summary.Error, "dup")
}

func TestAlertsCmd(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "technoshield.db")
	cfgPath := writeTestConfig(t, dir, fmt.Sprintf("storage:\n  sqlite:\n    enabled: true\n    path: %q\n", dbPath))

	db, err := storage.NewSQLite(dbPath, nil)
	require.NoError(t, err)
	a := core.NewAlert(core.CategoryMalware, core.SeverityCritical, "Potential malware detected: ransomware",
		"ransomware on ws-17", time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC))
	a.SourceIP = "192.168.1.101"
	a.RelatedEvents = []string{"mal-1"}
	a.Details["malware_indicator"] = "ransomware"
	_, err = db.StoreAlerts(context.Background(), []core.Alert{*a})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	out, err := execute(t, "alerts", "list", "--config", cfgPath, "--json")
	require.NoError(t, err)
	var listed []core.Alert
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, a.AlertID, listed[0].AlertID)

	out, err = execute(t, "alerts", "show", a.AlertID, "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Potential malware detected: ransomware")
	assert.Contains(t, out, "mal-1")
	assert.Contains(t, out, "malware_indicator")

	_, err = execute(t, "alerts", "show", "nope", "--config", cfgPath)
	assert.ErrorContains(t, err, "alert nope not found")
}

func TestRunCmd_JSON(t *testing.T) {
	dir := t.TempDir()
	input := writeJSON(t, filepath.Join(dir, "events.json"), scenarioRecords())
	cfgPath := writeTestConfig(t, dir, fmt.Sprintf(`
data_sources:
  - name: export
    type: file
    format: json
    path: %q
storage:
  sqlite:
    enabled: true
    path: %q
`, input, filepath.Join(dir, "data", "technoshield.db")))

	out, err := execute(t, "run", "--config", cfgPath, "--json")
	require.NoError(t, err)

	var report bootstrap.CycleReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, pipeline.StatusSuccess, report.Status)
	assert.Equal(t, 1, report.Sources)
	assert.Equal(t, 4, report.RecordsCollected)
	assert.Equal(t, 2, report.AlertsStored)
	assert.Equal(t, 4, report.EventsStored)
}
