package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/drake-forum/technoshield/config"
	"github.com/drake-forum/technoshield/core"
	"github.com/drake-forum/technoshield/pipeline"
	"github.com/drake-forum/technoshield/storage"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var cycleTime = time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

func writeEvents(t *testing.T, dir string) string {
	t.Helper()
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
	records = append(records, map[string]interface{}{
		"id":        "mal-1",
		"source_ip": "192.168.1.101",
		"message":   "EDR: ransomware behaviour detected on host ws-17",
		"severity":  "critical",
	})
	data, err := json.Marshal(map[string]interface{}{"data": map[string]interface{}{"events": records}})
	require.NoError(t, err)
	path := filepath.Join(dir, "events.json")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func writeConfig(t *testing.T, dir, eventsPath, redisAddr string) *config.Config {
	t.Helper()
	yaml := fmt.Sprintf(`
pipeline:
  parallel_detectors: true
  run_timeout: 30s
data_sources:
  - name: edr-export
    type: file
    format: json
    path: %q
    events_path: data.events
  - name: missing
    type: file
    format: json
    path: %q
storage:
  sqlite:
    enabled: true
    path: %q
  redis:
    enabled: %t
    addr: %q
    suppression_ttl: 1h
metrics:
  textfile_path: %q
`, eventsPath, filepath.Join(dir, "nope.json"), filepath.Join(dir, "data", "technoshield.db"),
		redisAddr != "", redisAddr, filepath.Join(dir, "metrics", "technoshield.prom"))

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))
	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	return cfg
}

func newTestApp(t *testing.T, redisAddr string) *App {
	t.Helper()
	dir := t.TempDir()
	cfg := writeConfig(t, dir, writeEvents(t, dir), redisAddr)

	app, err := NewApp(context.Background(), cfg,
		WithLogger(zaptest.NewLogger(t).Sugar()),
		WithClock(core.NewFixedClock(cycleTime)))
	require.NoError(t, err)
	t.Cleanup(app.Shutdown)
	return app
}

func TestApp_RunCycle(t *testing.T) {
	app := newTestApp(t, "")
	ctx := context.Background()

	report, err := app.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusSuccess, report.Status)
	assert.Equal(t, 2, report.Sources)
	assert.Equal(t, 1, report.SourcesFailed)
	assert.Equal(t, 4, report.RecordsCollected)
	assert.Equal(t, 4, report.EventsNormalized)
	assert.Equal(t, 2, report.AlertsDetected)
	assert.Equal(t, 2, report.AlertsStored)
	assert.Equal(t, 4, report.EventsStored)
	assert.Zero(t, report.AlertsSuppressed)

	stored, err := app.Storage.SQLite.ListAlerts(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	// events are keyed by id, alerts get fresh ids every cycle
	report, err = app.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.EventsStored)
	assert.Equal(t, 2, report.AlertsStored)

	prom, err := os.ReadFile(app.Config.Metrics.TextfilePath)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "technoshield_pipeline_records_normalized_total 8")
	assert.Contains(t, string(prom), `technoshield_data_collection_duration_seconds_count{source="file"} 4`)
	assert.Contains(t, string(prom), `technoshield_data_freshness_seconds{source="file"} 0`)
}

func TestApp_RunCycleSuppressesRepeats(t *testing.T) {
	mr := miniredis.RunT(t)
	app := newTestApp(t, mr.Addr())
	ctx := context.Background()

	report, err := app.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.AlertsStored)

	report, err = app.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.AlertsDetected)
	assert.Equal(t, 2, report.AlertsSuppressed)
	assert.Zero(t, report.AlertsStored)
	assert.Empty(t, report.Alerts)
	assert.Equal(t, float64(2), testutil.ToFloat64(app.Metrics.AlertsSuppressed))

	mr.FastForward(2 * time.Hour)
	report, err = app.RunCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.AlertsSuppressed)
	assert.Equal(t, 2, report.AlertsStored)
}

type downSink struct{}

func (downSink) StoreAlerts(context.Context, []core.Alert) (int, error) {
	return 0, errors.New("sink down")
}

func TestApp_RunCycleRetriesAlertsAfterStoreFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	app := newTestApp(t, mr.Addr())
	ctx := context.Background()

	healthy := app.Storage.Sinks
	broken := storage.NewMultiSink(nil, nil)
	broken.AddAlertSink("broken", downSink{})
	app.Storage.Sinks = broken

	report, err := app.RunCycle(ctx)
	require.Error(t, err)
	assert.ErrorContains(t, err, "sink down")
	assert.Equal(t, 2, report.AlertsDetected)
	assert.Zero(t, report.AlertsStored)
	assert.Empty(t, mr.Keys())

	app.Storage.Sinks = healthy
	report, err = app.RunCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.AlertsSuppressed)
	assert.Equal(t, 2, report.AlertsStored)
	assert.Len(t, mr.Keys(), 2)

	stored, err := app.Storage.SQLite.ListAlerts(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	report, err = app.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.AlertsSuppressed)
	assert.Zero(t, report.AlertsStored)
}

func TestApp_RunCycleCancelled(t *testing.T) {
	app := newTestApp(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := app.RunCycle(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrRunAborted)
	assert.Equal(t, pipeline.StatusFailed, report.Status)
	assert.Zero(t, report.AlertsStored)
}

func TestNewApp_UnreachableRedisFails(t *testing.T) {
	old := retryDelays
	retryDelays = nil
	t.Cleanup(func() { retryDelays = old })

	dir := t.TempDir()
	cfg := writeConfig(t, dir, writeEvents(t, dir), "127.0.0.1:1")
	_, err := NewApp(context.Background(), cfg, WithLogger(zaptest.NewLogger(t).Sugar()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to Redis after 1 attempts")
}

func TestNewApp_UnknownSecretProvider(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, writeEvents(t, dir), "")
	cfg.Secrets.Provider = "keychain"
	_, err := NewApp(context.Background(), cfg)
	assert.ErrorContains(t, err, "unsupported secret provider")
}
