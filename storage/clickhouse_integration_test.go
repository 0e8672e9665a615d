package storage

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/drake-forum/technoshield/config"
	"github.com/drake-forum/technoshield/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"
)

const (
	clickhouseImage       = "clickhouse/clickhouse-server:24.8"
	clickhouseNativePort  = "9000/tcp"
	clickhouseHTTPPort    = "8123/tcp"
	containerStartTimeout = 120 * time.Second
)

func startClickHouse(t *testing.T) config.ClickHouseConfig {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        clickhouseImage,
			ExposedPorts: []string{clickhouseNativePort, clickhouseHTTPPort},
			Env: map[string]string{
				"CLICKHOUSE_USER":                      "default",
				"CLICKHOUSE_PASSWORD":                  "testpassword",
				"CLICKHOUSE_DEFAULT_ACCESS_MANAGEMENT": "1",
			},
			WaitingFor: wait.ForHTTP("/").
				WithPort(clickhouseHTTPPort).
				WithStartupTimeout(containerStartTimeout).
				WithResponseMatcher(func(body io.Reader) bool {
					buf, _ := io.ReadAll(body)
					return len(buf) > 0
				}),
		},
		Started: true,
	})
	require.NoError(t, err, "Failed to start ClickHouse container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate ClickHouse container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	return config.ClickHouseConfig{
		Enabled:  true,
		Addr:     []string{fmt.Sprintf("%s:%s", host, port.Port())},
		Database: "technoshield_it",
		Username: "default",
		Password: "testpassword",
	}
}

func TestClickHouseIntegration_StoreEvents(t *testing.T) {
	cfg := startClickHouse(t)
	ctx := context.Background()

	store, err := NewClickHouseEventStore(ctx, cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer store.Close()

	n, err := store.StoreEvents(ctx, []core.Event{testEvent("it-1"), testEvent("it-2")})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	conn := store.conn.(driverConn)
	var count uint64
	require.NoError(t, conn.QueryRow(ctx, "SELECT count() FROM technoshield_it.events FINAL").Scan(&count))
	assert.Equal(t, uint64(2), count)
}
