package storage

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"regexp"
	"time"

	"github.com/drake-forum/technoshield/config"
	"github.com/drake-forum/technoshield/core"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const (
	// DefaultEventDedupCacheSize is how many recent event ids the archive remembers
	DefaultEventDedupCacheSize = 100000

	eventsTable = "events"
)

var validDatabaseNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// eventBatch is the part of driver.Batch the archive uses
type eventBatch interface {
	Append(v ...interface{}) error
	Send() error
	Abort() error
}

// clickhouseConn is the part of driver.Conn the archive uses
type clickhouseConn interface {
	PrepareEventBatch(ctx context.Context, query string) (eventBatch, error)
	Exec(ctx context.Context, query string, args ...interface{}) error
	Close() error
}

type driverConn struct {
	driver.Conn
}

func (d driverConn) PrepareEventBatch(ctx context.Context, query string) (eventBatch, error) {
	return d.Conn.PrepareBatch(ctx, query)
}

func (d driverConn) Exec(ctx context.Context, query string, args ...interface{}) error {
	return d.Conn.Exec(ctx, query, args...)
}

// ClickHouseEventStore archives normalized events in a ReplacingMergeTree
// table keyed by event id. Recently written ids are skipped client-side.
type ClickHouseEventStore struct {
	conn       clickhouseConn
	database   string
	dedupCache *lru.Cache[string, bool]
	logger     *zap.SugaredLogger
}

// NewClickHouseEventStore connects, creates the database and table if
// needed and returns the store
func NewClickHouseEventStore(ctx context.Context, cfg config.ClickHouseConfig, logger *zap.SugaredLogger) (*ClickHouseEventStore, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if err := validateDatabaseName(cfg.Database); err != nil {
		return nil, err
	}

	options := &clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 10 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
		DialContext: func(ctx context.Context, addr string) (net.Conn, error) {
			d := net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
			return d.DialContext(ctx, "tcp", addr)
		},
	}
	if cfg.TLS {
		options.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to ClickHouse: %v", ErrSinkUnavailable, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: failed to ping ClickHouse: %v", ErrSinkUnavailable, err)
	}
	logger.Info("Connected to ClickHouse successfully")

	store, err := newClickHouseEventStore(driverConn{conn}, cfg.Database, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := store.ensureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return store, nil
}

func newClickHouseEventStore(conn clickhouseConn, database string, logger *zap.SugaredLogger) (*ClickHouseEventStore, error) {
	cache, err := lru.New[string, bool](DefaultEventDedupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	return &ClickHouseEventStore{conn: conn, database: database, dedupCache: cache, logger: logger}, nil
}

// validateDatabaseName ensures the database name is safe to interpolate
func validateDatabaseName(database string) error {
	if database == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidIdentifier)
	}
	if len(database) > 64 {
		return fmt.Errorf("%w: database name too long (max 64 characters)", ErrInvalidIdentifier)
	}
	if !validDatabaseNameRegex.MatchString(database) {
		return fmt.Errorf("%w: database name contains invalid characters", ErrInvalidIdentifier)
	}
	return nil
}

func (c *ClickHouseEventStore) ensureSchema(ctx context.Context) error {
	if err := c.conn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", c.database)); err != nil {
		return fmt.Errorf("failed to create database %s: %w", c.database, err)
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
		event_id String,
		timestamp String,
		event_time DateTime64(3, 'UTC'),
		source_name LowCardinality(String),
		source_type LowCardinality(String),
		event_type LowCardinality(String),
		severity LowCardinality(String),
		description String,
		source_ip String,
		destination_ip String,
		user String,
		raw_data String,
		processed_at DateTime64(3, 'UTC')
	) ENGINE = ReplacingMergeTree(processed_at)
	PARTITION BY toYYYYMM(event_time)
	ORDER BY (event_time, event_id)`, c.database, eventsTable)
	if err := c.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create events table: %w", err)
	}
	return nil
}

// StoreEvents sends all not-recently-seen events in one batch
func (c *ClickHouseEventStore) StoreEvents(ctx context.Context, events []core.Event) (int, error) {
	pending := make([]core.Event, 0, len(events))
	seen := make(map[string]struct{}, len(events))
	for _, e := range events {
		if _, dup := seen[e.EventID]; dup || c.dedupCache.Contains(e.EventID) {
			continue
		}
		seen[e.EventID] = struct{}{}
		pending = append(pending, e)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	batch, err := c.conn.PrepareEventBatch(ctx, fmt.Sprintf("INSERT INTO %s.%s", c.database, eventsTable))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare ClickHouse batch: %w", err)
	}

	for _, e := range pending {
		raw, err := json.Marshal(e.RawData)
		if err != nil {
			_ = batch.Abort()
			return 0, fmt.Errorf("failed to encode raw data of %s: %w", e.EventID, err)
		}
		eventTime := e.ProcessedAt
		if t, ok := e.ParsedTime(); ok {
			eventTime = t
		}
		if err := batch.Append(
			e.EventID, e.Timestamp, eventTime.UTC(),
			e.Source.Name, e.Source.Type, e.EventType, string(e.Severity),
			e.Description, e.SourceIP, e.DestinationIP, e.User,
			string(raw), e.ProcessedAt.UTC(),
		); err != nil {
			_ = batch.Abort()
			return 0, fmt.Errorf("failed to append event %s: %w", e.EventID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("failed to send ClickHouse batch: %w", err)
	}
	for _, e := range pending {
		c.dedupCache.Add(e.EventID, true)
	}
	c.logger.Debugw("Archived events", "count", len(pending), "skipped", len(events)-len(pending))
	return len(pending), nil
}

// Close closes the connection
func (c *ClickHouseEventStore) Close() error {
	return c.conn.Close()
}
