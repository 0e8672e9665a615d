package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/drake-forum/technoshield/core"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite is the local alert and event store.
// Writes go through a single-connection pool; reads use a query_only pool.
type SQLite struct {
	WriteDB *sql.DB
	ReadDB  *sql.DB
	Path    string
	Logger  *zap.SugaredLogger
}

// configureSQLiteConnection sets up WAL mode and busy timeout
func configureSQLiteConnection(db *sql.DB, logger *zap.SugaredLogger, dbPath string, poolType string) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to read journal mode: %w", err)
	}
	// in-memory databases report "memory" and cannot use WAL
	if !strings.EqualFold(journalMode, "wal") {
		logger.Debugw("SQLite journal mode is not WAL", "pool", poolType, "path", dbPath, "mode", journalMode)
	}
	return nil
}

// NewSQLite opens (creating if needed) the database at dbPath
func NewSQLite(dbPath string, logger *zap.SugaredLogger) (*SQLite, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if err := validateDatabasePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	dir := filepath.Dir(dbPath)
	if dbPath != ":memory:" && dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	actualPath := dbPath
	if dbPath == ":memory:" {
		// shared cache so both pools see the same in-memory database
		actualPath = fmt.Sprintf("file:technoshield-%d?mode=memory&cache=shared", time.Now().UnixNano())
	}

	writeDB, err := sql.Open("sqlite", actualPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite write database: %w", err)
	}
	if err := configureSQLiteConnection(writeDB, logger, dbPath, "write"); err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to configure write connection: %w", err)
	}
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)
	writeDB.SetConnMaxLifetime(0)

	readDB, err := sql.Open("sqlite", actualPath)
	if err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to open SQLite read database: %w", err)
	}
	if err := configureSQLiteConnection(readDB, logger, dbPath, "read"); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to configure read connection: %w", err)
	}
	if _, err := readDB.Exec("PRAGMA query_only=ON"); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to enable query_only mode on read pool: %w", err)
	}
	// query_only is per connection, so the read pool keeps a single one
	readDB.SetMaxOpenConns(1)
	readDB.SetMaxIdleConns(1)
	readDB.SetConnMaxLifetime(0)

	s := &SQLite{WriteDB: writeDB, ReadDB: readDB, Path: dbPath, Logger: logger}
	if err := s.createTables(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Infof("SQLite database initialized at %s", dbPath)
	return s, nil
}

// timestampLayout is fixed width so stored timestamps compare correctly as text
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func (s *SQLite) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS alerts (
		alert_id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		severity TEXT NOT NULL,
		event_type TEXT NOT NULL,
		source_ip TEXT,
		destination_ip TEXT,
		created_at TEXT NOT NULL,
		related_events TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'new',
		details TEXT,
		stored_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at);
	CREATE INDEX IF NOT EXISTS idx_alerts_event_type ON alerts(event_type);

	CREATE TABLE IF NOT EXISTS events (
		event_id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		source_name TEXT NOT NULL,
		source_type TEXT NOT NULL,
		event_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		description TEXT NOT NULL,
		source_ip TEXT,
		destination_ip TEXT,
		user_name TEXT,
		raw_data TEXT,
		processed_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_source_ip ON events(source_ip);
	`
	_, err := s.WriteDB.Exec(schema)
	return err
}

// WithTransaction executes fn within a write transaction, rolling back on error or panic
func (s *SQLite) WithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.WriteDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("failed to rollback transaction (original error: %w, rollback error: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// StoreAlerts inserts alerts, ignoring ids already present
func (s *SQLite) StoreAlerts(ctx context.Context, alerts []core.Alert) (int, error) {
	if len(alerts) == 0 {
		return 0, nil
	}
	storedAt := time.Now().UTC().Format(timestampLayout)
	inserted := 0

	err := s.WithTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO alerts
			(alert_id, title, description, severity, event_type, source_ip, destination_ip,
			 created_at, related_events, status, details, stored_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare alert insert: %w", err)
		}
		defer stmt.Close()

		for _, a := range alerts {
			related, err := json.Marshal(a.RelatedEvents)
			if err != nil {
				return fmt.Errorf("failed to encode related events of %s: %w", a.AlertID, err)
			}
			details, err := json.Marshal(a.Details)
			if err != nil {
				return fmt.Errorf("failed to encode details of %s: %w", a.AlertID, err)
			}
			res, err := stmt.ExecContext(ctx,
				a.AlertID, a.Title, a.Description, string(a.Severity), string(a.EventType),
				a.SourceIP, a.DestinationIP, a.CreatedAt.UTC().Format(timestampLayout),
				string(related), string(a.Status), string(details), storedAt)
			if err != nil {
				return fmt.Errorf("failed to insert alert %s: %w", a.AlertID, err)
			}
			if n, err := res.RowsAffected(); err == nil {
				inserted += int(n)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// StoreEvents inserts events, ignoring ids already present
func (s *SQLite) StoreEvents(ctx context.Context, events []core.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	inserted := 0

	err := s.WithTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO events
			(event_id, timestamp, source_name, source_type, event_type, severity, description,
			 source_ip, destination_ip, user_name, raw_data, processed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare event insert: %w", err)
		}
		defer stmt.Close()

		for _, e := range events {
			raw, err := json.Marshal(e.RawData)
			if err != nil {
				return fmt.Errorf("failed to encode raw data of %s: %w", e.EventID, err)
			}
			res, err := stmt.ExecContext(ctx,
				e.EventID, e.Timestamp, e.Source.Name, e.Source.Type, e.EventType,
				string(e.Severity), e.Description, e.SourceIP, e.DestinationIP, e.User,
				string(raw), e.ProcessedAt.UTC().Format(timestampLayout))
			if err != nil {
				return fmt.Errorf("failed to insert event %s: %w", e.EventID, err)
			}
			if n, err := res.RowsAffected(); err == nil {
				inserted += int(n)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

const alertColumns = `alert_id, title, description, severity, event_type, source_ip,
	destination_ip, created_at, related_events, status, details`

// GetAlert loads one alert by id
func (s *SQLite) GetAlert(ctx context.Context, id string) (*core.Alert, error) {
	row := s.ReadDB.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE alert_id = ?`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListAlerts returns the most recently created alerts, newest first
func (s *SQLite) ListAlerts(ctx context.Context, limit int) ([]core.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.ReadDB.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM alerts ORDER BY created_at DESC, alert_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []core.Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

// CountEvents returns the number of stored events
func (s *SQLite) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	err := s.ReadDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}

// DeleteEventsBefore removes events processed before cutoff
func (s *SQLite) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.deleteBefore(ctx, `DELETE FROM events WHERE processed_at < ?`, cutoff)
}

// DeleteAlertsBefore removes alerts created before cutoff
func (s *SQLite) DeleteAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.deleteBefore(ctx, `DELETE FROM alerts WHERE created_at < ?`, cutoff)
}

func (s *SQLite) deleteBefore(ctx context.Context, query string, cutoff time.Time) (int64, error) {
	if s.WriteDB == nil {
		return 0, ErrDatabaseClosed
	}
	res, err := s.WriteDB.ExecContext(ctx, query, cutoff.UTC().Format(timestampLayout))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (*core.Alert, error) {
	var (
		a                                             core.Alert
		severity, category, status, createdAt, related string
		sourceIP, destIP, details                     sql.NullString
	)
	if err := row.Scan(&a.AlertID, &a.Title, &a.Description, &severity, &category,
		&sourceIP, &destIP, &createdAt, &related, &status, &details); err != nil {
		return nil, err
	}
	a.Severity = core.Severity(severity)
	a.EventType = core.AlertCategory(category)
	a.Status = core.AlertStatus(status)
	a.SourceIP = sourceIP.String
	a.DestinationIP = destIP.String

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("alert %s has invalid created_at: %w", a.AlertID, err)
	}
	a.CreatedAt = t

	if err := json.Unmarshal([]byte(related), &a.RelatedEvents); err != nil {
		return nil, fmt.Errorf("alert %s has invalid related_events: %w", a.AlertID, err)
	}
	if details.Valid && details.String != "" && details.String != "null" {
		if err := json.Unmarshal([]byte(details.String), &a.Details); err != nil {
			return nil, fmt.Errorf("alert %s has invalid details: %w", a.AlertID, err)
		}
	}
	return &a, nil
}

// HealthCheck pings both pools
func (s *SQLite) HealthCheck(ctx context.Context) error {
	if s.WriteDB == nil || s.ReadDB == nil {
		return ErrDatabaseClosed
	}
	if err := s.WriteDB.PingContext(ctx); err != nil {
		return fmt.Errorf("write pool: %w", err)
	}
	if err := s.ReadDB.PingContext(ctx); err != nil {
		return fmt.Errorf("read pool: %w", err)
	}
	return nil
}

// Close closes both pools
func (s *SQLite) Close() error {
	var errs []error
	if s.ReadDB != nil {
		errs = append(errs, s.ReadDB.Close())
		s.ReadDB = nil
	}
	if s.WriteDB != nil {
		errs = append(errs, s.WriteDB.Close())
		s.WriteDB = nil
	}
	return errors.Join(errs...)
}

// validateDatabasePath rejects empty paths and parent-directory traversal
func validateDatabasePath(dbPath string) error {
	if dbPath == "" {
		return errors.New("database path cannot be empty")
	}
	if dbPath == ":memory:" {
		return nil
	}
	for _, part := range strings.Split(filepath.ToSlash(dbPath), "/") {
		if part == ".." {
			return errors.New("database path must not contain '..'")
		}
	}
	return nil
}
