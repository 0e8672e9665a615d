package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/drake-forum/technoshield/config"
	"github.com/drake-forum/technoshield/storage"

	"go.uber.org/zap"
)

// retryDelays are the waits between connection attempts to network sinks
var retryDelays = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

// StorageComponents holds every enabled sink
type StorageComponents struct {
	SQLite     *storage.SQLite
	ClickHouse *storage.ClickHouseEventStore
	MongoDB    *storage.MongoAlertStore
	Kafka      *storage.KafkaAlertPublisher
	Suppressor *storage.RedisSuppressor
	Retention  *storage.RetentionPolicy
	Sinks      *storage.MultiSink
}

// Close closes every sink and the suppressor
func (s *StorageComponents) Close() error {
	var errs []error
	if s.Sinks != nil {
		errs = append(errs, s.Sinks.Close())
	}
	if s.Suppressor != nil {
		errs = append(errs, s.Suppressor.Close())
	}
	return errors.Join(errs...)
}

// InitStorage opens every enabled sink. An enabled sink that cannot be
// reached is fatal; whatever was opened before it is closed again.
func InitStorage(ctx context.Context, cfg config.StorageConfig, metrics storage.StoreMetrics, sugar *zap.SugaredLogger) (*StorageComponents, error) {
	sc := &StorageComponents{Sinks: storage.NewMultiSink(sugar, metrics)}
	ok := false
	defer func() {
		if !ok {
			_ = sc.Close()
		}
	}()

	if cfg.SQLite.Enabled {
		sqlite, err := storage.NewSQLite(cfg.SQLite.Path, sugar)
		if err != nil {
			fmt.Fprintf(os.Stderr, "\n%s\n\n", ClassifySQLiteError(err, cfg.SQLite.Path))
			return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
		}
		sc.SQLite = sqlite
		sc.Sinks.AddAlertSink("sqlite", sqlite)
		sc.Sinks.AddEventSink("sqlite", sqlite)
		sc.Retention = storage.NewRetentionPolicy(sqlite,
			cfg.SQLite.EventRetentionDays, cfg.SQLite.AlertRetentionDays, sugar)
	}

	if cfg.ClickHouse.Enabled {
		addr := strings.Join(cfg.ClickHouse.Addr, ",")
		ch, err := connectWithRetry(ctx, "ClickHouse", addr, sugar, func() (*storage.ClickHouseEventStore, error) {
			return storage.NewClickHouseEventStore(ctx, cfg.ClickHouse, sugar)
		})
		if err != nil {
			return nil, err
		}
		sc.ClickHouse = ch
		sc.Sinks.AddEventSink("clickhouse", ch)
	}

	if cfg.MongoDB.Enabled {
		mongo, err := connectWithRetry(ctx, "MongoDB", cfg.MongoDB.URI, sugar, func() (*storage.MongoAlertStore, error) {
			return storage.NewMongoAlertStore(ctx, cfg.MongoDB, sugar)
		})
		if err != nil {
			return nil, err
		}
		sc.MongoDB = mongo
		sc.Sinks.AddAlertSink("mongodb", mongo)
	}

	if cfg.Kafka.Enabled {
		addr := strings.Join(cfg.Kafka.Brokers, ",")
		kafka, err := connectWithRetry(ctx, "Kafka", addr, sugar, func() (*storage.KafkaAlertPublisher, error) {
			return storage.NewKafkaAlertPublisher(cfg.Kafka, sugar)
		})
		if err != nil {
			return nil, err
		}
		sc.Kafka = kafka
		sc.Sinks.AddAlertSink("kafka", kafka)
	}

	if cfg.Redis.Enabled {
		suppressor, err := connectWithRetry(ctx, "Redis", cfg.Redis.Addr, sugar, func() (*storage.RedisSuppressor, error) {
			return storage.NewRedisSuppressor(ctx, cfg.Redis, sugar)
		})
		if err != nil {
			return nil, err
		}
		sc.Suppressor = suppressor
	}

	if len(sc.Sinks.AlertSinks()) == 0 {
		sugar.Warn("No alert sink enabled; alerts will only be reported")
	}
	ok = true
	return sc, nil
}

// connectWithRetry calls connect until it succeeds or retryDelays are used up
func connectWithRetry[T any](ctx context.Context, service, addr string, sugar *zap.SugaredLogger, connect func() (T, error)) (T, error) {
	var (
		result  T
		lastErr error
	)
	for attempt := 0; attempt <= len(retryDelays); attempt++ {
		if attempt > 0 {
			delay := retryDelays[attempt-1]
			sugar.Infow("Retrying connection",
				"service", service,
				"attempt", attempt,
				"max_retries", len(retryDelays),
				"delay", delay)
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, lastErr = connect()
		if lastErr == nil {
			return result, nil
		}
		sugar.Warnw("Connection attempt failed",
			"service", service,
			"attempt", attempt+1,
			"error", lastErr)
	}

	fmt.Fprintf(os.Stderr, "\n========================================\n")
	fmt.Fprintf(os.Stderr, "FATAL: %s Connection Failed\n", service)
	fmt.Fprintf(os.Stderr, "========================================\n")
	fmt.Fprintf(os.Stderr, "%s\n", ClassifyConnectionError(lastErr, service, addr))
	fmt.Fprintf(os.Stderr, "========================================\n\n")
	return result, fmt.Errorf("failed to connect to %s after %d attempts: %w", service, len(retryDelays)+1, lastErr)
}
