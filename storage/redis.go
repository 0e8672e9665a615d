package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/drake-forum/technoshield/config"
	"github.com/drake-forum/technoshield/core"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const (
	// DefaultSuppressionTTL is used when the config leaves suppression_ttl at zero
	DefaultSuppressionTTL = time.Hour

	suppressionKeyPrefix = "technoshield:alert:"
)

// suppressionMarker is stored under each dedup key
type suppressionMarker struct {
	AlertID   string    `msgpack:"alert_id"`
	CreatedAt time.Time `msgpack:"created_at"`
}

// RedisSuppressor drops alerts whose dedup key was already reported within
// the TTL, across runs and processes
type RedisSuppressor struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.SugaredLogger
}

// NewRedisSuppressor connects to Redis and verifies the connection
func NewRedisSuppressor(ctx context.Context, cfg config.RedisConfig, logger *zap.SugaredLogger) (*RedisSuppressor, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: failed to connect to Redis: %v", ErrSinkUnavailable, err)
	}
	return NewRedisSuppressorWithClient(client, cfg.SuppressionTTL, logger), nil
}

// NewRedisSuppressorWithClient wraps an existing client
func NewRedisSuppressorWithClient(client *redis.Client, ttl time.Duration, logger *zap.SugaredLogger) *RedisSuppressor {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if ttl <= 0 {
		ttl = DefaultSuppressionTTL
	}
	return &RedisSuppressor{client: client, ttl: ttl, logger: logger}
}

// Filter returns the alerts not reported within the TTL and the number
// suppressed. It only reads; MarkReported claims the keys once the alerts
// are stored. When Redis fails the remaining alerts pass through and the
// error is returned alongside them.
func (r *RedisSuppressor) Filter(ctx context.Context, alerts []core.Alert) ([]core.Alert, int, error) {
	kept := make([]core.Alert, 0, len(alerts))
	suppressed := 0
	for i := range alerts {
		a := &alerts[i]
		n, err := r.client.Exists(ctx, suppressionKeyPrefix+a.DedupKey()).Result()
		if err != nil {
			r.logger.Warnw("Alert suppression unavailable, passing alerts through", "error", err)
			return append(kept, alerts[i:]...), suppressed, fmt.Errorf("suppression check failed: %w", err)
		}
		if n > 0 {
			suppressed++
			r.logger.Debugw("Suppressed repeated alert", "dedup_key", a.DedupKey(), "alert_id", a.AlertID)
			continue
		}
		kept = append(kept, *a)
	}
	return kept, suppressed, nil
}

// MarkReported claims the dedup key of every alert for the TTL and returns
// how many keys were newly claimed. Keys already held keep their marker.
func (r *RedisSuppressor) MarkReported(ctx context.Context, alerts []core.Alert) (int, error) {
	claimed := 0
	for i := range alerts {
		a := &alerts[i]
		marker, err := msgpack.Marshal(&suppressionMarker{AlertID: a.AlertID, CreatedAt: a.CreatedAt})
		if err != nil {
			return claimed, fmt.Errorf("failed to encode suppression marker: %w", err)
		}
		fresh, err := r.client.SetNX(ctx, suppressionKeyPrefix+a.DedupKey(), marker, r.ttl).Result()
		if err != nil {
			return claimed, fmt.Errorf("failed to mark alert %s reported: %w", a.AlertID, err)
		}
		if fresh {
			claimed++
		}
	}
	return claimed, nil
}

// LastReported returns the alert id that first claimed key, if any
func (r *RedisSuppressor) LastReported(ctx context.Context, dedupKey string) (string, bool, error) {
	raw, err := r.client.Get(ctx, suppressionKeyPrefix+dedupKey).Bytes()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	var m suppressionMarker
	if err := msgpack.Unmarshal(raw, &m); err != nil {
		return "", false, fmt.Errorf("corrupt suppression marker for %s: %w", dedupKey, err)
	}
	return m.AlertID, true, nil
}

// Close closes the client
func (r *RedisSuppressor) Close() error {
	return r.client.Close()
}
