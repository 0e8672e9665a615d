package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RetentionPolicy prunes old rows from the SQLite store
type RetentionPolicy struct {
	store     *SQLite
	eventDays int
	alertDays int
	logger    *zap.SugaredLogger
}

// RetentionResult reports how many rows a cleanup removed
type RetentionResult struct {
	EventsDeleted int64
	AlertsDeleted int64
}

// NewRetentionPolicy creates a policy; a zero day count disables pruning of
// that table
func NewRetentionPolicy(store *SQLite, eventDays, alertDays int, logger *zap.SugaredLogger) *RetentionPolicy {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RetentionPolicy{store: store, eventDays: eventDays, alertDays: alertDays, logger: logger}
}

// Enabled reports whether any table is pruned
func (rp *RetentionPolicy) Enabled() bool {
	return rp.eventDays > 0 || rp.alertDays > 0
}

// Cleanup deletes events processed and alerts created before the cut-offs
// relative to now
func (rp *RetentionPolicy) Cleanup(ctx context.Context, now time.Time) (RetentionResult, error) {
	var res RetentionResult
	if rp.eventDays > 0 {
		cutoff := now.AddDate(0, 0, -rp.eventDays)
		n, err := rp.store.DeleteEventsBefore(ctx, cutoff)
		if err != nil {
			return res, fmt.Errorf("failed to cleanup old events: %w", err)
		}
		res.EventsDeleted = n
	}
	if rp.alertDays > 0 {
		cutoff := now.AddDate(0, 0, -rp.alertDays)
		n, err := rp.store.DeleteAlertsBefore(ctx, cutoff)
		if err != nil {
			return res, fmt.Errorf("failed to cleanup old alerts: %w", err)
		}
		res.AlertsDeleted = n
	}
	if res.EventsDeleted > 0 || res.AlertsDeleted > 0 {
		rp.logger.Infow("Data retention cleanup completed",
			"events_deleted", res.EventsDeleted, "alerts_deleted", res.AlertsDeleted)
	}
	return res, nil
}
