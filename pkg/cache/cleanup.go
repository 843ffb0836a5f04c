package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/rakha/ingat/internal/metrics"
	"github.com/rakha/ingat/pkg/store"
	"github.com/robfig/cron/v3"
)

// Cleanup deletes sessions idle longer than retentionDays and returns how
// many were removed. The scan is a snapshot: each candidate is re-checked
// under its session lock before deletion, so a session touched after the
// scan survives. Safe to run concurrently with itself and with live turns.
func (m *Manager) Cleanup(retentionDays int) (int, error) {
	if retentionDays < 0 {
		return 0, fmt.Errorf("retention days cannot be negative, got %d", retentionDays)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	ids, err := m.store.StaleSessions(cutoff)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, id := range ids {
		lock := m.sessionLock(id)
		lock.Lock()

		updated, err := m.store.UpdatedAt(id)
		if errors.Is(err, store.ErrNotFound) {
			// Removed since the scan, by another cleanup or a delete.
			lock.Unlock()
			continue
		}
		if err != nil {
			lock.Unlock()
			return deleted, err
		}
		if !updated.Before(cutoff) {
			// Touched since the scan; no longer stale.
			lock.Unlock()
			continue
		}

		if err := m.store.Delete(id); err != nil {
			lock.Unlock()
			return deleted, err
		}
		deleted++
		metrics.RecordSessionDeleted()
		lock.Unlock()
	}

	metrics.RecordCleanup(deleted)
	m.events.Publish(Event{Type: EventCleanupRun, Deleted: deleted})

	m.logger.Info().
		Int("candidates", len(ids)).
		Int("deleted", deleted).
		Int("retention_days", retentionDays).
		Msg("Retention cleanup finished")

	return deleted, nil
}

// ScheduleCleanup runs Cleanup on the given cron spec until the returned
// stop function is called.
func (m *Manager) ScheduleCleanup(spec string, retentionDays int) (func(), error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if _, err := m.Cleanup(retentionDays); err != nil {
			m.logger.Error().Err(err).Msg("Scheduled cleanup failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", spec, err)
	}

	c.Start()
	m.logger.Info().Str("schedule", spec).Int("retention_days", retentionDays).
		Msg("Cleanup scheduled")

	return func() { <-c.Stop().Done() }, nil
}
