package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/session"
)

const sessionConfigKey = "session.config"

// SaveSessionConfig persists the last applied session selection
func (m *Manager) SaveSessionConfig(ctx context.Context, cfg session.Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal session config: %w", err)
	}
	return m.SaveSystemState(ctx, sessionConfigKey, string(data))
}

// LoadSessionConfig returns the persisted session selection, if any
func (m *Manager) LoadSessionConfig(ctx context.Context) (session.Config, bool, error) {
	value, err := m.GetSystemState(ctx, sessionConfigKey)
	if err != nil {
		return session.Config{}, false, err
	}
	if value == "" {
		return session.Config{}, false, nil
	}

	var cfg session.Config
	if err := json.Unmarshal([]byte(value), &cfg); err != nil {
		return session.Config{}, false, fmt.Errorf("failed to parse session config: %w", err)
	}
	return cfg, true, nil
}

// RecordReconfiguration appends one reconfiguration attempt to the history
func (m *Manager) RecordReconfiguration(ctx context.Context, entry session.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	query := `
		INSERT INTO session_history (id, generation, model_id, backend_id, facing, outcome, error, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := m.db.GetDB().ExecContext(ctx, query,
		entry.ID, int64(entry.Generation),
		entry.Config.ModelID, entry.Config.BackendID, entry.Config.Facing.String(),
		entry.Outcome, entry.Error, entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to record reconfiguration: %w", err)
	}
	return nil
}

// ListHistory returns the most recent reconfiguration attempts, newest first
func (m *Manager) ListHistory(ctx context.Context, limit int) ([]session.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, generation, model_id, backend_id, facing, outcome, COALESCE(error, ''), timestamp
		FROM session_history
		ORDER BY timestamp DESC, generation DESC
		LIMIT ?
	`
	rows, err := m.db.GetDB().QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	entries := make([]session.HistoryEntry, 0)
	for rows.Next() {
		var (
			e          session.HistoryEntry
			generation int64
			facing     string
		)
		if err := rows.Scan(&e.ID, &generation, &e.Config.ModelID, &e.Config.BackendID, &facing, &e.Outcome, &e.Error, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		e.Generation = uint64(generation)
		if f, err := session.ParseFacing(facing); err == nil {
			e.Config.Facing = f
		} else {
			m.logger.Warn("Unknown facing in history", "id", e.ID, "facing", facing)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// PruneHistory deletes all but the newest keep entries and returns the count removed
func (m *Manager) PruneHistory(ctx context.Context, keep int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `
		DELETE FROM session_history
		WHERE id NOT IN (
			SELECT id FROM session_history ORDER BY timestamp DESC, generation DESC LIMIT ?
		)
	`
	result, err := m.db.GetDB().ExecContext(ctx, query, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return result.RowsAffected()
}
