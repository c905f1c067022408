package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/logger"
)

// Manager manages daemon state persistence and recovery
type Manager struct {
	db     *Database
	logger *logger.Logger
	mu     sync.RWMutex
}

// NewManager opens the state database under the configured data dir
func NewManager(cfg *config.Config, log *logger.Logger) (*Manager, error) {
	db, err := NewDatabase(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	return &Manager{
		db:     db,
		logger: log,
	}, nil
}

// Close closes the state manager and database
func (m *Manager) Close() error {
	return m.db.Close()
}

// GetDB returns the database connection
func (m *Manager) GetDB() *sql.DB {
	return m.db.GetDB()
}

// Path returns the database file location
func (m *Manager) Path() string {
	return m.db.Path()
}

// SaveSystemState saves a system state value
func (m *Manager) SaveSystemState(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `
		INSERT INTO system_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`

	_, err := m.db.GetDB().ExecContext(ctx, query, key, value, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save system state: %w", err)
	}

	return nil
}

// GetSystemState retrieves a system state value. Missing keys return "".
func (m *Manager) GetSystemState(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var value string
	query := `SELECT value FROM system_state WHERE key = ?`
	err := m.db.GetDB().QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get system state: %w", err)
	}

	return value, nil
}

// RecoverState loads all system state values on startup
func (m *Manager) RecoverState(ctx context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows, err := m.db.GetDB().QueryContext(ctx, `SELECT key, value FROM system_state`)
	if err != nil {
		return nil, fmt.Errorf("failed to recover system state: %w", err)
	}
	defer rows.Close()

	state := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		state[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	m.logger.Info("State recovery complete", "keys", len(state))
	return state, nil
}

// Ping checks that the database answers queries
func (m *Manager) Ping(ctx context.Context) error {
	return m.db.GetDB().PingContext(ctx)
}
