package state

import (
	"testing"

	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/logger"
)

func setupTestManager(t *testing.T) *Manager {
	cfg := config.Default()
	cfg.Daemon.DataDir = t.TempDir()

	mgr, err := NewManager(cfg, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	return mgr
}
