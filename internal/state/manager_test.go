package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/logger"
)

func TestNewManager(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()

	if mgr.GetDB() == nil {
		t.Error("Database should be initialized")
	}
	if _, err := os.Stat(mgr.Path()); err != nil {
		t.Errorf("Expected database file at %s: %v", mgr.Path(), err)
	}
	if err := mgr.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewManager_CreatesDataDir(t *testing.T) {
	cfg := config.Default()
	cfg.Daemon.DataDir = filepath.Join(t.TempDir(), "nested", "data")

	mgr, err := NewManager(cfg, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer mgr.Close()

	if mgr.Path() != cfg.DatabasePath() {
		t.Errorf("Expected path %s, got %s", cfg.DatabasePath(), mgr.Path())
	}
}

func TestManager_SaveSystemState(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()

	ctx := context.Background()

	if err := mgr.SaveSystemState(ctx, "test_key", "test_value"); err != nil {
		t.Fatalf("SaveSystemState failed: %v", err)
	}

	value, err := mgr.GetSystemState(ctx, "test_key")
	if err != nil {
		t.Fatalf("GetSystemState failed: %v", err)
	}
	if value != "test_value" {
		t.Errorf("Expected 'test_value', got '%s'", value)
	}
}

func TestManager_GetSystemState_NotFound(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()

	value, err := mgr.GetSystemState(context.Background(), "nonexistent_key")
	if err != nil {
		t.Fatalf("GetSystemState failed: %v", err)
	}
	if value != "" {
		t.Errorf("Expected empty string for nonexistent key, got '%s'", value)
	}
}

func TestManager_SaveSystemState_Update(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()

	ctx := context.Background()

	if err := mgr.SaveSystemState(ctx, "test_key", "initial_value"); err != nil {
		t.Fatalf("SaveSystemState failed: %v", err)
	}
	if err := mgr.SaveSystemState(ctx, "test_key", "updated_value"); err != nil {
		t.Fatalf("SaveSystemState update failed: %v", err)
	}

	value, err := mgr.GetSystemState(ctx, "test_key")
	if err != nil {
		t.Fatalf("GetSystemState failed: %v", err)
	}
	if value != "updated_value" {
		t.Errorf("Expected 'updated_value', got '%s'", value)
	}
}

func TestManager_RecoverState(t *testing.T) {
	cfg := config.Default()
	cfg.Daemon.DataDir = t.TempDir()
	ctx := context.Background()

	mgr, err := NewManager(cfg, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if err := mgr.SaveSystemState(ctx, "a", "1"); err != nil {
		t.Fatalf("SaveSystemState failed: %v", err)
	}
	if err := mgr.SaveSystemState(ctx, "b", "2"); err != nil {
		t.Fatalf("SaveSystemState failed: %v", err)
	}
	mgr.Close()

	mgr, err = NewManager(cfg, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer mgr.Close()

	state, err := mgr.RecoverState(ctx)
	if err != nil {
		t.Fatalf("RecoverState failed: %v", err)
	}
	if len(state) != 2 || state["a"] != "1" || state["b"] != "2" {
		t.Errorf("Unexpected recovered state: %v", state)
	}
}
