package health

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/camera"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/session"
)

// SnapshotSource exposes the controller state
type SnapshotSource interface {
	Snapshot() session.Snapshot
}

// SessionChecker reports whether the session is actually producing detections
type SessionChecker struct {
	source SnapshotSource
}

func NewSessionChecker(source SnapshotSource) *SessionChecker {
	return &SessionChecker{source: source}
}

func (c *SessionChecker) Name() string {
	return "session"
}

func (c *SessionChecker) Check(ctx context.Context) Check {
	snap := c.source.Snapshot()
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"generation":     snap.Generation,
			"config":         snap.Config.String(),
			"context_live":   snap.ContextLive,
			"camera_running": snap.CameraRunning,
			"paused":         snap.Paused,
			"sink_attached":  snap.SinkAttached,
		},
	}

	switch {
	case snap.Closed:
		check.Status = StatusUnhealthy
		check.Message = "Session controller closed"
	case !snap.ContextLive:
		check.Status = StatusDegraded
		check.Message = "No inference context"
	case !snap.CameraRunning && !snap.Paused:
		check.Status = StatusDegraded
		check.Message = "Camera not running"
	default:
		check.Status = StatusHealthy
		check.Message = "Session running"
		if snap.Paused {
			check.Message = "Session paused"
		}
	}

	return check
}

// InferencePinger is the inference service client
type InferencePinger interface {
	HealthCheck(ctx context.Context) error
	ServiceURL() string
}

// InferenceChecker checks inference service reachability
type InferenceChecker struct {
	client InferencePinger
}

func NewInferenceChecker(client InferencePinger) *InferenceChecker {
	return &InferenceChecker{client: client}
}

func (c *InferenceChecker) Name() string {
	return "inference_service"
}

func (c *InferenceChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   map[string]interface{}{"url": c.client.ServiceURL()},
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := c.client.HealthCheck(ctx); err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Inference service unreachable: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Inference service is ready"
	return check
}

// DatabaseChecker checks database connectivity
type DatabaseChecker struct {
	dbPath string
}

func NewDatabaseChecker(dbPath string) *DatabaseChecker {
	return &DatabaseChecker{dbPath: dbPath}
}

func (c *DatabaseChecker) Name() string {
	return "database"
}

func (c *DatabaseChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   map[string]interface{}{"path": c.dbPath},
	}

	if c.dbPath == "" {
		check.Status = StatusDegraded
		check.Message = "Database path not configured"
		return check
	}

	if _, err := os.Stat(c.dbPath); os.IsNotExist(err) {
		check.Status = StatusUnhealthy
		check.Message = "Database file missing"
		check.Details["file_exists"] = false
		return check
	}

	db, err := sql.Open("sqlite3", "file:"+c.dbPath+"?mode=ro")
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Failed to open database: %v", err)
		return check
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM session_history`).Scan(&count); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Database query failed: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Database connection OK"
	check.Details["file_exists"] = true
	check.Details["history_entries"] = count

	return check
}

// SourceLister reports configured camera sources
type SourceLister interface {
	Status() []camera.SourceStatus
}

// CameraChecker checks that configured camera sources can be resolved
type CameraChecker struct {
	sources SourceLister
}

func NewCameraChecker(sources SourceLister) *CameraChecker {
	return &CameraChecker{sources: sources}
}

func (c *CameraChecker) Name() string {
	return "camera"
}

func (c *CameraChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}

	usable, failing := 0, 0
	for _, s := range c.sources.Status() {
		if s.Type == "" {
			continue
		}
		if s.Error != "" {
			failing++
			check.Details[s.Facing] = s.Error
			continue
		}
		usable++
		check.Details[s.Facing] = s.Target
	}

	switch {
	case usable == 0:
		check.Status = StatusUnhealthy
		check.Message = "No usable camera source"
	case failing > 0:
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("%d camera source(s) unavailable", failing)
	default:
		check.Status = StatusHealthy
		check.Message = "Camera sources available"
	}

	return check
}

// StorageChecker checks that the data directory is writable and has space
type StorageChecker struct {
	dataDir      string
	minFreeBytes uint64
}

func NewStorageChecker(dataDir string, minFreeBytes uint64) *StorageChecker {
	return &StorageChecker{dataDir: dataDir, minFreeBytes: minFreeBytes}
}

func (c *StorageChecker) Name() string {
	return "storage"
}

func (c *StorageChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   map[string]interface{}{"data_dir": c.dataDir},
	}

	if err := os.MkdirAll(c.dataDir, 0755); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Failed to create data directory: %v", err)
		return check
	}

	probe, err := os.CreateTemp(c.dataDir, ".health-*")
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Data directory not writable: %v", err)
		return check
	}
	probe.Close()
	os.Remove(filepath.Clean(probe.Name()))

	var fs syscall.Statfs_t
	if err := syscall.Statfs(c.dataDir, &fs); err == nil {
		free := fs.Bavail * uint64(fs.Bsize)
		check.Details["free_bytes"] = free
		if free < c.minFreeBytes {
			check.Status = StatusDegraded
			check.Message = fmt.Sprintf("Low disk space: %d bytes free", free)
			return check
		}
	}

	check.Status = StatusHealthy
	check.Message = "Data directory writable"
	return check
}
