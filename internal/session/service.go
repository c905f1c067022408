package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/service"
)

// Reconfiguration outcomes recorded in history
const (
	OutcomeApplied            = "applied"
	OutcomeNoop               = "noop"
	OutcomeBuildFailed        = "build_failed"
	OutcomeCameraFailed       = "camera_failed"
	OutcomePermissionRequired = "permission_required"
	OutcomeError              = "error"
)

// HistoryEntry records one reconfiguration attempt
type HistoryEntry struct {
	ID         string    `json:"id"`
	Generation uint64    `json:"generation"`
	Config     Config    `json:"config"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Store persists the last applied Config and the reconfiguration history
type Store interface {
	SaveSessionConfig(ctx context.Context, cfg Config) error
	LoadSessionConfig(ctx context.Context) (Config, bool, error)
	RecordReconfiguration(ctx context.Context, entry HistoryEntry) error
}

// Service runs the controller as a daemon service. It restores the last
// applied Config on start, persists every applied Config and publishes
// session events on the event bus.
type Service struct {
	*service.ServiceBase
	controller  *Controller
	store       Store
	initial     Config
	restoreLast bool
}

// ServiceOptions configures a Service
type ServiceOptions struct {
	// Initial is applied on start when nothing is restored.
	Initial Config

	// RestoreLast applies the persisted Config on start when present.
	RestoreLast bool

	// Store is optional.
	Store Store
}

// NewService creates the session service around controller
func NewService(controller *Controller, opts ServiceOptions, log *logger.Logger) *Service {
	return &Service{
		ServiceBase: service.NewServiceBase("session", log),
		controller:  controller,
		store:       opts.Store,
		initial:     opts.Initial,
		restoreLast: opts.RestoreLast,
	}
}

// Start applies the startup Config. Build and camera failures are logged
// and published but do not fail the start; the session can be reconfigured
// through the API.
func (s *Service) Start(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusStarting)

	cfg := s.initial
	if s.restoreLast && s.store != nil {
		saved, ok, err := s.store.LoadSessionConfig(ctx)
		switch {
		case err != nil:
			s.LogWarn("Failed to load persisted session config, using initial", "error", err)
		case ok:
			cfg = saved
			s.LogInfo("Restoring persisted session config", "config", cfg.String())
		}
	}

	if err := s.SetConfig(ctx, cfg); errors.Is(err, ErrClosed) {
		s.GetStatus().SetError(err)
		return err
	}

	s.GetStatus().SetStatus(service.StatusRunning)
	s.LogInfo("Session service started")
	return nil
}

// Stop closes the controller
func (s *Service) Stop(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusStopping)

	done := make(chan error, 1)
	go func() { done <- s.controller.Close() }()

	select {
	case err := <-done:
		if err != nil {
			s.GetStatus().SetError(err)
			return err
		}
	case <-ctx.Done():
		return fmt.Errorf("session close: %w", ctx.Err())
	}

	s.GetStatus().SetStatus(service.StatusStopped)
	s.LogInfo("Session service stopped")
	return nil
}

// Controller returns the underlying controller
func (s *Service) Controller() *Controller {
	return s.controller
}

// Snapshot returns the controller state
func (s *Service) Snapshot() Snapshot {
	return s.controller.Snapshot()
}

// Stats returns the controller frame counters
func (s *Service) Stats() Stats {
	return s.controller.Stats()
}

// SetConfig applies cfg, records the attempt and publishes the outcome
func (s *Service) SetConfig(ctx context.Context, cfg Config) error {
	res, err := s.controller.Reconfigure(ctx, cfg)
	return s.finish(ctx, res, err)
}

// SwitchFacing reapplies the current Config with the opposite facing
func (s *Service) SwitchFacing(ctx context.Context) (Config, error) {
	res, err := s.controller.Update(ctx, func(cfg Config) Config {
		cfg.Facing = cfg.Facing.Opposite()
		return cfg
	})
	return res.Config, s.finish(ctx, res, err)
}

// finish records and publishes the outcome of a reconfiguration
func (s *Service) finish(ctx context.Context, res Reconfiguration, err error) error {
	cfg := res.Config
	outcome := outcomeOf(err)
	if err == nil && res.Noop {
		outcome = OutcomeNoop
	}

	s.record(ctx, res.Generation, cfg, outcome, err)

	data := map[string]interface{}{
		"model_id":   cfg.ModelID,
		"backend_id": cfg.BackendID,
		"facing":     cfg.Facing.String(),
		"generation": res.Generation,
	}
	if err != nil {
		data["error"] = err.Error()
	}

	switch outcome {
	case OutcomeApplied:
		s.PublishEvent(service.EventTypeSessionReconfigured, data)
	case OutcomeBuildFailed:
		s.PublishEvent(service.EventTypeSessionBuildFailed, data)
	case OutcomePermissionRequired:
		s.PublishEvent(service.EventTypeSessionPermissionRequired, data)
	case OutcomeCameraFailed:
		s.PublishEvent(service.EventTypeSessionCameraFailed, data)
	}

	// The context was built for cfg even when the camera failed.
	if outcome == OutcomeApplied || outcome == OutcomeCameraFailed || outcome == OutcomePermissionRequired {
		if s.store != nil {
			if serr := s.store.SaveSessionConfig(ctx, cfg); serr != nil {
				s.LogWarn("Failed to persist session config", "error", serr)
			}
		}
	}

	return err
}

// Pause stops the camera and publishes session.paused
func (s *Service) Pause(ctx context.Context) error {
	if err := s.controller.Pause(ctx); err != nil {
		return err
	}
	s.PublishEvent(service.EventTypeSessionPaused, map[string]interface{}{
		"generation": s.controller.Snapshot().Generation,
	})
	return nil
}

// Resume reopens the camera and publishes session.resumed, or
// session.permission_required when access is missing
func (s *Service) Resume(ctx context.Context) error {
	snap := s.controller.Snapshot()
	err := s.controller.Resume(ctx)

	data := map[string]interface{}{
		"generation": snap.Generation,
		"facing":     snap.Config.Facing.String(),
	}
	switch {
	case err == nil:
		s.PublishEvent(service.EventTypeSessionResumed, data)
	case errors.Is(err, ErrPermissionRequired):
		data["error"] = err.Error()
		s.PublishEvent(service.EventTypeSessionPermissionRequired, data)
	default:
		data["error"] = err.Error()
		s.PublishEvent(service.EventTypeSessionCameraFailed, data)
	}
	return err
}

// ResumeIfStopped reopens a camera that stopped on its own, for example
// after a device reappears. A paused session stays paused.
func (s *Service) ResumeIfStopped(ctx context.Context) (bool, error) {
	resumed, err := s.controller.ResumeIfStopped(ctx)
	if err != nil {
		snap := s.controller.Snapshot()
		data := map[string]interface{}{
			"generation": snap.Generation,
			"facing":     snap.Config.Facing.String(),
			"error":      err.Error(),
		}
		if errors.Is(err, ErrPermissionRequired) {
			s.PublishEvent(service.EventTypeSessionPermissionRequired, data)
		} else if !errors.Is(err, ErrClosed) {
			s.PublishEvent(service.EventTypeSessionCameraFailed, data)
		}
		return false, err
	}
	if resumed {
		snap := s.controller.Snapshot()
		s.PublishEvent(service.EventTypeSessionResumed, map[string]interface{}{
			"generation": snap.Generation,
			"facing":     snap.Config.Facing.String(),
		})
	}
	return resumed, nil
}

// AttachSink attaches sink to the controller
func (s *Service) AttachSink(sink SurfaceSink) {
	s.controller.AttachSink(sink)
	s.LogDebug("Surface sink attached")
}

// DetachSink detaches the current sink
func (s *Service) DetachSink() {
	s.controller.DetachSink()
	s.LogDebug("Surface sink detached")
}

func (s *Service) record(ctx context.Context, gen uint64, cfg Config, outcome string, err error) {
	if s.store == nil {
		return
	}
	entry := HistoryEntry{
		Generation: gen,
		Config:     cfg,
		Outcome:    outcome,
		Timestamp:  time.Now(),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if rerr := s.store.RecordReconfiguration(ctx, entry); rerr != nil {
		s.LogWarn("Failed to record reconfiguration", "error", rerr)
	}
}

func outcomeOf(err error) string {
	var (
		buildErr  *BuildError
		cameraErr *CameraError
	)
	switch {
	case err == nil:
		return OutcomeApplied
	case errors.As(err, &buildErr):
		return OutcomeBuildFailed
	case errors.Is(err, ErrPermissionRequired):
		return OutcomePermissionRequired
	case errors.As(err, &cameraErr):
		return OutcomeCameraFailed
	default:
		return OutcomeError
	}
}
