package web

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/session"
)

// sessionConfigRequest changes the session selection. Omitted fields keep
// their current value.
type sessionConfigRequest struct {
	ModelID   *int   `json:"model_id"`
	BackendID *int   `json:"backend_id"`
	Facing    string `json:"facing"`
}

// handleGetSession returns the controller state and frame counters
func (s *Server) handleGetSession(c *gin.Context) {
	if !s.requireSession(c) {
		return
	}

	response := gin.H{
		"state": s.session.Snapshot(),
		"stats": s.session.Stats(),
	}
	if s.stream != nil {
		response["surface"] = gin.H{
			"valid":    s.stream.Valid(),
			"viewers":  s.stream.ViewerCount(),
			"rendered": s.stream.Rendered(),
		}
	}

	c.JSON(http.StatusOK, response)
}

// handleUpdateSessionConfig applies a new model, backend or facing
func (s *Server) handleUpdateSessionConfig(c *gin.Context) {
	if !s.requireSession(c) {
		return
	}

	var req sessionConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body: " + err.Error(),
		})
		return
	}

	cfg := s.session.Snapshot().Config
	if req.ModelID != nil {
		if *req.ModelID < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "model_id must be >= 0"})
			return
		}
		cfg.ModelID = *req.ModelID
	}
	if req.BackendID != nil {
		if *req.BackendID < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "backend_id must be >= 0"})
			return
		}
		cfg.BackendID = *req.BackendID
	}
	if req.Facing != "" {
		facing, err := session.ParseFacing(req.Facing)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		cfg.Facing = facing
	}

	if err := s.session.SetConfig(c.Request.Context(), cfg); err != nil {
		s.writeSessionError(c, err)
		return
	}

	s.respondSnapshot(c)
}

// handleSwitchFacing toggles between the back and front camera
func (s *Server) handleSwitchFacing(c *gin.Context) {
	if !s.requireSession(c) {
		return
	}

	if _, err := s.session.SwitchFacing(c.Request.Context()); err != nil {
		s.writeSessionError(c, err)
		return
	}

	s.respondSnapshot(c)
}

// handlePause stops the camera and keeps the inference context loaded
func (s *Server) handlePause(c *gin.Context) {
	if !s.requireSession(c) {
		return
	}

	if err := s.session.Pause(c.Request.Context()); err != nil {
		s.writeSessionError(c, err)
		return
	}

	s.respondSnapshot(c)
}

// handleResume reopens the camera for the current facing
func (s *Server) handleResume(c *gin.Context) {
	if !s.requireSession(c) {
		return
	}

	if err := s.session.Resume(c.Request.Context()); err != nil {
		s.writeSessionError(c, err)
		return
	}

	s.respondSnapshot(c)
}

// handleAttachSurface marks the stream surface as created and attaches it
func (s *Server) handleAttachSurface(c *gin.Context) {
	if !s.requireSession(c) || !s.requireStream(c) {
		return
	}

	s.stream.Revalidate()
	s.session.AttachSink(s.stream)

	s.respondSnapshot(c)
}

// handleDetachSurface marks the stream surface as destroyed and detaches it
func (s *Server) handleDetachSurface(c *gin.Context) {
	if !s.requireSession(c) || !s.requireStream(c) {
		return
	}

	s.stream.Invalidate()
	s.session.DetachSink()

	s.respondSnapshot(c)
}

func (s *Server) respondSnapshot(c *gin.Context) {
	snap := s.session.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"config":     snap.Config,
		"generation": snap.Generation,
		"state":      snap,
	})
}

func (s *Server) requireSession(c *gin.Context) bool {
	if s.session == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Session service not available",
		})
		return false
	}
	return true
}

func (s *Server) requireStream(c *gin.Context) bool {
	if s.stream == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Stream sink not available",
		})
		return false
	}
	return true
}

// writeSessionError maps controller errors to HTTP responses
func (s *Server) writeSessionError(c *gin.Context, err error) {
	var (
		buildErr      *session.BuildError
		permissionErr *session.PermissionRequiredError
		cameraErr     *session.CameraError
	)

	switch {
	case errors.As(err, &buildErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":      err.Error(),
			"reason":     buildErr.Reason,
			"model_id":   buildErr.Config.ModelID,
			"backend_id": buildErr.Config.BackendID,
		})
	case errors.As(err, &permissionErr):
		c.JSON(http.StatusPreconditionRequired, gin.H{
			"error":  err.Error(),
			"reason": "permission_required",
			"facing": permissionErr.Facing,
		})
	case errors.As(err, &cameraErr):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":  err.Error(),
			"reason": cameraErr.Reason,
			"facing": cameraErr.Facing,
		})
	case errors.Is(err, session.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":  err.Error(),
			"reason": "closed",
		})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		c.JSON(http.StatusGatewayTimeout, gin.H{
			"error": err.Error(),
		})
	default:
		s.LogError("Session operation failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
	}
}
