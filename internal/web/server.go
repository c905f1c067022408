// Package web serves the HTTP control API of the session: configuration,
// pause/resume, surface attach/detach, the annotated MJPEG stream and
// metrics.
package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/camera"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/inference"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/session"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/surface"
)

// Server represents the web server service
type Server struct {
	*service.ServiceBase
	config     *config.WebConfig
	logger     *logger.Logger
	httpServer *http.Server
	listener   net.Listener
	router     *gin.Engine
	session    SessionService      // Optional session control
	stream     *surface.StreamSink // Optional surface sink
	models     ModelCatalog        // Optional model/backend catalog
	cameras    CameraInventory     // Optional camera sources
	history    HistoryStore        // Optional reconfiguration history
	metrics    http.Handler        // Optional Prometheus handler
	version    string              // Application version
	startTime  time.Time           // Server start time for uptime calculation
}

// SessionService is the session control surface
type SessionService interface {
	SetConfig(ctx context.Context, cfg session.Config) error
	SwitchFacing(ctx context.Context) (session.Config, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	AttachSink(sink session.SurfaceSink)
	DetachSink()
	Snapshot() session.Snapshot
	Stats() session.Stats
}

// ModelCatalog lists selectable models and backends
type ModelCatalog interface {
	Models() []inference.Model
	Backends() []inference.Backend
}

// CameraInventory reports configured sources and discovered devices
type CameraInventory interface {
	Status() []camera.SourceStatus
	Devices(rescan bool) []camera.Device
}

// HistoryStore lists past reconfiguration attempts
type HistoryStore interface {
	ListHistory(ctx context.Context, limit int) ([]session.HistoryEntry, error)
}

// NewServer creates a new web server service
func NewServer(cfg *config.WebConfig, log *logger.Logger) *Server {
	// Debug mode can be enabled via GIN_MODE environment variable
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	return &Server{
		ServiceBase: service.NewServiceBase("web-server", log),
		config:      cfg,
		logger:      log,
		router:      router,
		version:     "dev",
		startTime:   time.Now(),
	}
}

// SetVersion sets the application version
func (s *Server) SetVersion(version string) {
	s.version = version
}

// SetSessionDependencies sets the session service and the stream sink it
// draws into
func (s *Server) SetSessionDependencies(svc SessionService, stream *surface.StreamSink) {
	s.session = svc
	s.stream = stream
}

// SetCatalogDependencies sets the model catalog and camera inventory
func (s *Server) SetCatalogDependencies(models ModelCatalog, cameras CameraInventory) {
	s.models = models
	s.cameras = cameras
}

// SetHistoryStore sets the reconfiguration history store
func (s *Server) SetHistoryStore(history HistoryStore) {
	s.history = history
}

// SetMetricsHandler sets the handler served at /metrics
func (s *Server) SetMetricsHandler(h http.Handler) {
	s.metrics = h
}

// Start starts the web server
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.LogInfo("Web server is disabled")
		s.GetStatus().SetStatus(service.StatusStopped)
		return nil
	}

	s.GetStatus().SetStatus(service.StatusStarting)
	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.GetStatus().SetError(err)
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln

	// WriteTimeout and IdleTimeout stay disabled: the MJPEG stream ends with
	// its request context.
	s.httpServer = &http.Server{
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.LogError("Web server error", err, "address", ln.Addr().String())
			s.GetStatus().SetError(err)
		}
	}()

	s.GetStatus().SetStatus(service.StatusRunning)
	s.LogInfo("Web server started", "address", ln.Addr().String())
	return nil
}

// Stop stops the web server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.LogInfo("Stopping web server")
	s.GetStatus().SetStatus(service.StatusStopping)
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	s.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

// Name returns the service name
func (s *Server) Name() string {
	return "web-server"
}

// Addr returns the listening address once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// setupRoutes sets up all API routes
func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/status", s.handleStatus)
		api.GET("/models", s.handleListModels)

		cameras := api.Group("/cameras")
		{
			cameras.GET("", s.handleListCameras)
			cameras.GET("/discover", s.handleDiscoverCameras)
		}

		sess := api.Group("/session")
		{
			sess.GET("", s.handleGetSession)
			sess.PUT("/config", s.handleUpdateSessionConfig)
			sess.POST("/facing/switch", s.handleSwitchFacing)
			sess.POST("/pause", s.handlePause)
			sess.POST("/resume", s.handleResume)
			sess.POST("/surface", s.handleAttachSurface)
			sess.DELETE("/surface", s.handleDetachSurface)
			sess.GET("/stream", s.handleMJPEGStream)
			sess.GET("/frame", s.handleSingleFrame)
			sess.GET("/detections", s.handleDetections)
			sess.GET("/history", s.handleHistory)
		}
	}

	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics))
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}

// ginLogger creates a Gin middleware for logging
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// corsMiddleware creates a CORS middleware for local network access
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
