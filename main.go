package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/camera"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/health"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/inference"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/observe"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/session"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/state"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/surface"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/web"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.Parse()

	// Load configuration
	cfgSvc, err := config.NewService(configPath, logger.NewNopLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := cfgSvc.Get()

	// Initialize logger
	log, err := logger.New(logger.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	cfgSvc.SetLogger(log)

	log.Info("Starting livedetect",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
	)

	if err := run(cfgSvc, log); err != nil {
		log.Error("Daemon exited with error", "error", err)
		log.Sync()
		os.Exit(1)
	}

	log.Info("Shutdown complete")
}

func run(cfgSvc *config.Service, log *logger.Logger) error {
	cfg := cfgSvc.Get()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics
	var (
		metrics        *observe.Metrics
		metricsHandler http.Handler
	)
	if cfg.Metrics.Enabled {
		provider, err := observe.NewProvider(observe.ProviderConfig{ServiceVersion: version})
		if err != nil {
			return fmt.Errorf("failed to create metrics provider: %w", err)
		}
		defer provider.Shutdown(context.Background())
		metrics = provider.Metrics
		metricsHandler = provider.Handler()
	}

	// State
	stateMgr, err := state.NewManager(cfg, log.Named("state"))
	if err != nil {
		return fmt.Errorf("failed to open state database: %w", err)
	}
	defer stateMgr.Close()

	if removed, err := stateMgr.PruneHistory(ctx, cfg.Daemon.HistoryRetention); err != nil {
		log.Warn("Failed to prune session history", "error", err)
	} else if removed > 0 {
		log.Info("Pruned session history", "removed", removed)
	}

	// Inference
	client := inference.NewClient(inference.ClientConfig{
		ServiceURL: cfg.Inference.ServiceURL,
		Timeout:    cfg.Inference.Timeout,
	}, log.Named("inference"))
	registry := inference.NewRegistry(cfg.Inference)
	factory := inference.NewFactory(client, registry, inferenceOptions(cfg), log.Named("inference"))

	// Cameras
	ffmpeg, err := camera.NewFFmpeg(cfg.Camera.Capture.FFmpegPath, log.Named("camera"))
	if err != nil {
		log.Warn("FFmpeg unavailable, V4L2 sources will fail to open", "error", err)
		ffmpeg = nil
	}
	discovery := camera.NewDiscovery(cfg.Camera.Discovery.Interval, cfg.Camera.Discovery.VideoDevPath, log.Named("camera"))
	cameras := camera.NewProvider(cfg.Camera, ffmpeg, discovery, log.Named("camera"))

	// Session
	initial, err := initialSessionConfig(cfg.Session)
	if err != nil {
		return err
	}
	controller := session.NewController(factory, cameras, session.Options{
		SubmitTimeout: cfg.Session.SubmitTimeout,
		TeardownWarn:  cfg.Session.TeardownWarn,
		Metrics:       metrics,
	}, log.Named("session"))
	sessionSvc := session.NewService(controller, session.ServiceOptions{
		Initial:     initial,
		RestoreLast: cfg.Session.RestoreLast,
		Store:       stateMgr,
	}, log.Named("session"))

	stream := surface.NewStreamSink(surface.StreamOptions{
		Quality: cfg.Web.StreamQuality,
		Metrics: metrics,
	}, log.Named("surface"))
	defer stream.Close()
	sessionSvc.AttachSink(stream)

	// Web API
	webServer := web.NewServer(&cfg.Web, log.Named("web"))
	webServer.SetVersion(version)
	webServer.SetSessionDependencies(sessionSvc, stream)
	webServer.SetCatalogDependencies(registry, cameras)
	webServer.SetHistoryStore(stateMgr)
	if metricsHandler != nil {
		webServer.SetMetricsHandler(metricsHandler)
	}

	// Services start in registration order and stop in reverse
	svcMgr := service.NewManager(log)
	if cfg.Camera.Discovery.Enabled {
		svcMgr.Register(discovery)
	}
	svcMgr.Register(sessionSvc)
	svcMgr.Register(webServer)

	svcMgr.GetEventBus().SubscribeWithHandler(ctx, service.EventTypeCameraDiscovered,
		func(ctx context.Context, event service.Event) error {
			return resumeOnHotplug(ctx, sessionSvc, log)
		},
		func(err error) { log.Warn("Hotplug resume failed", "error", err) },
	)

	// Health
	healthMgr := health.NewManager(log.Named("health"), svcMgr)
	healthMgr.RegisterChecker(health.NewSessionChecker(sessionSvc))
	healthMgr.RegisterChecker(health.NewInferenceChecker(client))
	healthMgr.RegisterChecker(health.NewDatabaseChecker(stateMgr.Path()))
	healthMgr.RegisterChecker(health.NewCameraChecker(cameras))
	healthMgr.RegisterChecker(health.NewStorageChecker(cfg.Daemon.DataDir, 64<<20))

	if cfg.Health.Enabled {
		if err := healthMgr.Start(ctx, cfg); err != nil {
			return fmt.Errorf("failed to start health check server: %w", err)
		}
	}

	// Reloadable settings
	cfgSvc.Watch(func(ctx context.Context, oldConfig, newConfig *config.Config) error {
		if oldConfig.Log.Level != newConfig.Log.Level {
			if err := log.SetLevel(newConfig.Log.Level); err != nil {
				return fmt.Errorf("failed to apply log level: %w", err)
			}
			log.Info("Log level changed", "level", newConfig.Log.Level)
		}
		factory.SetOptions(inferenceOptions(newConfig))
		return nil
	})

	shutdown := func() error {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := healthMgr.Stop(shutdownCtx); err != nil {
			log.Error("Error stopping health check server", "error", err)
		}
		return svcMgr.Shutdown(shutdownCtx)
	}

	if err := svcMgr.Start(ctx); err != nil {
		if serr := shutdown(); serr != nil {
			log.Error("Error during shutdown", "error", serr)
		}
		return fmt.Errorf("failed to start services: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			if err := cfgSvc.Reload(ctx); err != nil {
				log.Error("Configuration reload failed", "error", err)
			}
			continue
		}
		log.Info("Received shutdown signal", "signal", sig)
		break
	}

	cancel()
	return shutdown()
}

func inferenceOptions(cfg *config.Config) inference.Options {
	return inference.Options{
		ConfidenceThreshold: cfg.Inference.ConfidenceThreshold,
		EnabledClasses:      cfg.Inference.EnabledClasses,
	}
}

func initialSessionConfig(cfg config.SessionConfig) (session.Config, error) {
	facing, err := session.ParseFacing(cfg.Facing)
	if err != nil {
		return session.Config{}, fmt.Errorf("invalid session facing: %w", err)
	}
	return session.Config{
		ModelID:   cfg.ModelID,
		BackendID: cfg.BackendID,
		Facing:    facing,
	}, nil
}

// resumeOnHotplug reopens the camera when a device appears while the session
// is loaded, not paused and has no running camera
func resumeOnHotplug(ctx context.Context, svc *session.Service, log *logger.Logger) error {
	resumed, err := svc.ResumeIfStopped(ctx)
	if err != nil {
		return err
	}
	if resumed {
		log.Info("Camera appeared, session resumed", "facing", svc.Snapshot().Config.Facing.String())
	}
	return nil
}
