package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/logger"
)

// Service provides configuration management with environment variable support
type Service struct {
	config     *Config
	configPath string
	logger     *logger.Logger
	mu         sync.RWMutex
	watchers   []ConfigWatcher
}

// ConfigWatcher is called when configuration changes
type ConfigWatcher func(ctx context.Context, oldConfig, newConfig *Config) error

// NewService creates a new configuration service
func NewService(configPath string, log *logger.Logger) (*Service, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial configuration: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Service{
		config:     cfg,
		configPath: configPath,
		logger:     log,
		watchers:   make([]ConfigWatcher, 0),
	}, nil
}

// Get returns the current configuration
func (s *Service) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// SetLogger replaces the logger once the configured one has been built
func (s *Service) SetLogger(log *logger.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = log
}

// Reload reloads the configuration from file and notifies watchers.
// The previous configuration stays active if the new one is invalid.
func (s *Service) Reload(ctx context.Context) error {
	s.mu.Lock()
	oldConfig := s.config

	newConfig, err := Load(s.configPath)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to reload configuration: %w", err)
	}

	applyEnvOverrides(newConfig)

	if err := newConfig.Validate(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("invalid reloaded configuration: %w", err)
	}

	s.config = newConfig
	watchers := append([]ConfigWatcher(nil), s.watchers...)
	log := s.logger
	s.mu.Unlock()

	for _, watcher := range watchers {
		if err := watcher(ctx, oldConfig, newConfig); err != nil {
			log.Error("Config watcher error", "error", err)
		}
	}

	log.Info("Configuration reloaded", "path", s.configPath)
	return nil
}

// Watch registers a configuration change watcher
func (s *Service) Watch(watcher ConfigWatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, watcher)
}

// applyEnvOverrides applies environment variable overrides to configuration
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("LIVEDETECT_DATA_DIR"); val != "" {
		cfg.Daemon.DataDir = val
	}

	// Session selection
	if val := os.Getenv("LIVEDETECT_MODEL_ID"); val != "" {
		if id, err := parseInt(val); err == nil {
			cfg.Session.ModelID = id
		}
	}
	if val := os.Getenv("LIVEDETECT_BACKEND_ID"); val != "" {
		if id, err := parseInt(val); err == nil {
			cfg.Session.BackendID = id
		}
	}
	if val := os.Getenv("LIVEDETECT_FACING"); val != "" {
		cfg.Session.Facing = strings.ToLower(val)
	}

	// Camera sources
	if val := os.Getenv("LIVEDETECT_CAMERA_BACK_DEVICE"); val != "" {
		cfg.Camera.Sources.Back = SourceConfig{Type: "v4l2", Device: val}
	}
	if val := os.Getenv("LIVEDETECT_CAMERA_FRONT_DEVICE"); val != "" {
		cfg.Camera.Sources.Front = SourceConfig{Type: "v4l2", Device: val}
	}
	if val := os.Getenv("LIVEDETECT_CAMERA_BACK_URL"); val != "" {
		cfg.Camera.Sources.Back = SourceConfig{Type: "rtsp", URL: val}
	}
	if val := os.Getenv("LIVEDETECT_CAMERA_FRONT_URL"); val != "" {
		cfg.Camera.Sources.Front = SourceConfig{Type: "rtsp", URL: val}
	}

	// Inference settings
	if val := os.Getenv("LIVEDETECT_INFERENCE_URL"); val != "" {
		cfg.Inference.ServiceURL = val
	}
	if val := os.Getenv("LIVEDETECT_CONFIDENCE_THRESHOLD"); val != "" {
		if threshold, err := parseFloat64(val); err == nil {
			cfg.Inference.ConfidenceThreshold = threshold
		}
	}
	if val := os.Getenv("LIVEDETECT_ENABLED_CLASSES"); val != "" {
		classes := strings.Split(val, ",")
		for i := range classes {
			classes[i] = strings.TrimSpace(classes[i])
		}
		cfg.Inference.EnabledClasses = classes
	}
	if val := os.Getenv("LIVEDETECT_GPU_ENABLED"); val != "" {
		cfg.Inference.GPUEnabled = GetEnvBool("LIVEDETECT_GPU_ENABLED", false)
	}
	if val := os.Getenv("LIVEDETECT_INFERENCE_TIMEOUT"); val != "" {
		if timeout, err := time.ParseDuration(val); err == nil {
			cfg.Inference.Timeout = timeout
		}
	}

	// Log settings
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		cfg.Log.Format = val
	}
	if val := os.Getenv("LOG_OUTPUT"); val != "" {
		cfg.Log.Output = val
	}
}

func parseInt(s string) (int, error) {
	var result int
	_, err := fmt.Sscanf(s, "%d", &result)
	return result, err
}

func parseFloat64(s string) (float64, error) {
	var result float64
	_, err := fmt.Sscanf(s, "%f", &result)
	return result, err
}

// GetEnvBool gets a boolean environment variable
func GetEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	val = strings.ToLower(val)
	return val == "true" || val == "1" || val == "yes" || val == "on"
}
