package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Validate validates the configuration with detailed error messages
func (c *Config) Validate() error {
	var errors []string

	if c.Daemon.DataDir == "" {
		errors = append(errors, "daemon.data_dir is required")
	}
	if c.Daemon.HistoryRetention < 1 {
		errors = append(errors, fmt.Sprintf("daemon.history_retention must be >= 1, got: %d", c.Daemon.HistoryRetention))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errors = append(errors, fmt.Sprintf("invalid log.level: %s (must be: debug, info, warn, error, fatal)", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, fmt.Sprintf("invalid log.format: %s (must be: text or json)", c.Log.Format))
	}

	// Session selection
	if c.Session.Facing != "back" && c.Session.Facing != "front" {
		errors = append(errors, fmt.Sprintf("session.facing must be back or front, got: %s", c.Session.Facing))
	}
	if c.Session.ModelID < 0 || c.Session.ModelID >= len(c.Inference.Models) {
		errors = append(errors, fmt.Sprintf("session.model_id %d out of range (%d models configured)", c.Session.ModelID, len(c.Inference.Models)))
	}
	if c.Session.BackendID < 0 || c.Session.BackendID >= len(c.Inference.Backends) {
		errors = append(errors, fmt.Sprintf("session.backend_id %d out of range (%d backends configured)", c.Session.BackendID, len(c.Inference.Backends)))
	}
	if c.Session.SubmitTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("session.submit_timeout must be > 0, got: %v", c.Session.SubmitTimeout))
	}
	if c.Session.TeardownWarn <= 0 {
		errors = append(errors, fmt.Sprintf("session.teardown_warn_after must be > 0, got: %v", c.Session.TeardownWarn))
	}

	// Camera sources
	errors = append(errors, validateSource("camera.sources.back", c.Camera.Sources.Back, true)...)
	errors = append(errors, validateSource("camera.sources.front", c.Camera.Sources.Front, false)...)
	if c.Camera.Discovery.Interval <= 0 {
		errors = append(errors, fmt.Sprintf("camera.discovery.interval must be > 0, got: %v", c.Camera.Discovery.Interval))
	}
	if c.Camera.Capture.Quality < 1 || c.Camera.Capture.Quality > 31 {
		errors = append(errors, fmt.Sprintf("camera.capture.quality must be between 1 and 31, got: %d", c.Camera.Capture.Quality))
	}
	if c.Camera.RTSP.Timeout <= 0 {
		errors = append(errors, fmt.Sprintf("camera.rtsp.timeout must be > 0, got: %v", c.Camera.RTSP.Timeout))
	}

	// Inference
	if c.Inference.ServiceURL == "" {
		errors = append(errors, "inference.service_url is required")
	} else if _, err := url.ParseRequestURI(c.Inference.ServiceURL); err != nil {
		errors = append(errors, fmt.Sprintf("inference.service_url is invalid: %v", err))
	}
	if c.Inference.ConfidenceThreshold < 0 || c.Inference.ConfidenceThreshold > 1 {
		errors = append(errors, fmt.Sprintf("inference.confidence_threshold must be between 0 and 1, got: %.2f", c.Inference.ConfidenceThreshold))
	}
	seen := make(map[string]bool)
	for i, m := range c.Inference.Models {
		if m.Name == "" {
			errors = append(errors, fmt.Sprintf("inference.models[%d].name is required", i))
		}
		if seen[m.Name] {
			errors = append(errors, fmt.Sprintf("inference.models[%d].name %q is duplicated", i, m.Name))
		}
		seen[m.Name] = true
		if m.TargetSize <= 0 || m.TargetSize%32 != 0 {
			errors = append(errors, fmt.Sprintf("inference.models[%d].target_size must be a positive multiple of 32, got: %d", i, m.TargetSize))
		}
	}
	for i, b := range c.Inference.Backends {
		if b != "cpu" && b != "gpu" {
			errors = append(errors, fmt.Sprintf("inference.backends[%d] must be cpu or gpu, got: %s", i, b))
		}
	}

	if c.Web.Enabled && (c.Web.Port <= 0 || c.Web.Port > 65535) {
		errors = append(errors, fmt.Sprintf("web.port must be between 1 and 65535, got: %d", c.Web.Port))
	}
	if c.Web.StreamQuality < 1 || c.Web.StreamQuality > 100 {
		errors = append(errors, fmt.Sprintf("web.stream_quality must be between 1 and 100, got: %d", c.Web.StreamQuality))
	}
	if c.Health.Enabled && (c.Health.Port <= 0 || c.Health.Port > 65535) {
		errors = append(errors, fmt.Sprintf("health.port must be between 1 and 65535, got: %d", c.Health.Port))
	}
	if c.Web.Enabled && c.Health.Enabled && c.Web.Port == c.Health.Port {
		errors = append(errors, fmt.Sprintf("web.port and health.port must differ, both are %d", c.Web.Port))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// DatabasePath returns the SQLite database location under the data dir
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Daemon.DataDir, "db", "livedetect.db")
}

func validateSource(name string, src SourceConfig, required bool) []string {
	if src.Type == "" {
		if required {
			return []string{fmt.Sprintf("%s.type is required", name)}
		}
		return nil
	}

	switch src.Type {
	case "v4l2":
		if src.Device == "" {
			return []string{fmt.Sprintf("%s.device is required for v4l2 sources", name)}
		}
	case "rtsp":
		if !strings.HasPrefix(src.URL, "rtsp://") && !strings.HasPrefix(src.URL, "rtsps://") {
			return []string{fmt.Sprintf("%s.url must be an rtsp:// URL, got: %q", name, src.URL)}
		}
	default:
		return []string{fmt.Sprintf("%s.type must be v4l2 or rtsp, got: %s", name, src.Type)}
	}
	return nil
}
