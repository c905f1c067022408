package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the daemon configuration
type Config struct {
	Daemon    DaemonConfig    `yaml:"daemon"`
	Session   SessionConfig   `yaml:"session"`
	Camera    CameraConfig    `yaml:"camera"`
	Inference InferenceConfig `yaml:"inference"`
	Web       WebConfig       `yaml:"web"`
	Health    HealthConfig    `yaml:"health"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log,omitempty"`
}

// DaemonConfig contains process-wide settings
type DaemonConfig struct {
	DataDir string `yaml:"data_dir"`

	// HistoryRetention is how many reconfiguration records are kept.
	HistoryRetention int `yaml:"history_retention"`
}

// SessionConfig contains session controller settings
type SessionConfig struct {
	// Initial selection used when nothing was persisted yet.
	ModelID   int    `yaml:"model_id"`
	BackendID int    `yaml:"backend_id"`
	Facing    string `yaml:"facing"` // "back" or "front"

	// RestoreLast reuses the last successfully applied selection on startup.
	RestoreLast   bool          `yaml:"restore_last"`
	SubmitTimeout time.Duration `yaml:"submit_timeout"`
	TeardownWarn  time.Duration `yaml:"teardown_warn_after"`
}

// CameraConfig contains capture source configuration
type CameraConfig struct {
	Sources   CameraSources   `yaml:"sources"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Capture   CaptureConfig   `yaml:"capture"`
	RTSP      RTSPConfig      `yaml:"rtsp"`
}

// CameraSources maps a facing to its capture source
type CameraSources struct {
	Back  SourceConfig `yaml:"back"`
	Front SourceConfig `yaml:"front"`
}

// SourceConfig describes one capture source. Type is "v4l2" or "rtsp".
// A v4l2 device of "auto" is resolved through device discovery.
type SourceConfig struct {
	Type     string `yaml:"type"`
	Device   string `yaml:"device,omitempty"`
	URL      string `yaml:"url,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// DiscoveryConfig contains camera device discovery configuration
type DiscoveryConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Interval     time.Duration `yaml:"interval"`
	VideoDevPath string        `yaml:"video_dev_path"`
}

// CaptureConfig contains V4L2 capture settings
type CaptureConfig struct {
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	FrameRate   int    `yaml:"frame_rate"`
	InputFormat string `yaml:"input_format"`
	Quality     int    `yaml:"quality"`
	FFmpegPath  string `yaml:"ffmpeg_path,omitempty"`
}

// RTSPConfig contains RTSP client configuration
type RTSPConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// InferenceConfig contains inference service configuration
type InferenceConfig struct {
	ServiceURL          string        `yaml:"service_url"`
	Timeout             time.Duration `yaml:"timeout"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	EnabledClasses      []string      `yaml:"enabled_classes"`
	GPUEnabled          bool          `yaml:"gpu_enabled"`
	Models              []ModelConfig `yaml:"models"`
	Backends            []string      `yaml:"backends"`
}

// ModelConfig describes a selectable detection model. Its position in the
// list is the model ID.
type ModelConfig struct {
	Name       string     `yaml:"name"`
	TargetSize int        `yaml:"target_size"`
	MeanValues [3]float64 `yaml:"mean_values"`
	NormValues [3]float64 `yaml:"norm_values"`
}

// WebConfig contains control API server configuration
type WebConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	StreamQuality int    `yaml:"stream_quality"` // JPEG quality of annotated frames
}

// HealthConfig contains health check server configuration
type HealthConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// MetricsConfig contains metrics exposition configuration
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

// Default returns a configuration populated with defaults only
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	paths := []string{
		"./config/config.dev.yaml",
		"./config/config.yaml",
		"../config/config.yaml",
		"/etc/livedetect/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return paths[0]
}

// defaultModels mirrors the model table shipped with the detector assets
func defaultModels() []ModelConfig {
	norm := [3]float64{1 / 255.0, 1 / 255.0, 1 / 255.0}
	mean := [3]float64{103.53, 116.28, 123.675}
	return []ModelConfig{
		{Name: "yolov8n", TargetSize: 320, MeanValues: mean, NormValues: norm},
		{Name: "yolov8s", TargetSize: 320, MeanValues: mean, NormValues: norm},
	}
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.Daemon.DataDir == "" {
		c.Daemon.DataDir = "./data"
	}
	if c.Daemon.HistoryRetention == 0 {
		c.Daemon.HistoryRetention = 1000
	}

	if c.Session.Facing == "" {
		c.Session.Facing = "back"
	}
	if c.Session.SubmitTimeout == 0 {
		c.Session.SubmitTimeout = 5 * time.Second
	}
	if c.Session.TeardownWarn == 0 {
		c.Session.TeardownWarn = 10 * time.Second
	}

	if c.Camera.Sources.Back.Type == "" {
		c.Camera.Sources.Back = SourceConfig{Type: "v4l2", Device: "auto"}
	}
	if c.Camera.Discovery.Interval == 0 {
		c.Camera.Discovery.Interval = 60 * time.Second
	}
	if c.Camera.Discovery.VideoDevPath == "" {
		c.Camera.Discovery.VideoDevPath = "/dev"
	}
	if c.Camera.Capture.Width == 0 {
		c.Camera.Capture.Width = 640
	}
	if c.Camera.Capture.Height == 0 {
		c.Camera.Capture.Height = 480
	}
	if c.Camera.Capture.FrameRate == 0 {
		c.Camera.Capture.FrameRate = 15
	}
	if c.Camera.Capture.InputFormat == "" {
		c.Camera.Capture.InputFormat = "mjpeg"
	}
	if c.Camera.Capture.Quality == 0 {
		c.Camera.Capture.Quality = 5
	}
	if c.Camera.RTSP.Timeout == 0 {
		c.Camera.RTSP.Timeout = 10 * time.Second
	}

	if c.Inference.ServiceURL == "" {
		c.Inference.ServiceURL = "http://localhost:8090"
	}
	if c.Inference.Timeout == 0 {
		c.Inference.Timeout = 30 * time.Second
	}
	if c.Inference.ConfidenceThreshold == 0 {
		c.Inference.ConfidenceThreshold = 0.4
	}
	if len(c.Inference.Models) == 0 {
		c.Inference.Models = defaultModels()
	}
	for i := range c.Inference.Models {
		if c.Inference.Models[i].TargetSize == 0 {
			c.Inference.Models[i].TargetSize = 320
		}
	}
	if len(c.Inference.Backends) == 0 {
		c.Inference.Backends = []string{"cpu", "gpu"}
	}

	if c.Web.Host == "" {
		c.Web.Host = "0.0.0.0"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8081
	}
	if c.Web.StreamQuality == 0 {
		c.Web.StreamQuality = 80
	}

	if c.Health.Port == 0 {
		c.Health.Port = 8080
	}
}
