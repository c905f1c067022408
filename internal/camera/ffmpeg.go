package camera

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/logger"
)

// FFmpeg wraps the ffmpeg binary used for V4L2 capture
type FFmpeg struct {
	logger     *logger.Logger
	ffmpegPath string

	mu      sync.RWMutex
	version string
}

// NewFFmpeg locates ffmpeg. An empty path searches PATH and common locations.
func NewFFmpeg(path string, log *logger.Logger) (*FFmpeg, error) {
	f := &FFmpeg{logger: log}

	candidates := []string{"ffmpeg", "/usr/bin/ffmpeg", "/usr/local/bin/ffmpeg"}
	if path != "" {
		candidates = []string{path}
	}

	for _, candidate := range candidates {
		if err := exec.Command(candidate, "-version").Run(); err == nil {
			f.ffmpegPath = candidate
			break
		}
	}
	if f.ffmpegPath == "" {
		return nil, fmt.Errorf("ffmpeg not found in PATH or common locations")
	}

	version, err := f.Version()
	if err != nil {
		log.Warn("Failed to read ffmpeg version", "error", err)
	}

	log.Info("FFmpeg located", "path", f.ffmpegPath, "version", version)
	return f, nil
}

// Path returns the ffmpeg executable
func (f *FFmpeg) Path() string {
	return f.ffmpegPath
}

// Version returns the first line of `ffmpeg -version`
func (f *FFmpeg) Version() (string, error) {
	f.mu.RLock()
	if f.version != "" {
		defer f.mu.RUnlock()
		return f.version, nil
	}
	f.mu.RUnlock()

	output, err := exec.Command(f.ffmpegPath, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("failed to get ffmpeg version: %w", err)
	}

	version := "unknown"
	if lines := strings.Split(string(output), "\n"); len(lines) > 0 && strings.TrimSpace(lines[0]) != "" {
		version = strings.TrimSpace(lines[0])
	}

	f.mu.Lock()
	f.version = version
	f.mu.Unlock()
	return version, nil
}

// Command builds an ffmpeg command bound to ctx
func (f *FFmpeg) Command(ctx context.Context, args []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)
	cmd.WaitDelay = 2 * time.Second
	return cmd
}

// CaptureArgs reads a V4L2 device and writes an MJPEG stream to stdout
func CaptureArgs(device string, capture config.CaptureConfig) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "v4l2",
	}
	if capture.InputFormat != "" {
		args = append(args, "-input_format", capture.InputFormat)
	}
	if capture.FrameRate > 0 {
		args = append(args, "-framerate", strconv.Itoa(capture.FrameRate))
	}
	if capture.Width > 0 && capture.Height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", capture.Width, capture.Height))
	}
	args = append(args,
		"-i", device,
		"-an",
		"-f", "mjpeg",
		"-q:v", strconv.Itoa(capture.Quality),
		"-",
	)
	return args
}
