package camera

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/session"
)

const (
	defaultStartupWindow = 3 * time.Second
	maxJPEGSize          = 8 << 20
)

// V4L2Source captures a video device through one long-lived ffmpeg process
type V4L2Source struct {
	device        string
	capture       config.CaptureConfig
	ffmpeg        *FFmpeg
	logger        *logger.Logger
	startupWindow time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewV4L2Source creates a V4L2 source for device
func NewV4L2Source(device string, capture config.CaptureConfig, ffmpeg *FFmpeg, log *logger.Logger) *V4L2Source {
	return &V4L2Source{
		device:        device,
		capture:       capture,
		ffmpeg:        ffmpeg,
		logger:        log,
		startupWindow: defaultStartupWindow,
	}
}

// Name identifies the source in logs
func (s *V4L2Source) Name() string {
	return "v4l2:" + s.device
}

// Start checks device access, launches ffmpeg and waits for the first frame,
// an early exit, or the startup window to pass.
func (s *V4L2Source) Start(ctx context.Context, emit func(session.Frame)) error {
	if err := checkDevice(s.device); err != nil {
		return err
	}
	if s.ffmpeg == nil {
		return fmt.Errorf("ffmpeg not available for %s", s.device)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	cmd := s.ffmpeg.Command(runCtx, CaptureArgs(s.device, s.capture))
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr := &tailBuffer{max: 4096}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	first := make(chan struct{})
	exited := make(chan error, 1)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done

	go func() {
		defer close(done)
		frames := s.readFrames(stdout, emit, first)
		err := cmd.Wait()
		exited <- err
		if runCtx.Err() == nil {
			s.logger.Warn("ffmpeg capture ended",
				"device", s.device,
				"frames", frames,
				"error", err,
				"stderr", stderr.String(),
			)
		}
	}()

	timer := time.NewTimer(s.startupWindow)
	defer timer.Stop()

	select {
	case <-first:
		return nil
	case err := <-exited:
		cancel()
		<-done
		return classifyCaptureExit(s.device, stderr.String(), err)
	case <-timer.C:
		s.logger.Warn("No frame within startup window, keeping capture running", "device", s.device, "window", s.startupWindow)
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

// Stop kills ffmpeg and waits for the reader goroutine
func (s *V4L2Source) Stop() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	return nil
}

func (s *V4L2Source) readFrames(r io.Reader, emit func(session.Frame), first chan struct{}) int {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 512*1024), maxJPEGSize)
	scanner.Split(splitJPEG)

	count := 0
	for scanner.Scan() {
		data := append([]byte(nil), scanner.Bytes()...)
		width, height, err := jpegSize(data)
		if err != nil {
			s.logger.Debug("Skipping undecodable frame", "device", s.device, "error", err)
			continue
		}

		count++
		if count == 1 {
			close(first)
		}

		emit(session.Frame{
			Data:      data,
			Format:    session.FormatJPEG,
			Width:     width,
			Height:    height,
			Timestamp: time.Now(),
		})
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		s.logger.Debug("Frame reader stopped", "device", s.device, "error", err)
	}
	return count
}

// classifyCaptureExit maps an early ffmpeg exit to the camera sentinels
func classifyCaptureExit(device, stderr string, err error) error {
	msg := strings.ToLower(stderr)
	switch {
	case strings.Contains(msg, "device or resource busy"):
		return fmt.Errorf("device %s: %w", device, session.ErrDeviceBusy)
	case strings.Contains(msg, "permission denied"):
		return fmt.Errorf("device %s: %w", device, session.ErrPermissionDenied)
	case strings.Contains(msg, "no such file or directory"), strings.Contains(msg, "no such device"):
		return fmt.Errorf("device %s: %w", device, session.ErrFacingUnsupported)
	}
	if err == nil {
		return fmt.Errorf("ffmpeg exited before the first frame from %s: %s", device, strings.TrimSpace(stderr))
	}
	return fmt.Errorf("ffmpeg exited before the first frame from %s: %w: %s", device, err, strings.TrimSpace(stderr))
}

// tailBuffer keeps the last max bytes written to it
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = b.buf[len(b.buf)-b.max:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
