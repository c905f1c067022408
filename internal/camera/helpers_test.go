package camera

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/session"
)

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("Failed to encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// writeScript creates an executable shell script standing in for ffmpeg
func writeScript(t *testing.T, body string) *FFmpeg {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatalf("Failed to write script: %v", err)
	}
	return &FFmpeg{logger: logger.NewNopLogger(), ffmpegPath: path}
}

// fakeDevice creates a regular file standing in for a video device
func fakeDevice(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "video0")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("Failed to create device: %v", err)
	}
	return path
}

type frameRecorder struct {
	mu     sync.Mutex
	frames []session.Frame
	notify chan struct{}
}

func newFrameRecorder() *frameRecorder {
	return &frameRecorder{notify: make(chan struct{}, 64)}
}

func (r *frameRecorder) handle(f session.Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *frameRecorder) all() []session.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Frame(nil), r.frames...)
}

// fakeSource emits frames on demand from the test goroutine
type fakeSource struct {
	name     string
	startErr error

	mu      sync.Mutex
	emit    func(session.Frame)
	started int
	stopped int
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Start(ctx context.Context, emit func(session.Frame)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.emit = emit
	s.started++
	return nil
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
	return nil
}

func (s *fakeSource) Emit(f session.Frame) {
	s.mu.Lock()
	emit := s.emit
	s.mu.Unlock()
	if emit != nil {
		emit(f)
	}
}
