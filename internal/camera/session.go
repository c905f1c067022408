// Package camera provides capture sessions for the session controller:
// V4L2 devices read through FFmpeg, RTSP streams, and device discovery.
package camera

import (
	"context"
	"fmt"
	"sync"

	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/session"
)

// Source is one capture stream. Start returns once capture is running and
// delivers frames to emit from a capture goroutine until Stop. Stop blocks
// until that goroutine has exited.
type Source interface {
	Name() string
	Start(ctx context.Context, emit func(session.Frame)) error
	Stop() error
}

// SourceResolver picks the source for a camera facing
type SourceResolver func(facing session.Facing) (Source, error)

// Session is a single-use-at-a-time capture session
type Session struct {
	resolve SourceResolver
	logger  *logger.Logger

	mu     sync.Mutex
	src    Source
	gate   *gate
	facing session.Facing
}

// NewSession creates a capture session that resolves sources on Open
func NewSession(resolve SourceResolver, log *logger.Logger) *Session {
	return &Session{resolve: resolve, logger: log}
}

// Open starts capture for facing and delivers frames to handler
func (s *Session) Open(ctx context.Context, facing session.Facing, handler session.FrameHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.src != nil {
		return session.ErrAlreadyRunning
	}

	src, err := s.resolve(facing)
	if err != nil {
		return err
	}

	g := &gate{handler: handler, facing: facing}
	if err := src.Start(ctx, g.deliver); err != nil {
		g.shut()
		return fmt.Errorf("start %s: %w", src.Name(), err)
	}

	s.src, s.gate, s.facing = src, g, facing
	s.logger.Info("Camera session opened", "facing", facing.String(), "source", src.Name())
	return nil
}

// Close stops capture. No handler call happens after Close returns.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.src == nil {
		return nil
	}

	s.gate.shut()
	err := s.src.Stop()
	s.logger.Info("Camera session closed",
		"facing", s.facing.String(),
		"source", s.src.Name(),
		"frames", s.gate.count(),
	)
	s.src, s.gate = nil, nil
	if err != nil {
		return fmt.Errorf("stop capture: %w", err)
	}
	return nil
}

// Running reports whether capture is active
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src != nil
}

// gate forwards frames to the handler until shut. shut waits for a delivery
// in progress to finish.
type gate struct {
	handler session.FrameHandler
	facing  session.Facing

	mu     sync.Mutex
	closed bool
	seq    uint64
}

func (g *gate) deliver(frame session.Frame) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.seq++
	frame.Sequence = g.seq
	frame.Facing = g.facing
	g.handler(frame)
}

func (g *gate) shut() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

func (g *gate) count() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq
}
