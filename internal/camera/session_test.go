package camera

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/session"
)

func TestSession_OpenDeliversStampedFrames(t *testing.T) {
	src := &fakeSource{name: "fake"}
	s := NewSession(func(session.Facing) (Source, error) { return src, nil }, logger.NewNopLogger())
	rec := newFrameRecorder()

	if err := s.Open(context.Background(), session.FacingFront, rec.handle); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	src.Emit(session.Frame{Data: []byte{1}})
	src.Emit(session.Frame{Data: []byte{2}})

	frames := rec.all()
	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(frames))
	}
	if frames[0].Sequence != 1 || frames[1].Sequence != 2 {
		t.Errorf("Expected sequences 1,2 got %d,%d", frames[0].Sequence, frames[1].Sequence)
	}
	if frames[1].Facing != session.FacingFront {
		t.Errorf("Expected front facing, got %s", frames[1].Facing)
	}
	if !s.Running() {
		t.Error("Expected session to be running")
	}
}

func TestSession_OpenTwice(t *testing.T) {
	src := &fakeSource{name: "fake"}
	s := NewSession(func(session.Facing) (Source, error) { return src, nil }, logger.NewNopLogger())

	if err := s.Open(context.Background(), session.FacingBack, func(session.Frame) {}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Open(context.Background(), session.FacingBack, func(session.Frame) {}); !errors.Is(err, session.ErrAlreadyRunning) {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}
}

func TestSession_NoDeliveryAfterClose(t *testing.T) {
	src := &fakeSource{name: "fake"}
	s := NewSession(func(session.Facing) (Source, error) { return src, nil }, logger.NewNopLogger())
	rec := newFrameRecorder()

	if err := s.Open(context.Background(), session.FacingBack, rec.handle); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	src.Emit(session.Frame{})
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	src.Emit(session.Frame{})

	if n := len(rec.all()); n != 1 {
		t.Errorf("Expected 1 frame before close, got %d", n)
	}
	if src.stopped != 1 {
		t.Errorf("Expected source stopped once, got %d", src.stopped)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}
}

func TestSession_CloseWaitsForDelivery(t *testing.T) {
	src := &fakeSource{name: "fake"}
	s := NewSession(func(session.Facing) (Source, error) { return src, nil }, logger.NewNopLogger())

	entered := make(chan struct{})
	release := make(chan struct{})
	handler := func(session.Frame) {
		close(entered)
		<-release
	}
	if err := s.Open(context.Background(), session.FacingBack, handler); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	go src.Emit(session.Frame{})
	<-entered

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a handler call was in progress")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not return after the handler finished")
	}
}

func TestSession_StartFailure(t *testing.T) {
	src := &fakeSource{name: "fake", startErr: session.ErrDeviceBusy}
	s := NewSession(func(session.Facing) (Source, error) { return src, nil }, logger.NewNopLogger())

	err := s.Open(context.Background(), session.FacingBack, func(session.Frame) {})
	if !errors.Is(err, session.ErrDeviceBusy) {
		t.Errorf("Expected ErrDeviceBusy, got %v", err)
	}
	if s.Running() {
		t.Error("Session should not be running after a failed open")
	}
	if err := s.Open(context.Background(), session.FacingBack, func(session.Frame) {}); !errors.Is(err, session.ErrDeviceBusy) {
		t.Errorf("Expected retry to reach the source again, got %v", err)
	}
}

func TestSession_ResolveFailure(t *testing.T) {
	s := NewSession(func(session.Facing) (Source, error) {
		return nil, session.ErrFacingUnsupported
	}, logger.NewNopLogger())

	if err := s.Open(context.Background(), session.FacingFront, func(session.Frame) {}); !errors.Is(err, session.ErrFacingUnsupported) {
		t.Errorf("Expected ErrFacingUnsupported, got %v", err)
	}
}
