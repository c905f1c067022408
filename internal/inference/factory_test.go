package inference

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/session"
)

func setupTestFactory(t *testing.T, gpu bool) (*Factory, *fakeService) {
	t.Helper()
	client, fake, _ := setupTestClient(t)
	cfg := config.Default().Inference
	cfg.GPUEnabled = gpu
	factory := NewFactory(client, NewRegistry(cfg), Options{
		ConfidenceThreshold: 0.4,
		EnabledClasses:      []string{"person", "car"},
	}, logger.NewNopLogger())
	return factory, fake
}

func TestRegistry(t *testing.T) {
	cfg := config.Default().Inference
	reg := NewRegistry(cfg)

	models := reg.Models()
	if len(models) != 2 || models[0].Name != "yolov8n" || models[1].ID != 1 {
		t.Fatalf("Unexpected models: %+v", models)
	}
	if _, err := reg.Model(2); !errors.Is(err, session.ErrAssetMissing) {
		t.Errorf("Expected ErrAssetMissing, got %v", err)
	}
	if _, err := reg.Backend(0); err != nil {
		t.Errorf("Expected cpu backend to be available, got %v", err)
	}
	if _, err := reg.Backend(1); !errors.Is(err, session.ErrUnsupportedBackend) {
		t.Errorf("Expected disabled gpu to be unsupported, got %v", err)
	}
	if _, err := reg.Backend(7); !errors.Is(err, session.ErrUnsupportedBackend) {
		t.Errorf("Expected unknown backend to be unsupported, got %v", err)
	}

	cfg.GPUEnabled = true
	if _, err := NewRegistry(cfg).Backend(1); err != nil {
		t.Errorf("Expected gpu backend with gpu enabled, got %v", err)
	}
}

func TestFactory_BuildAndSubmit(t *testing.T) {
	factory, fake := setupTestFactory(t, false)

	ictx, err := factory.Build(context.Background(), session.Config{ModelID: 1, BackendID: 0})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer ictx.Close()

	frame := testFrame()
	frame.Width, frame.Height = 0, 0
	out, err := ictx.Submit(context.Background(), frame)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if len(out.Detections) != 1 || out.Detections[0].ClassName != "person" {
		t.Errorf("Unexpected detections: %+v", out.Detections)
	}
	if out.Frame.Width != 640 || out.Frame.Height != 480 {
		t.Errorf("Expected frame shape from response, got %dx%d", out.Frame.Width, out.Frame.Height)
	}
	if out.InferenceTime != 12500*time.Microsecond {
		t.Errorf("Expected 12.5ms inference time, got %v", out.InferenceTime)
	}

	req := fake.lastRequest()
	if req.ConfidenceThreshold == nil || *req.ConfidenceThreshold != 0.4 {
		t.Errorf("Expected threshold from options, got %v", req.ConfidenceThreshold)
	}
	if len(req.EnabledClasses) != 2 {
		t.Errorf("Expected class filter from options, got %v", req.EnabledClasses)
	}
}

func TestFactory_BuildRejectsUnknownIDs(t *testing.T) {
	factory, fake := setupTestFactory(t, false)

	_, err := factory.Build(context.Background(), session.Config{ModelID: 9})
	if !errors.Is(err, session.ErrAssetMissing) {
		t.Errorf("Expected ErrAssetMissing, got %v", err)
	}
	_, err = factory.Build(context.Background(), session.Config{BackendID: 1})
	if !errors.Is(err, session.ErrUnsupportedBackend) {
		t.Errorf("Expected ErrUnsupportedBackend, got %v", err)
	}
	if fake.liveSessions() != 0 {
		t.Errorf("Expected no remote sessions, got %d", fake.liveSessions())
	}
}

func TestFactory_BuildOutOfMemory(t *testing.T) {
	factory, fake := setupTestFactory(t, true)
	fake.setCreateErr(507)

	_, err := factory.Build(context.Background(), session.Config{BackendID: 1})
	if !errors.Is(err, session.ErrOutOfMemory) {
		t.Errorf("Expected ErrOutOfMemory, got %v", err)
	}
}

func TestFactory_SetOptions(t *testing.T) {
	factory, fake := setupTestFactory(t, false)
	factory.SetOptions(Options{ConfidenceThreshold: 0.8})

	ictx, err := factory.Build(context.Background(), session.Config{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer ictx.Close()

	if _, err := ictx.Submit(context.Background(), testFrame()); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	req := fake.lastRequest()
	if req.ConfidenceThreshold == nil || *req.ConfidenceThreshold != 0.8 {
		t.Errorf("Expected updated threshold 0.8, got %v", req.ConfidenceThreshold)
	}
	if len(req.EnabledClasses) != 0 {
		t.Errorf("Expected no class filter, got %v", req.EnabledClasses)
	}
}

func TestContext_CloseDeletesRemoteSession(t *testing.T) {
	factory, fake := setupTestFactory(t, false)

	ictx, err := factory.Build(context.Background(), session.Config{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	id := ictx.(*Context).SessionID()

	if err := ictx.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := ictx.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}
	if fake.liveSessions() != 0 {
		t.Errorf("Expected remote session deleted, %d left", fake.liveSessions())
	}
	if deleted := fake.deletedSessions(); len(deleted) != 1 || deleted[0] != id {
		t.Errorf("Expected exactly one delete for %s, got %v", id, deleted)
	}

	if _, err := ictx.Submit(context.Background(), testFrame()); !errors.Is(err, ErrContextClosed) {
		t.Errorf("Expected ErrContextClosed after Close, got %v", err)
	}
}

func TestContext_CloseCancelsInFlight(t *testing.T) {
	factory, fake := setupTestFactory(t, false)
	ictx, err := factory.Build(context.Background(), session.Config{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	started, release := fake.holdInference()
	defer release()

	errCh := make(chan error, 1)
	go func() {
		_, err := ictx.Submit(context.Background(), testFrame())
		errCh <- err
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("Inference request never reached the service")
	}

	closed := make(chan struct{})
	go func() {
		ictx.Close()
		close(closed)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrContextClosed) {
			t.Errorf("Expected ErrContextClosed for in-flight submit, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("In-flight submit was not cancelled by Close")
	}

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
}

func TestContext_BusyWhileQueued(t *testing.T) {
	factory, fake := setupTestFactory(t, false)
	ictx, err := factory.Build(context.Background(), session.Config{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	started, release := fake.holdInference()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		ictx.Submit(context.Background(), testFrame())
	}()
	<-started

	// The worker is busy; this one occupies the queue slot.
	queued := make(chan error, 1)
	go func() {
		defer wg.Done()
		_, err := ictx.Submit(context.Background(), testFrame())
		queued <- err
	}()

	c := ictx.(*Context)
	deadline := time.Now().Add(2 * time.Second)
	for len(c.jobs) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := ictx.Submit(context.Background(), testFrame()); !errors.Is(err, ErrContextBusy) {
		t.Errorf("Expected ErrContextBusy with a queued job, got %v", err)
	}

	ictx.Close()
	release()
	wg.Wait()

	if err := <-queued; !errors.Is(err, ErrContextClosed) {
		t.Errorf("Expected queued job to be drained with ErrContextClosed, got %v", err)
	}
}

func TestContext_SubmitHonoursCallerContext(t *testing.T) {
	factory, fake := setupTestFactory(t, false)
	ictx, err := factory.Build(context.Background(), session.Config{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer ictx.Close()

	started, release := fake.holdInference()
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := ictx.Submit(ctx, testFrame())
		errCh <- err
	}()
	<-started

	select {
	case err := <-errCh:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Expected deadline exceeded, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Submit ignored caller deadline")
	}
}
