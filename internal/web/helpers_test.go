package web

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/camera"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/session"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/surface"
)

// fakeSession implements SessionService for testing
type fakeSession struct {
	mu        sync.Mutex
	cfg       session.Config
	gen       uint64
	paused    bool
	sink      session.SurfaceSink
	setErr    error
	resumeErr error
	applied   []session.Config
}

func (f *fakeSession) SetConfig(ctx context.Context, cfg session.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.applied = append(f.applied, cfg)
	if cfg != f.cfg || f.gen == 0 {
		f.cfg = cfg
		f.gen++
	}
	return nil
}

func (f *fakeSession) SwitchFacing(ctx context.Context) (session.Config, error) {
	f.mu.Lock()
	cfg := f.cfg
	f.mu.Unlock()
	cfg.Facing = cfg.Facing.Opposite()
	return cfg, f.SetConfig(ctx, cfg)
}

func (f *fakeSession) Pause(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = true
	return nil
}

func (f *fakeSession) Resume(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resumeErr != nil {
		return f.resumeErr
	}
	f.paused = false
	return nil
}

func (f *fakeSession) AttachSink(sink session.SurfaceSink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sink = sink
}

func (f *fakeSession) DetachSink() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sink = nil
}

func (f *fakeSession) Snapshot() session.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return session.Snapshot{
		Config:        f.cfg,
		Generation:    f.gen,
		ContextLive:   f.gen > 0,
		CameraRunning: f.gen > 0 && !f.paused,
		SinkAttached:  f.sink != nil,
		Paused:        f.paused,
	}
}

func (f *fakeSession) Stats() session.Stats {
	return session.Stats{Received: 10, Submitted: 8, DroppedBusy: 2}
}

func (f *fakeSession) attached() session.SurfaceSink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sink
}

// fakeCameras implements CameraInventory for testing
type fakeCameras struct {
	rescans int
}

func (f *fakeCameras) Status() []camera.SourceStatus {
	return []camera.SourceStatus{
		{Facing: "back", Type: "v4l2", Target: "/dev/video0"},
		{Facing: "front", Type: "rtsp", Target: "rtsp://10.0.0.5:554/live"},
	}
}

func (f *fakeCameras) Devices(rescan bool) []camera.Device {
	if rescan {
		f.rescans++
	}
	return []camera.Device{{ID: "v4l2-video0", Path: "/dev/video0", Name: "USB Camera"}}
}

func setupTestServer(t *testing.T) (*Server, *fakeSession, *surface.StreamSink) {
	cfg := &config.WebConfig{
		Enabled: true,
		Host:    "127.0.0.1",
		Port:    0,
	}

	server := NewServer(cfg, logger.NewNopLogger())
	sess := &fakeSession{cfg: session.Config{ModelID: 0, BackendID: 0, Facing: session.FacingBack}, gen: 1}
	stream := surface.NewStreamSink(surface.StreamOptions{}, logger.NewNopLogger())
	t.Cleanup(func() { stream.Close() })

	server.SetSessionDependencies(sess, stream)
	server.SetVersion("test-version")
	server.setupRoutes()

	return server, sess, stream
}

func doRequest(t *testing.T, server *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: 40, G: 40, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func testFrame(t *testing.T) session.AnnotatedFrame {
	return session.AnnotatedFrame{
		Frame: session.Frame{
			Data:     testJPEG(t),
			Format:   session.FormatJPEG,
			Width:    32,
			Height:   24,
			Sequence: 7,
		},
		Detections: []session.Detection{
			{ClassID: 0, ClassName: "person", Confidence: 0.9, X1: 2, Y1: 2, X2: 20, Y2: 20},
		},
		Generation: 1,
	}
}
