package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/observe"
)

// Options configures a Controller
type Options struct {
	// SubmitTimeout bounds a single frame submit. Default: 5s.
	SubmitTimeout time.Duration

	// TeardownWarn is how long teardown may take before a warning is
	// logged. Teardown always runs to completion. Default: 10s.
	TeardownWarn time.Duration

	// Metrics is optional.
	Metrics *observe.Metrics
}

// Snapshot is a point-in-time view of the controller state
type Snapshot struct {
	Config        Config `json:"config"`
	Generation    uint64 `json:"generation"`
	ContextLive   bool   `json:"context_live"`
	CameraRunning bool   `json:"camera_running"`
	SinkAttached  bool   `json:"sink_attached"`
	Paused        bool   `json:"paused"`
	Closed        bool   `json:"closed"`
}

// Stats counts frame outcomes since the controller was created
type Stats struct {
	Received        uint64 `json:"received"`
	Submitted       uint64 `json:"submitted"`
	Drawn           uint64 `json:"drawn"`
	DroppedStale    uint64 `json:"dropped_stale"`
	DroppedBusy     uint64 `json:"dropped_busy"`
	DroppedNotReady uint64 `json:"dropped_not_ready"`
	DroppedNoSink   uint64 `json:"dropped_no_sink"`
	InferenceErrors uint64 `json:"inference_errors"`
	DrawErrors      uint64 `json:"draw_errors"`
}

// state is the single source of truth. It is replaced or updated only
// under Controller.mu.
type state struct {
	config     Config
	context    InferenceContext // owned
	camera     CameraSession    // owned
	sink       SurfaceSink      // borrowed
	generation uint64
}

type frameCounters struct {
	received, submitted, drawn                 atomic.Uint64
	droppedStale, droppedBusy, droppedNotReady atomic.Uint64
	droppedNoSink, inferenceErrors, drawErrors atomic.Uint64
}

// Controller keeps the inference context and camera session consistent
// with the latest requested Config.
//
// Control operations (SetConfig, Pause, Resume, Close) are serialized and
// may block on teardown and build. AttachSink and DetachSink never block
// on camera or inference work. Frames are admitted under the owner lock
// and submitted outside it; at most one submit is in flight and frames
// arriving meanwhile are dropped.
type Controller struct {
	factory ContextFactory
	cameras CameraProvider
	logger  *logger.Logger
	metrics *observe.Metrics
	opts    Options

	baseCtx    context.Context
	baseCancel context.CancelFunc

	ctrlMu sync.Mutex // serializes control operations

	mu       sync.Mutex // owner lock
	state    state
	paused   bool
	closed   bool
	inFlight bool

	counters frameCounters
}

// NewController creates a controller with no context, no camera and no sink
func NewController(factory ContextFactory, cameras CameraProvider, opts Options, log *logger.Logger) *Controller {
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = 5 * time.Second
	}
	if opts.TeardownWarn <= 0 {
		opts.TeardownWarn = 10 * time.Second
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Controller{
		factory:    factory,
		cameras:    cameras,
		logger:     log,
		metrics:    opts.Metrics,
		opts:       opts,
		baseCtx:    baseCtx,
		baseCancel: cancel,
	}
}

// Reconfiguration describes one SetConfig or Update call
type Reconfiguration struct {
	Config Config
	// Generation is the generation after the call.
	Generation uint64
	// Noop is true when the Config was already applied with a live context.
	Noop bool
}

// SetConfig applies cfg. It is a no-op when cfg equals the current Config
// and a context is live.
//
// Otherwise the generation advances, the old camera session and context are
// closed, and a new context is built. A build failure returns *BuildError
// and leaves the controller with no context and no camera. On success the
// camera is opened for cfg.Facing unless the controller is paused; a camera
// failure returns *PermissionRequiredError or *CameraError and keeps the new
// context so Resume can retry without rebuilding.
func (c *Controller) SetConfig(ctx context.Context, cfg Config) error {
	_, err := c.Reconfigure(ctx, cfg)
	return err
}

// Reconfigure is SetConfig reporting the generation it produced
func (c *Controller) Reconfigure(ctx context.Context, cfg Config) (Reconfiguration, error) {
	c.ctrlMu.Lock()
	defer c.ctrlMu.Unlock()
	return c.apply(ctx, func(Config) Config { return cfg })
}

// Update derives the next Config from the current one and applies it.
// Reading and applying happen under the same control lock.
func (c *Controller) Update(ctx context.Context, fn func(Config) Config) (Reconfiguration, error) {
	c.ctrlMu.Lock()
	defer c.ctrlMu.Unlock()
	return c.apply(ctx, fn)
}

// apply runs with ctrlMu held
func (c *Controller) apply(ctx context.Context, next func(Config) Config) (Reconfiguration, error) {
	c.mu.Lock()
	if c.closed {
		res := Reconfiguration{Config: c.state.config, Generation: c.state.generation}
		c.mu.Unlock()
		return res, ErrClosed
	}
	cfg := next(c.state.config)
	if cfg == c.state.config && c.state.context != nil {
		res := Reconfiguration{Config: cfg, Generation: c.state.generation, Noop: true}
		c.mu.Unlock()
		return res, nil
	}
	prev := c.state
	gen := prev.generation + 1
	// Revoke before teardown: from here on no frame is admitted to prev.context.
	c.state = state{config: cfg, sink: prev.sink, generation: gen}
	paused := c.paused
	c.mu.Unlock()

	res := Reconfiguration{Config: cfg, Generation: gen}

	if prev.context != nil {
		c.metrics.AddLiveContexts(ctx, -1)
	}
	c.teardown(prev.camera, prev.context)

	ictx, err := c.factory.Build(ctx, cfg)
	if err != nil {
		c.metrics.RecordReconfiguration(ctx, "build_failed")
		c.logger.Warn("Failed to build inference context",
			"config", cfg.String(),
			"generation", gen,
			"error", err,
		)
		return res, newBuildError(cfg, err)
	}

	var (
		cam    CameraSession
		camErr error
	)
	if !paused {
		cam, camErr = c.openCamera(ctx, gen, cfg.Facing)
	}

	c.mu.Lock()
	c.state = state{
		config:     cfg,
		context:    ictx,
		camera:     cam,
		sink:       c.state.sink,
		generation: gen,
	}
	c.mu.Unlock()
	c.metrics.AddLiveContexts(ctx, 1)

	if camErr != nil {
		c.metrics.RecordReconfiguration(ctx, "camera_failed")
		c.logger.Warn("Inference context ready but camera failed to open",
			"config", cfg.String(),
			"generation", gen,
			"error", camErr,
		)
		return res, camErr
	}

	c.metrics.RecordReconfiguration(ctx, "ok")
	c.logger.Info("Session reconfigured",
		"config", cfg.String(),
		"generation", gen,
		"paused", paused,
	)
	return res, nil
}

// Pause stops the camera session and keeps the context and Config
func (c *Controller) Pause(ctx context.Context) error {
	c.ctrlMu.Lock()
	defer c.ctrlMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.paused {
		c.mu.Unlock()
		return nil
	}
	c.paused = true
	cam := c.state.camera
	c.state.camera = nil
	gen := c.state.generation
	c.mu.Unlock()

	if cam != nil {
		if err := cam.Close(); err != nil {
			c.logger.Warn("Error closing camera on pause", "error", err)
		}
	}

	c.logger.Info("Session paused", "generation", gen)
	return nil
}

// Resume reopens the camera with the retained facing. The context is never
// rebuilt. Without a context Resume only clears the paused flag.
func (c *Controller) Resume(ctx context.Context) error {
	c.ctrlMu.Lock()
	defer c.ctrlMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.paused = false
	c.mu.Unlock()

	_, err := c.reopenCamera(ctx)
	return err
}

// ResumeIfStopped reopens the camera only when the session is not paused,
// a context is live and no camera is running. It never clears a pause.
// It reports whether a camera was opened.
func (c *Controller) ResumeIfStopped(ctx context.Context) (bool, error) {
	c.ctrlMu.Lock()
	defer c.ctrlMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, ErrClosed
	}
	paused := c.paused
	c.mu.Unlock()

	if paused {
		return false, nil
	}
	return c.reopenCamera(ctx)
}

// reopenCamera runs with ctrlMu held
func (c *Controller) reopenCamera(ctx context.Context) (bool, error) {
	c.mu.Lock()
	running := c.state.camera != nil
	live := c.state.context != nil
	gen := c.state.generation
	facing := c.state.config.Facing
	c.mu.Unlock()

	if running {
		return false, nil
	}
	if !live {
		c.logger.Info("Session resumed without inference context, camera stays stopped",
			"generation", gen,
		)
		return false, nil
	}

	cam, err := c.openCamera(ctx, gen, facing)
	if err != nil {
		c.logger.Warn("Failed to reopen camera on resume",
			"facing", facing.String(),
			"error", err,
		)
		return false, err
	}

	c.mu.Lock()
	c.state.camera = cam
	c.mu.Unlock()

	c.logger.Info("Session resumed", "generation", gen, "facing", facing.String())
	return true, nil
}

// AttachSink swaps the render target. A nil sink detaches.
func (c *Controller) AttachSink(sink SurfaceSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.sink = sink
}

// DetachSink removes the render target. Frames are still submitted.
func (c *Controller) DetachSink() {
	c.AttachSink(nil)
}

// Close tears down the camera session and context. Further control
// operations return ErrClosed. Close is idempotent.
func (c *Controller) Close() error {
	c.ctrlMu.Lock()
	defer c.ctrlMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	prev := c.state
	c.state = state{config: prev.config, generation: prev.generation + 1}
	c.mu.Unlock()

	c.baseCancel()
	if prev.context != nil {
		c.metrics.AddLiveContexts(context.Background(), -1)
	}
	c.teardown(prev.camera, prev.context)

	c.logger.Info("Session controller closed", "generation", prev.generation+1)
	return nil
}

// Snapshot returns the current state
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Config:        c.state.config,
		Generation:    c.state.generation,
		ContextLive:   c.state.context != nil,
		CameraRunning: c.state.camera != nil,
		SinkAttached:  c.state.sink != nil,
		Paused:        c.paused,
		Closed:        c.closed,
	}
}

// Stats returns frame counters
func (c *Controller) Stats() Stats {
	return Stats{
		Received:        c.counters.received.Load(),
		Submitted:       c.counters.submitted.Load(),
		Drawn:           c.counters.drawn.Load(),
		DroppedStale:    c.counters.droppedStale.Load(),
		DroppedBusy:     c.counters.droppedBusy.Load(),
		DroppedNotReady: c.counters.droppedNotReady.Load(),
		DroppedNoSink:   c.counters.droppedNoSink.Load(),
		InferenceErrors: c.counters.inferenceErrors.Load(),
		DrawErrors:      c.counters.drawErrors.Load(),
	}
}

// openCamera opens a new camera session whose frames are stamped with gen
func (c *Controller) openCamera(ctx context.Context, gen uint64, facing Facing) (CameraSession, error) {
	cam := c.cameras.NewSession()
	handler := func(frame Frame) {
		c.handleFrame(gen, frame)
	}
	if err := cam.Open(ctx, facing, handler); err != nil {
		_ = cam.Close()
		return nil, classifyCameraError(facing, err)
	}
	return cam, nil
}

// teardown closes the camera and the context concurrently and waits for
// both. A capture callback may be blocked in Submit until the context is
// closed, so closing them one after the other could wait forever.
func (c *Controller) teardown(cam CameraSession, ictx InferenceContext) {
	if cam == nil && ictx == nil {
		return
	}

	var g errgroup.Group
	if cam != nil {
		g.Go(func() error {
			if err := cam.Close(); err != nil {
				return fmt.Errorf("close camera session: %w", err)
			}
			return nil
		})
	}
	if ictx != nil {
		g.Go(func() error {
			if err := ictx.Close(); err != nil {
				return fmt.Errorf("close inference context: %w", err)
			}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	timer := time.NewTimer(c.opts.TeardownWarn)
	defer timer.Stop()

	var err error
	select {
	case err = <-done:
	case <-timer.C:
		c.logger.Warn("Session teardown is taking long", "waited", c.opts.TeardownWarn)
		err = <-done
	}
	if err != nil {
		c.logger.Warn("Session teardown error", "error", err)
	}
}

// handleFrame runs on the capture goroutine of the camera session opened
// for gen.
func (c *Controller) handleFrame(gen uint64, frame Frame) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Recovered panic in frame path",
				"panic", r,
				"generation", gen,
			)
		}
	}()

	c.counters.received.Add(1)
	c.metrics.RecordFrameReceived(c.baseCtx)

	ictx, reason := c.admit(gen)
	if ictx == nil {
		c.drop(reason)
		return
	}

	submitCtx, cancel := context.WithTimeout(c.baseCtx, c.opts.SubmitTimeout)
	start := time.Now()
	result, err := safeSubmit(submitCtx, ictx, frame)
	cancel()
	c.counters.submitted.Add(1)
	c.metrics.RecordSubmit(c.baseCtx, time.Since(start), err)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = false

	if c.closed || c.state.generation != gen {
		c.drop(observe.DropStale)
		return
	}
	if err != nil {
		c.counters.inferenceErrors.Add(1)
		c.logger.Debug("Frame inference failed",
			"generation", gen,
			"sequence", frame.Sequence,
			"error", err,
		)
		return
	}

	sink := c.state.sink
	if sink == nil || !sink.Valid() {
		c.drop(observe.DropNoSink)
		return
	}

	result.Generation = gen
	if err := safeDraw(sink, result); err != nil {
		c.counters.drawErrors.Add(1)
		c.drop(observe.DropDraw)
		c.logger.Debug("Failed to draw frame", "generation", gen, "error", err)
		return
	}
	c.counters.drawn.Add(1)
	c.metrics.RecordFrameDrawn(c.baseCtx)
}

// admit decides under the owner lock whether a frame of generation gen is
// submitted. It returns the context to submit to, or nil and the drop
// reason.
func (c *Controller) admit(gen uint64) (InferenceContext, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.closed || c.state.generation != gen:
		return nil, observe.DropStale
	case c.paused || c.state.context == nil:
		return nil, observe.DropNotReady
	case c.inFlight:
		return nil, observe.DropBusy
	}
	c.inFlight = true
	return c.state.context, ""
}

func (c *Controller) drop(reason string) {
	switch reason {
	case observe.DropStale:
		c.counters.droppedStale.Add(1)
	case observe.DropBusy:
		c.counters.droppedBusy.Add(1)
	case observe.DropNotReady:
		c.counters.droppedNotReady.Add(1)
	case observe.DropNoSink:
		c.counters.droppedNoSink.Add(1)
	}
	c.metrics.RecordFrameDropped(c.baseCtx, reason)
}

func safeSubmit(ctx context.Context, ictx InferenceContext, frame Frame) (result AnnotatedFrame, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("inference submit panicked: %v", r)
		}
	}()
	return ictx.Submit(ctx, frame)
}

func safeDraw(sink SurfaceSink, frame AnnotatedFrame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink draw panicked: %v", r)
		}
	}()
	return sink.Draw(frame)
}
