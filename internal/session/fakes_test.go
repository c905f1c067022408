package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var errFakeContextClosed = errors.New("fake context closed")

// fakeFactory builds fakeContexts and tracks how many are live at once.
type fakeFactory struct {
	mu         sync.Mutex
	builds     int
	errFor     map[Config]error
	contexts   []*fakeContext
	live       int
	maxLive    int
	lastID     int
	blockNext  chan struct{} // Submit of the next built context waits on it
	buildDelay time.Duration
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{errFor: make(map[Config]error)}
}

func (f *fakeFactory) Build(ctx context.Context, cfg Config) (InferenceContext, error) {
	if f.buildDelay > 0 {
		time.Sleep(f.buildDelay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.builds++
	if err := f.errFor[cfg]; err != nil {
		return nil, err
	}

	f.lastID++
	fc := &fakeContext{
		id:      f.lastID,
		cfg:     cfg,
		factory: f,
		closeCh: make(chan struct{}),
		block:   f.blockNext,
		entered: make(chan struct{}, 16),
	}
	f.blockNext = nil
	f.contexts = append(f.contexts, fc)
	f.live++
	if f.live > f.maxLive {
		f.maxLive = f.live
	}
	return fc, nil
}

func (f *fakeFactory) released() {
	f.mu.Lock()
	f.live--
	f.mu.Unlock()
}

func (f *fakeFactory) buildCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.builds
}

func (f *fakeFactory) context(i int) *fakeContext {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contexts[i]
}

func (f *fakeFactory) contextCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.contexts)
}

func (f *fakeFactory) latestID() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastID
}

func (f *fakeFactory) peakLive() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxLive
}

// fakeContext returns one detection whose ClassID is the context id.
type fakeContext struct {
	id      int
	cfg     Config
	factory *fakeFactory

	mu      sync.Mutex
	closed  bool
	closeCh chan struct{}
	block   chan struct{}
	entered chan struct{}

	submits        atomic.Int64
	acceptedClosed atomic.Int64
	closeCalls     atomic.Int64
	failErr        error
	panicOnSubmit  atomic.Bool
}

func (c *fakeContext) Submit(ctx context.Context, frame Frame) (AnnotatedFrame, error) {
	c.mu.Lock()
	closed := c.closed
	block := c.block
	c.mu.Unlock()
	if closed {
		return AnnotatedFrame{}, errFakeContextClosed
	}
	c.submits.Add(1)

	select {
	case c.entered <- struct{}{}:
	default:
	}

	if c.panicOnSubmit.Load() {
		panic("backend crashed")
	}

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return AnnotatedFrame{}, ctx.Err()
		case <-c.closeCh:
			return AnnotatedFrame{}, errFakeContextClosed
		}
	}

	c.mu.Lock()
	if c.closed {
		c.acceptedClosed.Add(1)
	}
	c.mu.Unlock()

	c.mu.Lock()
	failErr := c.failErr
	c.mu.Unlock()
	if failErr != nil {
		return AnnotatedFrame{}, failErr
	}

	return AnnotatedFrame{
		Frame:      frame,
		Detections: []Detection{{ClassID: c.id, ClassName: "person", Confidence: 0.9}},
	}, nil
}

func (c *fakeContext) Close() error {
	c.closeCalls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.closeCh)
	c.factory.released()
	return nil
}

func (c *fakeContext) failWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failErr = err
}

func (c *fakeContext) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeProvider hands out fakeCameras and remembers them.
type fakeProvider struct {
	mu      sync.Mutex
	cameras []*fakeCamera
	openErr map[Facing]error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{openErr: make(map[Facing]error)}
}

func (p *fakeProvider) NewSession() CameraSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	cam := &fakeCamera{provider: p}
	p.cameras = append(p.cameras, cam)
	return cam
}

func (p *fakeProvider) setOpenErr(f Facing, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openErr[f] = err
}

func (p *fakeProvider) camera(i int) *fakeCamera {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cameras[i]
}

func (p *fakeProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cameras)
}

// latest returns the most recently created camera or nil.
func (p *fakeProvider) latest() *fakeCamera {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.cameras) == 0 {
		return nil
	}
	return p.cameras[len(p.cameras)-1]
}

// fakeCamera delivers frames only through Emit. Close waits for Emit calls
// in progress, like a real capture loop.
type fakeCamera struct {
	provider *fakeProvider

	gate sync.RWMutex

	mu      sync.Mutex
	handler FrameHandler
	facing  Facing
	running bool
	closed  bool

	closes    atomic.Int64
	delivered atomic.Int64
}

func (c *fakeCamera) Open(ctx context.Context, facing Facing, handler FrameHandler) error {
	c.provider.mu.Lock()
	err := c.provider.openErr[facing]
	c.provider.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrAlreadyRunning
	}
	if err != nil {
		return err
	}
	c.handler = handler
	c.facing = facing
	c.running = true
	return nil
}

func (c *fakeCamera) Close() error {
	c.gate.Lock()
	defer c.gate.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes.Add(1)
	c.running = false
	c.closed = true
	return nil
}

// Emit delivers frame on the calling goroutine. It reports whether the
// handler ran.
func (c *fakeCamera) Emit(frame Frame) bool {
	c.gate.RLock()
	defer c.gate.RUnlock()

	c.mu.Lock()
	h, running := c.handler, c.running
	c.mu.Unlock()
	if !running {
		return false
	}
	c.delivered.Add(1)
	h(frame)
	return true
}

// DeliverLate invokes the handler captured at Open, bypassing the gate,
// to simulate a callback that raced past Close.
func (c *fakeCamera) DeliverLate(frame Frame) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(frame)
	}
}

func (c *fakeCamera) isRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// fakeSink records drawn frames.
type fakeSink struct {
	valid   atomic.Bool
	mu      sync.Mutex
	frames  []AnnotatedFrame
	onDraw  func(AnnotatedFrame)
	drawErr error
}

func newFakeSink() *fakeSink {
	s := &fakeSink{}
	s.valid.Store(true)
	return s
}

func (s *fakeSink) Valid() bool { return s.valid.Load() }

func (s *fakeSink) Draw(frame AnnotatedFrame) error {
	if s.onDraw != nil {
		s.onDraw(frame)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drawErr != nil {
		return s.drawErr
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *fakeSink) drawn() []AnnotatedFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AnnotatedFrame(nil), s.frames...)
}

// fakeStore is an in-memory Store.
type fakeStore struct {
	mu      sync.Mutex
	saved   *Config
	history []HistoryEntry
	loadErr error
}

func (s *fakeStore) SaveSessionConfig(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = &cfg
	return nil
}

func (s *fakeStore) LoadSessionConfig(ctx context.Context) (Config, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return Config{}, false, s.loadErr
	}
	if s.saved == nil {
		return Config{}, false, nil
	}
	return *s.saved, true, nil
}

func (s *fakeStore) RecordReconfiguration(ctx context.Context, entry HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, entry)
	return nil
}

func (s *fakeStore) entries() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]HistoryEntry(nil), s.history...)
}
