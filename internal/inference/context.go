package inference

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/session"
)

var (
	// ErrContextClosed is returned by Submit after Close.
	ErrContextClosed = errors.New("inference context closed")
	// ErrContextBusy is returned when a job is already queued.
	ErrContextBusy = errors.New("inference context busy")
)

const deleteTimeout = 5 * time.Second

type jobResult struct {
	frame session.AnnotatedFrame
	err   error
}

type job struct {
	ctx    context.Context
	frame  session.Frame
	result chan jobResult
}

// Context is one remote inference session served by a single worker goroutine
type Context struct {
	client    *Client
	sessionID string
	model     Model
	backend   Backend
	opts      Options
	logger    *logger.Logger

	jobs chan job

	mu     sync.Mutex
	closed bool

	workerCtx context.Context
	cancel    context.CancelFunc
	done      chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func newContext(client *Client, sessionID string, model Model, backend Backend, opts Options, log *logger.Logger) *Context {
	workerCtx, cancel := context.WithCancel(context.Background())
	c := &Context{
		client:    client,
		sessionID: sessionID,
		model:     model,
		backend:   backend,
		opts:      opts,
		logger:    log.With("session_id", sessionID),
		jobs:      make(chan job, 1),
		workerCtx: workerCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go c.run()
	return c
}

// SessionID returns the remote session id
func (c *Context) SessionID() string {
	return c.sessionID
}

// Submit queues the frame for the worker and waits for its result
func (c *Context) Submit(ctx context.Context, frame session.Frame) (session.AnnotatedFrame, error) {
	j := job{ctx: ctx, frame: frame, result: make(chan jobResult, 1)}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return session.AnnotatedFrame{}, ErrContextClosed
	}
	select {
	case c.jobs <- j:
	default:
		c.mu.Unlock()
		return session.AnnotatedFrame{}, ErrContextBusy
	}
	c.mu.Unlock()

	select {
	case r := <-j.result:
		return r.frame, r.err
	case <-ctx.Done():
		return session.AnnotatedFrame{}, ctx.Err()
	}
}

// Close revokes submits, cancels queued and in-flight work and deletes the
// remote session. The worker has exited when Close returns.
func (c *Context) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.cancel()
		<-c.done

		for drained := false; !drained; {
			select {
			case j := <-c.jobs:
				j.result <- jobResult{err: ErrContextClosed}
			default:
				drained = true
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
		defer cancel()
		if err := c.client.DeleteSession(ctx, c.sessionID); err != nil {
			c.logger.Warn("Failed to delete inference session", "error", err)
			c.closeErr = err
			return
		}
		c.logger.Debug("Inference context closed")
	})
	return c.closeErr
}

func (c *Context) run() {
	defer close(c.done)
	for {
		select {
		case <-c.workerCtx.Done():
			return
		case j := <-c.jobs:
			j.result <- c.process(j)
		}
	}
}

func (c *Context) process(j job) jobResult {
	if c.workerCtx.Err() != nil {
		return jobResult{err: ErrContextClosed}
	}

	ctx, cancel := context.WithCancel(j.ctx)
	defer cancel()
	stop := context.AfterFunc(c.workerCtx, cancel)
	defer stop()

	var threshold *float64
	if c.opts.ConfidenceThreshold > 0 {
		t := c.opts.ConfidenceThreshold
		threshold = &t
	}

	resp, err := c.client.Infer(ctx, c.sessionID, j.frame, threshold, c.opts.EnabledClasses)
	if err != nil {
		if c.workerCtx.Err() != nil {
			return jobResult{err: ErrContextClosed}
		}
		return jobResult{err: err}
	}

	return jobResult{frame: annotate(j.frame, resp)}
}

func annotate(frame session.Frame, resp *InferenceResponse) session.AnnotatedFrame {
	if len(resp.FrameShape) >= 2 && (frame.Width == 0 || frame.Height == 0) {
		frame.Height = resp.FrameShape[0]
		frame.Width = resp.FrameShape[1]
	}

	detections := make([]session.Detection, 0, len(resp.BoundingBoxes))
	for _, b := range resp.BoundingBoxes {
		detections = append(detections, session.Detection{
			ClassID:    b.ClassID,
			ClassName:  b.ClassName,
			Confidence: b.Confidence,
			X1:         b.X1,
			Y1:         b.Y1,
			X2:         b.X2,
			Y2:         b.Y2,
		})
	}

	return session.AnnotatedFrame{
		Frame:         frame,
		Detections:    detections,
		InferenceTime: time.Duration(resp.InferenceTimeMs * float64(time.Millisecond)),
	}
}
