// Package surface implements the drawing target for annotated frames: an
// MJPEG broadcaster that HTTP viewers subscribe to.
package surface

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/observe"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/session"
)

// ErrNotDrawable is returned for frames that cannot be rendered as JPEG
var ErrNotDrawable = errors.New("frame format not drawable")

// ErrSinkClosed is returned by Draw and Subscribe after Close
var ErrSinkClosed = errors.New("stream sink closed")

// Detections is the last detection result recorded by the sink
type Detections struct {
	Generation    uint64              `json:"generation"`
	Sequence      uint64              `json:"sequence"`
	Facing        session.Facing      `json:"facing"`
	Timestamp     time.Time           `json:"timestamp"`
	Width         int                 `json:"width"`
	Height        int                 `json:"height"`
	InferenceTime time.Duration       `json:"inference_time_ns"`
	Detections    []session.Detection `json:"detections"`
}

// Viewer receives rendered JPEG frames. Frames holds at most one frame;
// older frames are dropped for slow viewers.
type Viewer struct {
	ID     string
	Frames chan []byte
	done   chan struct{}
}

// Done is closed when the viewer is removed or the sink closes
func (v *Viewer) Done() <-chan struct{} {
	return v.done
}

// StreamOptions configures a StreamSink
type StreamOptions struct {
	Quality int // JPEG quality for annotated frames (1-100)
	Metrics *observe.Metrics
}

// StreamSink is a session.SurfaceSink that broadcasts annotated frames
type StreamSink struct {
	logger  *logger.Logger
	metrics *observe.Metrics
	quality int

	mu         sync.RWMutex
	valid      bool
	closed     bool
	viewers    map[string]*Viewer
	lastFrame  []byte
	detections *Detections
	drawn      uint64

	pending chan session.AnnotatedFrame
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewStreamSink creates a valid sink and starts its renderer
func NewStreamSink(opts StreamOptions, log *logger.Logger) *StreamSink {
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = 80
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &StreamSink{
		logger:  log,
		metrics: opts.Metrics,
		quality: opts.Quality,
		valid:   true,
		viewers: make(map[string]*Viewer),
		pending: make(chan session.AnnotatedFrame, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go s.render()
	return s
}

// Valid reports whether frames may be drawn
func (s *StreamSink) Valid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.valid && !s.closed
}

// Invalidate marks the surface destroyed
func (s *StreamSink) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valid = false
}

// Revalidate marks the surface usable again
func (s *StreamSink) Revalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valid = true
}

// Draw records the detections and hands JPEG frames to the renderer.
// It never blocks; a frame still waiting to be rendered is replaced.
func (s *StreamSink) Draw(frame session.AnnotatedFrame) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSinkClosed
	}
	s.detections = &Detections{
		Generation:    frame.Generation,
		Sequence:      frame.Frame.Sequence,
		Facing:        frame.Frame.Facing,
		Timestamp:     frame.Frame.Timestamp,
		Width:         frame.Frame.Width,
		Height:        frame.Frame.Height,
		InferenceTime: frame.InferenceTime,
		Detections:    append([]session.Detection(nil), frame.Detections...),
	}
	valid := s.valid
	s.mu.Unlock()

	if !valid {
		return ErrNotDrawable
	}
	if frame.Frame.Format != session.FormatJPEG {
		return ErrNotDrawable
	}

	select {
	case s.pending <- frame:
	default:
		select {
		case <-s.pending:
		default:
		}
		select {
		case s.pending <- frame:
		default:
		}
	}
	return nil
}

// Subscribe registers a new viewer
func (s *StreamSink) Subscribe() (*Viewer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSinkClosed
	}

	v := &Viewer{
		ID:     uuid.New().String(),
		Frames: make(chan []byte, 1),
		done:   make(chan struct{}),
	}
	if s.lastFrame != nil {
		v.Frames <- s.lastFrame
	}
	s.viewers[v.ID] = v
	s.metrics.AddStreamViewers(context.Background(), 1)
	s.logger.Debug("Stream viewer subscribed", "viewer_id", v.ID, "viewers", len(s.viewers))
	return v, nil
}

// Unsubscribe removes a viewer. Unknown viewers are ignored.
func (s *StreamSink) Unsubscribe(v *Viewer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.viewers[v.ID]; !ok {
		return
	}
	delete(s.viewers, v.ID)
	close(v.done)
	s.metrics.AddStreamViewers(context.Background(), -1)
	s.logger.Debug("Stream viewer left", "viewer_id", v.ID, "viewers", len(s.viewers))
}

// ViewerCount returns the number of subscribed viewers
func (s *StreamSink) ViewerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.viewers)
}

// LastFrame returns the last rendered JPEG, or nil
func (s *StreamSink) LastFrame() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastFrame
}

// LastDetections returns the last recorded detections, or nil
func (s *StreamSink) LastDetections() *Detections {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.detections == nil {
		return nil
	}
	d := *s.detections
	d.Detections = append([]session.Detection(nil), s.detections.Detections...)
	return &d
}

// Rendered returns the number of frames broadcast so far
func (s *StreamSink) Rendered() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.drawn
}

// Close stops the renderer and disconnects all viewers
func (s *StreamSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, v := range s.viewers {
		delete(s.viewers, id)
		close(v.done)
		s.metrics.AddStreamViewers(context.Background(), -1)
	}
	return nil
}

func (s *StreamSink) render() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case frame := <-s.pending:
			data, err := Annotate(frame.Frame.Data, frame.Detections, s.quality)
			if err != nil {
				s.logger.Debug("Failed to annotate frame", "sequence", frame.Frame.Sequence, "error", err)
				continue
			}
			s.broadcast(data)
		}
	}
}

func (s *StreamSink) broadcast(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastFrame = data
	s.drawn++
	for _, v := range s.viewers {
		select {
		case v.Frames <- data:
		default:
			select {
			case <-v.Frames:
			default:
			}
			select {
			case v.Frames <- data:
			default:
			}
		}
	}
}
