// Package session implements the camera and inference session controller.
//
// The controller owns an inference context, a camera session and a borrowed
// surface sink, and keeps them consistent with the latest requested Config
// while reconfiguration, pause/resume and sink changes arrive concurrently
// with frames from the capture goroutine.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Facing selects the camera direction.
type Facing int

const (
	FacingBack Facing = iota
	FacingFront
)

// String returns "back" or "front"
func (f Facing) String() string {
	switch f {
	case FacingBack:
		return "back"
	case FacingFront:
		return "front"
	default:
		return fmt.Sprintf("facing(%d)", int(f))
	}
}

// Opposite returns the other camera direction
func (f Facing) Opposite() Facing {
	if f == FacingFront {
		return FacingBack
	}
	return FacingFront
}

// MarshalText encodes the facing as "back" or "front"
func (f Facing) MarshalText() ([]byte, error) {
	if f != FacingBack && f != FacingFront {
		return nil, fmt.Errorf("unknown facing %d", int(f))
	}
	return []byte(f.String()), nil
}

// UnmarshalText decodes "back" or "front"
func (f *Facing) UnmarshalText(text []byte) error {
	parsed, err := ParseFacing(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// ParseFacing parses "back" or "front"
func ParseFacing(s string) (Facing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "back":
		return FacingBack, nil
	case "front":
		return FacingFront, nil
	default:
		return 0, fmt.Errorf("unknown facing %q", s)
	}
}

// Config selects the model, compute backend and camera direction.
// Two Configs are equal when all fields match.
type Config struct {
	ModelID   int    `json:"model_id"`
	BackendID int    `json:"backend_id"`
	Facing    Facing `json:"facing"`
}

func (c Config) String() string {
	return fmt.Sprintf("model=%d backend=%d facing=%s", c.ModelID, c.BackendID, c.Facing)
}

// Frame encodings
const (
	FormatJPEG = "jpeg"
	FormatH264 = "h264"
)

// Frame is one captured image as delivered by a camera session
type Frame struct {
	Data      []byte
	Format    string
	Width     int
	Height    int
	Timestamp time.Time
	Sequence  uint64
	Facing    Facing
}

// Detection is one detected object in frame pixel coordinates
type Detection struct {
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
}

// AnnotatedFrame is a frame together with its detections
type AnnotatedFrame struct {
	Frame         Frame
	Detections    []Detection
	InferenceTime time.Duration
	// Generation is the configuration epoch the frame was processed under.
	Generation uint64
}

// InferenceContext is a loaded model bound to a compute backend.
//
// Submit is called by one goroutine at a time. Close is idempotent, may run
// concurrently with a Submit already in progress, and must not touch backend
// resources after it returns. Submit after Close returns an error without
// touching backend resources.
type InferenceContext interface {
	Submit(ctx context.Context, frame Frame) (AnnotatedFrame, error)
	Close() error
}

// ContextFactory builds inference contexts. Failures should wrap
// ErrAssetMissing, ErrUnsupportedBackend or ErrOutOfMemory when they apply.
type ContextFactory interface {
	Build(ctx context.Context, cfg Config) (InferenceContext, error)
}

// FrameHandler consumes frames on the capture goroutine
type FrameHandler func(Frame)

// CameraSession owns one capture stream.
//
// Open starts delivering frames to handler on a capture goroutine and fails
// with ErrAlreadyRunning when the session is running. ctx bounds the open
// itself; capture continues until Close. Close is idempotent and
// blocks until no further handler call will happen. Open failures should wrap
// ErrPermissionDenied, ErrDeviceBusy or ErrFacingUnsupported when they apply.
type CameraSession interface {
	Open(ctx context.Context, facing Facing, handler FrameHandler) error
	Close() error
}

// CameraProvider creates camera sessions
type CameraProvider interface {
	NewSession() CameraSession
}

// SurfaceSink receives annotated frames. Its validity is owned by the host;
// Draw is only called while Valid reports true and must not block.
type SurfaceSink interface {
	Valid() bool
	Draw(frame AnnotatedFrame) error
}
