package session

import (
	"errors"
	"fmt"
)

// Collaborator errors. Factories and camera sessions wrap these so the
// controller can classify failures.
var (
	ErrAssetMissing       = errors.New("model asset missing")
	ErrUnsupportedBackend = errors.New("backend not supported")
	ErrOutOfMemory        = errors.New("out of memory")

	ErrPermissionDenied  = errors.New("camera permission denied")
	ErrDeviceBusy        = errors.New("camera device busy")
	ErrFacingUnsupported = errors.New("camera facing not supported")
	ErrAlreadyRunning    = errors.New("camera session already running")
)

var (
	// ErrClosed is returned by control operations after Close.
	ErrClosed = errors.New("session controller closed")

	// ErrPermissionRequired matches every *PermissionRequiredError.
	ErrPermissionRequired = errors.New("camera permission required")
)

// BuildReason classifies a BuildError
type BuildReason string

const (
	BuildAssetMissing       BuildReason = "asset_missing"
	BuildUnsupportedBackend BuildReason = "unsupported_backend"
	BuildOutOfMemory        BuildReason = "out_of_memory"
	BuildUnknown            BuildReason = "unknown"
)

// BuildError reports that no inference context could be built for Config
type BuildError struct {
	Config Config
	Reason BuildReason
	Err    error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build inference context (%s): %s: %v", e.Config, e.Reason, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

func newBuildError(cfg Config, err error) *BuildError {
	reason := BuildUnknown
	switch {
	case errors.Is(err, ErrAssetMissing):
		reason = BuildAssetMissing
	case errors.Is(err, ErrUnsupportedBackend):
		reason = BuildUnsupportedBackend
	case errors.Is(err, ErrOutOfMemory):
		reason = BuildOutOfMemory
	}
	return &BuildError{Config: cfg, Reason: reason, Err: err}
}

// CameraReason classifies a CameraError
type CameraReason string

const (
	CameraDeviceBusy        CameraReason = "device_busy"
	CameraFacingUnsupported CameraReason = "facing_unsupported"
	CameraUnknown           CameraReason = "unknown"
)

// CameraError reports a camera open failure other than missing permission
type CameraError struct {
	Facing Facing
	Reason CameraReason
	Err    error
}

func (e *CameraError) Error() string {
	return fmt.Sprintf("open %s camera: %s: %v", e.Facing, e.Reason, e.Err)
}

func (e *CameraError) Unwrap() error { return e.Err }

// PermissionRequiredError reports that camera access must be granted
// before the session can run
type PermissionRequiredError struct {
	Facing Facing
	Err    error
}

func (e *PermissionRequiredError) Error() string {
	return fmt.Sprintf("open %s camera: permission required: %v", e.Facing, e.Err)
}

func (e *PermissionRequiredError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrPermissionRequired) hold
func (e *PermissionRequiredError) Is(target error) bool {
	return target == ErrPermissionRequired
}

// classifyCameraError maps an Open failure to PermissionRequiredError or
// CameraError
func classifyCameraError(facing Facing, err error) error {
	if errors.Is(err, ErrPermissionDenied) {
		return &PermissionRequiredError{Facing: facing, Err: err}
	}
	reason := CameraUnknown
	switch {
	case errors.Is(err, ErrDeviceBusy):
		reason = CameraDeviceBusy
	case errors.Is(err, ErrFacingUnsupported):
		reason = CameraFacingUnsupported
	}
	return &CameraError{Facing: facing, Reason: reason, Err: err}
}
