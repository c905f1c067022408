package camera

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"

	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/session"
)

// checkDevice opens the device once to surface access problems before
// capture starts.
func checkDevice(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR|syscall.O_NONBLOCK, 0)
	if err != nil {
		return classifyOpenError(path, err)
	}
	return f.Close()
}

func classifyOpenError(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENODEV), errors.Is(err, syscall.ENXIO):
		return fmt.Errorf("device %s: %w: %w", path, session.ErrFacingUnsupported, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("device %s: %w: %w", path, session.ErrPermissionDenied, err)
	case errors.Is(err, syscall.EBUSY):
		return fmt.Errorf("device %s: %w: %w", path, session.ErrDeviceBusy, err)
	}
	return fmt.Errorf("device %s: %w", path, err)
}
