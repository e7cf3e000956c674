// Package camera exposes frame capture as an acquire/release pair over
// interchangeable drivers. A V4L2 driver serves real devices and a directory
// driver replays image files.
package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/drksbr/facecam/internal/logger"
)

var (
	ErrNoFrame            = errors.New("camera returned no frame")
	ErrTimeout            = errors.New("timed out waiting for frame")
	ErrFrameOutstanding   = errors.New("previous frame not released")
	ErrNotInitialized     = errors.New("camera not initialized")
	ErrUnsupportedBackend = errors.New("unsupported camera backend")
	ErrUnsupportedFormat  = errors.New("camera does not support motion-jpeg")
)

// Camera captures JPEG frames. Capture blocks until a frame is ready, the
// driver times out, or ctx is done.
type Camera interface {
	Capture(ctx context.Context) (*Frame, error)
	Close() error
}

// InitError reports a driver that could not be brought up.
type InitError struct {
	Backend string
	Device  string
	Err     error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("init %s camera %q: %v", e.Backend, e.Device, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// Open validates settings and initializes the selected backend.
func Open(ctx context.Context, s Settings, log *slog.Logger) (Camera, error) {
	if log == nil {
		log = logger.Discard()
	}
	if err := s.Validate(); err != nil {
		return nil, &InitError{Backend: s.Backend, Device: s.Device, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		cam Camera
		err error
	)
	switch s.Backend {
	case BackendV4L2:
		cam, err = openV4L2(s, log)
	case BackendDir:
		cam, err = openDir(s, log)
	default:
		err = ErrUnsupportedBackend
	}
	if err != nil {
		return nil, &InitError{Backend: s.Backend, Device: s.Device, Err: err}
	}
	log.Info("camera initialized",
		"backend", s.Backend,
		"device", s.Device,
		"frame_size", s.FrameSize,
		"jpeg_quality", s.JPEGQuality,
		"buffers", s.BufferCount,
		"xclk_hz", s.XCLKHz,
		"pins", s.Pins,
	)
	return cam, nil
}

// Unavailable stands in for a camera whose initialization failed. Every
// capture fails with ErrNotInitialized.
type Unavailable struct{}

func (Unavailable) Capture(ctx context.Context) (*Frame, error) {
	return nil, ErrNotInitialized
}

func (Unavailable) Close() error { return nil }
