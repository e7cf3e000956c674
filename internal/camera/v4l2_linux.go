//go:build linux

package camera

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/blackjack/webcam"
)

const (
	pixFmtMJPEG            webcam.PixelFormat = 0x47504A4D // 'MJPG'
	cidJPEGCompressQuality webcam.ControlID   = 0x009d0903
)

type v4l2Camera struct {
	cam     *webcam.Webcam
	width   int
	height  int
	timeout uint32
	slots   *slots
	logger  *slog.Logger
}

func openV4L2(s Settings, log *slog.Logger) (Camera, error) {
	width, height, err := s.FrameSize.Dimensions()
	if err != nil {
		return nil, err
	}
	cam, err := webcam.Open(s.Device)
	if err != nil {
		return nil, err
	}

	formats := cam.GetSupportedFormats()
	if _, ok := formats[pixFmtMJPEG]; !ok {
		cam.Close()
		return nil, fmt.Errorf("%w (have %v)", ErrUnsupportedFormat, formatNames(formats))
	}

	_, w, h, err := cam.SetImageFormat(pixFmtMJPEG, uint32(width), uint32(height))
	if err != nil {
		cam.Close()
		return nil, fmt.Errorf("set image format: %w", err)
	}
	if int(w) != width || int(h) != height {
		log.Warn("driver adjusted frame size", "requested", fmt.Sprintf("%dx%d", width, height), "actual", fmt.Sprintf("%dx%d", w, h))
	}

	// mmap streaming needs at least two kernel buffers; the single-frame
	// contract is enforced by slots, not by the driver queue.
	count := s.BufferCount
	if count < 2 {
		count = 2
	}
	if err := cam.SetBufferCount(uint32(count)); err != nil {
		cam.Close()
		return nil, fmt.Errorf("set buffer count: %w", err)
	}

	if err := cam.SetControl(cidJPEGCompressQuality, int32(s.QualityPercent())); err != nil {
		log.Debug("jpeg quality control not supported", "error", err)
	}

	if err := cam.StartStreaming(); err != nil {
		cam.Close()
		return nil, fmt.Errorf("start streaming: %w", err)
	}

	timeout := uint32(s.CaptureTimeout / time.Second)
	if timeout == 0 {
		timeout = 1
	}
	return &v4l2Camera{
		cam:     cam,
		width:   int(w),
		height:  int(h),
		timeout: timeout,
		slots:   newSlots(s.BufferCount),
		logger:  log,
	}, nil
}

func (c *v4l2Camera) Capture(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seq, err := c.slots.take()
	if err != nil {
		return nil, err
	}

	err = c.cam.WaitForFrame(c.timeout)
	switch err.(type) {
	case nil:
	case *webcam.Timeout:
		c.slots.give()
		return nil, ErrTimeout
	default:
		c.slots.give()
		return nil, fmt.Errorf("wait for frame: %w", err)
	}

	data, index, err := c.cam.GetFrame()
	if err != nil {
		c.slots.give()
		return nil, fmt.Errorf("get frame: %w", err)
	}
	if len(data) == 0 {
		_ = c.cam.ReleaseFrame(index)
		c.slots.give()
		return nil, ErrNoFrame
	}

	frame := NewFrame(data, c.width, c.height, func() {
		if err := c.cam.ReleaseFrame(index); err != nil {
			c.logger.Warn("release frame failed", "index", index, "error", err)
		}
		c.slots.give()
	})
	frame.Sequence = seq
	return frame, nil
}

func (c *v4l2Camera) Close() error {
	if err := c.cam.StopStreaming(); err != nil {
		c.logger.Debug("stop streaming", "error", err)
	}
	return c.cam.Close()
}

func formatNames(formats map[webcam.PixelFormat]string) []string {
	names := make([]string, 0, len(formats))
	for _, desc := range formats {
		names = append(names, desc)
	}
	return names
}
