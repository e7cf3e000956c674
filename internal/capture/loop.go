// Package capture runs the capture-and-upload cycle.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drksbr/facecam/internal/camera"
	"github.com/drksbr/facecam/internal/logger"
	"github.com/drksbr/facecam/internal/network"
	"github.com/drksbr/facecam/internal/status"
	"github.com/drksbr/facecam/internal/telemetry"
	"github.com/drksbr/facecam/internal/upload"
)

// ErrLinkDown is returned by Once when the uplink was not connected.
var ErrLinkDown = errors.New("network link down")

// Uploader sends one encoded image.
type Uploader interface {
	Upload(ctx context.Context, image []byte) (upload.Response, error)
}

// Publisher receives one event per iteration.
type Publisher interface {
	Publish(ev status.Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(status.Event) {}

// Loop captures a frame and uploads it every interval. It is not safe for
// concurrent use; Step and Run must be called from one goroutine.
type Loop struct {
	camera    camera.Camera
	link      network.Link
	uploader  Uploader
	publisher Publisher
	metrics   *telemetry.Metrics
	memory    func() uint64
	logger    *slog.Logger
	tracer    trace.Tracer

	interval                 time.Duration
	sleepAfterCaptureFailure bool
}

type Option func(*Loop)

func WithInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.interval = d
		}
	}
}

// WithSleepAfterCaptureFailure makes a failed capture wait out the interval
// like every other outcome. By default the next attempt starts immediately,
// except when the camera was never initialized.
func WithSleepAfterCaptureFailure(enabled bool) Option {
	return func(l *Loop) { l.sleepAfterCaptureFailure = enabled }
}

func WithPublisher(p Publisher) Option {
	return func(l *Loop) {
		if p != nil {
			l.publisher = p
		}
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(l *Loop) {
		if m != nil {
			l.metrics = m
		}
	}
}

// WithMemory sets the probe logged next to every captured frame.
func WithMemory(fn func() uint64) Option {
	return func(l *Loop) {
		if fn != nil {
			l.memory = fn
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(l *Loop) {
		if log != nil {
			l.logger = log
		}
	}
}

func NewLoop(cam camera.Camera, link network.Link, up Uploader, opts ...Option) *Loop {
	l := &Loop{
		camera:    cam,
		link:      link,
		uploader:  up,
		publisher: nopPublisher{},
		memory:    func() uint64 { return 0 },
		logger:    logger.Discard(),
		tracer:    otel.Tracer("github.com/drksbr/facecam/internal/capture"),
		interval:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.metrics == nil {
		l.metrics = telemetry.New(prometheus.NewRegistry())
	}
	return l
}

// Run repeats Step until ctx is done. The interval sleep is interruptible.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("capture loop started",
		"interval", l.interval.String(),
		"sleep_after_capture_failure", l.sleepAfterCaptureFailure,
	)
	for {
		if ctx.Err() != nil {
			l.logger.Info("capture loop stopped")
			return nil
		}
		if !l.Step(ctx) {
			continue
		}
		timer := time.NewTimer(l.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.logger.Info("capture loop stopped")
			return nil
		case <-timer.C:
		}
	}
}

// Step runs one iteration and reports whether the caller should sleep
// before the next one.
func (l *Loop) Step(ctx context.Context) bool {
	sleep, _ := l.iterate(ctx)
	return sleep
}

// Once runs a single iteration and returns its failure, if any. A link
// that is down counts as a failure after the reconnect request is issued.
func (l *Loop) Once(ctx context.Context) error {
	_, err := l.iterate(ctx)
	return err
}

func (l *Loop) iterate(ctx context.Context) (bool, error) {
	ctx, span := l.tracer.Start(ctx, "capture.iteration")
	defer span.End()
	ctx, _, _ = logger.WithTraceAndSpan(ctx)

	if !l.link.Connected(ctx) {
		l.metrics.LinkUp.Set(0)
		l.metrics.Reconnects.Inc()
		l.logger.WarnContext(ctx, "network down, reconnecting")
		ev := status.Event{Kind: status.EventReconnect}
		if err := l.link.Reconnect(ctx); err != nil {
			l.logger.WarnContext(ctx, "reconnect request failed", "error", err)
			ev.Error = err.Error()
		}
		span.SetAttributes(attribute.String("capture.outcome", string(ev.Kind)))
		l.publisher.Publish(ev)
		return true, ErrLinkDown
	}
	l.metrics.LinkUp.Set(1)

	frame, err := l.camera.Capture(ctx)
	if err != nil {
		l.metrics.CaptureFailures.Inc()
		l.logger.ErrorContext(ctx, "camera capture failed", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "capture failed")
		l.publisher.Publish(status.Event{Kind: status.EventCaptureFailed, Error: err.Error()})
		// A camera that never initialized will not recover by retrying at
		// once; only transient capture failures skip the sleep.
		sleep := l.sleepAfterCaptureFailure || errors.Is(err, camera.ErrNotInitialized)
		return sleep, fmt.Errorf("capture: %w", err)
	}
	defer frame.Release()

	l.metrics.FramesCaptured.Inc()
	span.SetAttributes(
		attribute.Int("frame.bytes", frame.Len()),
		attribute.Int64("frame.sequence", int64(frame.Sequence)),
	)
	l.logger.InfoContext(ctx, "image captured",
		"bytes", frame.Len(),
		"width", frame.Width,
		"height", frame.Height,
		"sequence", frame.Sequence,
		"rss_bytes", l.memory(),
	)

	resp, err := l.uploader.Upload(ctx, frame.Bytes())
	ev := status.Event{
		Sequence:   frame.Sequence,
		FrameBytes: frame.Len(),
		StatusCode: resp.StatusCode,
		RequestID:  resp.RequestID,
		DurationMs: float64(resp.Duration) / float64(time.Millisecond),
	}
	l.metrics.Uploads.WithLabelValues(uploadResult(err)).Inc()
	if resp.Duration > 0 {
		l.metrics.UploadDuration.Observe(resp.Duration.Seconds())
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if err != nil {
		ev.Kind = status.EventUploadFailed
		ev.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload failed")
		l.publisher.Publish(ev)
		return true, fmt.Errorf("upload: %w", err)
	}
	ev.Kind = status.EventUploadOK
	l.metrics.PayloadBytes.Add(float64(resp.PayloadBytes))
	l.metrics.LastUploadTime.SetToCurrentTime()
	l.publisher.Publish(ev)
	return true, nil
}

func uploadResult(err error) string {
	var statusErr *upload.StatusError
	switch {
	case err == nil:
		return telemetry.ResultOK
	case errors.Is(err, upload.ErrAllocation):
		return telemetry.ResultAllocation
	case errors.As(err, &statusErr):
		return telemetry.ResultRejected
	default:
		return telemetry.ResultTransport
	}
}
