package capture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/drksbr/facecam/internal/camera"
	"github.com/drksbr/facecam/internal/config"
	"github.com/drksbr/facecam/internal/logger"
	"github.com/drksbr/facecam/internal/network"
	"github.com/drksbr/facecam/internal/observability"
	"github.com/drksbr/facecam/internal/runtime"
	"github.com/drksbr/facecam/internal/status"
	"github.com/drksbr/facecam/internal/telemetry"
	"github.com/drksbr/facecam/internal/upload"
)

// deviceFlags override the loaded configuration for a single invocation.
type deviceFlags struct {
	url          string
	backend      string
	device       string
	frameSize    string
	quality      int
	networkMode  string
	iface        string
	ssid         string
	interval     time.Duration
	statusListen string
}

func (f *deviceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.url, "url", "", "upload endpoint (overrides upload.url)")
	cmd.Flags().StringVar(&f.backend, "backend", "", "camera backend (v4l2 or dir)")
	cmd.Flags().StringVar(&f.device, "device", "", "camera device node, or image directory for the dir backend")
	cmd.Flags().StringVar(&f.frameSize, "frame-size", "", "frame size (QQVGA, QVGA, CIF, VGA, SVGA, XGA, SXGA, UXGA)")
	cmd.Flags().IntVar(&f.quality, "jpeg-quality", 0, "jpeg quality 0..63, lower is better")
	cmd.Flags().StringVar(&f.networkMode, "network", "", "uplink mode (wifi, interface, none)")
	cmd.Flags().StringVar(&f.iface, "interface", "", "network interface to join or watch")
	cmd.Flags().StringVar(&f.ssid, "ssid", "", "access point to join in wifi mode")
}

func (f *deviceFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	changed := cmd.Flags().Changed
	if changed("url") {
		cfg.Upload.URL = f.url
	}
	if changed("backend") {
		cfg.Camera.Backend = f.backend
	}
	if changed("device") {
		cfg.Camera.Device = f.device
	}
	if changed("frame-size") {
		cfg.Camera.FrameSize = camera.FrameSize(f.frameSize)
	}
	if changed("jpeg-quality") {
		cfg.Camera.JPEGQuality = f.quality
	}
	if changed("network") {
		cfg.Network.Mode = f.networkMode
	}
	if changed("interface") {
		cfg.Network.Interface = f.iface
	}
	if changed("ssid") {
		cfg.Network.SSID = f.ssid
	}
	if changed("interval") {
		cfg.Loop.Interval = f.interval
	}
	if changed("status-listen") {
		cfg.Status.Listen = f.statusListen
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return cfg.ValidateNetwork()
}

// NewRunCommand returns the command that runs the capture loop until
// interrupted.
func NewRunCommand(globals *runtime.Options) *cobra.Command {
	flags := &deviceFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Capture a frame and upload it every interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := prepare(cmd, globals, flags)
			if err != nil {
				return err
			}
			return run(commandContext(cmd), cfg, log)
		},
	}
	flags.register(cmd)
	cmd.Flags().DurationVar(&flags.interval, "interval", 0, "pause between iterations (overrides loop.interval)")
	cmd.Flags().StringVar(&flags.statusListen, "status-listen", "", "listen address for /healthz, /status, /metrics and /events")
	return cmd
}

// NewSnapCommand returns the command that captures and uploads one frame.
func NewSnapCommand(globals *runtime.Options) *cobra.Command {
	flags := &deviceFlags{}
	cmd := &cobra.Command{
		Use:   "snap",
		Short: "Capture and upload a single frame",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := prepare(cmd, globals, flags)
			if err != nil {
				return err
			}
			return snap(commandContext(cmd), cfg, log)
		},
	}
	flags.register(cmd)
	return cmd
}

func prepare(cmd *cobra.Command, globals *runtime.Options, flags *deviceFlags) (*config.Config, *slog.Logger, error) {
	if globals.Logger() == nil {
		if err := globals.SetupLogger(); err != nil {
			return nil, nil, err
		}
	}
	cfg, err := globals.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := flags.apply(cmd, cfg); err != nil {
		return nil, nil, err
	}
	return cfg, globals.Logger().WithComponent("capture"), nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// NewUploader builds the upload client described by cfg.
func NewUploader(cfg *config.Config, log *slog.Logger) (*upload.Client, error) {
	if log == nil {
		log = logger.Discard()
	}
	return upload.NewClient(cfg.Upload.URL,
		upload.WithForm(cfg.Upload.Form),
		upload.WithTimeout(cfg.Upload.Timeout),
		upload.WithProxy(cfg.Upload.Proxy),
		upload.WithMaxPayload(cfg.Upload.MaxPayloadBytes),
		upload.WithRequestIDMode(cfg.Upload.RequestIDMode),
		upload.WithDeviceID(cfg.DeviceID),
		upload.WithLogger(log.With("component", "upload")),
	)
}

func startTracing(ctx context.Context, cfg *config.Config, log *slog.Logger) func() {
	shutdown, err := observability.InitTracing(ctx, cfg.TracingConfig())
	if err != nil {
		log.Warn("tracing disabled", "error", err)
		return func() {}
	}
	return func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			log.Warn("tracing shutdown failed", "error", err)
		}
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	stopTracing := startTracing(ctx, cfg, log)
	defer stopTracing()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.New(reg)
	footprint := status.NewFootprint()
	statusSrv := status.NewServer(cfg.Status.Listen, reg, footprint, log.With("component", "status"))
	go func() {
		if err := statusSrv.Run(ctx); err != nil {
			log.Error("status server failed", "error", err)
		}
	}()

	link, err := network.New(cfg.Network.Mode, cfg.Network.Interface, log.With("component", "network"))
	if err != nil {
		return err
	}
	uploader, err := NewUploader(cfg, log)
	if err != nil {
		return err
	}

	cam, err := Setup(ctx, cfg, link, log)
	if err != nil {
		return err
	}
	defer cam.Close()

	loop := NewLoop(cam, link, uploader,
		WithInterval(cfg.Loop.Interval),
		WithSleepAfterCaptureFailure(cfg.Loop.SleepAfterCaptureFailure),
		WithPublisher(statusSrv),
		WithMetrics(metrics),
		WithMemory(footprint.RSS),
		WithLogger(log),
	)
	return loop.Run(ctx)
}

func snap(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	stopTracing := startTracing(ctx, cfg, log)
	defer stopTracing()

	link, err := network.New(cfg.Network.Mode, cfg.Network.Interface, log.With("component", "network"))
	if err != nil {
		return err
	}
	uploader, err := NewUploader(cfg, log)
	if err != nil {
		return err
	}
	cam, err := Setup(ctx, cfg, link, log)
	if err != nil {
		return err
	}
	defer cam.Close()

	loop := NewLoop(cam, link, uploader,
		WithMemory(status.NewFootprint().RSS),
		WithLogger(log),
	)
	if err := loop.Once(ctx); err != nil {
		return fmt.Errorf("snap failed: %w", err)
	}
	return nil
}
