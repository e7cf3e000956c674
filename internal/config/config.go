// Package config resolves the device configuration from defaults, an
// optional YAML file, a .env file and FACECAM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/drksbr/facecam/internal/camera"
	"github.com/drksbr/facecam/internal/logger"
	"github.com/drksbr/facecam/internal/network"
	"github.com/drksbr/facecam/internal/observability"
	"github.com/drksbr/facecam/internal/upload"
)

const (
	DefaultUploadURL    = "http://192.168.0.1:8000/identificar/"
	DefaultLoopInterval = 10 * time.Second
	DefaultSinkUpload   = 10 << 20
)

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type NetworkConfig struct {
	Mode           string        `yaml:"mode"`
	Interface      string        `yaml:"interface"`
	SSID           string        `yaml:"ssid"`
	Password       string        `yaml:"password"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// Credentials returns the access point the station joins.
func (n NetworkConfig) Credentials() network.Credentials {
	return network.Credentials{SSID: n.SSID, Password: n.Password}
}

// AwaitPolicy returns how long setup waits for the link.
func (n NetworkConfig) AwaitPolicy() network.AwaitPolicy {
	return network.AwaitPolicy{PollInterval: n.PollInterval, Timeout: n.ConnectTimeout}
}

type UploadConfig struct {
	URL             string        `yaml:"url"`
	Form            upload.Form   `yaml:"form"`
	Timeout         time.Duration `yaml:"timeout"`
	Proxy           string        `yaml:"proxy"`
	MaxPayloadBytes int           `yaml:"max_payload_bytes"`
	RequestIDMode   string        `yaml:"request_id_mode"`
}

type LoopConfig struct {
	Interval                 time.Duration `yaml:"interval"`
	SleepAfterCaptureFailure bool          `yaml:"sleep_after_capture_failure"`
}

type StatusConfig struct {
	Listen string `yaml:"listen"`
}

type SinkConfig struct {
	Listen         string   `yaml:"listen"`
	SearchDir      string   `yaml:"search_dir"`
	ImageDir       string   `yaml:"image_dir"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes"`
	IDMode         string   `yaml:"id_mode"`
	ACMEHosts      []string `yaml:"acme_hosts"`
	ACMECache      string   `yaml:"acme_cache"`
	ACMEEmail      string   `yaml:"acme_email"`
	SecureListen   string   `yaml:"secure_listen"`
}

// Config is everything the device needs at startup.
type Config struct {
	DeviceID string                      `yaml:"device_id"`
	Log      LogConfig                   `yaml:"log"`
	Camera   camera.Settings             `yaml:"camera"`
	Network  NetworkConfig               `yaml:"network"`
	Upload   UploadConfig                `yaml:"upload"`
	Loop     LoopConfig                  `yaml:"loop"`
	Status   StatusConfig                `yaml:"status"`
	Tracing  observability.TracingConfig `yaml:"tracing"`
	Sink     SinkConfig                  `yaml:"sink"`
}

func Default() *Config {
	host, _ := os.Hostname()
	return &Config{
		DeviceID: host,
		Log:      LogConfig{Level: "info", Format: string(logger.FormatText)},
		Camera:   camera.DefaultSettings(),
		Network: NetworkConfig{
			Mode:         network.ModeWiFi,
			Interface:    "wlan0",
			PollInterval: 500 * time.Millisecond,
		},
		Upload: UploadConfig{
			URL:             DefaultUploadURL,
			Form:            upload.DefaultForm(),
			Timeout:         upload.DefaultTimeout,
			MaxPayloadBytes: upload.DefaultMaxPayload,
			RequestIDMode:   "uuid",
		},
		Loop:    LoopConfig{Interval: DefaultLoopInterval},
		Tracing: observability.TracingConfig{Exporter: "stdout", SampleRatio: 1},
		Sink: SinkConfig{
			Listen:         ":8000",
			SearchDir:      "search",
			ImageDir:       "images",
			MaxUploadBytes: DefaultSinkUpload,
			IDMode:         "uuid",
			ACMECache:      "acme-cache",
			SecureListen:   ":443",
		},
	}
}

// Load builds the configuration. path may be empty. envFile defaults to
// ".env", which is optional; an explicitly named file must exist. Values
// already present in the process environment are never overwritten by the
// .env file.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()
	if err := LoadYAML(path, cfg); err != nil {
		return nil, err
	}
	if err := loadDotEnv(envFile); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(envFile string) error {
	name := envFile
	if name == "" {
		name = ".env"
	}
	err := godotenv.Load(name)
	if err == nil {
		return nil
	}
	if envFile == "" && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load env file %q: %w", name, err)
}

func (c *Config) applyEnv() {
	c.DeviceID = GetStringEnv("DEVICE_ID", c.DeviceID)
	c.Log.Level = GetStringEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = GetStringEnv("LOG_FORMAT", c.Log.Format)

	c.Camera.Backend = GetStringEnv("CAMERA_BACKEND", c.Camera.Backend)
	c.Camera.Device = GetStringEnv("CAMERA_DEVICE", c.Camera.Device)
	c.Camera.FrameSize = camera.FrameSize(GetStringEnv("CAMERA_FRAME_SIZE", string(c.Camera.FrameSize)))
	c.Camera.JPEGQuality = GetIntEnv("CAMERA_JPEG_QUALITY", c.Camera.JPEGQuality)

	c.Network.Mode = GetStringEnv("NETWORK_MODE", c.Network.Mode)
	c.Network.Interface = GetStringEnv("NETWORK_INTERFACE", c.Network.Interface)
	c.Network.SSID = GetStringEnv("WIFI_SSID", c.Network.SSID)
	c.Network.Password = GetStringEnv("WIFI_PASSWORD", c.Network.Password)
	c.Network.ConnectTimeout = GetDurationEnv("NETWORK_CONNECT_TIMEOUT", c.Network.ConnectTimeout)

	c.Upload.URL = GetStringEnv("UPLOAD_URL", c.Upload.URL)
	c.Upload.Timeout = GetDurationEnv("UPLOAD_TIMEOUT", c.Upload.Timeout)
	c.Upload.Proxy = GetStringEnv("UPLOAD_PROXY", c.Upload.Proxy)
	c.Upload.MaxPayloadBytes = GetIntEnv("UPLOAD_MAX_PAYLOAD", c.Upload.MaxPayloadBytes)

	c.Loop.Interval = GetDurationEnv("LOOP_INTERVAL", c.Loop.Interval)
	c.Status.Listen = GetStringEnv("STATUS_LISTEN", c.Status.Listen)

	c.Tracing.Enabled = GetBoolEnv("TRACING_ENABLED", c.Tracing.Enabled)
	c.Tracing.Exporter = GetStringEnv("TRACING_EXPORTER", c.Tracing.Exporter)
	c.Tracing.Endpoint = GetStringEnv("TRACING_ENDPOINT", c.Tracing.Endpoint)

	c.Sink.Listen = GetStringEnv("SINK_LISTEN", c.Sink.Listen)
	c.Sink.MaxUploadBytes = GetInt64Env("SINK_MAX_UPLOAD", c.Sink.MaxUploadBytes)
}

// Validate reports the first setting that would make the device misbehave.
func (c *Config) Validate() error {
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch logger.Format(strings.ToLower(c.Log.Format)) {
	case logger.FormatText, logger.FormatJSON, "":
	default:
		return fmt.Errorf("unsupported log format %q", c.Log.Format)
	}
	if err := c.Camera.Validate(); err != nil {
		return fmt.Errorf("camera: %w", err)
	}

	switch c.Network.Mode {
	case network.ModeWiFi, network.ModeInterface, network.ModeNone:
	default:
		return fmt.Errorf("network: unsupported mode %q", c.Network.Mode)
	}
	if c.Network.PollInterval <= 0 {
		return errors.New("network: poll_interval must be positive")
	}
	if c.Network.ConnectTimeout < 0 {
		return errors.New("network: connect_timeout cannot be negative")
	}

	u, err := url.Parse(c.Upload.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("upload: invalid url %q", c.Upload.URL)
	}
	if err := c.Upload.Form.Validate(); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	if c.Upload.Timeout < 0 {
		return errors.New("upload: timeout cannot be negative")
	}
	switch c.Upload.RequestIDMode {
	case "uuid", "cuid":
	default:
		return fmt.Errorf("upload: unsupported request_id_mode %q", c.Upload.RequestIDMode)
	}

	if c.Loop.Interval <= 0 {
		return errors.New("loop: interval must be positive")
	}
	if c.Sink.MaxUploadBytes <= 0 {
		return errors.New("sink: max_upload_bytes must be positive")
	}
	return nil
}

// ValidateNetwork checks what joining the uplink needs. It is separate from
// Validate because only the capture commands bring the link up.
func (c *Config) ValidateNetwork() error {
	if c.Network.Mode != network.ModeWiFi {
		return nil
	}
	if c.Network.SSID == "" {
		return errors.New("network: wifi mode requires an ssid")
	}
	if c.Network.Interface == "" {
		return errors.New("network: wifi mode requires an interface")
	}
	return nil
}

// TracingConfig returns the tracing settings stamped with the device identity.
func (c *Config) TracingConfig() observability.TracingConfig {
	tc := c.Tracing
	tc.ServiceName = "facecam"
	tc.DeviceID = c.DeviceID
	return tc
}
