package camera

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// FrameSize names a capture resolution using the sensor vocabulary
// (QVGA, SVGA, ...).
type FrameSize string

const (
	FrameSizeQQVGA FrameSize = "QQVGA"
	FrameSizeQVGA  FrameSize = "QVGA"
	FrameSizeCIF   FrameSize = "CIF"
	FrameSizeVGA   FrameSize = "VGA"
	FrameSizeSVGA  FrameSize = "SVGA"
	FrameSizeXGA   FrameSize = "XGA"
	FrameSizeSXGA  FrameSize = "SXGA"
	FrameSizeUXGA  FrameSize = "UXGA"
)

var frameSizes = map[FrameSize][2]int{
	FrameSizeQQVGA: {160, 120},
	FrameSizeQVGA:  {320, 240},
	FrameSizeCIF:   {400, 296},
	FrameSizeVGA:   {640, 480},
	FrameSizeSVGA:  {800, 600},
	FrameSizeXGA:   {1024, 768},
	FrameSizeSXGA:  {1280, 1024},
	FrameSizeUXGA:  {1600, 1200},
}

// Dimensions returns width and height in pixels.
func (f FrameSize) Dimensions() (int, int, error) {
	dims, ok := frameSizes[FrameSize(strings.ToUpper(string(f)))]
	if !ok {
		return 0, 0, fmt.Errorf("unknown frame size %q", string(f))
	}
	return dims[0], dims[1], nil
}

// PinMap is the parallel camera bus wiring. -1 marks an unconnected line.
type PinMap struct {
	PWDN  int `yaml:"pwdn"`
	Reset int `yaml:"reset"`
	XCLK  int `yaml:"xclk"`
	SIOD  int `yaml:"siod"`
	SIOC  int `yaml:"sioc"`
	D7    int `yaml:"d7"`
	D6    int `yaml:"d6"`
	D5    int `yaml:"d5"`
	D4    int `yaml:"d4"`
	D3    int `yaml:"d3"`
	D2    int `yaml:"d2"`
	D1    int `yaml:"d1"`
	D0    int `yaml:"d0"`
	VSYNC int `yaml:"vsync"`
	HREF  int `yaml:"href"`
	PCLK  int `yaml:"pclk"`
}

// DefaultPins is the AI-Thinker ESP32-CAM module wiring.
func DefaultPins() PinMap {
	return PinMap{
		PWDN:  32,
		Reset: -1,
		XCLK:  0,
		SIOD:  26,
		SIOC:  27,
		D7:    35,
		D6:    34,
		D5:    39,
		D4:    36,
		D3:    21,
		D2:    19,
		D1:    18,
		D0:    5,
		VSYNC: 25,
		HREF:  23,
		PCLK:  22,
	}
}

const maxGPIO = 39

type namedPin struct {
	name     string
	value    int
	optional bool
}

func (p PinMap) pins() []namedPin {
	return []namedPin{
		{"pwdn", p.PWDN, true},
		{"reset", p.Reset, true},
		{"xclk", p.XCLK, false},
		{"siod", p.SIOD, false},
		{"sioc", p.SIOC, false},
		{"d7", p.D7, false},
		{"d6", p.D6, false},
		{"d5", p.D5, false},
		{"d4", p.D4, false},
		{"d3", p.D3, false},
		{"d2", p.D2, false},
		{"d1", p.D1, false},
		{"d0", p.D0, false},
		{"vsync", p.VSYNC, false},
		{"href", p.HREF, false},
		{"pclk", p.PCLK, false},
	}
}

// Validate checks every line is a real GPIO (or -1 where allowed) and that
// no GPIO is assigned twice.
func (p PinMap) Validate() error {
	seen := make(map[int]string)
	for _, pin := range p.pins() {
		if pin.value < -1 || pin.value > maxGPIO {
			return fmt.Errorf("pin %s: gpio %d out of range", pin.name, pin.value)
		}
		if pin.value == -1 {
			if !pin.optional {
				return fmt.Errorf("pin %s is required", pin.name)
			}
			continue
		}
		if other, dup := seen[pin.value]; dup {
			return fmt.Errorf("pin %s: gpio %d already assigned to %s", pin.name, pin.value, other)
		}
		seen[pin.value] = pin.name
	}
	return nil
}

// LogValue renders the map as a single group in log lines.
func (p PinMap) LogValue() slog.Value {
	pins := p.pins()
	attrs := make([]slog.Attr, 0, len(pins))
	for _, pin := range pins {
		attrs = append(attrs, slog.Int(pin.name, pin.value))
	}
	return slog.GroupValue(attrs...)
}

// Settings configures a camera backend.
type Settings struct {
	Backend        string        `yaml:"backend"`
	Device         string        `yaml:"device"`
	FrameSize      FrameSize     `yaml:"frame_size"`
	JPEGQuality    int           `yaml:"jpeg_quality"`
	BufferCount    int           `yaml:"buffer_count"`
	XCLKHz         int           `yaml:"xclk_hz"`
	CaptureTimeout time.Duration `yaml:"capture_timeout"`
	Pins           PinMap        `yaml:"pins"`
}

const (
	BackendV4L2 = "v4l2"
	BackendDir  = "dir"
)

// DefaultSettings mirrors the stock ESP32-CAM setup: SVGA, quality 12, a
// single frame buffer and a 20MHz clock.
func DefaultSettings() Settings {
	return Settings{
		Backend:        BackendV4L2,
		Device:         "/dev/video0",
		FrameSize:      FrameSizeSVGA,
		JPEGQuality:    12,
		BufferCount:    1,
		XCLKHz:         20_000_000,
		CaptureTimeout: 5 * time.Second,
		Pins:           DefaultPins(),
	}
}

func (s Settings) Validate() error {
	switch s.Backend {
	case BackendV4L2, BackendDir:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedBackend, s.Backend)
	}
	if strings.TrimSpace(s.Device) == "" {
		return errors.New("camera device is required")
	}
	if _, _, err := s.FrameSize.Dimensions(); err != nil {
		return err
	}
	if s.JPEGQuality < 0 || s.JPEGQuality > 63 {
		return fmt.Errorf("jpeg quality %d outside 0..63", s.JPEGQuality)
	}
	if s.BufferCount <= 0 {
		return errors.New("buffer count must be positive")
	}
	if s.XCLKHz <= 0 {
		return errors.New("xclk frequency must be positive")
	}
	if s.CaptureTimeout < 0 {
		return errors.New("capture timeout cannot be negative")
	}
	if err := s.Pins.Validate(); err != nil {
		return fmt.Errorf("camera pins: %w", err)
	}
	return nil
}

// QualityPercent maps the sensor's 0..63 scale (lower is better) onto the
// 1..100 scale used by image/jpeg and V4L2 compression controls.
func (s Settings) QualityPercent() int {
	q := s.JPEGQuality
	if q < 0 {
		q = 0
	}
	if q > 63 {
		q = 63
	}
	return 100 - q*99/63
}
