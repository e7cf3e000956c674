package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format defines the supported output formats for the logger.
type Format string

const (
	// FormatText renders logs in a human-readable text form.
	FormatText Format = "text"
	// FormatJSON renders logs as JSON objects.
	FormatJSON Format = "json"
)

// Config controls the behaviour of the structured logger.
type Config struct {
	Format      Format
	Level       string
	AddSource   bool
	Writer      io.Writer
	ServiceName string
	DeviceID    string
	Version     string
}

// Logger wraps slog.Logger to attach standard attributes and context metadata.
type Logger struct {
	*slog.Logger
	level slog.Level
}

// ParseLevel maps the textual levels accepted on the command line and in
// config files to slog levels.
func ParseLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "err", "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", value)
	}
}

// New constructs a new structured logger with the provided configuration.
func New(cfg Config) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "facecam"
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(cfg.Writer, handlerOpts)
	case FormatText, "":
		handler = slog.NewTextHandler(cfg.Writer, handlerOpts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.Format)
	}

	handler = &contextHandler{Handler: handler}

	logger := slog.New(handler).With(
		slog.Int("pid", os.Getpid()),
		slog.String("service", cfg.ServiceName),
	)
	if cfg.DeviceID != "" {
		logger = logger.With(slog.String("device", cfg.DeviceID))
	}
	if cfg.Version != "" {
		logger = logger.With(slog.String("version", cfg.Version))
	}

	return &Logger{
		Logger: logger,
		level:  level,
	}, nil
}

// Level reports the minimum level the logger emits.
func (l *Logger) Level() slog.Level {
	if l == nil {
		return slog.LevelInfo
	}
	return l.level
}

// WithComponent returns a child logger tagged with the provided component name.
func (l *Logger) WithComponent(component string) *slog.Logger {
	if l == nil || l.Logger == nil {
		return slog.New(discardHandler{})
	}
	if component == "" {
		return l.Logger
	}
	return l.Logger.With(slog.String("component", component))
}

type contextHandler struct {
	slog.Handler
}

func (h *contextHandler) Handle(ctx context.Context, record slog.Record) error {
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		record.AddAttrs(slog.String("trace_id", traceID))
	}
	if spanID := SpanIDFromContext(ctx); spanID != "" {
		record.AddAttrs(slog.String("span_id", spanID))
	}
	return h.Handler.Handle(ctx, record)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}

// Discard returns a logger that drops every record. Tests and optional
// collaborators use it in place of a nil logger.
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
