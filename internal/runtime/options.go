package runtime

import (
	"fmt"
	"log/slog"

	"github.com/drksbr/facecam/internal/config"
	"github.com/drksbr/facecam/internal/logger"
	"github.com/drksbr/facecam/internal/version"
)

// Options carries the persistent flags shared by every subcommand.
type Options struct {
	JSONLogs   bool
	LogLevel   string
	ConfigPath string
	EnvFile    string

	cfg    *config.Config
	logger *logger.Logger
}

// LoadConfig resolves the configuration once: defaults, YAML file, .env
// file, FACECAM_* environment variables. Flags are applied on top by the
// individual commands.
func (o *Options) LoadConfig() (*config.Config, error) {
	if o.cfg != nil {
		return o.cfg, nil
	}
	cfg, err := config.Load(o.ConfigPath, o.EnvFile)
	if err != nil {
		return nil, err
	}
	o.cfg = cfg
	return cfg, nil
}

func (o *Options) SetupLogger() error {
	cfg, err := o.LoadConfig()
	if err != nil {
		return err
	}
	level := cfg.Log.Level
	if o.LogLevel != "" {
		level = o.LogLevel
	}
	format := logger.Format(cfg.Log.Format)
	if o.JSONLogs {
		format = logger.FormatJSON
	}
	l, err := logger.New(logger.Config{
		Format:   format,
		Level:    level,
		DeviceID: cfg.DeviceID,
		Version:  version.Version,
	})
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	o.logger = l
	slog.SetDefault(l.Logger)
	return nil
}

func (o *Options) Logger() *logger.Logger {
	return o.logger
}

func (o *Options) Config() *config.Config {
	return o.cfg
}
