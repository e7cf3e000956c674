// Package network tracks and restores the uplink the uploads travel over.
package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/drksbr/facecam/internal/logger"
)

var ErrConnectTimeout = errors.New("timed out waiting for network")

// Credentials identify the access point joined in station mode.
type Credentials struct {
	SSID     string
	Password string
}

// LogValue keeps the password out of log lines.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("ssid", c.SSID),
		slog.Bool("password_set", c.Password != ""),
	)
}

// Link is the uplink. Reconnect is a request: it returns once the request
// has been issued, not once the link is back.
type Link interface {
	Connect(ctx context.Context, creds Credentials) error
	Connected(ctx context.Context) bool
	Reconnect(ctx context.Context) error
}

const (
	ModeWiFi      = "wifi"
	ModeInterface = "interface"
	ModeNone      = "none"
)

// New builds the link for mode. iface may be empty for ModeInterface, in
// which case any non-loopback interface with a routable address counts.
func New(mode, iface string, log *slog.Logger) (Link, error) {
	if log == nil {
		log = logger.Discard()
	}
	switch mode {
	case ModeWiFi:
		if iface == "" {
			return nil, errors.New("wifi mode requires an interface name")
		}
		return NewStation(iface, WithStationLogger(log)), nil
	case ModeInterface:
		return &Monitor{iface: iface, lister: gopsutilLister, logger: log}, nil
	case ModeNone:
		return Always{}, nil
	default:
		return nil, fmt.Errorf("unsupported network mode %q", mode)
	}
}

// AwaitPolicy controls how long Await blocks. A zero Timeout waits forever.
type AwaitPolicy struct {
	PollInterval time.Duration
	Timeout      time.Duration
}

// Await blocks until link reports connected, the policy timeout elapses
// (ErrConnectTimeout) or ctx is done.
func Await(ctx context.Context, link Link, policy AwaitPolicy, log *slog.Logger) error {
	if log == nil {
		log = logger.Discard()
	}
	interval := policy.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.Timeout)
		defer cancel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	for attempt := 1; ; attempt++ {
		if link.Connected(ctx) {
			log.Info("network connected", "attempts", attempt, "waited", time.Since(start).Round(time.Millisecond).String())
			return nil
		}
		log.Debug("waiting for network", "attempt", attempt)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && policy.Timeout > 0 {
				return fmt.Errorf("%w after %s", ErrConnectTimeout, policy.Timeout)
			}
			return ctx.Err()
		}
	}
}

// Always is a link that is never down, for hosts whose connectivity is
// managed elsewhere.
type Always struct{}

func (Always) Connect(context.Context, Credentials) error { return nil }
func (Always) Connected(context.Context) bool             { return true }
func (Always) Reconnect(context.Context) error            { return nil }
