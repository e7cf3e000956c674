package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/drksbr/facecam/internal/logger"
)

// Runner executes NetworkManager commands. Run feeds stdin to the command
// and waits for completion; Start launches and returns immediately.
type Runner interface {
	Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)
	Start(name string, args ...string) error
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	return cmd.CombinedOutput()
}

func (execRunner) Start(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

// Station joins an access point through nmcli and reads link state from the
// kernel interface table.
type Station struct {
	iface  string
	runner Runner
	lister InterfaceLister
	logger *slog.Logger
}

type StationOption func(*Station)

func WithRunner(r Runner) StationOption {
	return func(s *Station) { s.runner = r }
}

func WithInterfaceLister(l InterfaceLister) StationOption {
	return func(s *Station) { s.lister = l }
}

func WithStationLogger(l *slog.Logger) StationOption {
	return func(s *Station) { s.logger = l }
}

func NewStation(iface string, opts ...StationOption) *Station {
	s := &Station{
		iface:  iface,
		runner: execRunner{},
		lister: gopsutilLister,
		logger: logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect asks NetworkManager to join creds.SSID and waits for nmcli to
// return. Association may still be in progress afterwards; use Await.
// The password is answered on stdin to the --ask prompt so it never shows up
// in the process table.
func (s *Station) Connect(ctx context.Context, creds Credentials) error {
	if strings.TrimSpace(creds.SSID) == "" {
		return errors.New("wifi ssid is required")
	}
	if strings.ContainsAny(creds.Password, "\r\n") {
		return errors.New("wifi password contains a line break")
	}
	var (
		args  []string
		stdin []byte
	)
	if creds.Password != "" {
		args = append(args, "--ask")
		stdin = []byte(creds.Password + "\n")
	}
	args = append(args, "device", "wifi", "connect", creds.SSID, "ifname", s.iface)

	s.logger.Info("joining wifi", "interface", s.iface, "credentials", creds)
	out, err := s.runner.Run(ctx, stdin, "nmcli", args...)
	if err != nil {
		return fmt.Errorf("nmcli connect %q: %w: %s", creds.SSID, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (s *Station) Connected(ctx context.Context) bool {
	up, err := interfaceUp(ctx, s.lister, s.iface)
	if err != nil {
		s.logger.Debug("interface status unavailable", "interface", s.iface, "error", err)
		return false
	}
	return up
}

// Reconnect fires "nmcli device connect" without waiting for it.
func (s *Station) Reconnect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.runner.Start("nmcli", "device", "connect", s.iface); err != nil {
		return fmt.Errorf("nmcli reconnect %s: %w", s.iface, err)
	}
	return nil
}
