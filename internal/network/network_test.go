package network

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	psnet "github.com/shirou/gopsutil/v4/net"
)

type fakeRunner struct {
	runs   [][]string
	stdins [][]byte
	starts [][]string
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	f.runs = append(f.runs, append([]string{name}, args...))
	f.stdins = append(f.stdins, stdin)
	if f.err != nil {
		return []byte("Error: No network with SSID found."), f.err
	}
	return []byte("ok"), nil
}

func (f *fakeRunner) Start(name string, args ...string) error {
	f.starts = append(f.starts, append([]string{name}, args...))
	return f.err
}

func staticLister(stats ...psnet.InterfaceStat) InterfaceLister {
	return func(context.Context) (psnet.InterfaceStatList, error) {
		return stats, nil
	}
}

func iface(name string, flags []string, addrs ...string) psnet.InterfaceStat {
	stat := psnet.InterfaceStat{Name: name, Flags: flags}
	for _, a := range addrs {
		stat.Addrs = append(stat.Addrs, psnet.InterfaceAddr{Addr: a})
	}
	return stat
}

func TestInterfaceUp(t *testing.T) {
	tests := []struct {
		name  string
		stats []psnet.InterfaceStat
		want  bool
	}{
		{"routable", []psnet.InterfaceStat{iface("wlan0", []string{"up", "broadcast"}, "192.168.0.20/24")}, true},
		{"down", []psnet.InterfaceStat{iface("wlan0", []string{"broadcast"}, "192.168.0.20/24")}, false},
		{"link local only", []psnet.InterfaceStat{iface("wlan0", []string{"up"}, "fe80::1/64", "169.254.3.3/16")}, false},
		{"other interface", []psnet.InterfaceStat{iface("eth0", []string{"up"}, "10.0.0.2/8")}, false},
		{"missing", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := interfaceUp(context.Background(), staticLister(tt.stats...), "wlan0")
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("interfaceUp = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInterfaceUpAnyIgnoresLoopback(t *testing.T) {
	lister := staticLister(
		iface("lo", []string{"up", "loopback"}, "127.0.0.1/8"),
		iface("eth0", []string{"up"}, "10.1.2.3/16"),
	)
	up, err := interfaceUp(context.Background(), lister, "")
	if err != nil || !up {
		t.Fatalf("interfaceUp(any) = %v, %v", up, err)
	}
	up, _ = interfaceUp(context.Background(), staticLister(iface("lo", []string{"up", "loopback"}, "127.0.0.1/8")), "")
	if up {
		t.Fatal("loopback must not count as connected")
	}
}

func TestStationConnectBuildsNmcliCommand(t *testing.T) {
	runner := &fakeRunner{}
	s := NewStation("wlan0", WithRunner(runner))
	if err := s.Connect(context.Background(), Credentials{SSID: "lab", Password: "secret"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	want := "nmcli --ask device wifi connect lab ifname wlan0"
	if len(runner.runs) != 1 || strings.Join(runner.runs[0], " ") != want {
		t.Fatalf("runs = %v, want %q", runner.runs, want)
	}
	for _, arg := range runner.runs[0] {
		if strings.Contains(arg, "secret") {
			t.Fatalf("password leaked into argv: %v", runner.runs[0])
		}
	}
	if got := string(runner.stdins[0]); got != "secret\n" {
		t.Fatalf("stdin = %q, want the password line", got)
	}
}

func TestStationConnectOpenNetwork(t *testing.T) {
	runner := &fakeRunner{}
	s := NewStation("wlan0", WithRunner(runner))
	if err := s.Connect(context.Background(), Credentials{SSID: "guest"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if got := strings.Join(runner.runs[0], " "); got != "nmcli device wifi connect guest ifname wlan0" {
		t.Fatalf("run = %q", got)
	}
	if runner.stdins[0] != nil {
		t.Fatalf("stdin = %q, want none for an open network", runner.stdins[0])
	}
}

func TestStationConnectRejectsMultilinePassword(t *testing.T) {
	runner := &fakeRunner{}
	s := NewStation("wlan0", WithRunner(runner))
	if err := s.Connect(context.Background(), Credentials{SSID: "lab", Password: "a\nb"}); err == nil {
		t.Fatal("expected error for password with a line break")
	}
	if len(runner.runs) != 0 {
		t.Fatal("nmcli must not run")
	}
}

func TestStationConnectRequiresSSID(t *testing.T) {
	runner := &fakeRunner{}
	s := NewStation("wlan0", WithRunner(runner))
	if err := s.Connect(context.Background(), Credentials{}); err == nil {
		t.Fatal("expected error without ssid")
	}
	if len(runner.runs) != 0 {
		t.Fatal("nmcli must not run without ssid")
	}
}

func TestStationConnectSurfacesNmcliOutput(t *testing.T) {
	runner := &fakeRunner{err: errors.New("exit status 10")}
	s := NewStation("wlan0", WithRunner(runner))
	err := s.Connect(context.Background(), Credentials{SSID: "lab"})
	if err == nil || !strings.Contains(err.Error(), "No network with SSID") {
		t.Fatalf("err = %v", err)
	}
}

func TestStationReconnectIsFireAndForget(t *testing.T) {
	runner := &fakeRunner{}
	s := NewStation("wlan0", WithRunner(runner))
	if err := s.Reconnect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if len(runner.runs) != 0 || len(runner.starts) != 1 {
		t.Fatalf("runs=%v starts=%v", runner.runs, runner.starts)
	}
	if got := strings.Join(runner.starts[0], " "); got != "nmcli device connect wlan0" {
		t.Fatalf("start = %q", got)
	}
}

type flakyLink struct {
	Always
	upAfter int32
	polls   atomic.Int32
}

func (l *flakyLink) Connected(context.Context) bool {
	return l.polls.Add(1) > l.upAfter
}

func TestAwaitPollsUntilConnected(t *testing.T) {
	link := &flakyLink{upAfter: 3}
	err := Await(context.Background(), link, AwaitPolicy{PollInterval: time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if got := link.polls.Load(); got != 4 {
		t.Fatalf("polls = %d, want 4", got)
	}
}

func TestAwaitTimeout(t *testing.T) {
	link := &flakyLink{upAfter: 1 << 30}
	err := Await(context.Background(), link, AwaitPolicy{PollInterval: time.Millisecond, Timeout: 20 * time.Millisecond}, nil)
	if !errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("err = %v, want ErrConnectTimeout", err)
	}
}

func TestAwaitHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	link := &flakyLink{upAfter: 1 << 30}
	if err := Await(ctx, link, AwaitPolicy{PollInterval: time.Hour}, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestNewModes(t *testing.T) {
	if _, err := New(ModeWiFi, "", nil); err == nil {
		t.Error("wifi without interface should fail")
	}
	if _, err := New("bluetooth", "", nil); err == nil {
		t.Error("unknown mode should fail")
	}
	link, err := New(ModeNone, "", nil)
	if err != nil || !link.Connected(context.Background()) {
		t.Errorf("none mode = %v, %v", link, err)
	}
	if _, err := New(ModeInterface, "eth0", nil); err != nil {
		t.Errorf("interface mode: %v", err)
	}
}
