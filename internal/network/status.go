package network

import (
	"context"
	"log/slog"
	"net/netip"
	"slices"

	psnet "github.com/shirou/gopsutil/v4/net"
)

// InterfaceLister enumerates host interfaces; gopsutil in production.
type InterfaceLister func(ctx context.Context) (psnet.InterfaceStatList, error)

var gopsutilLister InterfaceLister = psnet.InterfacesWithContext

// interfaceUp reports whether iface is administratively up and holds a
// routable address. An empty name matches any non-loopback interface.
func interfaceUp(ctx context.Context, list InterfaceLister, iface string) (bool, error) {
	stats, err := list(ctx)
	if err != nil {
		return false, err
	}
	for _, stat := range stats {
		if iface != "" && stat.Name != iface {
			continue
		}
		if slices.Contains(stat.Flags, "loopback") || !slices.Contains(stat.Flags, "up") {
			continue
		}
		for _, addr := range stat.Addrs {
			if routable(addr.Addr) {
				return true, nil
			}
		}
	}
	return false, nil
}

func routable(cidr string) bool {
	prefix, err := netip.ParsePrefix(cidr)
	var ip netip.Addr
	if err == nil {
		ip = prefix.Addr()
	} else if ip, err = netip.ParseAddr(cidr); err != nil {
		return false
	}
	return ip.IsValid() && !ip.IsLoopback() && !ip.IsLinkLocalUnicast() && !ip.IsUnspecified()
}

// Monitor observes an interface it does not control. Reconnect only logs.
type Monitor struct {
	iface  string
	lister InterfaceLister
	logger *slog.Logger
}

func (m *Monitor) Connect(ctx context.Context, creds Credentials) error {
	return nil
}

func (m *Monitor) Connected(ctx context.Context) bool {
	up, err := interfaceUp(ctx, m.lister, m.iface)
	if err != nil {
		m.logger.Debug("interface status unavailable", "interface", m.iface, "error", err)
		return false
	}
	return up
}

func (m *Monitor) Reconnect(ctx context.Context) error {
	m.logger.Debug("interface is not managed; waiting for it to come back", "interface", m.iface)
	return nil
}
