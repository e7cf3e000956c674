package upload

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/proxy"
)

// newTransport clones the default transport, applies the optional proxy and
// wraps it so trace context is propagated to the endpoint.
func newTransport(proxyURL string) (http.RoundTripper, error) {
	base := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		switch u.Scheme {
		case "http", "https":
			base.Proxy = http.ProxyURL(u)
		case "socks5", "socks5h":
			dialer, err := proxy.FromURL(u, proxy.Direct)
			if err != nil {
				return nil, fmt.Errorf("socks proxy: %w", err)
			}
			base.Proxy = nil
			if cd, ok := dialer.(proxy.ContextDialer); ok {
				base.DialContext = cd.DialContext
			} else {
				base.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
					return dialer.Dial(network, addr)
				}
			}
		default:
			return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
		}
	}
	return otelhttp.NewTransport(base), nil
}
