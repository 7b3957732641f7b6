package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// TransportConfig controls the pinned-resolver HTTP client used to reach the
// oracle. While the gatekeeper hijacks LAN DNS, the router's own resolver
// answers every name with the gateway address, so the client resolves the
// API hostname through an external DNS server and dials the answer directly.
// TLS still verifies against the original hostname.
type TransportConfig struct {
	DNSServer string
	CacheTTL  time.Duration
	GatewayIP string
	Timeout   time.Duration
}

type pinnedResolver struct {
	cfg      TransportConfig
	resolver *net.Resolver

	mu      sync.Mutex
	cache   map[string]cachedAddr
	nowFunc func() time.Time
}

type cachedAddr struct {
	ip      string
	expires time.Time
}

// NewHTTPClient builds an *http.Client whose dialer resolves hostnames via
// the configured external DNS server. Answers pointing back at the gateway
// are rejected as hijacked.
func NewHTTPClient(cfg TransportConfig) *http.Client {
	p := newPinnedResolver(cfg)
	transport := &http.Transport{
		DialContext:         p.dialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &http.Client{Transport: transport, Timeout: cfg.Timeout}
}

func newPinnedResolver(cfg TransportConfig) *pinnedResolver {
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	return &pinnedResolver{
		cfg: cfg,
		resolver: &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
				return dialer.DialContext(ctx, network, cfg.DNSServer)
			},
		},
		cache:   make(map[string]cachedAddr),
		nowFunc: time.Now,
	}
}

func (p *pinnedResolver) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	if net.ParseIP(host) != nil {
		return dialer.DialContext(ctx, network, addr)
	}

	ip, err := p.lookup(ctx, host)
	if err != nil {
		return nil, err
	}
	return dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
}

func (p *pinnedResolver) lookup(ctx context.Context, host string) (string, error) {
	now := p.nowFunc()

	p.mu.Lock()
	if c, ok := p.cache[host]; ok && now.Before(c.expires) {
		p.mu.Unlock()
		return c.ip, nil
	}
	p.mu.Unlock()

	ip, err := p.resolveExternal(ctx, host)
	if err != nil {
		// The system resolver may still work when hijacking is inactive,
		// but its answer must not be the hijacked gateway address.
		ip, err = p.resolveSystem(ctx, host)
		if err != nil {
			return "", err
		}
	}

	p.mu.Lock()
	p.cache[host] = cachedAddr{ip: ip, expires: now.Add(p.cfg.CacheTTL)}
	p.mu.Unlock()

	slog.Debug("Resolved oracle host", "host", host, "ip", ip)
	return ip, nil
}

func (p *pinnedResolver) resolveExternal(ctx context.Context, host string) (string, error) {
	addrs, err := p.resolver.LookupHost(ctx, host)
	if err != nil {
		return "", fmt.Errorf("external resolve %s: %w", host, err)
	}
	for _, a := range addrs {
		if a != p.cfg.GatewayIP {
			return a, nil
		}
	}
	return "", fmt.Errorf("external resolve %s: no usable address", host)
}

func (p *pinnedResolver) resolveSystem(ctx context.Context, host string) (string, error) {
	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		return "", fmt.Errorf("system resolve %s: %w", host, err)
	}
	for _, a := range addrs {
		if a != p.cfg.GatewayIP {
			return a, nil
		}
	}
	return "", fmt.Errorf("system resolve %s: answer is hijacked", host)
}
