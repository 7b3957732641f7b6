package firewall

import (
	"context"
	"log/slog"
)

// Noop logs every transition instead of touching the router. Used with
// --no-firewall so the server can be exercised off-device.
type Noop struct{}

func (Noop) AllowAll(ctx context.Context) error {
	slog.Info("firewall(noop): allow all")
	return nil
}

func (Noop) DenyAll(ctx context.Context) error {
	slog.Info("firewall(noop): deny all")
	return nil
}

func (Noop) DisconnectAllClients(ctx context.Context) error {
	slog.Info("firewall(noop): disconnect all clients")
	return nil
}

func (Noop) BlockDomains(ctx context.Context, domains []string, addresses []string) error {
	slog.Info("firewall(noop): block domains", "domains", domains, "addresses", addresses)
	return nil
}

func (Noop) UnblockDomains(ctx context.Context, domains []string, addresses []string) error {
	slog.Info("firewall(noop): unblock domains", "domains", domains, "addresses", addresses)
	return nil
}
