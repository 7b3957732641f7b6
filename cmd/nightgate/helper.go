package main

import (
	"log/slog"

	"github.com/nightgate/nightgate/internal/config"
	"github.com/nightgate/nightgate/internal/firewall"
)

// buildFirewall returns the OpenWrt firewall, or the logging no-op when the
// firewall is disabled by config or flag. Construction failure (missing
// iptables/uci binaries) is fatal so a misconfigured router never runs with
// silently unenforced rules.
func buildFirewall(cfg *config.Config, disabled bool) (firewall.Firewall, error) {
	if disabled || !cfg.Firewall.Enabled {
		slog.Warn("Firewall disabled, network rules will not be enforced")
		return firewall.Noop{}, nil
	}

	commandTimeout, err := config.DurationOrDefault(cfg.Firewall.CommandTimeout, config.DefaultFirewallTimeout)
	if err != nil {
		return nil, err
	}

	return firewall.NewOpenWrt(firewall.Config{
		LANInterface:   cfg.Firewall.LANInterface,
		WANInterface:   cfg.Firewall.WANInterface,
		GatewayIP:      cfg.Firewall.GatewayIP,
		PortalPort:     cfg.Firewall.PortalPort,
		CommandTimeout: commandTimeout,
	})
}
