package firewall

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	ngerrors "github.com/nightgate/nightgate/internal/errors"
)

// commandRunner abstracts process execution so tests can capture the argv
// sequences without a router.
type commandRunner interface {
	run(ctx context.Context, name string, args ...string) error
}

type execRunner struct {
	timeout time.Duration
}

func (r execRunner) run(ctx context.Context, name string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w, stderr: %s", name, err, stderr.String())
	}
	return nil
}

// Config describes the router surface the rules are written against.
type Config struct {
	LANInterface   string
	WANInterface   string
	GatewayIP      string
	PortalPort     int
	CommandTimeout time.Duration
}

// OpenWrt manipulates the router through iptables, uci/dnsmasq, conntrack
// and the wifi helper. Rule deletions tolerate the rule being absent; rule
// insertions and the dnsmasq reconfiguration must succeed.
type OpenWrt struct {
	cfg    Config
	runner commandRunner
}

func NewOpenWrt(cfg Config) (*OpenWrt, error) {
	// Missing binaries mean the deployment cannot enforce anything; fail
	// construction so the caller degrades to always-error instead of
	// pretending to apply rules.
	for _, bin := range []string{"iptables", "uci"} {
		if _, err := exec.LookPath(bin); err != nil {
			return nil, ngerrors.Firewall(err, "required binary not found")
		}
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 15 * time.Second
	}
	return &OpenWrt{cfg: cfg, runner: execRunner{timeout: cfg.CommandTimeout}}, nil
}

// Rule bodies are shared between insert and delete so both always describe
// the same rule.
func (f *OpenWrt) forwardRejectRule() []string {
	return []string{"-i", f.cfg.LANInterface, "-o", f.cfg.WANInterface,
		"-j", "REJECT", "--reject-with", "icmp-port-unreachable"}
}

func (f *OpenWrt) portalRedirectRule() []string {
	return []string{"-i", f.cfg.LANInterface, "-p", "tcp", "--dport", "80",
		"-j", "REDIRECT", "--to-port", strconv.Itoa(f.cfg.PortalPort)}
}

func insertAt1(table, chain string, rule []string) []string {
	return append([]string{"-t", table, "-I", chain, "1"}, rule...)
}

func deleteRule(table, chain string, rule []string) []string {
	return append([]string{"-t", table, "-D", chain}, rule...)
}

// tolerate runs a command whose failure is acceptable (rule already absent,
// helper unavailable). Failures are logged, never propagated.
func (f *OpenWrt) tolerate(ctx context.Context, name string, args ...string) {
	if err := f.runner.run(ctx, name, args...); err != nil {
		slog.Debug("Tolerated firewall command failure", "cmd", name, "error", err)
	}
}

func (f *OpenWrt) AllowAll(ctx context.Context) error {
	// Deleting rules that are already gone keeps this idempotent.
	f.tolerate(ctx, "iptables", deleteRule("filter", "FORWARD", f.forwardRejectRule())...)
	f.tolerate(ctx, "iptables", deleteRule("nat", "PREROUTING", f.portalRedirectRule())...)

	if err := f.disableDNSHijack(ctx); err != nil {
		return ngerrors.Firewall(err, "restore dns")
	}
	slog.Info("Firewall opened (allow all LAN traffic)")
	return nil
}

func (f *OpenWrt) DenyAll(ctx context.Context) error {
	// Clean slate first so repeated calls never stack duplicate rules.
	f.tolerate(ctx, "iptables", deleteRule("nat", "PREROUTING", f.portalRedirectRule())...)
	f.tolerate(ctx, "iptables", deleteRule("filter", "FORWARD", f.forwardRejectRule())...)

	// Position 1 so the reject beats the ESTABLISHED rule.
	if err := f.runner.run(ctx, "iptables", insertAt1("nat", "PREROUTING", f.portalRedirectRule())...); err != nil {
		return ngerrors.Firewall(err, "install portal redirect")
	}
	if err := f.runner.run(ctx, "iptables", insertAt1("filter", "FORWARD", f.forwardRejectRule())...); err != nil {
		return ngerrors.Firewall(err, "install forward reject")
	}

	if err := f.enableDNSHijack(ctx); err != nil {
		return ngerrors.Firewall(err, "enable dns hijack")
	}

	// Kill existing flows so an open session does not outlive the posture.
	f.tolerate(ctx, "conntrack", "-F")

	slog.Info("Firewall closed (deny all LAN traffic, portal redirect active)")
	return nil
}

func (f *OpenWrt) DisconnectAllClients(ctx context.Context) error {
	f.tolerate(ctx, "wifi", "down")
	select {
	case <-time.After(2 * time.Second):
	case <-ctx.Done():
		return ctx.Err()
	}
	f.tolerate(ctx, "wifi", "up")
	slog.Info("Kicked all wireless clients")
	return nil
}

func (f *OpenWrt) BlockDomains(ctx context.Context, domains []string, addresses []string) error {
	for _, d := range domains {
		if err := f.runner.run(ctx, "uci", "add_list",
			fmt.Sprintf("dhcp.@dnsmasq[0].address=/%s/%s", d, f.cfg.GatewayIP)); err != nil {
			return ngerrors.Firewall(err, "poison domain "+d)
		}
	}
	if len(domains) > 0 {
		if err := f.commitDNS(ctx); err != nil {
			return err
		}
	}
	for _, a := range addresses {
		if err := f.runner.run(ctx, "iptables", "-t", "filter", "-I", "FORWARD", "1",
			"-i", f.cfg.LANInterface, "-d", a, "-j", "REJECT"); err != nil {
			return ngerrors.Firewall(err, "block address "+a)
		}
	}
	f.tolerate(ctx, "conntrack", "-F")
	slog.Info("Blocked focus domains", "domains", len(domains), "addresses", len(addresses))
	return nil
}

func (f *OpenWrt) UnblockDomains(ctx context.Context, domains []string, addresses []string) error {
	for _, d := range domains {
		f.tolerate(ctx, "uci", "del_list",
			fmt.Sprintf("dhcp.@dnsmasq[0].address=/%s/%s", d, f.cfg.GatewayIP))
	}
	if len(domains) > 0 {
		if err := f.commitDNS(ctx); err != nil {
			return err
		}
	}
	for _, a := range addresses {
		f.tolerate(ctx, "iptables", "-t", "filter", "-D", "FORWARD",
			"-i", f.cfg.LANInterface, "-d", a, "-j", "REJECT")
	}
	slog.Info("Unblocked focus domains", "domains", len(domains), "addresses", len(addresses))
	return nil
}

func (f *OpenWrt) enableDNSHijack(ctx context.Context) error {
	if err := f.runner.run(ctx, "uci", "add_list",
		fmt.Sprintf("dhcp.@dnsmasq[0].address=/#/%s", f.cfg.GatewayIP)); err != nil {
		return err
	}
	if err := f.runner.run(ctx, "uci", "set", "dhcp.@dnsmasq[0].rebind_protection=0"); err != nil {
		return err
	}
	return f.commitDNS(ctx)
}

func (f *OpenWrt) disableDNSHijack(ctx context.Context) error {
	f.tolerate(ctx, "uci", "del_list",
		fmt.Sprintf("dhcp.@dnsmasq[0].address=/#/%s", f.cfg.GatewayIP))
	if err := f.runner.run(ctx, "uci", "set", "dhcp.@dnsmasq[0].rebind_protection=1"); err != nil {
		return err
	}
	return f.commitDNS(ctx)
}

func (f *OpenWrt) commitDNS(ctx context.Context) error {
	if err := f.runner.run(ctx, "uci", "commit", "dhcp"); err != nil {
		return ngerrors.Firewall(err, "commit dhcp config")
	}
	f.tolerate(ctx, "/etc/init.d/dnsmasq", "restart")
	return nil
}
