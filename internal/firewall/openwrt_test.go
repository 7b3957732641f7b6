package firewall

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// fakeRunner records every command and can fail selected argv prefixes.
type fakeRunner struct {
	commands []string
	failOn   string
}

func (r *fakeRunner) run(ctx context.Context, name string, args ...string) error {
	cmd := name + " " + strings.Join(args, " ")
	r.commands = append(r.commands, cmd)
	if r.failOn != "" && strings.HasPrefix(cmd, r.failOn) {
		return errors.New("command failed")
	}
	return nil
}

func newTestFirewall(runner commandRunner) *OpenWrt {
	return &OpenWrt{
		cfg: Config{
			LANInterface:   "br-lan",
			WANInterface:   "eth0",
			GatewayIP:      "192.168.8.1",
			PortalPort:     2050,
			CommandTimeout: time.Second,
		},
		runner: runner,
	}
}

func (r *fakeRunner) find(prefix string) int {
	for i, c := range r.commands {
		if strings.HasPrefix(c, prefix) {
			return i
		}
	}
	return -1
}

func TestDenyAllInstallsRulesAtPositionOne(t *testing.T) {
	runner := &fakeRunner{}
	fw := newTestFirewall(runner)

	if err := fw.DenyAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	reject := runner.find("iptables -t filter -I FORWARD 1 -i br-lan -o eth0 -j REJECT")
	if reject == -1 {
		t.Error("forward reject should be inserted at position 1")
	}
	redirect := runner.find("iptables -t nat -I PREROUTING 1 -i br-lan -p tcp --dport 80 -j REDIRECT --to-port 2050")
	if redirect == -1 {
		t.Error("portal redirect should be inserted at position 1")
	}
	if runner.find("uci add_list dhcp.@dnsmasq[0].address=/#/192.168.8.1") == -1 {
		t.Error("wildcard DNS hijack should be enabled")
	}
	if runner.find("uci set dhcp.@dnsmasq[0].rebind_protection=0") == -1 {
		t.Error("rebind protection should be disabled for the hijack")
	}
	if runner.find("uci commit dhcp") == -1 {
		t.Error("dhcp config should be committed")
	}
	if runner.find("conntrack -F") == -1 {
		t.Error("existing flows should be flushed")
	}

	// Stale copies of both rules are deleted before inserting.
	del := runner.find("iptables -t filter -D FORWARD")
	if del == -1 || del > reject {
		t.Error("old reject rule should be deleted before the insert")
	}
}

func TestDenyAllIdempotent(t *testing.T) {
	runner := &fakeRunner{}
	fw := newTestFirewall(runner)

	if err := fw.DenyAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := fw.DenyAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	inserts := 0
	for _, c := range runner.commands {
		if strings.Contains(c, "-I FORWARD 1 -i br-lan -o eth0") {
			inserts++
		}
	}
	// Each call deletes first, so two calls mean two inserts but never a
	// stacked duplicate at runtime.
	if inserts != 2 {
		t.Errorf("expected delete-then-insert on each call, got %d inserts", inserts)
	}
}

func TestDenyAllFailurePropagates(t *testing.T) {
	runner := &fakeRunner{failOn: "iptables -t filter -I FORWARD 1"}
	fw := newTestFirewall(runner)

	if err := fw.DenyAll(context.Background()); err == nil {
		t.Fatal("insert failure should propagate")
	}
}

func TestAllowAllToleratesMissingRules(t *testing.T) {
	// Deletes fail because the rules are already gone; AllowAll still
	// succeeds and restores DNS.
	runner := &fakeRunner{failOn: "iptables -t filter -D FORWARD"}
	fw := newTestFirewall(runner)

	if err := fw.AllowAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if runner.find("uci set dhcp.@dnsmasq[0].rebind_protection=1") == -1 {
		t.Error("rebind protection should be restored")
	}
	if runner.find("uci del_list dhcp.@dnsmasq[0].address=/#/192.168.8.1") == -1 {
		t.Error("wildcard hijack should be removed")
	}
}

func TestBlockDomains(t *testing.T) {
	runner := &fakeRunner{}
	fw := newTestFirewall(runner)

	err := fw.BlockDomains(context.Background(),
		[]string{"youtube.com", "tiktok.com"},
		[]string{"142.250.1.1"})
	if err != nil {
		t.Fatal(err)
	}

	if runner.find("uci add_list dhcp.@dnsmasq[0].address=/youtube.com/192.168.8.1") == -1 {
		t.Error("youtube.com should be DNS-poisoned")
	}
	if runner.find("uci add_list dhcp.@dnsmasq[0].address=/tiktok.com/192.168.8.1") == -1 {
		t.Error("tiktok.com should be DNS-poisoned")
	}
	if runner.find("iptables -t filter -I FORWARD 1 -i br-lan -d 142.250.1.1 -j REJECT") == -1 {
		t.Error("resolved address should be rejected")
	}
}

func TestUnblockDomainsToleratesAbsence(t *testing.T) {
	runner := &fakeRunner{failOn: "uci del_list"}
	fw := newTestFirewall(runner)

	err := fw.UnblockDomains(context.Background(), []string{"youtube.com"}, []string{"1.2.3.4"})
	if err != nil {
		t.Fatal(err)
	}
	if runner.find("uci commit dhcp") == -1 {
		t.Error("dhcp should still be committed")
	}
}

func TestDisconnectAllClientsHonorsContext(t *testing.T) {
	runner := &fakeRunner{}
	fw := newTestFirewall(runner)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := fw.DisconnectAllClients(ctx); err == nil {
		t.Error("cancelled context should abort the wifi bounce")
	}
}
