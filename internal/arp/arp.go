// Package arp resolves a LAN client's hardware address from its IP so that
// sessions and grants can follow the device across DHCP renewals.
package arp

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
)

const procARPPath = "/proc/net/arp"

// Lookup returns the MAC address for ip, or "" when the neighbour table has
// no entry. It prefers `ip neigh` and falls back to /proc/net/arp; both
// fail soft because a missing entry is normal for a brand-new client.
func Lookup(ctx context.Context, ip string) string {
	out, err := exec.CommandContext(ctx, "ip", "neigh", "show", ip).Output()
	if err == nil {
		if mac := parseNeighOutput(out, ip); mac != "" {
			return mac
		}
	}

	data, err := os.ReadFile(procARPPath)
	if err != nil {
		return ""
	}
	return parseProcARP(data, ip)
}

// parseNeighOutput extracts the lladdr field from `ip neigh show <ip>`
// output, e.g. "192.168.8.102 dev br-lan lladdr aa:bb:cc:dd:ee:ff REACHABLE".
func parseNeighOutput(out []byte, ip string) string {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 5 || fields[0] != ip {
			continue
		}
		for i, f := range fields {
			if f == "lladdr" && i+1 < len(fields) {
				return strings.ToLower(fields[i+1])
			}
		}
	}
	return ""
}

// parseProcARP reads the kernel ARP table format: IP, HW type, flags,
// HW address, mask, device.
func parseProcARP(data []byte, ip string) string {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 || fields[0] != ip {
			continue
		}
		mac := strings.ToLower(fields[3])
		if mac == "00:00:00:00:00:00" {
			return ""
		}
		return mac
	}
	return ""
}
