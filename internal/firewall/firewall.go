package firewall

import "context"

// Firewall is the abstract apply/revoke capability the coordinator and
// ledger call. Every operation must be idempotent: enacting a posture that
// is already in place is success, and failures are reported so callers can
// refuse to record state they could not enact.
type Firewall interface {
	// AllowAll lifts the deny-by-default posture for the whole LAN.
	AllowAll(ctx context.Context) error

	// DenyAll installs the deny-by-default posture and the captive-portal
	// redirect.
	DenyAll(ctx context.Context) error

	// DisconnectAllClients forces every wireless client to reassociate so
	// captive-portal detection fires again.
	DisconnectAllClients(ctx context.Context) error

	// BlockDomains blocks the domain set by name-resolution poisoning and
	// the pre-resolved addresses at the packet level.
	BlockDomains(ctx context.Context, domains []string, addresses []string) error

	// UnblockDomains reverses BlockDomains for the same sets.
	UnblockDomains(ctx context.Context, domains []string, addresses []string) error
}
