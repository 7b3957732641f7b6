package ledger

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	ngerrors "github.com/nightgate/nightgate/internal/errors"
	"github.com/nightgate/nightgate/internal/firewall"
)

// Resolver narrows net.Resolver for tests.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// FocusStatus is a point-in-time snapshot of the focus state.
type FocusStatus struct {
	Active    bool
	ExpiresAt time.Time
	Domains   []string
	Addresses []string
}

// Focus is the daytime distraction blocker. It is additive: blocking the
// configured domain set never touches the allow/deny posture of the rest of
// the network. Addresses are resolved once at activation and may go stale
// until the mode is restarted.
type Focus struct {
	fw       firewall.Firewall
	resolver Resolver

	mu        sync.Mutex
	active    bool
	expiresAt time.Time
	domains   []string
	addresses []string
	now       func() time.Time
}

func NewFocus(fw firewall.Firewall, resolver Resolver) *Focus {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Focus{fw: fw, resolver: resolver, now: time.Now}
}

// Start resolves and blocks the domain set for the given duration. When
// focus is already active the expiry refreshes and the block set is replaced.
func (f *Focus) Start(ctx context.Context, domains []string, d time.Duration) error {
	if len(domains) == 0 {
		return ngerrors.InvalidInput("no focus domains configured")
	}

	addresses := f.resolveAll(ctx, domains)

	// Snapshot the old sets before touching the firewall; the lock is not
	// held across collaborator calls.
	f.mu.Lock()
	wasActive := f.active
	oldDomains := f.domains
	oldAddresses := f.addresses
	f.mu.Unlock()

	if wasActive {
		if err := f.fw.UnblockDomains(ctx, oldDomains, oldAddresses); err != nil {
			slog.Warn("Failed to clear previous focus block set", "error", err)
		}
	}

	if err := f.fw.BlockDomains(ctx, domains, addresses); err != nil {
		return ngerrors.Wrap(err, "focus not recorded")
	}

	f.mu.Lock()
	f.active = true
	f.expiresAt = f.now().Add(d)
	f.domains = domains
	f.addresses = addresses
	f.mu.Unlock()

	slog.Info("Focus mode started", "domains", len(domains), "until", f.expiresAt.Format(time.Kitchen))
	return nil
}

// Stop lifts the block set. Idempotent. The set is only forgotten once the
// firewall lifted it; a failed teardown stays recorded so the next sweep
// retries it.
func (f *Focus) Stop(ctx context.Context) error {
	f.mu.Lock()
	if !f.active {
		f.mu.Unlock()
		return nil
	}
	domains := f.domains
	addresses := f.addresses
	f.mu.Unlock()

	if err := f.fw.UnblockDomains(ctx, domains, addresses); err != nil {
		return ngerrors.Wrap(err, "focus teardown")
	}

	f.mu.Lock()
	f.active = false
	f.expiresAt = time.Time{}
	f.domains = nil
	f.addresses = nil
	f.mu.Unlock()

	slog.Info("Focus mode stopped")
	return nil
}

// Status returns a snapshot.
func (f *Focus) Status() FocusStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return FocusStatus{
		Active:    f.active,
		ExpiresAt: f.expiresAt,
		Domains:   append([]string(nil), f.domains...),
		Addresses: append([]string(nil), f.addresses...),
	}
}

// SweepExpired stops an elapsed focus period. Called by the watchdog.
func (f *Focus) SweepExpired(ctx context.Context) error {
	f.mu.Lock()
	expired := f.active && f.now().After(f.expiresAt)
	f.mu.Unlock()

	if !expired {
		return nil
	}
	slog.Info("Focus mode has expired")
	return f.Stop(ctx)
}

func (f *Focus) resolveAll(ctx context.Context, domains []string) []string {
	var addresses []string
	for _, d := range domains {
		addrs, err := f.resolver.LookupHost(ctx, d)
		if err != nil {
			slog.Warn("Focus domain did not resolve", "domain", d, "error", err)
			continue
		}
		addresses = append(addresses, addrs...)
	}
	return addresses
}
