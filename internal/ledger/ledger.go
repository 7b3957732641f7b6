package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	ngerrors "github.com/nightgate/nightgate/internal/errors"
	"github.com/nightgate/nightgate/internal/firewall"
)

// Ledger holds the single network-wide access grant. Approving one client
// opens the network for every LAN client until expiry; there is never more
// than one grant.
type Ledger struct {
	fw firewall.Firewall

	mu        sync.Mutex
	expiresAt time.Time
	grantedTo string
	now       func() time.Time
}

func New(fw firewall.Firewall) *Ledger {
	return &Ledger{fw: fw, now: time.Now}
}

// Grant opens the network for the given duration. The firewall is asked
// first; if it fails the ledger keeps its prior state so a grant is never
// recorded that was not enacted. The state write itself is one atomic
// transition, so concurrent approvals resolve to a consistent last writer.
func (l *Ledger) Grant(ctx context.Context, minutes int, grantee string) error {
	if err := l.fw.AllowAll(ctx); err != nil {
		return ngerrors.Wrap(err, "grant not recorded")
	}

	l.mu.Lock()
	l.expiresAt = l.now().Add(time.Duration(minutes) * time.Minute)
	l.grantedTo = grantee
	l.mu.Unlock()

	slog.Info("Network access granted", "minutes", minutes, "grantee", grantee)
	return nil
}

// Revoke restores the deny posture and then clears the grant. Calling it
// with no active grant is a no-op. The grant is only forgotten once the deny
// posture is back up; a failed revoke stays recorded so the next sweep
// retries it.
func (l *Ledger) Revoke(ctx context.Context) error {
	l.mu.Lock()
	if l.expiresAt.IsZero() {
		l.mu.Unlock()
		return nil
	}
	grantee := l.grantedTo
	l.mu.Unlock()

	slog.Info("Revoking network-wide access", "was_granted_to", grantee)

	if err := l.fw.DenyAll(ctx); err != nil {
		return ngerrors.Wrap(err, "revoke posture")
	}

	l.mu.Lock()
	l.expiresAt = time.Time{}
	l.grantedTo = ""
	l.mu.Unlock()

	if err := l.fw.DisconnectAllClients(ctx); err != nil {
		return ngerrors.Wrap(err, "kick clients")
	}
	return nil
}

// Clear drops the grant bookkeeping without touching the firewall. The
// morning reset uses it: the network is being opened anyway, so re-applying
// the deny posture first would be wrong.
func (l *Ledger) Clear() {
	l.mu.Lock()
	l.expiresAt = time.Time{}
	l.grantedTo = ""
	l.mu.Unlock()
}

// Active sweeps an elapsed grant before reporting.
func (l *Ledger) Active(ctx context.Context) bool {
	l.sweep(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.expiresAt.IsZero()
}

// ExpiresAt returns the expiry and whether a grant is recorded.
func (l *Ledger) ExpiresAt() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.expiresAt, !l.expiresAt.IsZero()
}

// GrantedTo returns the identity the active grant was issued to.
func (l *Ledger) GrantedTo() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.grantedTo
}

// SweepExpired revokes an elapsed grant. Called by the watchdog.
func (l *Ledger) SweepExpired(ctx context.Context) error {
	return l.sweep(ctx)
}

func (l *Ledger) sweep(ctx context.Context) error {
	l.mu.Lock()
	expired := !l.expiresAt.IsZero() && l.now().After(l.expiresAt)
	l.mu.Unlock()

	if !expired {
		return nil
	}
	slog.Info("Network access has expired")
	return l.Revoke(ctx)
}
