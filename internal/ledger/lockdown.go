package ledger

import (
	"sync"
	"time"
)

// LockdownStatus is a point-in-time snapshot of the voluntary lockdown.
type LockdownStatus struct {
	Active     bool
	ExpiresAt  time.Time
	Reason     string
	Exceptions string
}

// Lockdown records the user-initiated daytime self-restriction. It shares
// the deny-all firewall posture with nighttime gatekeeping, so the firewall
// transitions themselves are owned by the coordinator; the ledger only
// tracks the timed state.
type Lockdown struct {
	mu         sync.Mutex
	active     bool
	expiresAt  time.Time
	reason     string
	exceptions string
	now        func() time.Time
}

func NewLockdown() *Lockdown {
	return &Lockdown{now: time.Now}
}

// Start records a lockdown until now+d. Starting while already active
// refreshes the expiry and replaces reason/exceptions; lockdowns never
// stack.
func (l *Lockdown) Start(d time.Duration, reason, exceptions string) (refreshed bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	refreshed = l.active
	l.active = true
	l.expiresAt = l.now().Add(d)
	l.reason = reason
	l.exceptions = exceptions
	return refreshed
}

// Stop clears the state and reports whether a lockdown was active.
func (l *Lockdown) Stop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	wasActive := l.active
	l.active = false
	l.expiresAt = time.Time{}
	l.reason = ""
	l.exceptions = ""
	return wasActive
}

// Expired reports whether the lockdown has elapsed but not yet been swept.
func (l *Lockdown) Expired() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active && l.now().After(l.expiresAt)
}

// Status returns a snapshot.
func (l *Lockdown) Status() LockdownStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LockdownStatus{
		Active:     l.active,
		ExpiresAt:  l.expiresAt,
		Reason:     l.reason,
		Exceptions: l.exceptions,
	}
}
