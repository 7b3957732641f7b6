package ledger

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeResolver struct {
	addrs map[string][]string
}

func (r fakeResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	if addrs, ok := r.addrs[host]; ok {
		return addrs, nil
	}
	return nil, errors.New("no such host")
}

func TestFocusStartBlocksResolvedAddresses(t *testing.T) {
	fw := &fakeFirewall{}
	f := NewFocus(fw, fakeResolver{addrs: map[string][]string{
		"youtube.com": {"142.250.1.1", "142.250.1.2"},
	}})

	if err := f.Start(context.Background(), []string{"youtube.com", "unresolvable.example"}, time.Hour); err != nil {
		t.Fatal(err)
	}

	st := f.Status()
	if !st.Active {
		t.Fatal("focus should be active")
	}
	if len(st.Addresses) != 2 {
		t.Errorf("expected 2 resolved addresses, got %d", len(st.Addresses))
	}
	// The unresolvable domain is still DNS-poisoned even without addresses.
	if len(st.Domains) != 2 {
		t.Errorf("expected both domains recorded, got %d", len(st.Domains))
	}
}

func TestFocusStartRequiresDomains(t *testing.T) {
	f := NewFocus(&fakeFirewall{}, fakeResolver{})
	if err := f.Start(context.Background(), nil, time.Hour); err == nil {
		t.Error("empty domain set should be rejected")
	}
}

func TestFocusRestartRefreshesExpiry(t *testing.T) {
	current := time.Date(2025, 1, 10, 14, 0, 0, 0, time.UTC)
	fw := &fakeFirewall{}
	f := NewFocus(fw, fakeResolver{addrs: map[string][]string{"x.com": {"1.2.3.4"}}})
	f.now = func() time.Time { return current }

	if err := f.Start(context.Background(), []string{"x.com"}, time.Hour); err != nil {
		t.Fatal(err)
	}
	first := f.Status().ExpiresAt

	current = current.Add(30 * time.Minute)
	if err := f.Start(context.Background(), []string{"x.com"}, time.Hour); err != nil {
		t.Fatal(err)
	}
	second := f.Status().ExpiresAt
	if !second.After(first) {
		t.Error("restart should push the expiry out")
	}

	// The previous block set is cleared before the new one lands.
	if len(fw.unblocked) != 1 {
		t.Errorf("expected 1 unblock of the old set, got %d", len(fw.unblocked))
	}
}

func TestFocusStartFirewallFailureNotRecorded(t *testing.T) {
	fw := &fakeFirewall{failBlock: true}
	f := NewFocus(fw, fakeResolver{addrs: map[string][]string{"x.com": {"1.2.3.4"}}})

	if err := f.Start(context.Background(), []string{"x.com"}, time.Hour); err == nil {
		t.Fatal("expected block failure to propagate")
	}
	if f.Status().Active {
		t.Error("failed activation must not be recorded")
	}
}

func TestFocusStopIdempotent(t *testing.T) {
	fw := &fakeFirewall{}
	f := NewFocus(fw, fakeResolver{addrs: map[string][]string{"x.com": {"1.2.3.4"}}})

	if err := f.Start(context.Background(), []string{"x.com"}, time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := f.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := f.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(fw.unblocked) != 1 {
		t.Errorf("second stop must not unblock again, got %d unblocks", len(fw.unblocked))
	}
}

func TestFocusStopRetriesAfterFirewallFailure(t *testing.T) {
	fw := &fakeFirewall{}
	f := NewFocus(fw, fakeResolver{addrs: map[string][]string{"x.com": {"1.2.3.4"}}})

	if err := f.Start(context.Background(), []string{"x.com"}, time.Hour); err != nil {
		t.Fatal(err)
	}

	fw.failUnblock = true
	if err := f.Stop(context.Background()); err == nil {
		t.Fatal("expected teardown failure to propagate")
	}
	st := f.Status()
	if !st.Active || len(st.Domains) != 1 {
		t.Fatal("failed teardown must keep the block set recorded")
	}

	fw.failUnblock = false
	if err := f.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.Status().Active {
		t.Error("focus should stop once the firewall recovers")
	}
	if len(fw.unblocked) != 2 {
		t.Errorf("expected a second unblock attempt, got %d", len(fw.unblocked))
	}
}

func TestFocusSweepExpired(t *testing.T) {
	current := time.Date(2025, 1, 10, 14, 0, 0, 0, time.UTC)
	fw := &fakeFirewall{}
	f := NewFocus(fw, fakeResolver{addrs: map[string][]string{"x.com": {"1.2.3.4"}}})
	f.now = func() time.Time { return current }

	if err := f.Start(context.Background(), []string{"x.com"}, time.Hour); err != nil {
		t.Fatal(err)
	}

	if err := f.SweepExpired(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !f.Status().Active {
		t.Fatal("focus should survive an early sweep")
	}

	current = current.Add(61 * time.Minute)
	if err := f.SweepExpired(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.Status().Active {
		t.Error("elapsed focus should be stopped")
	}
}

func TestLockdownRefreshNotStack(t *testing.T) {
	current := time.Date(2025, 1, 10, 14, 0, 0, 0, time.UTC)
	l := NewLockdown()
	l.now = func() time.Time { return current }

	if refreshed := l.Start(time.Hour, "deep work", ""); refreshed {
		t.Error("first start is not a refresh")
	}
	first := l.Status().ExpiresAt

	current = current.Add(30 * time.Minute)
	if refreshed := l.Start(time.Hour, "more deep work", "calendar.google.com"); !refreshed {
		t.Error("second start should report a refresh")
	}
	st := l.Status()
	if !st.ExpiresAt.After(first) {
		t.Error("refresh should move the expiry out, not stack durations")
	}
	if st.Reason != "more deep work" {
		t.Errorf("refresh should replace the reason, got %q", st.Reason)
	}

	if !l.Stop() {
		t.Error("stop should report it was active")
	}
	if l.Stop() {
		t.Error("second stop should report inactive")
	}
}

func TestLockdownExpired(t *testing.T) {
	current := time.Date(2025, 1, 10, 14, 0, 0, 0, time.UTC)
	l := NewLockdown()
	l.now = func() time.Time { return current }

	l.Start(time.Hour, "", "")
	if l.Expired() {
		t.Error("fresh lockdown is not expired")
	}
	current = current.Add(2 * time.Hour)
	if !l.Expired() {
		t.Error("elapsed lockdown should report expired")
	}
}
