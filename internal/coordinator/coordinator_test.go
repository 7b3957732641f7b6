package coordinator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nightgate/nightgate/internal/ledger"
	"github.com/nightgate/nightgate/internal/reqlog"
)

type fakeFirewall struct {
	allows    int
	denies    int
	kicks     int
	failAllow bool
}

func (f *fakeFirewall) AllowAll(ctx context.Context) error {
	f.allows++
	if f.failAllow {
		return errors.New("iptables exploded")
	}
	return nil
}
func (f *fakeFirewall) DenyAll(ctx context.Context) error              { f.denies++; return nil }
func (f *fakeFirewall) DisconnectAllClients(ctx context.Context) error { f.kicks++; return nil }
func (f *fakeFirewall) BlockDomains(ctx context.Context, d, a []string) error {
	return nil
}
func (f *fakeFirewall) UnblockDomains(ctx context.Context, d, a []string) error {
	return nil
}

type fakeResolver struct{}

func (fakeResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	return []string{"1.2.3.4"}, nil
}

func newTestCoordinator(t *testing.T, fw *fakeFirewall) *Coordinator {
	t.Helper()
	grants := ledger.New(fw)
	focus := ledger.NewFocus(fw, fakeResolver{})
	lockdown := ledger.NewLockdown()
	outcomes := reqlog.New(filepath.Join(t.TempDir(), "requests.json"), 0)
	return New(Config{
		NightStartHour:       21,
		NightEndHour:         5,
		FocusDomains:         []string{"youtube.com"},
		FocusDefaultDuration: time.Hour,
	}, fw, grants, focus, lockdown, outcomes)
}

func at(hour, minute int) time.Time {
	return time.Date(2025, 1, 10, hour, minute, 0, 0, time.UTC)
}

func TestIsNighttimeWrapsMidnight(t *testing.T) {
	c := newTestCoordinator(t, &fakeFirewall{})

	cases := []struct {
		hour int
		want bool
	}{
		{21, true},
		{23, true},
		{0, true},
		{4, true},
		{5, false},
		{12, false},
		{20, false},
	}
	for _, tc := range cases {
		if got := c.IsNighttime(at(tc.hour, 30)); got != tc.want {
			t.Errorf("hour %d: expected %v, got %v", tc.hour, tc.want, got)
		}
	}
}

func TestIsNighttimeNonWrappingWindow(t *testing.T) {
	c := newTestCoordinator(t, &fakeFirewall{})
	c.nightStartHour = 9
	c.nightEndHour = 17

	if !c.IsNighttime(at(12, 0)) {
		t.Error("noon should be inside a 9-17 window")
	}
	if c.IsNighttime(at(20, 0)) {
		t.Error("evening should be outside a 9-17 window")
	}
}

func TestResolveDuration(t *testing.T) {
	c := newTestCoordinator(t, &fakeFirewall{})
	c.now = func() time.Time { return at(14, 0) }

	if d, err := c.ResolveDuration("45", 0); err != nil || d != 45*time.Minute {
		t.Errorf("minutes form: got %v, %v", d, err)
	}
	if d, err := c.ResolveDuration("1h30m", 0); err != nil || d != 90*time.Minute {
		t.Errorf("go duration form: got %v, %v", d, err)
	}
	if d, err := c.ResolveDuration("", time.Hour); err != nil || d != time.Hour {
		t.Errorf("fallback: got %v, %v", d, err)
	}
	if d, err := c.ResolveDuration("21:00", 0); err != nil || d != 7*time.Hour {
		t.Errorf("same-day boundary: got %v, %v", d, err)
	}

	// Boundary already passed today rolls to tomorrow.
	c.now = func() time.Time { return at(22, 0) }
	if d, err := c.ResolveDuration("21:00", 0); err != nil || d != 23*time.Hour {
		t.Errorf("next-day boundary: got %v, %v", d, err)
	}

	for _, bad := range []string{"abc", "0", "-5", "25:99"} {
		if _, err := c.ResolveDuration(bad, 0); err == nil {
			t.Errorf("%q should be rejected", bad)
		}
	}
}

func TestLockdownOwnsPostureDuringDay(t *testing.T) {
	fw := &fakeFirewall{}
	c := newTestCoordinator(t, fw)
	c.now = func() time.Time { return at(14, 0) }

	if err := c.StartLockdown(context.Background(), "60", "deep work", ""); err != nil {
		t.Fatal(err)
	}
	if fw.denies != 1 {
		t.Fatalf("expected 1 deny, got %d", fw.denies)
	}
	if !c.GatePageActive() {
		t.Error("gate page should be active under lockdown")
	}

	// Restart refreshes the state without reinstalling the posture.
	if err := c.StartLockdown(context.Background(), "90", "still working", ""); err != nil {
		t.Fatal(err)
	}
	if fw.denies != 1 {
		t.Errorf("refresh must not reinstall rules, got %d denies", fw.denies)
	}

	if err := c.StopLockdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if fw.allows != 1 {
		t.Errorf("daytime stop should open the network, got %d allows", fw.allows)
	}
	if c.GatePageActive() {
		t.Error("gate page should be off after lockdown ends")
	}
}

func TestStopLockdownRetriesAfterFirewallFailure(t *testing.T) {
	fw := &fakeFirewall{failAllow: true}
	c := newTestCoordinator(t, fw)
	c.now = func() time.Time { return at(14, 0) }

	if err := c.StartLockdown(context.Background(), "60", "", ""); err != nil {
		t.Fatal(err)
	}
	if err := c.StopLockdown(context.Background()); err == nil {
		t.Fatal("expected teardown failure to propagate")
	}
	if !c.LockdownStatus().Active {
		t.Fatal("failed teardown must keep the lockdown recorded")
	}

	// The firewall recovers; the expiry sweep finishes the teardown.
	fw.failAllow = false
	c.lockdown.Start(-time.Minute, "", "")
	if err := c.SweepLockdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.LockdownStatus().Active {
		t.Error("lockdown should stop once the firewall recovers")
	}
	if fw.allows != 2 {
		t.Errorf("expected a second allow attempt, got %d", fw.allows)
	}
	if c.GatePageActive() {
		t.Error("gate page should be off after the retried teardown")
	}
}

func TestLockdownEndingAtNightKeepsPosture(t *testing.T) {
	fw := &fakeFirewall{}
	c := newTestCoordinator(t, fw)
	c.now = func() time.Time { return at(14, 0) }

	if err := c.StartLockdown(context.Background(), "600", "", ""); err != nil {
		t.Fatal(err)
	}

	// The clock crosses into the nighttime window before the lockdown ends.
	c.now = func() time.Time { return at(22, 0) }
	if err := c.StopLockdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if fw.allows != 0 {
		t.Error("posture must stay up when lockdown ends inside the night window")
	}

	// Ownership was handed to nighttime gatekeeping, so the morning reset
	// tears it down.
	c.now = func() time.Time { return at(5, 0) }
	if err := c.MorningReset(context.Background()); err != nil {
		t.Fatal(err)
	}
	if fw.allows != 1 {
		t.Errorf("morning reset should open the network, got %d allows", fw.allows)
	}
}

func TestNightBoundaryWithActiveLockdownDoesNotDoubleInstall(t *testing.T) {
	fw := &fakeFirewall{}
	c := newTestCoordinator(t, fw)
	c.now = func() time.Time { return at(20, 0) }

	if err := c.StartLockdown(context.Background(), "120", "", ""); err != nil {
		t.Fatal(err)
	}
	if err := c.EnterNightPosture(context.Background()); err != nil {
		t.Fatal(err)
	}
	if fw.denies != 1 {
		t.Errorf("posture should be installed once, got %d denies", fw.denies)
	}
}

func TestMorningResetLeavesLockdownPosture(t *testing.T) {
	fw := &fakeFirewall{}
	c := newTestCoordinator(t, fw)
	c.now = func() time.Time { return at(14, 0) }

	if err := c.StartLockdown(context.Background(), "600", "", ""); err != nil {
		t.Fatal(err)
	}
	if err := c.MorningReset(context.Background()); err != nil {
		t.Fatal(err)
	}
	if fw.allows != 0 {
		t.Error("reset must not open the network while lockdown owns the posture")
	}
}

func TestSweepLockdownStopsElapsed(t *testing.T) {
	fw := &fakeFirewall{}
	c := newTestCoordinator(t, fw)
	c.now = func() time.Time { return at(14, 0) }

	if err := c.StartLockdown(context.Background(), "60", "", ""); err != nil {
		t.Fatal(err)
	}

	// Not elapsed yet.
	if err := c.SweepLockdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !c.LockdownStatus().Active {
		t.Fatal("lockdown should survive an early sweep")
	}

	// Force the expiry into the past.
	c.lockdown.Start(-time.Minute, "", "")
	if err := c.SweepLockdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.LockdownStatus().Active {
		t.Error("elapsed lockdown should be swept")
	}
	if fw.allows != 1 {
		t.Error("sweep during the day should open the network")
	}
}

func TestStatusSnapshot(t *testing.T) {
	fw := &fakeFirewall{}
	c := newTestCoordinator(t, fw)
	c.now = func() time.Time { return at(14, 0) }

	st := c.Status(context.Background())
	if st.IsNighttime {
		t.Error("2pm is not nighttime")
	}
	if st.MinutesUntilDaytimeEnd != 7*60 {
		t.Errorf("expected 420 minutes until 21:00, got %d", st.MinutesUntilDaytimeEnd)
	}
	if st.FocusModeActive || st.VoluntaryLockdownActive {
		t.Error("no modes should be active")
	}

	if err := c.StartFocus(context.Background(), "30"); err != nil {
		t.Fatal(err)
	}
	if err := c.StartLockdown(context.Background(), "45", "exam prep", ""); err != nil {
		t.Fatal(err)
	}

	st = c.Status(context.Background())
	if !st.FocusModeActive || st.FocusModeExpiry == "" {
		t.Error("focus fields should be populated")
	}
	if !st.VoluntaryLockdownActive || st.VoluntaryLockdownReason != "exam prep" {
		t.Error("lockdown fields should be populated")
	}

	c.now = func() time.Time { return at(23, 0) }
	st = c.Status(context.Background())
	if !st.IsNighttime {
		t.Error("11pm is nighttime")
	}
	if st.MinutesUntilDaytimeEnd != 0 {
		t.Errorf("nighttime should report 0 minutes, got %d", st.MinutesUntilDaytimeEnd)
	}
}
