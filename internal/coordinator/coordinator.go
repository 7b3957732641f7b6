package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	ngerrors "github.com/nightgate/nightgate/internal/errors"
	"github.com/nightgate/nightgate/internal/firewall"
	"github.com/nightgate/nightgate/internal/ledger"
	"github.com/nightgate/nightgate/internal/reqlog"
)

// posture owners. Nighttime gatekeeping and voluntary lockdown share the
// same deny-all firewall posture; exactly one of them owns it at a time.
const (
	ownerNone     = ""
	ownerNight    = "night"
	ownerLockdown = "lockdown"
)

// Coordinator enforces the transition rules between the three access modes
// and translates them into firewall calls.
type Coordinator struct {
	fw       firewall.Firewall
	grants   *ledger.Ledger
	focus    *ledger.Focus
	lockdown *ledger.Lockdown
	outcomes *reqlog.Log

	nightStartHour int
	nightEndHour   int
	focusDomains   []string
	focusDefault   time.Duration

	mu           sync.Mutex
	postureOwner string
	cron         *cron.Cron
	now          func() time.Time
}

type Config struct {
	NightStartHour       int
	NightEndHour         int
	FocusDomains         []string
	FocusDefaultDuration time.Duration
}

func New(cfg Config, fw firewall.Firewall, grants *ledger.Ledger, focus *ledger.Focus, lockdown *ledger.Lockdown, outcomes *reqlog.Log) *Coordinator {
	return &Coordinator{
		fw:             fw,
		grants:         grants,
		focus:          focus,
		lockdown:       lockdown,
		outcomes:       outcomes,
		nightStartHour: cfg.NightStartHour,
		nightEndHour:   cfg.NightEndHour,
		focusDomains:   cfg.FocusDomains,
		focusDefault:   cfg.FocusDefaultDuration,
		now:            time.Now,
	}
}

// IsNighttime reports whether t falls inside the gatekeeping window. The
// window wraps midnight in the default 21:00-05:00 configuration.
func (c *Coordinator) IsNighttime(t time.Time) bool {
	h := t.Hour()
	if c.nightStartHour <= c.nightEndHour {
		return h >= c.nightStartHour && h < c.nightEndHour
	}
	return h >= c.nightStartHour || h < c.nightEndHour
}

// GatePageActive decides which UI the root route serves: the justification
// chat whenever nighttime gatekeeping or a voluntary lockdown is in force.
func (c *Coordinator) GatePageActive() bool {
	return c.IsNighttime(c.now()) || c.lockdown.Status().Active
}

// AccessActive reports whether a network grant is currently in force.
func (c *Coordinator) AccessActive(ctx context.Context) bool {
	return c.grants.Active(ctx)
}

// Status is the JSON shape served by /api/status.
type Status struct {
	IsNighttime             bool   `json:"isNighttime"`
	FocusModeActive         bool   `json:"focusModeActive"`
	FocusModeExpiry         string `json:"focusModeExpiry,omitempty"`
	VoluntaryLockdownActive bool   `json:"voluntaryLockdownActive"`
	VoluntaryLockdownExpiry string `json:"voluntaryLockdownExpiry,omitempty"`
	VoluntaryLockdownReason string `json:"voluntaryLockdownReason,omitempty"`
	NetworkAccessExpiry     string `json:"networkAccessExpiry,omitempty"`
	MinutesUntilDaytimeEnd  int    `json:"minutesUntilDaytimeEnd"`
}

func (c *Coordinator) Status(ctx context.Context) Status {
	now := c.now()
	st := Status{
		IsNighttime:            c.IsNighttime(now),
		MinutesUntilDaytimeEnd: c.minutesUntilHour(now, c.nightStartHour),
	}

	if fs := c.focus.Status(); fs.Active {
		st.FocusModeActive = true
		st.FocusModeExpiry = fs.ExpiresAt.Format(time.RFC3339)
	}
	if ls := c.lockdown.Status(); ls.Active {
		st.VoluntaryLockdownActive = true
		st.VoluntaryLockdownExpiry = ls.ExpiresAt.Format(time.RFC3339)
		st.VoluntaryLockdownReason = ls.Reason
	}
	if c.grants.Active(ctx) {
		if expiry, ok := c.grants.ExpiresAt(); ok {
			st.NetworkAccessExpiry = expiry.Format(time.RFC3339)
		}
	}
	return st
}

// StartFocus blocks the domain set for the resolved duration. Focus is
// additive: it never touches the deny/allow posture, so it composes with an
// open network, an active grant, or a lockdown.
func (c *Coordinator) StartFocus(ctx context.Context, durationSpec string) error {
	d, err := c.ResolveDuration(durationSpec, c.focusDefault)
	if err != nil {
		return err
	}
	return c.focus.Start(ctx, c.focusDomains, d)
}

func (c *Coordinator) StopFocus(ctx context.Context) error {
	return c.focus.Stop(ctx)
}

// StartLockdown imposes the deny-all posture during normally-open hours.
// Starting while already active refreshes the expiry instead of stacking.
// The posture is only installed when nothing owns it yet; ownership is
// tracked so lockdown and nighttime never both claim the deny-all rule.
func (c *Coordinator) StartLockdown(ctx context.Context, durationSpec, reason, exceptions string) error {
	d, err := c.ResolveDuration(durationSpec, time.Until(c.nextHour(c.nightStartHour)))
	if err != nil {
		return err
	}

	c.mu.Lock()
	owner := c.postureOwner
	c.mu.Unlock()

	if owner == ownerNone {
		if err := c.fw.DenyAll(ctx); err != nil {
			return ngerrors.Wrap(err, "lockdown not recorded")
		}
		c.mu.Lock()
		c.postureOwner = ownerLockdown
		c.mu.Unlock()

		if err := c.fw.DisconnectAllClients(ctx); err != nil {
			slog.Warn("Lockdown client kick failed", "error", err)
		}
	}

	if refreshed := c.lockdown.Start(d, reason, exceptions); refreshed {
		slog.Info("Voluntary lockdown refreshed", "duration", d, "reason", reason)
	} else {
		slog.Info("Voluntary lockdown started", "duration", d, "reason", reason)
	}
	return nil
}

// StopLockdown lifts the lockdown. When it ends inside the nighttime window
// the posture stays up and ownership passes to nighttime gatekeeping; the
// deny-all rule is never torn down into a window that requires it. The
// lockdown record and posture ownership are only released once the firewall
// is open again, so a failed teardown is retried on the next sweep.
func (c *Coordinator) StopLockdown(ctx context.Context) error {
	if !c.lockdown.Status().Active {
		return nil
	}

	c.mu.Lock()
	ownsPosture := c.postureOwner == ownerLockdown
	handover := ownsPosture && c.IsNighttime(c.now())
	c.mu.Unlock()

	if !ownsPosture || handover {
		c.lockdown.Stop()
		if handover {
			c.mu.Lock()
			c.postureOwner = ownerNight
			c.mu.Unlock()
		}
		slog.Info("Voluntary lockdown stopped", "posture", "retained")
		return nil
	}

	if err := c.fw.AllowAll(ctx); err != nil {
		return ngerrors.Wrap(err, "lockdown teardown")
	}

	c.lockdown.Stop()
	c.mu.Lock()
	c.postureOwner = ownerNone
	c.mu.Unlock()
	slog.Info("Voluntary lockdown stopped", "posture", "opened")
	return nil
}

// SweepLockdown stops an elapsed lockdown. Called by the watchdog.
func (c *Coordinator) SweepLockdown(ctx context.Context) error {
	if !c.lockdown.Expired() {
		return nil
	}
	slog.Info("Voluntary lockdown has expired")
	return c.StopLockdown(ctx)
}

// LockdownStatus exposes the snapshot for page selection and the engine's
// exception hints.
func (c *Coordinator) LockdownStatus() ledger.LockdownStatus {
	return c.lockdown.Status()
}

// EnterNightPosture installs the deny-all posture at the nightly boundary
// and kicks clients to surface the portal. A lockdown already owning the
// posture keeps it; ownership is handed over when the lockdown ends.
func (c *Coordinator) EnterNightPosture(ctx context.Context) error {
	c.mu.Lock()
	owner := c.postureOwner
	if owner == ownerNone {
		c.postureOwner = ownerNight
	}
	c.mu.Unlock()

	if owner != ownerNone {
		slog.Info("Night boundary reached, posture already owned", "owner", owner)
		return nil
	}

	if err := c.fw.DenyAll(ctx); err != nil {
		c.mu.Lock()
		c.postureOwner = ownerNone
		c.mu.Unlock()
		return ngerrors.Wrap(err, "enter night posture")
	}
	if err := c.fw.DisconnectAllClients(ctx); err != nil {
		slog.Warn("Night boundary client kick failed", "error", err)
	}
	slog.Info("Nighttime gatekeeping enabled")
	return nil
}

// MorningReset opens the network at the end of the nighttime window, clears
// any leftover grant bookkeeping and wipes the nightly outcome log. An
// active lockdown keeps the posture up.
func (c *Coordinator) MorningReset(ctx context.Context) error {
	c.grants.Clear()

	c.mu.Lock()
	ownsPosture := c.postureOwner == ownerNight
	if ownsPosture {
		c.postureOwner = ownerNone
	}
	c.mu.Unlock()

	if ownsPosture {
		if err := c.fw.AllowAll(ctx); err != nil {
			return ngerrors.Wrap(err, "morning reset")
		}
	}

	if err := c.outcomes.Clear(); err != nil {
		slog.Warn("Failed to clear outcome log", "error", err)
	}
	slog.Info("Morning reset complete, internet access is open")
	return nil
}

// ResolveDuration turns a duration request into a concrete duration at
// activation time. Accepted forms: "" (fallback), a minute count ("45"),
// a Go duration ("1h30m"), or a daily boundary ("21:00") meaning "until the
// next occurrence of that wall-clock time". Boundaries are resolved once,
// never re-evaluated.
func (c *Coordinator) ResolveDuration(spec string, fallback time.Duration) (time.Duration, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		if fallback <= 0 {
			return 0, ngerrors.InvalidInput("no duration given")
		}
		return fallback, nil
	}

	if strings.Contains(spec, ":") {
		boundary, err := time.Parse("15:04", spec)
		if err != nil {
			return 0, ngerrors.InvalidInput(fmt.Sprintf("bad boundary %q", spec))
		}
		now := c.now()
		target := time.Date(now.Year(), now.Month(), now.Day(), boundary.Hour(), boundary.Minute(), 0, 0, now.Location())
		if !target.After(now) {
			target = target.Add(24 * time.Hour)
		}
		return target.Sub(now), nil
	}

	if minutes, err := strconv.Atoi(spec); err == nil {
		if minutes <= 0 {
			return 0, ngerrors.InvalidInput("duration must be positive")
		}
		return time.Duration(minutes) * time.Minute, nil
	}

	d, err := time.ParseDuration(spec)
	if err != nil || d <= 0 {
		return 0, ngerrors.InvalidInput(fmt.Sprintf("bad duration %q", spec))
	}
	return d, nil
}

// StartSchedule installs the daily boundary jobs: gatekeeping on at night
// start, morning reset at night end.
func (c *Coordinator) StartSchedule() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return nil
	}

	cr := cron.New()
	if _, err := cr.AddFunc(fmt.Sprintf("0 %d * * *", c.nightStartHour), func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := c.EnterNightPosture(ctx); err != nil {
			slog.Error("Night boundary job failed", "error", err)
		}
	}); err != nil {
		return err
	}
	if _, err := cr.AddFunc(fmt.Sprintf("0 %d * * *", c.nightEndHour), func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := c.MorningReset(ctx); err != nil {
			slog.Error("Morning boundary job failed", "error", err)
		}
	}); err != nil {
		return err
	}
	cr.Start()
	c.cron = cr
	slog.Info("Boundary schedule started", "night_start", c.nightStartHour, "night_end", c.nightEndHour)
	return nil
}

// StopSchedule halts the boundary jobs.
func (c *Coordinator) StopSchedule() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		c.cron.Stop()
		c.cron = nil
	}
}

func (c *Coordinator) minutesUntilHour(now time.Time, hour int) int {
	if c.IsNighttime(now) {
		return 0
	}
	return int(c.nextHourFrom(now, hour).Sub(now).Minutes())
}

func (c *Coordinator) nextHour(hour int) time.Time {
	return c.nextHourFrom(c.now(), hour)
}

func (c *Coordinator) nextHourFrom(now time.Time, hour int) time.Time {
	target := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !target.After(now) {
		target = target.Add(24 * time.Hour)
	}
	return target
}
