package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nightgate/nightgate/internal/arp"
	"github.com/nightgate/nightgate/internal/config"
	"github.com/nightgate/nightgate/internal/coordinator"
	"github.com/nightgate/nightgate/internal/httpapi"
	"github.com/nightgate/nightgate/internal/ledger"
	"github.com/nightgate/nightgate/internal/protocol"
	"github.com/nightgate/nightgate/internal/ratelimit"
	"github.com/nightgate/nightgate/internal/reqlog"
	"github.com/nightgate/nightgate/internal/session"
	"github.com/nightgate/nightgate/internal/watchdog"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gatekeeper portal",
	RunE: func(cmd *cobra.Command, args []string) error {
		noFirewall, _ := cmd.Flags().GetBool("no-firewall")
		return runServe(cmd.Context(), noFirewall)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("no-firewall", false, "run without touching the firewall (development)")
}

func runServe(ctx context.Context, noFirewall bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fw, err := buildFirewall(cfg, noFirewall)
	if err != nil {
		return fmt.Errorf("init firewall: %w", err)
	}
	orc, err := buildOracle(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init oracle: %w", err)
	}

	window, err := config.DurationOrDefault(cfg.RateLimit.Window, config.DefaultRateLimitWindow)
	if err != nil {
		return fmt.Errorf("parse rate limit window: %w", err)
	}
	idleTTL, err := config.DurationOrDefault(cfg.Sessions.IdleTTL, config.DefaultSessionIdleTTL)
	if err != nil {
		return fmt.Errorf("parse session idle TTL: %w", err)
	}
	focusDefault, err := config.DurationOrDefault(cfg.Focus.DefaultDuration, config.DefaultFocusDuration)
	if err != nil {
		return fmt.Errorf("parse focus default duration: %w", err)
	}
	sweepInterval, err := config.DurationOrDefault(cfg.Watchdog.Interval, config.DefaultWatchdogInterval)
	if err != nil {
		return fmt.Errorf("parse watchdog interval: %w", err)
	}
	sweepShutdown, err := config.DurationOrDefault(cfg.Watchdog.ShutdownTimeout, config.DefaultWatchdogShutdown)
	if err != nil {
		return fmt.Errorf("parse watchdog shutdown timeout: %w", err)
	}
	readTimeout, err := config.DurationOrDefault(cfg.Server.ReadTimeout, config.DefaultServerReadTimeout)
	if err != nil {
		return fmt.Errorf("parse server read timeout: %w", err)
	}
	writeTimeout, err := config.DurationOrDefault(cfg.Server.WriteTimeout, config.DefaultServerWriteTimeout)
	if err != nil {
		return fmt.Errorf("parse server write timeout: %w", err)
	}
	idleTimeout, err := config.DurationOrDefault(cfg.Server.IdleTimeout, config.DefaultServerIdleTimeout)
	if err != nil {
		return fmt.Errorf("parse server idle timeout: %w", err)
	}
	shutdownTimeout, err := config.DurationOrDefault(cfg.Server.ShutdownTimeout, config.DefaultServerShutdownTimeout)
	if err != nil {
		return fmt.Errorf("parse server shutdown timeout: %w", err)
	}

	outcomes := reqlog.New(cfg.Outcomes.Path, cfg.Protocol.HistoryContextSize)
	grants := ledger.New(fw)
	focus := ledger.NewFocus(fw, nil)
	lockdown := ledger.NewLockdown()
	coord := coordinator.New(coordinator.Config{
		NightStartHour:       cfg.Night.StartHour,
		NightEndHour:         cfg.Night.EndHour,
		FocusDomains:         cfg.Focus.Domains,
		FocusDefaultDuration: focusDefault,
	}, fw, grants, focus, lockdown, outcomes)

	sessions := session.NewStore(idleTTL)
	limiter := ratelimit.NewLimiter(window, cfg.RateLimit.Max)
	engine := protocol.New(protocol.Config{
		MaxClarifications: cfg.Protocol.MaxClarifications,
		MinGrantMinutes:   cfg.Protocol.MinGrantMinutes,
		MaxGrantMinutes:   cfg.Protocol.MaxGrantMinutes,
	}, orc, grants, sessions, outcomes)

	handler := httpapi.NewHandler(coord, engine, sessions, limiter, func(ctx context.Context, ip string) string {
		return arp.Lookup(ctx, ip)
	})
	server := httpapi.NewServer(httpapi.ServerConfig{
		Port:            cfg.Server.Port,
		ReadTimeout:     readTimeout,
		WriteTimeout:    writeTimeout,
		IdleTimeout:     idleTimeout,
		ShutdownTimeout: shutdownTimeout,
	}, handler)

	wd := watchdog.New(sweepInterval, sweepShutdown,
		watchdog.Func("grants", grants.SweepExpired),
		watchdog.Func("focus", focus.SweepExpired),
		watchdog.Func("lockdown", coord.SweepLockdown),
		watchdog.Func("sessions", func(context.Context) error {
			if n := sessions.Prune(); n > 0 {
				slog.Info("Pruned idle sessions", "count", n)
			}
			return nil
		}),
		watchdog.Func("ratelimit", func(context.Context) error {
			limiter.Prune()
			return nil
		}),
	)
	if err := wd.Init(ctx); err != nil {
		return fmt.Errorf("init watchdog: %w", err)
	}

	// Restore the posture for the current wall-clock time; the process may
	// have restarted in the middle of the night.
	if coord.IsNighttime(time.Now()) {
		if err := coord.EnterNightPosture(ctx); err != nil {
			return fmt.Errorf("enter night posture: %w", err)
		}
	}
	if err := coord.StartSchedule(); err != nil {
		return fmt.Errorf("start schedule: %w", err)
	}
	if err := wd.Start(ctx); err != nil {
		return fmt.Errorf("start watchdog: %w", err)
	}

	errCh := make(chan error, 1)
	server.Start(errCh)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout+sweepShutdown)
	defer cancel()

	coord.StopSchedule()
	if err := server.Stop(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown failed", "error", err)
	}
	if err := wd.Stop(shutdownCtx); err != nil {
		slog.Warn("Watchdog shutdown failed", "error", err)
	}
	return nil
}
