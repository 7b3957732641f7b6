// Package watchdog runs the periodic expiry sweep. Every tick it asks each
// registered sweeper to revoke or tear down whatever has elapsed; a failing
// sweeper is logged and retried on the next tick, never fatal.
package watchdog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nightgate/nightgate/internal/concurrency"
	ngerrors "github.com/nightgate/nightgate/internal/errors"
)

// Sweeper is one timed resource the watchdog polices.
type Sweeper interface {
	Name() string
	Sweep(ctx context.Context) error
}

// Func adapts a bare function into a Sweeper.
func Func(name string, fn func(ctx context.Context) error) Sweeper {
	return funcSweeper{name: name, fn: fn}
}

type funcSweeper struct {
	name string
	fn   func(ctx context.Context) error
}

func (f funcSweeper) Name() string                    { return f.name }
func (f funcSweeper) Sweep(ctx context.Context) error { return f.fn(ctx) }

type Watchdog struct {
	sweepers []Sweeper

	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	ticker  *time.Ticker

	interval        time.Duration
	shutdownTimeout time.Duration
	done            chan struct{}
}

func New(interval, shutdownTimeout time.Duration, sweepers ...Sweeper) *Watchdog {
	return &Watchdog{
		sweepers:        sweepers,
		interval:        interval,
		shutdownTimeout: shutdownTimeout,
	}
}

func (w *Watchdog) Init(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	slog.Info("Watchdog initialized", "interval", w.interval, "sweepers", len(w.sweepers))
	return nil
}

func (w *Watchdog) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.ticker = time.NewTicker(w.interval)

	concurrency.SafeGo("watchdog", func() {
		defer close(w.done)
		for {
			select {
			case <-w.ticker.C:
				w.sweepAll()
			case <-w.ctx.Done():
				slog.Info("Watchdog run loop stopped")
				return
			}
		}
	})

	slog.Info("Watchdog started")
	return nil
}

func (w *Watchdog) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	if w.ticker != nil {
		w.ticker.Stop()
	}
	w.cancel()

	select {
	case <-w.done:
		slog.Info("Watchdog stopped gracefully")
		return nil
	case <-time.After(w.shutdownTimeout):
		slog.Warn("Watchdog shutdown timeout, force stopping")
		return ngerrors.Internal("shutdown timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Watchdog) Health(ctx context.Context) error {
	if w.ctx == nil {
		return ngerrors.Internal("watchdog not initialized")
	}
	if !w.IsRunning() {
		return ngerrors.Internal("watchdog not running")
	}
	return nil
}

func (w *Watchdog) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// sweepAll runs every sweeper once. Each call is bounded by the tick
// interval so one stuck collaborator cannot stall the loop forever, and a
// panic in one sweeper does not take the others down.
func (w *Watchdog) sweepAll() {
	for _, s := range w.sweepers {
		w.sweepOne(s)
	}
}

func (w *Watchdog) sweepOne(s Sweeper) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Sweeper panicked", "sweeper", s.Name(), "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(w.ctx, w.interval)
	defer cancel()

	if err := s.Sweep(ctx); err != nil {
		slog.Error("Sweep failed", "sweeper", s.Name(), "error", err)
	}
}
