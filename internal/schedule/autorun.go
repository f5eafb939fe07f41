// Package schedule decides on fixed ticks whether update work is due and
// hands it to the queue. Every tick recovers from its own failures so the
// loops keep their period.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/steamkeeper/internal/store"
)

// Action is the bulk work started by AutoRun.
type Action func(ctx context.Context) error

// AutoRun triggers the bulk action once the configured interval has passed
// since the last run. A tick that arrives while the previous bulk action is
// still running is skipped.
type AutoRun struct {
	settings *store.Document[store.AutoRunSettings]
	action   Action
	busy     atomic.Bool
	wg       sync.WaitGroup
	logger   *slog.Logger
}

func NewAutoRun(settings *store.Document[store.AutoRunSettings], action Action) *AutoRun {
	return &AutoRun{settings: settings, action: action, logger: slog.Default()}
}

func (a *AutoRun) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	a.logger = l
}

// Busy reports whether a bulk action is in progress.
func (a *AutoRun) Busy() bool { return a.busy.Load() }

// Wait blocks until the bulk action started by the last tick returns.
func (a *AutoRun) Wait() { a.wg.Wait() }

// Due reports whether settings call for a run at now.
func Due(s store.AutoRunSettings, now time.Time) bool {
	if !s.Enabled {
		return false
	}
	if s.LastRun == nil {
		return true
	}
	return now.Sub(*s.LastRun) >= s.Interval()
}

// Tick stamps last_run and starts the bulk action in the background when it
// is due. The action runs with ctx.
func (a *AutoRun) Tick(ctx context.Context, now time.Time) error {
	if !a.busy.CompareAndSwap(false, true) {
		a.logger.Debug("Auto-run still in progress, skipping tick")
		return nil
	}
	started := false
	defer func() {
		if !started {
			a.busy.Store(false)
		}
	}()

	s, err := a.settings.Load()
	if err != nil {
		return fmt.Errorf("load auto-run settings: %w", err)
	}
	if !Due(s, now) {
		return nil
	}
	if _, err := a.settings.Update(func(s *store.AutoRunSettings) error {
		s.LastRun = &now
		return nil
	}); err != nil {
		return fmt.Errorf("stamp auto-run: %w", err)
	}

	a.logger.Info("Auto-run due, starting bulk update", "interval", s.Interval())
	started = true
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.busy.Store(false)
		defer func() {
			if rec := recover(); rec != nil {
				a.logger.Error("Auto-run panicked", "panic", rec)
			}
		}()
		if err := a.action(ctx); err != nil {
			a.logger.Error("Failed to run auto-run action", "error", err)
		}
	}()
	return nil
}
