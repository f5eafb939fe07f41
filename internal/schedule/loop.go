package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/loykin/steamkeeper/internal/metrics"
)

// Tick is one run of a periodic task.
type Tick func(ctx context.Context, now time.Time) error

// Loop drives ticks on "@every" schedules. A tick still running when its
// next period arrives is skipped.
type Loop struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu      sync.Mutex
	started bool
}

func NewLoop(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Loop{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Add registers tick under name to run every period.
func (l *Loop) Add(name string, every time.Duration, tick Tick) error {
	if every <= 0 {
		return fmt.Errorf("schedule %s: period must be > 0", name)
	}
	if tick == nil {
		return fmt.Errorf("schedule %s: nil tick", name)
	}
	if _, err := l.cron.AddFunc("@every "+every.String(), func() { l.fire(name, tick) }); err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	l.logger.Info("Schedule registered", "name", name, "every", every)
	return nil
}

func (l *Loop) fire(name string, tick Tick) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.IncScheduleTick(name, "panic")
			l.logger.Error("Schedule tick panicked", "name", name, "panic", rec)
		}
	}()
	err := tick(l.ctx, time.Now())
	switch {
	case err == nil:
		metrics.IncScheduleTick(name, "ok")
	case errors.Is(err, context.Canceled):
		metrics.IncScheduleTick(name, "cancelled")
	default:
		metrics.IncScheduleTick(name, "error")
		l.logger.Error("Failed to run schedule tick", "name", name, "error", err)
	}
}

func (l *Loop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return errors.New("schedule loop already started")
	}
	if l.ctx.Err() != nil {
		return errors.New("schedule loop stopped")
	}
	l.started = true
	l.cron.Start()
	return nil
}

// Stop cancels running ticks and waits for them to return or for ctx.
func (l *Loop) Stop(ctx context.Context) {
	l.mu.Lock()
	started := l.started
	l.started = false
	l.mu.Unlock()
	l.cancel()
	if !started {
		return
	}
	select {
	case <-l.cron.Stop().Done():
	case <-ctx.Done():
	}
}
