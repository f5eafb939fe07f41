package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/loykin/steamkeeper/internal/store"
)

const (
	DefaultScanCadence = 6 * time.Hour
	DefaultScanRetry   = time.Hour
	DefaultScanDelay   = 5 * time.Second
)

// ScanFunc checks one profile for outstanding updates.
type ScanFunc func(ctx context.Context, p store.Profile) error

type ScanConfig struct {
	Cadence time.Duration
	Retry   time.Duration
	// Delay is the pause between two profiles within one tick.
	Delay time.Duration
}

// Scanner walks the auto-run profiles whose next scan is due. A successful
// scan is repeated after Cadence, a failed one after Retry.
type Scanner struct {
	cfg      ScanConfig
	profiles *store.Profiles
	state    *store.Document[store.ScanState]
	scan     ScanFunc
	busy     atomic.Bool
	logger   *slog.Logger
}

func NewScanner(cfg ScanConfig, profiles *store.Profiles, state *store.Document[store.ScanState], scan ScanFunc) *Scanner {
	if cfg.Cadence <= 0 {
		cfg.Cadence = DefaultScanCadence
	}
	if cfg.Retry <= 0 {
		cfg.Retry = DefaultScanRetry
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	return &Scanner{cfg: cfg, profiles: profiles, state: state, scan: scan, logger: slog.Default()}
}

func (s *Scanner) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	s.logger = l
}

// Tick scans every due profile. It returns early when ctx is cancelled;
// profiles not reached keep their due time.
func (s *Scanner) Tick(ctx context.Context, now time.Time) error {
	if !s.busy.CompareAndSwap(false, true) {
		return nil
	}
	defer s.busy.Store(false)

	all, err := s.profiles.List()
	if err != nil {
		return fmt.Errorf("list profiles: %w", err)
	}
	st, err := s.prune(all)
	if err != nil {
		return err
	}

	scanned := 0
	for _, p := range all {
		if !p.AutoRun {
			continue
		}
		if next, ok := st.NextScan[p.ID]; ok && now.Before(next) {
			continue
		}
		if scanned > 0 && s.cfg.Delay > 0 {
			t := time.NewTimer(s.cfg.Delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		scanned++
		err := s.scanOne(ctx, p)
		st, err = s.record(p.ID, now, err)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) scanOne(ctx context.Context, p store.Profile) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return s.scan(ctx, p)
}

// record stores the next due time and the failure count for profile id.
// scanErr is the outcome of the scan; the returned error is a persistence
// failure.
func (s *Scanner) record(id int, now time.Time, scanErr error) (store.ScanState, error) {
	logger := s.logger.With("profile", id)
	st, err := s.state.Update(func(st *store.ScanState) error {
		if st.NextScan == nil {
			st.NextScan = make(map[int]time.Time)
		}
		if st.Failures == nil {
			st.Failures = make(map[int]int)
		}
		if scanErr != nil {
			st.Failures[id]++
			st.NextScan[id] = now.Add(s.cfg.Retry)
			logger.Warn("Failed to scan profile", "failures", st.Failures[id], "retry_at", st.NextScan[id], "error", scanErr)
			return nil
		}
		delete(st.Failures, id)
		st.NextScan[id] = now.Add(s.cfg.Cadence)
		logger.Debug("Scanned profile", "next_scan", st.NextScan[id])
		return nil
	})
	if err != nil {
		return st, fmt.Errorf("save scan state: %w", err)
	}
	return st, nil
}

// prune drops state for profiles that no longer exist.
func (s *Scanner) prune(all []store.Profile) (store.ScanState, error) {
	known := make(map[int]bool, len(all))
	for _, p := range all {
		known[p.ID] = true
	}
	st, err := s.state.Update(func(st *store.ScanState) error {
		for id := range st.NextScan {
			if !known[id] {
				delete(st.NextScan, id)
			}
		}
		for id := range st.Failures {
			if !known[id] {
				delete(st.Failures, id)
			}
		}
		return nil
	})
	if err != nil {
		return st, fmt.Errorf("load scan state: %w", err)
	}
	return st, nil
}

// Failures returns the consecutive failure count per profile.
func (s *Scanner) Failures() map[int]int {
	st, err := s.state.Load()
	if err != nil {
		return map[int]int{}
	}
	out := make(map[int]int, len(st.Failures))
	for id, n := range st.Failures {
		out[id] = n
	}
	return out
}
