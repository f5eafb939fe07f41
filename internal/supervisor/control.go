package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/loykin/steamkeeper/internal/errs"
	"github.com/loykin/steamkeeper/internal/metrics"
	"github.com/loykin/steamkeeper/internal/storagelink"
	"github.com/loykin/steamkeeper/internal/store"
)

// killAll force-kills every tracked process and sweeps orphans.
func (s *Supervisor) killAll(ctx context.Context) {
	for id, p := range s.handles() {
		if err := p.Kill(); err != nil {
			s.log().Warn("Failed to kill tracked process", "profile", id, "error", err)
		}
	}
	s.sweep(ctx)
}

// sweep kills untracked tool processes by name.
func (s *Supervisor) sweep(ctx context.Context) {
	s.mu.Lock()
	sw := s.sweeper
	s.mu.Unlock()
	if !s.cfg.OrphanSweep || sw == nil || len(s.cfg.ProcessNames) == 0 {
		return
	}
	n, err := sw.KillByName(ctx, s.cfg.ProcessNames...)
	if err != nil {
		s.log().Warn("Orphan sweep incomplete", "names", s.cfg.ProcessNames, "error", err)
	}
	if n > 0 {
		metrics.AddOrphanKills(n)
		s.log().Info("Killed orphaned tool processes", "count", n)
	}
}

// Stop stops the profile's run, if any, and marks it Stopped. Stopping a
// stopped profile succeeds.
func (s *Supervisor) Stop(ctx context.Context, id int) (res Result) {
	res = Result{ProfileID: id}
	defer s.recoverInto("stop", &res)

	p, err := s.profiles.Get(id)
	if err != nil {
		res.Err = err
		s.log().Error("Failed to load profile", "profile", id, "error", err)
		return res
	}
	res.AppID = p.AppID
	if proc, ok := s.handles()[id]; ok {
		if err := proc.Stop(s.cfg.KillWait); err != nil {
			s.log().Warn("Failed to stop tracked process", "profile", id, "error", err)
		}
	}
	s.sweep(ctx)
	if _, err := storagelink.RemoveIfTarget(s.linkPath(), s.targetFor(p)); err != nil {
		s.log().Warn("Failed to remove storage link", "path", s.linkPath(), "error", err)
	}
	if p.Status != store.StatusStopped || p.PID != 0 {
		s.setStopped(id, time.Now(), false)
	}
	res.Success = true
	res.ExitCode = 0
	return res
}

// StopAll stops every tracked run, sweeps orphans, removes the storage link
// and marks every running profile Stopped.
func (s *Supervisor) StopAll(ctx context.Context) (out []Result) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log().Error("Recovered panic in supervisor", "op", "stop_all", "panic", rec)
			out = append(out, Result{Err: fmt.Errorf("panic in stop_all: %v", rec)})
		}
	}()
	for id, proc := range s.handles() {
		if err := proc.Stop(s.cfg.KillWait); err != nil {
			s.log().Warn("Failed to stop tracked process", "profile", id, "error", err)
		}
	}
	s.sweep(ctx)
	if storagelink.IsSymlink(s.linkPath()) {
		if err := storagelink.Remove(s.linkPath()); err != nil {
			s.log().Warn("Failed to remove storage link", "path", s.linkPath(), "error", err)
		}
	}
	profiles, err := s.profiles.List()
	if err != nil {
		s.log().Error("Failed to list profiles", "error", err)
		return []Result{{Err: err}}
	}
	now := time.Now()
	for _, p := range profiles {
		if p.Status != store.StatusStopped || p.PID != 0 {
			s.setStopped(p.ID, now, false)
		}
		out = append(out, Result{ProfileID: p.ID, AppID: p.AppID, Success: true})
	}
	return out
}

// Restart stops the profile, waits RestartDelay and starts it again.
func (s *Supervisor) Restart(ctx context.Context, id int) (res Result) {
	res = Result{ProfileID: id}
	defer s.recoverInto("restart", &res)
	if stopped := s.Stop(ctx, id); !stopped.Success {
		return stopped
	}
	if err := sleepCtx(ctx, s.cfg.RestartDelay); err != nil {
		res.Err = err
		return res
	}
	return s.Start(ctx, id)
}

// RunAll stops everything and then updates every profile in turn. Only one
// RunAll may be in progress; a concurrent call fails with errs.ErrBusy.
// Individual failures do not stop the sequence, cancelling ctx does.
func (s *Supervisor) RunAll(ctx context.Context) (out []Result, err error) {
	if !s.runningAll.CompareAndSwap(false, true) {
		s.log().Warn("Run-all already in progress, ignoring request")
		return nil, fmt.Errorf("%w: run-all in progress", errs.ErrBusy)
	}
	defer s.runningAll.Store(false)
	defer func() {
		if rec := recover(); rec != nil {
			s.log().Error("Recovered panic in supervisor", "op", "run_all", "panic", rec)
			err = fmt.Errorf("panic in run_all: %v", rec)
		}
	}()

	s.StopAll(ctx)
	profiles, err := s.profiles.List()
	if err != nil {
		return nil, err
	}
	s.log().Info("Running all profiles", "count", len(profiles))
	for i, p := range profiles {
		if i > 0 {
			if err := sleepCtx(ctx, s.cfg.InterProfileDelay); err != nil {
				return out, err
			}
		}
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		res := s.Start(ctx, p.ID)
		if !res.Success {
			s.log().Error("Profile run failed", "profile", p.ID, "name", p.Name, "error", res.Err)
		}
		out = append(out, res)
	}
	return out, nil
}

// Install installs or reinstalls the update tool. No run may be active.
func (s *Supervisor) Install(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log().Error("Recovered panic in supervisor", "op", "install", "panic", rec)
			err = fmt.Errorf("panic in install: %v", rec)
		}
	}()
	if ids := s.Tracked(); len(ids) > 0 {
		return fmt.Errorf("%w: update tool is running for profile %d", errs.ErrBusy, ids[0])
	}
	if err := s.tool.Install(ctx); err != nil {
		s.log().Error("Failed to install update tool", "dir", s.tool.Dir(), "error", err)
		return err
	}
	return nil
}
