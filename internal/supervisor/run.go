package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hpcloud/tail"
	"github.com/loykin/steamkeeper/internal/errs"
	"github.com/loykin/steamkeeper/internal/logs"
	"github.com/loykin/steamkeeper/internal/metrics"
	"github.com/loykin/steamkeeper/internal/notify"
	"github.com/loykin/steamkeeper/internal/process"
	"github.com/loykin/steamkeeper/internal/storagelink"
	"github.com/loykin/steamkeeper/internal/store"
)

const streamSideLog process.Stream = "sidelog"

// Start updates the profile's main app. It blocks until the tool exits.
func (s *Supervisor) Start(ctx context.Context, id int) Result {
	return s.RunApp(ctx, id, "")
}

// RunApp updates appID for profile id, or the profile's main app when appID
// is empty. It blocks until the tool exits and never panics.
func (s *Supervisor) RunApp(ctx context.Context, id int, appID string) (res Result) {
	res = Result{ProfileID: id, AppID: appID, ExitCode: -1}
	defer s.recoverInto("run", &res)
	logger := s.log()

	p, err := s.profiles.Get(id)
	if err != nil {
		res.Err = err
		logger.Error("Failed to load profile", "profile", id, "error", err)
		return res
	}
	if appID == "" {
		appID = p.AppID
		res.AppID = appID
	}
	if strings.TrimSpace(appID) == "" {
		res.Err = fmt.Errorf("%w: profile %d has no app id", errs.ErrNotFound, id)
		return res
	}

	s.killAll(ctx)
	if err := sleepCtx(ctx, s.cfg.SweepSettle); err != nil {
		res.Err = err
		return res
	}
	if err := storagelink.Remove(s.linkPath()); err != nil {
		logger.Warn("Failed to remove storage link", "path", s.linkPath(), "error", err)
	}

	target := s.targetFor(p)
	r := s.claim(id, target)
	started := time.Now()
	s.setRunning(id, started)
	defer s.finish(id, r)

	s.event(logs.LevelInfo, p.Name, appID, fmt.Sprintf("Starting update of app %s", appID))
	res = s.launch(ctx, r, p, appID, started, res)
	metrics.ObserveRun(p.Name, res.Success, time.Since(started).Seconds())
	if res.Success {
		s.event(logs.LevelSuccess, p.Name, appID, fmt.Sprintf("Update of app %s completed", appID))
	} else {
		s.event(logs.LevelError, p.Name, appID, fmt.Sprintf("Update of app %s failed: %v", appID, res.Err))
	}
	return res
}

func (s *Supervisor) launch(ctx context.Context, r *run, p store.Profile, appID string, started time.Time, res Result) Result {
	logger := s.log().With("profile", p.ID, "app", appID)

	if !s.tool.Installed() {
		logger.Info("Update tool missing, installing", "dir", s.tool.Dir())
		if err := s.tool.Install(ctx); err != nil {
			res.Err = fmt.Errorf("%w: install: %w", errs.ErrToolFailure, err)
			logger.Error("Failed to install update tool", "error", err)
			return res
		}
	}
	if err := prepareInstallDir(p.InstallDir, r.target); err != nil {
		res.Err = err
		logger.Error("Failed to prepare install directory", "dir", p.InstallDir, "error", err)
		return res
	}
	if err := storagelink.Create(r.target, s.linkPath()); err != nil {
		res.Err = fmt.Errorf("%w: %w", errs.ErrToolFailure, err)
		logger.Error("Failed to create storage link", "link", s.linkPath(), "error", err)
		return res
	}

	args := s.commandLine(p, appID)
	logger.Info("Launching update tool", "args", strings.Join(redact(args), " "))

	var console io.WriteCloser
	s.mu.Lock()
	consoleFn := s.console
	s.mu.Unlock()
	if consoleFn != nil {
		console = consoleFn(p.Name)
	}
	if console != nil {
		defer func() { _ = console.Close() }()
	}
	proc := process.New(process.Spec{
		Name:    p.Name,
		Path:    s.tool.ExecutablePath(),
		Args:    args,
		WorkDir: s.tool.Dir(),
		Env:     s.cfg.Env,
		Console: console,
	})

	lines := make(chan process.Line, s.cfg.ChannelBuffer)
	if err := proc.Start(ctx, lines); err != nil {
		res.Err = fmt.Errorf("%w: launch: %w", errs.ErrToolFailure, err)
		logger.Error("Failed to launch update tool", "error", err)
		return res
	}
	st := proc.Snapshot()
	metrics.IncRunStart(p.Name)
	if updated, err := s.profiles.Update(p.ID, func(pp *store.Profile) { pp.PID = st.PID }); err == nil {
		s.broadcast(notify.EventProfile, updated)
	}
	s.mu.Lock()
	r.proc = proc
	s.mu.Unlock()

	forwarded := make(chan struct{})
	go s.forward(p.Name, lines, forwarded)

	var tails sync.WaitGroup
	stopTail := make(chan struct{})
	if path := s.sideLogPath(); path != "" {
		tails.Add(1)
		go s.tailSideLog(path, lines, stopTail, &tails)
	}

	code, werr := proc.Wait(context.Background())
	close(stopTail)
	tails.Wait()
	close(lines)
	<-forwarded

	res.ExitCode = code
	switch {
	case ctx.Err() != nil:
		res.Err = ctx.Err()
	case proc.StopRequested():
		res.Err = ErrStopped
	case werr != nil:
		res.Err = fmt.Errorf("%w: %w", errs.ErrToolFailure, werr)
	case code != 0:
		res.Err = fmt.Errorf("%w: exit code %d", errs.ErrToolFailure, code)
	case s.failedInOutput(appID, started):
		res.Err = fmt.Errorf("%w: failure reported in tool output", errs.ErrToolFailure)
	default:
		res.Success = true
	}
	logger.Info("Update tool exited", "exit_code", code, "success", res.Success)
	return res
}

// failedInOutput reports a failure line naming appID since started, unless
// the tool also confirmed the app as installed.
func (s *Supervisor) failedInOutput(appID string, started time.Time) bool {
	return s.logs.HasRecentFailure(appID, started) && !s.logs.HasRecentSuccess(appID, started)
}

// finish cleans up after a run. Only the current run of a profile touches
// its persisted state and storage link.
func (s *Supervisor) finish(id int, r *run) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log().Error("Recovered panic in run cleanup", "profile", id, "panic", rec)
		}
	}()
	if !s.release(id, r) {
		return
	}
	if _, err := storagelink.RemoveIfTarget(s.linkPath(), r.target); err != nil {
		s.log().Warn("Failed to remove storage link", "path", s.linkPath(), "error", err)
	}
	s.setStopped(id, time.Now(), true)
}

func prepareInstallDir(dir, target string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("%w: install directory not set", errs.ErrIO)
	}
	if err := os.MkdirAll(target, 0o750); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrIO, err)
	}
	f, err := os.CreateTemp(dir, ".steamkeeper-write-*")
	if err != nil {
		return fmt.Errorf("%w: install directory not writable: %w", errs.ErrIO, err)
	}
	name := f.Name()
	_ = f.Close()
	if err := os.Remove(name); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrIO, err)
	}
	return nil
}

// commandLine builds the tool arguments. Credentials that cannot be
// decrypted fall back to an anonymous login.
func (s *Supervisor) commandLine(p store.Profile, appID string) []string {
	args := []string{"+@ShutdownOnFailedCommand", "1", "+@NoPromptForPassword", "1", "+login"}
	args = append(args, s.login(p)...)
	args = append(args, "+app_update", appID)
	if p.Validate {
		args = append(args, "validate")
	}
	args = append(args, p.ExtraArgs()...)
	return append(args, "+quit")
}

func (s *Supervisor) login(p store.Profile) []string {
	if !p.HasCredentials() {
		return []string{"anonymous"}
	}
	s.mu.Lock()
	c := s.cipher
	s.mu.Unlock()
	user, err := c.Decrypt(p.Username)
	if err != nil {
		s.log().Debug("Falling back to anonymous login", "profile", p.ID, "error", err)
		return []string{"anonymous"}
	}
	pass, err := c.Decrypt(p.Password)
	if err != nil || user == "" || pass == "" {
		s.log().Debug("Falling back to anonymous login", "profile", p.ID, "error", err)
		return []string{"anonymous"}
	}
	return []string{user, pass}
}

// redact hides the password of a credentialed login.
func redact(args []string) []string {
	out := append([]string(nil), args...)
	for i, a := range out {
		if a == "+login" && i+2 < len(out) && !strings.HasPrefix(out[i+2], "+") {
			out[i+2] = "******"
		}
	}
	return out
}

// forward is the single consumer of a run's output channel.
func (s *Supervisor) forward(source string, lines <-chan process.Line, done chan<- struct{}) {
	defer close(done)
	defer func() {
		if rec := recover(); rec != nil {
			s.log().Error("Recovered panic in output forwarder", "source", source, "panic", rec)
			for range lines {
			}
		}
	}()
	for ln := range lines {
		level, state := classify(ln.Text)
		s.logs.Add(logs.Entry{Time: ln.At, Level: level, Source: source, Status: state, Message: ln.Text})
	}
}

func (s *Supervisor) tailSideLog(path string, lines chan<- process.Line, stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	t, err := tail.TailFile(path, tail.Config{
		ReOpen:    true,
		Follow:    true,
		MustExist: false,
		Poll:      true,
		Location:  &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		s.log().Warn("Failed to tail tool log", "path", path, "error", err)
		return
	}
	defer t.Cleanup()
	for {
		select {
		case <-stop:
			_ = t.Stop()
			return
		case ln, ok := <-t.Lines:
			if !ok {
				return
			}
			if ln == nil || ln.Err != nil {
				continue
			}
			text := strings.TrimSpace(ln.Text)
			if text == "" {
				continue
			}
			lines <- process.Line{Stream: streamSideLog, Text: text, At: ln.Time}
		}
	}
}

func (s *Supervisor) event(level logs.Level, source, status, msg string) {
	s.logs.Add(logs.Entry{Time: time.Now(), Level: level, Source: source, Status: status, Message: msg})
}

func (s *Supervisor) setRunning(id int, at time.Time) {
	p, err := s.profiles.Update(id, func(p *store.Profile) {
		p.Status = store.StatusRunning
		p.PID = 0
		p.StartedAt = &at
	})
	if err != nil {
		s.log().Error("Failed to persist profile status", "profile", id, "status", store.StatusRunning, "error", err)
		return
	}
	s.broadcast(notify.EventProfile, p)
}

func (s *Supervisor) setStopped(id int, at time.Time, ran bool) {
	p, err := s.profiles.Update(id, func(p *store.Profile) {
		p.Status = store.StatusStopped
		p.PID = 0
		p.StoppedAt = &at
		if ran {
			p.LastRun = &at
		}
	})
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			s.log().Error("Failed to persist profile status", "profile", id, "status", store.StatusStopped, "error", err)
		}
		return
	}
	s.broadcast(notify.EventProfile, p)
}
