// Package supervisor runs the update tool for one profile at a time. Every
// start kills all tracked and orphaned tool processes first, redirects the
// tool's shared storage directory to the profile's install directory and
// cleans up after the run whatever its outcome.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/steamkeeper/internal/logs"
	"github.com/loykin/steamkeeper/internal/notify"
	"github.com/loykin/steamkeeper/internal/process"
	"github.com/loykin/steamkeeper/internal/secret"
	"github.com/loykin/steamkeeper/internal/store"
)

const (
	DefaultStorageSubdir = "steamapps"
	DefaultKillWait      = 3 * time.Second
	DefaultChannelBuffer = 256
)

// ErrStopped is reported by a run whose process was stopped on request.
var ErrStopped = errors.New("run stopped")

// Config tunes the supervisor. Zero delays mean no wait.
type Config struct {
	// StorageSubdir is linked from the tool directory to each profile's
	// install directory for the duration of a run.
	StorageSubdir string
	// ProcessNames are matched by the orphan sweep.
	ProcessNames []string
	// OrphanSweep kills every OS process matching ProcessNames before a
	// start, including ones this service did not launch.
	OrphanSweep bool
	// SideLog is the tool's own console log, relative to the tool directory.
	// Empty disables tailing.
	SideLog string
	// Env is the tool's whole environment. Empty inherits the service's.
	Env []string

	KillWait          time.Duration
	SweepSettle       time.Duration
	RestartDelay      time.Duration
	InterProfileDelay time.Duration
	ChannelBuffer     int
}

// Tool is the installed update tool.
type Tool interface {
	Dir() string
	ExecutablePath() string
	Installed() bool
	Install(ctx context.Context) error
}

// LogSink receives tool output and answers the outcome heuristics.
type LogSink interface {
	Add(e logs.Entry)
	HasRecentSuccess(appID string, since time.Time, keywords ...string) bool
	HasRecentFailure(appID string, since time.Time, keywords ...string) bool
}

// Sweeper kills processes by executable name.
type Sweeper interface {
	KillByName(ctx context.Context, names ...string) (int, error)
}

// Result is the outcome of one supervisor operation.
type Result struct {
	ProfileID int    `json:"profile_id"`
	AppID     string `json:"app_id,omitempty"`
	Success   bool   `json:"success"`
	ExitCode  int    `json:"exit_code"`
	Err       error  `json:"-"`
}

// Error returns the failure text or an empty string.
func (r Result) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// run is one claimed run of a profile. proc is nil until launch.
type run struct {
	proc   *process.Process
	target string
}

type Supervisor struct {
	cfg      Config
	profiles *store.Profiles
	tool     Tool
	logs     LogSink

	mu      sync.Mutex
	runs    map[int]*run
	cipher  secret.Cipher
	bc      notify.Broadcaster
	sweeper Sweeper
	console func(name string) io.WriteCloser
	logger  *slog.Logger

	runningAll atomic.Bool
}

func New(cfg Config, profiles *store.Profiles, tool Tool, sink LogSink) *Supervisor {
	if cfg.StorageSubdir == "" {
		cfg.StorageSubdir = DefaultStorageSubdir
	}
	if cfg.KillWait <= 0 {
		cfg.KillWait = DefaultKillWait
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = DefaultChannelBuffer
	}
	return &Supervisor{
		cfg:      cfg,
		profiles: profiles,
		tool:     tool,
		logs:     sink,
		runs:     make(map[int]*run),
		cipher:   secret.Plain{},
		bc:       notify.Nop{},
		logger:   slog.Default(),
	}
}

// SetCipher configures how stored credentials are decrypted.
func (s *Supervisor) SetCipher(c secret.Cipher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c == nil {
		c = secret.Plain{}
	}
	s.cipher = c
}

// SetBroadcaster configures where profile status changes are published.
func (s *Supervisor) SetBroadcaster(b notify.Broadcaster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b == nil {
		b = notify.Nop{}
	}
	s.bc = b
}

// SetSweeper configures the orphan sweep. It has no effect unless
// Config.OrphanSweep is set.
func (s *Supervisor) SetSweeper(sw Sweeper) {
	s.mu.Lock()
	s.sweeper = sw
	s.mu.Unlock()
}

// SetConsole configures the raw console capture per profile. fn may return nil.
func (s *Supervisor) SetConsole(fn func(name string) io.WriteCloser) {
	s.mu.Lock()
	s.console = fn
	s.mu.Unlock()
}

func (s *Supervisor) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	s.mu.Lock()
	s.logger = l
	s.mu.Unlock()
}

func (s *Supervisor) log() *slog.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logger
}

func (s *Supervisor) broadcast(event string, payload any) {
	s.mu.Lock()
	bc := s.bc
	s.mu.Unlock()
	bc.Broadcast(event, payload)
}

// Tracked returns the ids of profiles with a live process handle.
func (s *Supervisor) Tracked() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, 0, len(s.runs))
	for id, r := range s.runs {
		if r.proc != nil {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// RunningAll reports whether a RunAll sequence is in progress.
func (s *Supervisor) RunningAll() bool { return s.runningAll.Load() }

func (s *Supervisor) linkPath() string {
	return filepath.Join(s.tool.Dir(), s.cfg.StorageSubdir)
}

func (s *Supervisor) targetFor(p store.Profile) string {
	return filepath.Join(p.InstallDir, s.cfg.StorageSubdir)
}

func (s *Supervisor) sideLogPath() string {
	if s.cfg.SideLog == "" || filepath.IsAbs(s.cfg.SideLog) {
		return s.cfg.SideLog
	}
	return filepath.Join(s.tool.Dir(), s.cfg.SideLog)
}

// claim registers a new run for id, replacing any earlier one.
func (s *Supervisor) claim(id int, target string) *run {
	r := &run{target: target}
	s.mu.Lock()
	s.runs[id] = r
	s.mu.Unlock()
	return r
}

// release drops r if it is still the current run of id.
func (s *Supervisor) release(id int, r *run) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs[id] != r {
		return false
	}
	delete(s.runs, id)
	return true
}

func (s *Supervisor) handles() map[int]*process.Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]*process.Process, len(s.runs))
	for id, r := range s.runs {
		if r.proc != nil {
			out[id] = r.proc
		}
	}
	return out
}

// recoverInto converts a panic in a public operation into a failed result.
func (s *Supervisor) recoverInto(op string, res *Result) {
	if rec := recover(); rec != nil {
		s.log().Error("Recovered panic in supervisor", "op", op, "profile", res.ProfileID, "panic", rec)
		res.Success = false
		res.Err = fmt.Errorf("panic in %s: %v", op, rec)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
