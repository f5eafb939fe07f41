// Package steamkeeper wires the update service together: profiles and state
// on disk, the tool supervisor, the update queue, the schedule loops, the
// log aggregator and the admin server.
package steamkeeper

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/steamkeeper/internal/catalog"
	cfg "github.com/loykin/steamkeeper/internal/config"
	"github.com/loykin/steamkeeper/internal/detector"
	"github.com/loykin/steamkeeper/internal/history"
	"github.com/loykin/steamkeeper/internal/history/factory"
	"github.com/loykin/steamkeeper/internal/installer"
	"github.com/loykin/steamkeeper/internal/logger"
	"github.com/loykin/steamkeeper/internal/logs"
	"github.com/loykin/steamkeeper/internal/metrics"
	"github.com/loykin/steamkeeper/internal/notify"
	"github.com/loykin/steamkeeper/internal/queue"
	"github.com/loykin/steamkeeper/internal/schedule"
	"github.com/loykin/steamkeeper/internal/secret"
	"github.com/loykin/steamkeeper/internal/server"
	"github.com/loykin/steamkeeper/internal/store"
	"github.com/loykin/steamkeeper/internal/supervisor"
	ktls "github.com/loykin/steamkeeper/internal/tls"
)

// Re-export core types for embedders and the CLI.

type Config = cfg.Config

type Profile = store.Profile

type QueueItem = queue.Item

type QueueState = queue.State

type Result = supervisor.Result

type LogEntry = logs.Entry

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// ReadQueue returns the queue document under c's data directory as last
// written, for display while the daemon owns it.
func ReadQueue(c *Config) (QueueState, error) {
	return queue.Read(store.QueuePath(c.DataDir))
}

// Options customise New. The zero value logs to stderr.
type Options struct {
	Console io.Writer
}

// App owns every long-lived component. Build it with New, call Start to run
// the background loops and the admin server, and Close to release it.
type App struct {
	cfg       *Config
	logger    *slog.Logger
	logCloser io.Closer

	store   *store.Store
	logs    *logs.Aggregator
	hub     *notify.Hub
	discord *notify.Discord
	cipher  secret.Cipher
	catalog *catalog.Client
	sup     *supervisor.Supervisor
	queue   *queue.Queue
	sinks   []history.Sink

	autorun *schedule.AutoRun
	scanner *schedule.Scanner
	loop    *schedule.Loop
	server  *http.Server
	started bool
}

// New builds the components without starting any loop. Failures release
// whatever was already opened.
func New(c *Config, opts Options) (a *App, err error) {
	if c == nil {
		return nil, errors.New("config is required")
	}
	lg, lc := logger.New(c.LoggerConfig(), opts.Console)
	a = &App{cfg: c, logger: lg, logCloser: lc}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
			a = nil
		}
	}()

	if a.store, err = store.Open(c.DataDir); err != nil {
		return a, fmt.Errorf("open data dir: %w", err)
	}

	a.hub = notify.NewHub(lg.With("component", "hub"))
	a.logs = logs.New(c.LogsConfig(), func(e logs.Entry) {
		a.hub.Broadcast(notify.EventLog, e)
	}, lg.With("component", "logs"))

	if c.Secret.Passphrase != "" {
		box, berr := secret.NewBox(c.Secret.Passphrase)
		if berr != nil {
			return a, fmt.Errorf("secret: %w", berr)
		}
		a.cipher = box
	} else {
		a.cipher = secret.Plain{}
	}

	toolEnv, err := c.ToolEnv()
	if err != nil {
		return a, err
	}
	inst := installer.New(c.InstallerConfig(), lg.With("component", "installer"))
	a.sup = supervisor.New(c.SupervisorConfig(toolEnv), a.store.Profiles, inst, a.logs)
	a.sup.SetLogger(lg.With("component", "supervisor"))
	a.sup.SetCipher(a.cipher)
	a.sup.SetBroadcaster(a.hub)
	a.sup.SetSweeper(detector.Finder{})
	a.sup.SetConsole(c.LoggerConfig().ConsoleWriter)

	a.catalog = catalog.New(c.CatalogConfig(), a.store.Catalog, lg.With("component", "catalog"))

	a.queue, err = queue.New(c.QueueConfig(a.store.QueuePath()), a.store.Profiles, a.store.Dependencies, a.sup, a.catalog)
	if err != nil {
		return a, err
	}
	a.queue.SetLogger(lg.With("component", "queue"))
	bc := notify.Multi{a.hub}
	if c.Notify.DiscordWebhook != "" {
		if a.discord, err = notify.NewDiscord(c.Notify.DiscordWebhook, lg.With("component", "discord")); err != nil {
			return a, err
		}
		bc = append(bc, a.discord)
	}
	a.queue.SetBroadcaster(bc)

	for _, dsn := range c.History.Sinks {
		s, serr := factory.NewSinkFromDSN(dsn)
		if serr != nil {
			return a, fmt.Errorf("history sink: %w", serr)
		}
		a.sinks = append(a.sinks, s)
	}
	a.queue.SetHistorySinks(a.sinks...)

	a.autorun = schedule.NewAutoRun(a.store.AutoRun, schedule.EnqueueAutoRun(a.store.Profiles, a.queue))
	a.autorun.SetLogger(lg.With("component", "autorun"))
	a.scanner = schedule.NewScanner(c.ScanConfig(), a.store.Profiles, a.store.Scan,
		schedule.ScanForUpdates(a.queue, a.store.Dependencies, a.catalog))
	a.scanner.SetLogger(lg.With("component", "scanner"))
	return a, nil
}

func (a *App) Config() *Config                    { return a.cfg }
func (a *App) Logger() *slog.Logger               { return a.logger }
func (a *App) Store() *store.Store                { return a.store }
func (a *App) Logs() *logs.Aggregator             { return a.logs }
func (a *App) Hub() *notify.Hub                   { return a.hub }
func (a *App) Catalog() *catalog.Client           { return a.catalog }
func (a *App) Supervisor() *supervisor.Supervisor { return a.sup }
func (a *App) Queue() *queue.Queue                { return a.queue }

// Start registers metrics, resumes pending jobs, starts the schedule loops
// and, when enabled, the admin server.
func (a *App) Start() error {
	if a.started {
		return errors.New("already started")
	}
	var tlsCfg *tls.Config
	if a.cfg.Server.Enabled {
		var err error
		if tlsCfg, err = ktls.Setup(a.cfg.TLSConfig()); err != nil {
			return fmt.Errorf("admin server tls: %w", err)
		}
	}
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		a.logger.Warn("Failed to register metrics", "error", err)
	}
	a.reconcileProfiles()
	a.queue.Resume()

	a.loop = schedule.NewLoop(a.logger.With("component", "schedule"))
	if err := a.loop.Add("autorun", a.cfg.Schedule.AutoRunTick, a.autorun.Tick); err != nil {
		return err
	}
	if a.cfg.Schedule.ScanEnabled {
		if err := a.loop.Add("scan", a.cfg.Schedule.ScanTick, a.scanner.Tick); err != nil {
			return err
		}
	}
	if err := a.loop.Start(); err != nil {
		return err
	}

	if a.cfg.Server.Enabled {
		a.server = server.NewServer(a.cfg.Server.Listen, a.cfg.Server.BasePath, tlsCfg, server.Options{
			Queue:    a.queue,
			Control:  a.queue,
			Stopper:  a,
			Logs:     a.logs,
			Profiles: a.store.Profiles,
			Runs:     a.sup,
			Scans:    a.scanner,
			Events:   a.hub,
			Logger:   a.logger.With("component", "server"),
		})
		a.logger.Info("Admin server listening", "addr", a.cfg.Server.Listen, "base", a.cfg.Server.BasePath, "tls", tlsCfg != nil)
	}
	a.started = true
	return nil
}

// Close stops the loops and the worker, kills the tool if it is running and
// releases files and sinks. Pending jobs stay queued for the next start.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
		}
	}
	if a.loop != nil {
		a.loop.Stop(ctx)
	}
	if a.autorun != nil {
		a.autorun.Wait()
	}
	if a.queue != nil {
		a.queue.Stop()
	}
	if a.sup != nil && len(a.sup.Tracked()) > 0 {
		for _, r := range a.sup.StopAll(ctx) {
			if r.Err != nil {
				errs = append(errs, fmt.Errorf("stop profile %d: %w", r.ProfileID, r.Err))
			}
		}
	}
	if a.discord != nil {
		a.discord.Close(ctx)
	}
	if a.hub != nil {
		a.hub.Close()
	}
	for _, s := range a.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close history sink: %w", err))
			}
		}
	}
	if a.logs != nil {
		if err := a.logs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close logs: %w", err))
		}
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
	return errors.Join(errs...)
}

// Run starts the app and blocks until ctx ends, then closes it within
// grace.
func (a *App) Run(ctx context.Context, grace time.Duration) error {
	if err := a.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	a.logger.Info("Shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	return a.Close(sctx)
}

// StopAll cancels the queue, so no pending job starts afterwards, then
// stops every tool process and marks every profile Stopped.
func (a *App) StopAll(ctx context.Context) []Result {
	a.queue.Cancel()
	results := a.sup.StopAll(ctx)
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	level := logs.LevelSuccess
	if failed > 0 {
		level = logs.LevelWarning
	}
	a.logs.Addf(level, "service", "", fmt.Sprintf("Stop all: %d profiles, %d failed", len(results), failed))
	return results
}

// reconcileProfiles marks profiles left Running by an earlier process as
// Stopped once their recorded pid is gone. Nothing is tracked yet when this
// runs.
func (a *App) reconcileProfiles() {
	list, err := a.store.Profiles.List()
	if err != nil {
		a.logger.Error("Failed to list profiles", "error", err)
		return
	}
	for _, p := range list {
		if p.Status != store.StatusRunning {
			continue
		}
		var d detector.Detector = detector.PIDDetector{PID: p.PID}
		alive, err := d.Alive()
		if err != nil {
			a.logger.Warn("Failed to check profile process", "profile", p.ID, "detector", d.Describe(), "error", err)
			continue
		}
		if alive {
			a.logger.Warn("Profile process outlived the previous run", "profile", p.ID, "detector", d.Describe())
			continue
		}
		if _, err := a.store.Profiles.Update(p.ID, func(pp *store.Profile) {
			pp.Status = store.StatusStopped
			pp.PID = 0
		}); err != nil {
			a.logger.Error("Failed to persist profile status", "profile", p.ID, "status", store.StatusStopped, "error", err)
			continue
		}
		a.logs.Addf(logs.LevelWarning, p.Name, p.AppID, "Marked stopped, process "+d.Describe()+" is gone")
	}

	if names := a.cfg.Tool.ProcessNames; len(names) > 0 {
		var d detector.Detector = detector.NameDetector{Names: names}
		if alive, err := d.Alive(); err == nil && alive {
			a.logger.Warn("Untracked tool process is running", "detector", d.Describe())
		}
	}
}

// AddProfile stores p with its credentials sealed by the configured cipher.
func (a *App) AddProfile(p Profile) (Profile, error) {
	if strings.TrimSpace(p.AppID) == "" {
		return Profile{}, errors.New("app id is required")
	}
	if p.InstallDir == "" {
		return Profile{}, errors.New("install dir is required")
	}
	var err error
	if p.Username != "" {
		if p.Username, err = a.cipher.Encrypt(p.Username); err != nil {
			return Profile{}, fmt.Errorf("encrypt username: %w", err)
		}
	}
	if p.Password != "" {
		if p.Password, err = a.cipher.Encrypt(p.Password); err != nil {
			return Profile{}, fmt.Errorf("encrypt password: %w", err)
		}
	}
	p.Status = store.StatusStopped
	return a.store.Profiles.Add(p)
}

// RemoveProfile stops the profile if it is running and deletes it together
// with its dependency record.
func (a *App) RemoveProfile(ctx context.Context, id int) error {
	p, err := a.store.Profiles.Get(id)
	if err != nil {
		return err
	}
	if p.Status == store.StatusRunning {
		if r := a.sup.Stop(ctx, id); r.Err != nil {
			a.logger.Warn("Failed to stop profile before removal", "profile", id, "error", r.Err)
		}
	}
	if err := a.store.Profiles.Remove(id); err != nil {
		return err
	}
	return a.store.Dependencies.Remove(id)
}
