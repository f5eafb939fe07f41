// Package queue runs update jobs one at a time in rank order. A single
// worker is started on demand and exits when nothing is pending; finished
// jobs move to a capped, newest-first history.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loykin/steamkeeper/internal/history"
	"github.com/loykin/steamkeeper/internal/metrics"
	"github.com/loykin/steamkeeper/internal/notify"
	"github.com/loykin/steamkeeper/internal/store"
	"github.com/loykin/steamkeeper/internal/supervisor"
)

const (
	DefaultCooldown    = 3 * time.Second
	DefaultHistoryCap  = 100
	DefaultNameTimeout = 5 * time.Second
	exportTimeout      = 10 * time.Second
)

// Runner performs one update job.
type Runner interface {
	RunApp(ctx context.Context, profileID int, appID string) supervisor.Result
}

// Namer resolves display names for app ids.
type Namer interface {
	Name(ctx context.Context, appID string) (string, error)
}

type Config struct {
	Path string
	// Cooldown is the pause between jobs. Zero selects DefaultCooldown, a
	// negative value disables it.
	Cooldown    time.Duration
	HistoryCap  int
	NameTimeout time.Duration
}

type worker struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type Queue struct {
	cfg      Config
	doc      *store.Document[State]
	profiles *store.Profiles
	deps     *store.Dependencies
	runner   Runner
	namer    Namer

	mu       sync.Mutex
	state    State
	maxOrder int64
	worker   *worker
	bc       notify.Broadcaster
	sinks    []history.Sink
	logger   *slog.Logger
}

// New loads the queue document. Items left Processing by an earlier run are
// pending again; call Resume to work them off.
func New(cfg Config, profiles *store.Profiles, deps *store.Dependencies, runner Runner, namer Namer) (*Queue, error) {
	if cfg.Cooldown == 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = DefaultHistoryCap
	}
	if cfg.NameTimeout <= 0 {
		cfg.NameTimeout = DefaultNameTimeout
	}
	q := &Queue{
		cfg:      cfg,
		doc:      store.NewDocument[State](cfg.Path),
		profiles: profiles,
		deps:     deps,
		runner:   runner,
		namer:    namer,
		bc:       notify.Nop{},
		logger:   slog.Default(),
	}
	st, err := q.doc.Load()
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	var relabelled []string
	q.maxOrder, relabelled = st.normalize(cfg.HistoryCap)
	if len(relabelled) > 0 {
		q.logger.Warn("Queue items with unrecognized status marked as errors", "path", cfg.Path, "ids", relabelled)
	}
	q.state = st
	metrics.SetQueuePending(st.pending())
	return q, nil
}

func (q *Queue) SetBroadcaster(b notify.Broadcaster) {
	if b == nil {
		b = notify.Nop{}
	}
	q.mu.Lock()
	q.bc = b
	q.mu.Unlock()
}

// SetHistorySinks configures where finished jobs are exported.
// Passing nil or no sinks clears the list.
func (q *Queue) SetHistorySinks(sinks ...history.Sink) {
	q.mu.Lock()
	q.sinks = append([]history.Sink(nil), sinks...)
	q.mu.Unlock()
}

func (q *Queue) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	q.mu.Lock()
	q.logger = l
	q.mu.Unlock()
}

func (q *Queue) log() *slog.Logger {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.logger
}

// Read returns the document at path as stored. Unlike New it leaves
// interrupted items Processing and does not start anything.
func Read(path string) (State, error) {
	st, err := store.NewDocument[State](path).Load()
	if err != nil {
		return State{}, fmt.Errorf("read queue: %w", err)
	}
	st.Queue = cloneItems(st.Queue)
	st.History = cloneItems(st.History)
	return st, nil
}

// Enqueue adds a pending job. A job for the same profile and app that is
// still pending is returned instead of adding a duplicate.
func (q *Queue) Enqueue(ctx context.Context, profileID int, appID string, isMainApp bool, parentAppID string) (Item, error) {
	p, err := q.profiles.Get(profileID)
	if err != nil {
		return Item{}, err
	}
	appID = strings.TrimSpace(appID)
	if appID == "" {
		appID = p.AppID
	}

	q.mu.Lock()
	for _, it := range q.state.Queue {
		if it.Status == StatusPending && it.ProfileID == profileID && it.AppID == appID {
			q.mu.Unlock()
			return it, nil
		}
	}
	q.mu.Unlock()

	name := q.appName(ctx, appID)

	q.mu.Lock()
	for _, it := range q.state.Queue {
		if it.Status == StatusPending && it.ProfileID == profileID && it.AppID == appID {
			q.mu.Unlock()
			return it, nil
		}
	}
	q.maxOrder++
	it := Item{
		ID:          newID(),
		ProfileID:   profileID,
		ProfileName: p.Name,
		AppID:       appID,
		AppName:     name,
		Status:      StatusPending,
		CreatedAt:   time.Now(),
		Order:       q.maxOrder,
		IsMainApp:   isMainApp,
		ParentAppID: parentAppID,
	}
	q.state.Queue = append(q.state.Queue, it)
	q.persistLocked()
	q.startLocked()
	q.mu.Unlock()

	q.log().Info("Queued update", "id", it.ID, "profile", profileID, "app", appID, "order", it.Order)
	q.publish()
	return it, nil
}

// appName never fails; lookups are bounded by NameTimeout.
func (q *Queue) appName(ctx context.Context, appID string) string {
	fallback := "AppID " + appID
	if q.namer == nil {
		return fallback
	}
	cctx, cancel := context.WithTimeout(ctx, q.cfg.NameTimeout)
	defer cancel()
	name, err := q.namer.Name(cctx, appID)
	if err != nil || strings.TrimSpace(name) == "" {
		if err != nil {
			q.log().Debug("Failed to resolve app name", "app", appID, "error", err)
		}
		return fallback
	}
	return name
}

// Dequeue removes a pending job. It reports false for unknown, running or
// finished jobs.
func (q *Queue) Dequeue(id string) bool {
	q.mu.Lock()
	removed := false
	for i, it := range q.state.Queue {
		if it.ID == id && it.Status == StatusPending {
			q.state.Queue = append(q.state.Queue[:i], q.state.Queue[i+1:]...)
			removed = true
			break
		}
	}
	if removed {
		q.persistLocked()
	}
	q.mu.Unlock()
	if removed {
		q.publish()
	}
	return removed
}

// Clear removes every pending job and returns how many were removed. A job
// in progress is left to finish.
func (q *Queue) Clear() int {
	q.mu.Lock()
	kept := q.state.Queue[:0]
	n := 0
	for _, it := range q.state.Queue {
		if it.Status == StatusPending {
			n++
			continue
		}
		kept = append(kept, it)
	}
	q.state.Queue = kept
	if n > 0 {
		q.persistLocked()
	}
	q.mu.Unlock()
	if n > 0 {
		q.publish()
	}
	return n
}

// Snapshot returns copies of the active queue and the history.
func (q *Queue) Snapshot() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

func (q *Queue) snapshotLocked() State {
	return State{Queue: cloneItems(q.state.Queue), History: cloneItems(q.state.History)}
}

// Running reports whether the worker is active.
func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.worker != nil
}

// Resume starts the worker when jobs are pending, for example after a
// restart of the service.
func (q *Queue) Resume() {
	q.mu.Lock()
	if q.state.pending() > 0 {
		q.startLocked()
	}
	q.mu.Unlock()
}

// Stop halts the worker and waits for it to exit. The job in progress ends
// up Cancelled; pending jobs stay queued for Resume.
func (q *Queue) Stop() {
	q.mu.Lock()
	w := q.worker
	q.mu.Unlock()
	if w != nil {
		w.cancel()
		<-w.done
	}
}

// Cancel stops the worker and waits for it to exit. The job in progress and
// every pending job end up Cancelled in history.
func (q *Queue) Cancel() {
	q.Stop()

	now := time.Now()
	q.mu.Lock()
	var cancelled []Item
	kept := q.state.Queue[:0]
	for _, it := range q.state.Queue {
		if it.Status == StatusPending {
			it.Status = StatusCancelled
			it.CompletedAt = &now
			cancelled = append(cancelled, it)
			continue
		}
		kept = append(kept, it)
	}
	q.state.Queue = kept
	for _, it := range cancelled {
		q.pushHistoryLocked(it)
	}
	if len(cancelled) > 0 {
		q.persistLocked()
	}
	q.mu.Unlock()

	for range cancelled {
		metrics.IncQueueJob(string(StatusCancelled))
	}
	if len(cancelled) > 0 {
		q.log().Info("Cancelled pending updates", "count", len(cancelled))
	}
	q.publish()
}

func (q *Queue) pushHistoryLocked(it Item) {
	q.state.History = append([]Item{it}, q.state.History...)
	if len(q.state.History) > q.cfg.HistoryCap {
		q.state.History = q.state.History[:q.cfg.HistoryCap]
	}
}

func (q *Queue) persistLocked() {
	metrics.SetQueuePending(q.state.pending())
	if err := q.doc.Save(q.state); err != nil {
		q.logger.Error("Failed to persist queue", "path", q.doc.Path(), "error", err)
	}
}

// publish broadcasts the current snapshot.
func (q *Queue) publish() {
	q.mu.Lock()
	snap := q.snapshotLocked()
	bc := q.bc
	q.mu.Unlock()
	bc.Broadcast(notify.EventQueue, snap)
}
