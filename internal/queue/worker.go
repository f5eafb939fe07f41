package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loykin/steamkeeper/internal/history"
	"github.com/loykin/steamkeeper/internal/metrics"
	"github.com/loykin/steamkeeper/internal/notify"
	"github.com/loykin/steamkeeper/internal/store"
	"github.com/loykin/steamkeeper/internal/supervisor"
)

// startLocked launches the worker unless one is active.
func (q *Queue) startLocked() {
	if q.worker != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{cancel: cancel, done: make(chan struct{})}
	q.worker = w
	go q.work(ctx, w)
}

func (q *Queue) work(ctx context.Context, w *worker) {
	defer close(w.done)
	defer w.cancel()
	for {
		it, ok := q.next(ctx, w)
		if !ok {
			return
		}
		q.process(ctx, it)
		if !q.hasPending() {
			continue
		}
		if q.cfg.Cooldown > 0 {
			t := time.NewTimer(q.cfg.Cooldown)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
			}
		}
	}
}

// next marks the lowest ranked pending job Processing. When there is none,
// or the worker was cancelled, the worker deregisters itself.
func (q *Queue) next(ctx context.Context, w *worker) (Item, bool) {
	q.mu.Lock()
	idx := -1
	if ctx.Err() == nil {
		for i, it := range q.state.Queue {
			if it.Status != StatusPending {
				continue
			}
			if idx < 0 || it.Order < q.state.Queue[idx].Order {
				idx = i
			}
		}
	}
	if idx < 0 {
		if q.worker == w {
			q.worker = nil
		}
		q.mu.Unlock()
		return Item{}, false
	}
	now := time.Now()
	q.state.Queue[idx].Status = StatusProcessing
	q.state.Queue[idx].StartedAt = &now
	it := q.state.Queue[idx]
	q.persistLocked()
	q.mu.Unlock()

	q.log().Info("Processing update", "id", it.ID, "profile", it.ProfileID, "app", it.AppID)
	q.publish()
	return it, true
}

func (q *Queue) hasPending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state.pending() > 0
}

func (q *Queue) run(ctx context.Context, it Item) (res supervisor.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			res = supervisor.Result{ProfileID: it.ProfileID, AppID: it.AppID, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()
	return q.runner.RunApp(ctx, it.ProfileID, it.AppID)
}

func (q *Queue) process(ctx context.Context, it Item) {
	res := q.run(ctx, it)
	now := time.Now()
	it.CompletedAt = &now
	switch {
	case res.Success:
		it.Status = StatusCompleted
	case ctx.Err() != nil || errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, supervisor.ErrStopped):
		it.Status = StatusCancelled
		it.Error = "cancelled"
	default:
		it.Status = StatusError
		it.Error = res.Error()
		if it.Error == "" {
			it.Error = "update failed"
		}
	}

	q.mu.Lock()
	for i := range q.state.Queue {
		if q.state.Queue[i].ID == it.ID {
			q.state.Queue = append(q.state.Queue[:i], q.state.Queue[i+1:]...)
			break
		}
	}
	q.pushHistoryLocked(it)
	q.persistLocked()
	bc := q.bc
	sinks := append([]history.Sink(nil), q.sinks...)
	q.mu.Unlock()

	metrics.IncQueueJob(string(it.Status))
	logger := q.log().With("id", it.ID, "profile", it.ProfileID, "app", it.AppID)
	if it.Status == StatusError {
		logger.Error("Update failed", "error", it.Error)
	} else {
		logger.Info("Update finished", "status", it.Status)
	}
	bc.Broadcast(notify.EventJob, notify.JobNotice{
		ProfileID:   it.ProfileID,
		ProfileName: it.ProfileName,
		AppID:       it.AppID,
		AppName:     it.AppName,
		Status:      string(it.Status),
		Error:       it.Error,
	})
	q.publish()
	q.export(sinks, it)

	if it.Status == StatusCompleted {
		q.followDependencies(it, now)
	}
}

func (q *Queue) export(sinks []history.Sink, it Item) {
	if len(sinks) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), exportTimeout)
	defer cancel()
	evt := history.Event{Type: history.EventFinished, OccurredAt: time.Now().UTC(), Job: toJob(it)}
	for _, s := range sinks {
		if err := s.Send(ctx, evt); err != nil {
			q.log().Warn("Failed to export job history", "id", it.ID, "error", err)
		}
	}
}

func toJob(it Item) history.Job {
	return history.Job{
		ID:          it.ID,
		ProfileID:   it.ProfileID,
		ProfileName: it.ProfileName,
		AppID:       it.AppID,
		AppName:     it.AppName,
		Status:      string(it.Status),
		Error:       it.Error,
		IsMainApp:   it.IsMainApp,
		ParentAppID: it.ParentAppID,
		CreatedAt:   it.CreatedAt,
		StartedAt:   it.StartedAt,
		CompletedAt: it.CompletedAt,
	}
}

// followDependencies queues the dependency apps flagged for update after a
// main app completes, and clears the flag once a dependency job completes.
func (q *Queue) followDependencies(it Item, at time.Time) {
	if q.deps == nil {
		return
	}
	logger := q.log().With("profile", it.ProfileID, "app", it.AppID)
	if !it.IsMainApp {
		_, err := q.deps.Update(it.ProfileID, func(r *store.DependencyRecord) {
			r.SetNeedsUpdate(it.AppID, false, at)
		})
		if err != nil {
			logger.Warn("Failed to update dependency record", "error", err)
		}
		return
	}
	rec, err := q.deps.Get(it.ProfileID)
	if err != nil {
		logger.Warn("Failed to read dependency record", "error", err)
		return
	}
	for _, dep := range rec.Pending() {
		if _, err := q.Enqueue(context.Background(), it.ProfileID, dep.AppID, false, it.AppID); err != nil {
			logger.Warn("Failed to queue dependency update", "dependency", dep.AppID, "error", err)
		}
	}
}
