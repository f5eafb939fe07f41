package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loykin/steamkeeper/internal/queue"
	"github.com/loykin/steamkeeper/internal/store"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, profileID int, appID string, isMainApp bool, parentAppID string) (queue.Item, error)
}

// ChangeChecker reports whether an app has a new build.
type ChangeChecker interface {
	Changed(ctx context.Context, appID string) (bool, error)
}

// EnqueueAutoRun queues the main app of every auto-run profile.
func EnqueueAutoRun(profiles *store.Profiles, q Enqueuer) Action {
	return func(ctx context.Context) error {
		list, err := profiles.AutoRun()
		if err != nil {
			return fmt.Errorf("list auto-run profiles: %w", err)
		}
		var errs []error
		for _, p := range list {
			if _, err := q.Enqueue(ctx, p.ID, p.AppID, true, ""); err != nil {
				errs = append(errs, fmt.Errorf("profile %d: %w", p.ID, err))
			}
		}
		return errors.Join(errs...)
	}
}

// ScanForUpdates asks the catalog about a profile's main app and its
// dependency apps. A changed main app is queued, and its completion queues
// the flagged dependencies. Otherwise flagged dependencies are queued on
// their own.
func ScanForUpdates(q Enqueuer, deps *store.Dependencies, cat ChangeChecker) ScanFunc {
	return func(ctx context.Context, p store.Profile) error {
		mainChanged, err := cat.Changed(ctx, p.AppID)
		if err != nil {
			return fmt.Errorf("check app %s: %w", p.AppID, err)
		}

		rec, err := deps.Get(p.ID)
		if err != nil {
			return err
		}
		var errs []error
		changed := map[string]bool{}
		for _, a := range rec.Apps {
			c, err := cat.Changed(ctx, a.AppID)
			if err != nil {
				errs = append(errs, fmt.Errorf("check dependency %s: %w", a.AppID, err))
				continue
			}
			if c {
				changed[a.AppID] = true
			}
		}
		if len(changed) > 0 {
			now := time.Now()
			rec, err = deps.Update(p.ID, func(r *store.DependencyRecord) {
				if r.MainAppID == "" {
					r.MainAppID = p.AppID
				}
				for id := range changed {
					r.SetNeedsUpdate(id, true, now)
				}
			})
			if err != nil {
				return err
			}
		}

		if mainChanged {
			if _, err := q.Enqueue(ctx, p.ID, p.AppID, true, ""); err != nil {
				errs = append(errs, err)
			}
			return errors.Join(errs...)
		}
		for _, a := range rec.Pending() {
			if _, err := q.Enqueue(ctx, p.ID, a.AppID, false, p.AppID); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}
