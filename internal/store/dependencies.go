package store

import (
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// DependencyApp is an app that ships alongside a profile's main app and may
// need its own update run.
type DependencyApp struct {
	AppID       string     `json:"app_id"`
	Name        string     `json:"name"`
	NeedsUpdate bool       `json:"needs_update"`
	LastChecked *time.Time `json:"last_checked,omitempty"`
}

type DependencyRecord struct {
	ProfileID int             `json:"profile_id"`
	MainAppID string          `json:"main_app_id"`
	Apps      []DependencyApp `json:"apps"`
}

// Pending returns the dependency apps flagged for update.
func (r DependencyRecord) Pending() []DependencyApp {
	var out []DependencyApp
	for _, a := range r.Apps {
		if a.NeedsUpdate {
			out = append(out, a)
		}
	}
	return out
}

// SetNeedsUpdate sets the flag for appID, adding the app when absent.
func (r *DependencyRecord) SetNeedsUpdate(appID string, needs bool, at time.Time) {
	for i := range r.Apps {
		if r.Apps[i].AppID == appID {
			r.Apps[i].NeedsUpdate = needs
			r.Apps[i].LastChecked = &at
			return
		}
	}
	r.Apps = append(r.Apps, DependencyApp{AppID: appID, NeedsUpdate: needs, LastChecked: &at})
}

// Dependencies keeps one document per profile under dir.
type Dependencies struct {
	dir  string
	mu   sync.Mutex
	docs map[int]*Document[DependencyRecord]
}

func NewDependencies(dir string) *Dependencies {
	return &Dependencies{dir: dir, docs: make(map[int]*Document[DependencyRecord])}
}

func (d *Dependencies) doc(profileID int) *Document[DependencyRecord] {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.docs[profileID]
	if !ok {
		doc = NewDocument[DependencyRecord](filepath.Join(d.dir, strconv.Itoa(profileID)+".json"))
		d.docs[profileID] = doc
	}
	return doc
}

// Get returns the record for profileID; a profile without a file gets an
// empty record.
func (d *Dependencies) Get(profileID int) (DependencyRecord, error) {
	rec, err := d.doc(profileID).Load()
	if err != nil {
		return rec, fmt.Errorf("dependencies of profile %d: %w", profileID, err)
	}
	rec.ProfileID = profileID
	return rec, nil
}

func (d *Dependencies) Update(profileID int, fn func(*DependencyRecord)) (DependencyRecord, error) {
	return d.doc(profileID).Update(func(rec *DependencyRecord) error {
		rec.ProfileID = profileID
		fn(rec)
		return nil
	})
}

func (d *Dependencies) Remove(profileID int) error {
	return d.doc(profileID).Remove()
}
