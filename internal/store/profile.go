package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/loykin/steamkeeper/internal/errs"
)

// Status is the persisted run state of a profile.
type Status string

const (
	StatusStopped Status = "Stopped"
	StatusRunning Status = "Running"
)

// Profile is one configured download target: which app to update and where
// to put it. Credentials are stored encrypted and are opaque here.
type Profile struct {
	ID         int        `json:"id"`
	Name       string     `json:"name"`
	AppID      string     `json:"app_id"`
	InstallDir string     `json:"install_dir"`
	Arguments  string     `json:"arguments,omitempty"`
	Validate   bool       `json:"validate"`
	AutoRun    bool       `json:"auto_run"`
	Username   string     `json:"username,omitempty"`
	Password   string     `json:"password,omitempty"`
	Status     Status     `json:"status"`
	PID        int        `json:"pid"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	StoppedAt  *time.Time `json:"stopped_at,omitempty"`
	LastRun    *time.Time `json:"last_run,omitempty"`
}

// ExtraArgs splits the free-form argument string on whitespace.
func (p Profile) ExtraArgs() []string { return strings.Fields(p.Arguments) }

func (p Profile) HasCredentials() bool { return p.Username != "" && p.Password != "" }

// Profiles is the repository over profiles.json.
type Profiles struct {
	doc *Document[[]Profile]
}

func NewProfiles(path string) *Profiles {
	return &Profiles{doc: NewDocument[[]Profile](path)}
}

// Add assigns the next id (max existing + 1) and stores p as Stopped.
func (r *Profiles) Add(p Profile) (Profile, error) {
	var added Profile
	_, err := r.doc.Update(func(list *[]Profile) error {
		next := 1
		for _, e := range *list {
			if e.ID >= next {
				next = e.ID + 1
			}
		}
		p.ID = next
		p.Status = StatusStopped
		p.PID = 0
		*list = append(*list, p)
		added = p
		return nil
	})
	return added, err
}

func (r *Profiles) Get(id int) (Profile, error) {
	list, err := r.doc.Load()
	if err != nil {
		return Profile{}, err
	}
	for _, p := range list {
		if p.ID == id {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("profile %d: %w", id, errs.ErrNotFound)
}

func (r *Profiles) List() ([]Profile, error) {
	return r.doc.Load()
}

// AutoRun lists the profiles taking part in scheduled runs.
func (r *Profiles) AutoRun() ([]Profile, error) {
	list, err := r.doc.Load()
	if err != nil {
		return nil, err
	}
	out := make([]Profile, 0, len(list))
	for _, p := range list {
		if p.AutoRun {
			out = append(out, p)
		}
	}
	return out, nil
}

// Update applies fn to the profile with the given id and persists the result.
// The id itself cannot be changed.
func (r *Profiles) Update(id int, fn func(*Profile)) (Profile, error) {
	var updated Profile
	_, err := r.doc.Update(func(list *[]Profile) error {
		for i := range *list {
			if (*list)[i].ID == id {
				fn(&(*list)[i])
				(*list)[i].ID = id
				updated = (*list)[i]
				return nil
			}
		}
		return fmt.Errorf("profile %d: %w", id, errs.ErrNotFound)
	})
	return updated, err
}

func (r *Profiles) Remove(id int) error {
	_, err := r.doc.Update(func(list *[]Profile) error {
		for i := range *list {
			if (*list)[i].ID == id {
				*list = append((*list)[:i], (*list)[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("profile %d: %w", id, errs.ErrNotFound)
	})
	return err
}
