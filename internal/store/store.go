// Package store persists steamkeeper state as indented JSON documents under a
// single data directory. Each document is read and rewritten whole.
package store

import (
	"os"
	"path/filepath"
)

// Store groups the documents kept under one data directory:
//
//	profiles.json
//	queue.json
//	dependencies/<profile-id>.json
//	settings/autorun.json
//	settings/scan.json
//	settings/catalog_cache.json
type Store struct {
	Dir          string
	Profiles     *Profiles
	Dependencies *Dependencies
	AutoRun      *Document[AutoRunSettings]
	Scan         *Document[ScanState]
	Catalog      *Document[CatalogCache]
}

func Open(dir string) (*Store, error) {
	for _, d := range []string{dir, filepath.Join(dir, "dependencies"), filepath.Join(dir, "settings")} {
		if err := os.MkdirAll(d, 0o750); err != nil {
			return nil, err
		}
	}
	return &Store{
		Dir:          dir,
		Profiles:     NewProfiles(filepath.Join(dir, "profiles.json")),
		Dependencies: NewDependencies(filepath.Join(dir, "dependencies")),
		AutoRun:      NewDocument[AutoRunSettings](filepath.Join(dir, "settings", "autorun.json")),
		Scan:         NewDocument[ScanState](filepath.Join(dir, "settings", "scan.json")),
		Catalog:      NewDocument[CatalogCache](filepath.Join(dir, "settings", "catalog_cache.json")),
	}, nil
}

// QueuePath is where the update queue keeps its document.
func (s *Store) QueuePath() string { return QueuePath(s.Dir) }

// QueuePath returns the queue document path under the data directory dir.
func QueuePath(dir string) string { return filepath.Join(dir, "queue.json") }
