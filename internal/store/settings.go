package store

import "time"

const (
	MinAutoRunHours = 1
	MaxAutoRunHours = 48
)

type AutoRunSettings struct {
	Enabled       bool       `json:"enabled"`
	IntervalHours int        `json:"interval_hours"`
	LastRun       *time.Time `json:"last_run,omitempty"`
}

// Interval clamps the configured hours into [MinAutoRunHours, MaxAutoRunHours].
func (s AutoRunSettings) Interval() time.Duration {
	h := s.IntervalHours
	if h < MinAutoRunHours {
		h = MinAutoRunHours
	}
	if h > MaxAutoRunHours {
		h = MaxAutoRunHours
	}
	return time.Duration(h) * time.Hour
}

// ScanState records when each profile is next due for a scan and how many
// scans in a row have failed for it.
type ScanState struct {
	NextScan map[int]time.Time `json:"next_scan"`
	Failures map[int]int       `json:"failures,omitempty"`
}

type CatalogEntry struct {
	Name         string     `json:"name"`
	ChangeNumber int64      `json:"change_number"`
	BuildID      string     `json:"build_id,omitempty"`
	LastUpdated  *time.Time `json:"last_updated,omitempty"`
	LastChecked  time.Time  `json:"last_checked"`
}

// CatalogCache maps app id to its last known catalog metadata.
type CatalogCache map[string]CatalogEntry
