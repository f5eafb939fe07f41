package history

import (
	"context"
	"time"
)

// EventType defines the kind of job event.
type EventType string

const (
	EventFinished EventType = "finished"
)

// Job is the exported view of one finished update job.
type Job struct {
	ID          string     `json:"id"`
	ProfileID   int        `json:"profile_id"`
	ProfileName string     `json:"profile_name"`
	AppID       string     `json:"app_id"`
	AppName     string     `json:"app_name"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	IsMainApp   bool       `json:"is_main_app"`
	ParentAppID string     `json:"parent_app_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Duration is the run time of the job, zero when it never started.
func (j Job) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}

// Event represents a job event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Job        Job       `json:"job"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// NullTime converts an optional timestamp for database/sql.
func NullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// NullString maps an empty string to NULL.
func NullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
