package client

import "time"

// Health is the /healthz payload.
type Health struct {
	OK           bool        `json:"ok"`
	Running      []int       `json:"running"`
	RunAll       bool        `json:"run_all"`
	QueueRunning bool        `json:"queue_running"`
	QueuePending int         `json:"queue_pending"`
	ScanFailures map[int]int `json:"scan_failures,omitempty"`
}

// Job is one queue or history item.
type Job struct {
	ID          string     `json:"id"`
	ProfileID   int        `json:"profile_id"`
	ProfileName string     `json:"profile_name"`
	AppID       string     `json:"app_id"`
	AppName     string     `json:"app_name"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Order       int64      `json:"order"`
	Error       string     `json:"error,omitempty"`
	IsMainApp   bool       `json:"is_main_app"`
	ParentAppID string     `json:"parent_app_id,omitempty"`
}

// Queue is the /api/queue payload.
type Queue struct {
	Queue   []Job `json:"queue"`
	History []Job `json:"history"`
}

// Profile is a profile as served by the daemon, without credentials.
type Profile struct {
	ID             int        `json:"id"`
	Name           string     `json:"name"`
	AppID          string     `json:"app_id"`
	InstallDir     string     `json:"install_dir"`
	AutoRun        bool       `json:"auto_run"`
	Status         string     `json:"status"`
	PID            int        `json:"pid"`
	LastRun        *time.Time `json:"last_run,omitempty"`
	HasCredentials bool       `json:"has_credentials"`
}

type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Source  string    `json:"source"`
	Status  string    `json:"status,omitempty"`
	Message string    `json:"message"`
}

// LogPage is the /api/logs payload.
type LogPage struct {
	Entries []LogEntry `json:"entries"`
	Total   int        `json:"total"`
	Page    int        `json:"page"`
	Size    int        `json:"size"`
}

// LogFile is the /api/logs?day= payload.
type LogFile struct {
	Day   string   `json:"day"`
	Lines []string `json:"lines"`
}

// StopResult is one profile in the /api/stop-all answer.
type StopResult struct {
	ProfileID int    `json:"profile_id"`
	AppID     string `json:"app_id,omitempty"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

type enqueueRequest struct {
	ProfileID int    `json:"profile_id"`
	AppID     string `json:"app_id,omitempty"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type clearResponse struct {
	Removed int `json:"removed"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
