package process

import "time"

// Status is a point-in-time copy of a process' state.
type Status struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	ExitCode  int       `json:"exit_code"`
	ExitErr   error     `json:"exit_error,omitempty"`
}

// Stream identifies where an output line came from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Line is one line of child output.
type Line struct {
	Stream Stream
	Text   string
	At     time.Time
}
