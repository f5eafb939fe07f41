package logs

import (
	"fmt"
	"strings"
	"time"
)

type Level string

const (
	LevelInfo    Level = "Info"
	LevelSuccess Level = "Success"
	LevelWarning Level = "Warning"
	LevelError   Level = "Error"
)

// ParseLevel is case-insensitive; unknown values map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success":
		return LevelSuccess
	case "warning", "warn":
		return LevelWarning
	case "error", "err":
		return LevelError
	default:
		return LevelInfo
	}
}

// Color is the display category of a level.
func (l Level) Color() string {
	switch l {
	case LevelSuccess:
		return "green"
	case LevelWarning:
		return "yellow"
	case LevelError:
		return "red"
	default:
		return "blue"
	}
}

// Entry is one log line, either from the tool's console or from steamkeeper
// itself.
type Entry struct {
	Time    time.Time `json:"time"`
	Level   Level     `json:"level"`
	Source  string    `json:"source"`
	Status  string    `json:"status,omitempty"`
	Message string    `json:"message"`
}

func (e Entry) Color() string { return e.Level.Color() }

const lineTimeLayout = "2006-01-02 15:04:05"

// Line renders the persisted form:
//
//	2006-01-02 15:04:05 [LEVEL] [source] [status] message
func (e Entry) Line() string {
	return fmt.Sprintf("%s [%s] [%s] [%s] %s",
		e.Time.Format(lineTimeLayout), strings.ToUpper(string(e.Level)), e.Source, e.Status, e.Message)
}
