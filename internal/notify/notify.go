// Package notify pushes service events to live subscribers: websocket
// clients, a Discord webhook, or both.
package notify

import (
	"time"
)

// Event names used by steamkeeper.
const (
	EventLog     = "log"
	EventQueue   = "queue"
	EventJob     = "job"
	EventProfile = "profile"
)

// Broadcaster delivers an event without blocking the caller and without
// reporting delivery failures.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// Message is the wire envelope sent to websocket clients.
type Message struct {
	Event string    `json:"event"`
	Time  time.Time `json:"time"`
	Data  any       `json:"data"`
}

// JobNotice describes a queue item that reached a terminal status.
type JobNotice struct {
	ProfileID   int    `json:"profile_id"`
	ProfileName string `json:"profile_name"`
	AppID       string `json:"app_id"`
	AppName     string `json:"app_name"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
}

type Nop struct{}

func (Nop) Broadcast(string, any) {}

// Func adapts a function to Broadcaster.
type Func func(event string, payload any)

func (f Func) Broadcast(event string, payload any) { f(event, payload) }

// Multi fans out to every non-nil broadcaster.
type Multi []Broadcaster

func (m Multi) Broadcast(event string, payload any) {
	for _, b := range m {
		if b != nil {
			b.Broadcast(event, payload)
		}
	}
}
