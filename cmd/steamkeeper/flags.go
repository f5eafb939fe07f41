package main

import "time"

// Flag structs to decouple cobra from logic for testing.

type ServeFlags struct {
	Grace time.Duration
}

type ProfileAddFlags struct {
	Name      string
	AppID     string
	Dir       string
	Arguments string
	Validate  bool
	AutoRun   bool
	Username  string
	Password  string
}

type ProfileListFlags struct {
	JSON bool
}

type RunFlags struct {
	AppID string
}

type StopFlags struct {
	All bool
	// Remote daemon connection, --all only
	APIUrl     string
	APITimeout time.Duration
}

type QueueListFlags struct {
	History bool
	JSON    bool
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type QueueAddFlags struct {
	AppID      string
	APIUrl     string
	APITimeout time.Duration
}

type QueueControlFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

type LogsFlags struct {
	Lines  int
	Source string
	Day    string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type StatusFlags struct {
	APIUrl     string
	APITimeout time.Duration
}
