package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// FileConfig describes a lumberjack-rotated file destination.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Config describes the service logger. Format is "text" (default) or
// "json". ConsoleDir, when set, receives one raw console file per profile.
type Config struct {
	Level      string
	Format     string
	Color      bool
	ShowTime   bool
	File       FileConfig
	ConsoleDir string
}

func (f FileConfig) writer(path string) io.WriteCloser {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(f.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(f.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(f.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   f.Compress,
	}
}

// ParseLevel accepts debug, info, warn/warning and error; anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds the service logger writing to console, plus the rotated file
// when File.Path is set. The returned closer releases the file.
func New(c Config, console io.Writer) (*slog.Logger, io.Closer) {
	if console == nil {
		console = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(c.Level)}

	var file io.WriteCloser
	out := console
	if c.File.Path != "" {
		_ = os.MkdirAll(filepath.Dir(c.File.Path), 0o750)
		file = c.File.writer(c.File.Path)
		out = io.MultiWriter(console, file)
	}

	var h slog.Handler
	switch {
	case strings.EqualFold(c.Format, "json"):
		h = slog.NewJSONHandler(out, opts)
	case c.Color && file == nil:
		h = NewColorTextHandler(out, opts, c.ShowTime)
	default:
		h = slog.NewTextHandler(out, opts)
	}
	return slog.New(h), closerFunc(func() error {
		if file != nil {
			return file.Close()
		}
		return nil
	})
}

// ConsoleWriter returns the raw console capture file for a profile, or nil
// when ConsoleDir is unset.
func (c Config) ConsoleWriter(name string) io.WriteCloser {
	if c.ConsoleDir == "" {
		return nil
	}
	_ = os.MkdirAll(c.ConsoleDir, 0o750)
	return c.File.writer(filepath.Join(c.ConsoleDir, sanitize(name)+".log"))
}

func sanitize(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "profile"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
