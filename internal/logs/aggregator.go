// Package logs aggregates tool output and service events. Entries are
// forwarded live, kept in a bounded in-memory ring and appended to daily
// rotating files by a single background writer.
package logs

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/loykin/steamkeeper/internal/metrics"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

const (
	DefaultCapacity       = 5000
	DefaultMaxSizeMB      = 10
	DefaultRetentionFiles = 14
	DefaultBuffer         = 1024
	DefaultPrefix         = "steamkeeper"

	// searchWindow is how many of the newest entries keyword searches inspect.
	searchWindow = 100
)

var (
	DefaultSuccessKeywords = []string{"Success! App", "fully installed"}
	DefaultFailureKeywords = []string{"ERROR!", "Failed to", "No subscription", "Invalid Password", "Login Failure", "Missing configuration"}
)

type Config struct {
	Dir            string // empty disables file output
	Prefix         string
	Capacity       int
	MaxSizeMB      int
	RetentionFiles int
	Buffer         int
}

// Forwarder receives every entry, Info included, before filtering.
type Forwarder func(Entry)

type Aggregator struct {
	cfg     Config
	forward Forwarder
	logger  *slog.Logger

	mu    sync.RWMutex
	ring  []Entry
	start int
	size  int

	sendMu sync.RWMutex
	closed bool
	writes chan Entry
	done   chan struct{}

	day  string
	file *lj.Logger
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// New prunes old files under cfg.Dir and starts the file writer.
func New(cfg Config, forward Forwarder, logger *slog.Logger) *Aggregator {
	cfg.Capacity = valOr(cfg.Capacity, DefaultCapacity)
	cfg.MaxSizeMB = valOr(cfg.MaxSizeMB, DefaultMaxSizeMB)
	cfg.RetentionFiles = valOr(cfg.RetentionFiles, DefaultRetentionFiles)
	cfg.Buffer = valOr(cfg.Buffer, DefaultBuffer)
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Aggregator{
		cfg:     cfg,
		forward: forward,
		logger:  logger,
		ring:    make([]Entry, cfg.Capacity),
		writes:  make(chan Entry, cfg.Buffer),
		done:    make(chan struct{}),
	}
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			logger.Warn("Failed to create log directory", "dir", cfg.Dir, "error", err)
		}
		if n, err := a.prune(); err != nil {
			logger.Warn("Failed to prune log files", "dir", cfg.Dir, "error", err)
		} else if n > 0 {
			logger.Info("Pruned old log files", "dir", cfg.Dir, "removed", n)
		}
	}
	go a.drain()
	return a
}

// Add forwards e, then retains and persists it unless it is Info.
func (a *Aggregator) Add(e Entry) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if e.Level == "" {
		e.Level = LevelInfo
	}
	if a.forward != nil {
		a.forward(e)
	}
	metrics.IncLogEntry(string(e.Level))
	if e.Level == LevelInfo {
		return
	}

	a.mu.Lock()
	idx := (a.start + a.size) % len(a.ring)
	a.ring[idx] = e
	if a.size < len(a.ring) {
		a.size++
	} else {
		a.start = (a.start + 1) % len(a.ring)
	}
	a.mu.Unlock()

	a.sendMu.RLock()
	defer a.sendMu.RUnlock()
	if a.closed || a.cfg.Dir == "" {
		return
	}
	a.writes <- e
}

// Addf is a shorthand for service-originated entries.
func (a *Aggregator) Addf(level Level, source, status, message string) {
	a.Add(Entry{Level: level, Source: source, Status: status, Message: message})
}

// newest returns up to n retained entries, newest first.
func (a *Aggregator) newest(n int) []Entry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if n > a.size || n < 0 {
		n = a.size
	}
	out := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		idx := (a.start + a.size - 1 - i) % len(a.ring)
		out = append(out, a.ring[idx])
	}
	return out
}

// Len is the number of retained entries.
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.size
}

// Page returns one page of retained entries, newest first, and the total
// retained count. Pages start at 1.
func (a *Aggregator) Page(page, size int) ([]Entry, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 50
	}
	all := a.newest(-1)
	from := (page - 1) * size
	if from >= len(all) {
		return []Entry{}, len(all)
	}
	to := from + size
	if to > len(all) {
		to = len(all)
	}
	return all[from:to], len(all)
}

// Last returns the newest n entries in chronological order.
func (a *Aggregator) Last(n int) []Entry {
	if n <= 0 {
		return []Entry{}
	}
	out := a.newest(n)
	reverse(out)
	return out
}

// LastBySource returns the newest n entries from source (case-insensitive)
// in chronological order.
func (a *Aggregator) LastBySource(source string, n int) []Entry {
	out := []Entry{}
	if n <= 0 {
		return out
	}
	for _, e := range a.newest(-1) {
		if strings.EqualFold(e.Source, source) {
			out = append(out, e)
			if len(out) == n {
				break
			}
		}
	}
	reverse(out)
	return out
}

// HasRecentSuccess reports whether one of the newest entries logged at or
// after since names appID in its message together with a success keyword.
func (a *Aggregator) HasRecentSuccess(appID string, since time.Time, keywords ...string) bool {
	if len(keywords) == 0 {
		keywords = DefaultSuccessKeywords
	}
	return a.matchRecent(appID, since, keywords)
}

// HasRecentFailure is HasRecentSuccess for failure keywords.
func (a *Aggregator) HasRecentFailure(appID string, since time.Time, keywords ...string) bool {
	if len(keywords) == 0 {
		keywords = DefaultFailureKeywords
	}
	return a.matchRecent(appID, since, keywords)
}

func (a *Aggregator) matchRecent(appID string, since time.Time, keywords []string) bool {
	id := strings.ToLower(appID)
	for _, e := range a.newest(searchWindow) {
		if e.Time.Before(since) {
			continue
		}
		msg := strings.ToLower(e.Message)
		if id != "" && !strings.Contains(msg, id) {
			continue
		}
		for _, k := range keywords {
			if k != "" && strings.Contains(msg, strings.ToLower(k)) {
				return true
			}
		}
	}
	return false
}

// Close stops accepting file writes and waits for the writer to flush.
func (a *Aggregator) Close() error {
	a.sendMu.Lock()
	if a.closed {
		a.sendMu.Unlock()
		return nil
	}
	a.closed = true
	close(a.writes)
	a.sendMu.Unlock()
	<-a.done
	if a.file != nil {
		return a.file.Close()
	}
	return nil
}

func (a *Aggregator) drain() {
	defer close(a.done)
	for e := range a.writes {
		if err := a.write(e); err != nil {
			a.logger.Warn("Failed to write log line", "error", err)
		}
	}
}

func (a *Aggregator) write(e Entry) error {
	day := e.Time.Format("2006-01-02")
	if a.file == nil || day != a.day {
		if a.file != nil {
			_ = a.file.Close()
		}
		a.day = day
		a.file = &lj.Logger{
			Filename: a.FilePath(day),
			MaxSize:  a.cfg.MaxSizeMB,
		}
	}
	_, err := a.file.Write([]byte(e.Line() + "\n"))
	return err
}

// FilePath is the active file for the given day (YYYY-MM-DD).
func (a *Aggregator) FilePath(day string) string {
	return filepath.Join(a.cfg.Dir, a.cfg.Prefix+"-"+day+".log")
}

// ReadFile returns the persisted lines of one day, excluding rotated backups.
func (a *Aggregator) ReadFile(day string) ([]string, error) {
	if _, err := time.Parse("2006-01-02", day); err != nil {
		return nil, errors.New("day must be YYYY-MM-DD")
	}
	b, err := os.ReadFile(filepath.Clean(a.FilePath(day)))
	if err != nil {
		return nil, err
	}
	text := strings.TrimRight(string(b), "\n")
	if text == "" {
		return []string{}, nil
	}
	return strings.Split(text, "\n"), nil
}

// prune keeps the RetentionFiles newest log files (active and rotated) and
// deletes the rest.
func (a *Aggregator) prune() (int, error) {
	matches, err := filepath.Glob(filepath.Join(a.cfg.Dir, a.cfg.Prefix+"-*.log"))
	if err != nil {
		return 0, err
	}
	type fileInfo struct {
		path string
		mod  time.Time
	}
	files := make([]fileInfo, 0, len(matches))
	for _, m := range matches {
		st, err := os.Stat(m)
		if err != nil || st.IsDir() {
			continue
		}
		files = append(files, fileInfo{path: m, mod: st.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].mod.Equal(files[j].mod) {
			return files[i].path > files[j].path
		}
		return files[i].mod.After(files[j].mod)
	})
	removed := 0
	for i := a.cfg.RetentionFiles; i < len(files); i++ {
		if err := os.Remove(files[i].path); err == nil {
			removed++
		}
	}
	return removed, nil
}

func reverse(es []Entry) {
	for i, j := 0, len(es)-1; i < j; i, j = i+1, j-1 {
		es[i], es[j] = es[j], es[i]
	}
}
