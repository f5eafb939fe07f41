package detector

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Match is one process found by name.
type Match struct {
	PID  int32
	Name string
}

// Finder lists and kills processes by executable name. Names compare
// case-insensitively on the base name with any .exe or .sh suffix removed.
// The calling process is never matched.
type Finder struct{}

func normalize(name string) string {
	n := strings.ToLower(filepath.Base(strings.TrimSpace(name)))
	n = strings.TrimSuffix(n, ".exe")
	n = strings.TrimSuffix(n, ".sh")
	return n
}

func wanted(names []string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		if k := normalize(n); k != "" && k != "." {
			m[k] = struct{}{}
		}
	}
	return m
}

// FindByName returns the processes whose name or executable matches one of names.
func (Finder) FindByName(ctx context.Context, names ...string) ([]Match, error) {
	want := wanted(names)
	if len(want) == 0 {
		return nil, nil
	}
	procs, err := gopsproc.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	self := int32(os.Getpid())
	var out []Match
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		if _, ok := want[normalize(name)]; ok {
			out = append(out, Match{PID: p.Pid, Name: name})
			continue
		}
		// comm is truncated on Linux; fall back to the executable path.
		if exe, err := p.ExeWithContext(ctx); err == nil && exe != "" {
			if _, ok := want[normalize(exe)]; ok {
				out = append(out, Match{PID: p.Pid, Name: name})
			}
		}
	}
	return out, nil
}

// KillByName kills every matching process and returns how many were killed.
// Processes that exit before the kill are not counted.
func (f Finder) KillByName(ctx context.Context, names ...string) (int, error) {
	matches, err := f.FindByName(ctx, names...)
	if err != nil {
		return 0, err
	}
	killed := 0
	for _, m := range matches {
		p, err := gopsproc.NewProcessWithContext(ctx, m.PID)
		if err != nil {
			continue
		}
		if err := p.KillWithContext(ctx); err == nil {
			killed++
		}
	}
	return killed, nil
}

// NameDetector reports alive when any process with one of Names exists.
type NameDetector struct {
	Names []string
}

func (d NameDetector) Alive() (bool, error) {
	m, err := Finder{}.FindByName(context.Background(), d.Names...)
	if err != nil {
		return false, err
	}
	return len(m) > 0, nil
}

func (d NameDetector) Describe() string { return "name:" + strings.Join(d.Names, ",") }

// PIDDetector reports alive when the pid exists.
type PIDDetector struct {
	PID int
}

func (d PIDDetector) Alive() (bool, error) {
	if d.PID <= 0 {
		return false, nil
	}
	return gopsproc.PidExists(int32(d.PID))
}

func (d PIDDetector) Describe() string { return "pid:" + strconv.Itoa(d.PID) }
