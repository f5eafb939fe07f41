package logs

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfoForwardedButNotRetained(t *testing.T) {
	var mu sync.Mutex
	var forwarded []Entry
	a := New(Config{}, func(e Entry) {
		mu.Lock()
		forwarded = append(forwarded, e)
		mu.Unlock()
	}, nil)
	defer func() { _ = a.Close() }()

	a.Addf(LevelInfo, "srv", "", "Update state (0x61) downloading")
	a.Addf(LevelError, "srv", "", "ERROR! Failed to install app '740'")

	mu.Lock()
	assert.Len(t, forwarded, 2)
	mu.Unlock()

	entries, total := a.Page(1, 10)
	assert.Equal(t, 1, total)
	require.Len(t, entries, 1)
	assert.Equal(t, LevelError, entries[0].Level)
	assert.Equal(t, "red", entries[0].Color())
}

func TestRingCapacity(t *testing.T) {
	a := New(Config{Capacity: 5}, nil, nil)
	defer func() { _ = a.Close() }()
	for i := 0; i < 12; i++ {
		a.Addf(LevelWarning, "s", "", fmt.Sprintf("m%d", i))
	}
	assert.Equal(t, 5, a.Len())
	last := a.Last(10)
	require.Len(t, last, 5)
	assert.Equal(t, "m7", last[0].Message)
	assert.Equal(t, "m11", last[4].Message)
}

func TestDefaultCapacity(t *testing.T) {
	a := New(Config{}, nil, nil)
	defer func() { _ = a.Close() }()
	for i := 0; i < DefaultCapacity+10; i++ {
		a.Addf(LevelSuccess, "s", "", "x")
	}
	assert.Equal(t, DefaultCapacity, a.Len())
}

func TestPagingNewestFirst(t *testing.T) {
	a := New(Config{}, nil, nil)
	defer func() { _ = a.Close() }()
	for i := 1; i <= 7; i++ {
		a.Addf(LevelWarning, "s", "", fmt.Sprintf("m%d", i))
	}
	p1, total := a.Page(1, 3)
	assert.Equal(t, 7, total)
	assert.Equal(t, []string{"m7", "m6", "m5"}, messages(p1))
	p3, _ := a.Page(3, 3)
	assert.Equal(t, []string{"m1"}, messages(p3))
	p4, _ := a.Page(4, 3)
	assert.Empty(t, p4)
	p0, _ := a.Page(0, 0)
	assert.Len(t, p0, 7)
}

func TestLastBySource(t *testing.T) {
	a := New(Config{}, nil, nil)
	defer func() { _ = a.Close() }()
	a.Addf(LevelWarning, "alpha", "", "a1")
	a.Addf(LevelWarning, "beta", "", "b1")
	a.Addf(LevelWarning, "Alpha", "", "a2")
	a.Addf(LevelWarning, "alpha", "", "a3")

	assert.Equal(t, []string{"a2", "a3"}, messages(a.LastBySource("alpha", 2)))
	assert.Equal(t, []string{"b1"}, messages(a.LastBySource("beta", 5)))
	assert.Empty(t, a.LastBySource("gamma", 5))
	assert.Empty(t, a.Last(0))
}

func TestKeywordSearch(t *testing.T) {
	a := New(Config{}, nil, nil)
	defer func() { _ = a.Close() }()
	since := time.Now().Add(-time.Minute)

	a.Add(Entry{Time: since.Add(-time.Hour), Level: LevelSuccess, Source: "s", Message: "Success! App '740' fully installed."})
	assert.False(t, a.HasRecentSuccess("740", since), "entries before since are ignored")

	a.Addf(LevelSuccess, "s", "", "Success! App '740' fully installed.")
	assert.True(t, a.HasRecentSuccess("740", since))
	assert.False(t, a.HasRecentSuccess("90", since))
	assert.False(t, a.HasRecentFailure("740", since))

	a.Addf(LevelError, "s", "", "error! failed to install app '90' (No subscription)")
	assert.True(t, a.HasRecentFailure("90", since))
	assert.True(t, a.HasRecentFailure("90", since, "NO SUBSCRIPTION"))
	assert.False(t, a.HasRecentFailure("90", since, "disk full"))
}

func TestKeywordSearchWindow(t *testing.T) {
	a := New(Config{}, nil, nil)
	defer func() { _ = a.Close() }()
	since := time.Now().Add(-time.Minute)
	a.Addf(LevelError, "s", "", "ERROR! app 10 failed")
	for i := 0; i < searchWindow; i++ {
		a.Addf(LevelWarning, "s", "", "noise")
	}
	assert.False(t, a.HasRecentFailure("10", since))
}

func TestRecentMatchNeedsAppInMessage(t *testing.T) {
	a := New(Config{}, nil, nil)
	since := time.Now().Add(-time.Second)
	a.Add(Entry{Time: time.Now(), Level: LevelError, Source: "cs2", Status: "730", Message: "Failed to init SDL priority manager"})
	assert.False(t, a.HasRecentFailure("730", since))

	a.Add(Entry{Time: time.Now(), Level: LevelError, Source: "cs2", Message: "ERROR! Failed to install app '730' (No subscription)"})
	assert.True(t, a.HasRecentFailure("730", since))
}

func TestFileDrainAndFormat(t *testing.T) {
	dir := t.TempDir()
	a := New(Config{Dir: dir}, nil, nil)
	ts := time.Date(2024, 3, 9, 8, 7, 6, 0, time.Local)
	a.Add(Entry{Time: ts, Level: LevelWarning, Source: "srv", Status: "740", Message: "low disk"})
	a.Add(Entry{Time: ts, Level: LevelInfo, Source: "srv", Message: "not persisted"})
	require.NoError(t, a.Close())

	lines, err := a.ReadFile("2024-03-09")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03-09 08:07:06 [WARNING] [srv] [740] low disk"}, lines)

	_, err = a.ReadFile("yesterday")
	assert.Error(t, err)

	// Adding after Close keeps the entry in memory without panicking.
	a.Addf(LevelError, "srv", "", "late")
	assert.Equal(t, 2, a.Len())
}

func TestFileRollsPerDay(t *testing.T) {
	dir := t.TempDir()
	a := New(Config{Dir: dir}, nil, nil)
	d1 := time.Date(2024, 3, 9, 23, 59, 0, 0, time.Local)
	a.Add(Entry{Time: d1, Level: LevelError, Source: "s", Message: "one"})
	a.Add(Entry{Time: d1.Add(2 * time.Minute), Level: LevelError, Source: "s", Message: "two"})
	require.NoError(t, a.Close())

	_, err := os.Stat(filepath.Join(dir, "steamkeeper-2024-03-09.log"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "steamkeeper-2024-03-10.log"))
	assert.NoError(t, err)
}

func TestPruneOnStartup(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-48 * time.Hour)
	for i := 0; i < 5; i++ {
		p := filepath.Join(dir, fmt.Sprintf("steamkeeper-2024-01-0%d.log", i+1))
		require.NoError(t, os.WriteFile(p, []byte("x\n"), 0o600))
		mt := base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, os.Chtimes(p, mt, mt))
	}
	other := filepath.Join(dir, "unrelated.txt")
	require.NoError(t, os.WriteFile(other, []byte("keep"), 0o600))

	a := New(Config{Dir: dir, RetentionFiles: 2}, nil, nil)
	require.NoError(t, a.Close())

	left, err := filepath.Glob(filepath.Join(dir, "steamkeeper-*.log"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "steamkeeper-2024-01-04.log"),
		filepath.Join(dir, "steamkeeper-2024-01-05.log"),
	}, left)
	_, err = os.Stat(other)
	assert.NoError(t, err)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelSuccess, ParseLevel("SUCCESS"))
	assert.Equal(t, LevelWarning, ParseLevel("warn"))
	assert.Equal(t, LevelError, ParseLevel(" error "))
	assert.Equal(t, LevelInfo, ParseLevel("whatever"))
}

func messages(es []Entry) []string {
	out := make([]string, 0, len(es))
	for _, e := range es {
		out = append(out, e.Message)
	}
	return out
}
