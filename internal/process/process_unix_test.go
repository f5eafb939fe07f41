//go:build !windows

package process

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func collect(lines <-chan Line, done <-chan struct{}) []Line {
	var out []Line
	for {
		select {
		case l := <-lines:
			out = append(out, l)
		case <-done:
			for {
				select {
				case l := <-lines:
					out = append(out, l)
				default:
					return out
				}
			}
		}
	}
}

func TestStartStreamsBothPipesAndExitCode(t *testing.T) {
	console := &syncBuffer{}
	p := New(Spec{
		Name:    "echo",
		Path:    "/bin/sh",
		Args:    []string{"-c", "echo out-line; echo err-line 1>&2; exit 3"},
		Console: console,
	})
	lines := make(chan Line, 16)
	require.NoError(t, p.Start(context.Background(), lines))

	got := collect(lines, p.Done())
	code, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, code)

	byStream := map[Stream]string{}
	for _, l := range got {
		byStream[l.Stream] = l.Text
	}
	assert.Equal(t, "out-line", byStream[Stdout])
	assert.Equal(t, "err-line", byStream[Stderr])
	assert.Contains(t, console.String(), "out-line\n")

	st := p.Snapshot()
	assert.False(t, st.Running)
	assert.Equal(t, 3, st.ExitCode)
	assert.NotZero(t, st.PID)
}

func TestStartTwiceFails(t *testing.T) {
	p := New(Spec{Name: "t", Path: "/bin/sh", Args: []string{"-c", "exit 0"}})
	lines := make(chan Line, 4)
	require.NoError(t, p.Start(context.Background(), lines))
	assert.Error(t, p.Start(context.Background(), lines))
	_, _ = p.Wait(context.Background())
}

func TestStartMissingBinary(t *testing.T) {
	p := New(Spec{Name: "x", Path: "/nonexistent/steamcmd"})
	assert.Error(t, p.Start(context.Background(), make(chan Line, 1)))
	_, err := p.Wait(context.Background())
	assert.Error(t, err)
	assert.Error(t, New(Spec{}).Start(context.Background(), make(chan Line, 1)))
}

func TestStopEscalatesToKill(t *testing.T) {
	p := New(Spec{Name: "stubborn", Path: "/bin/sh", Args: []string{"-c", "trap '' TERM; while true; do sleep 0.1; done"}})
	lines := make(chan Line, 4)
	require.NoError(t, p.Start(context.Background(), lines))
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	require.NoError(t, p.Stop(200*time.Millisecond))
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.True(t, p.StopRequested())
	assert.False(t, p.Snapshot().Running)

	// stopping again is a no-op
	require.NoError(t, p.Stop(time.Second))
}

func TestContextCancelKills(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := New(Spec{Name: "sleeper", Path: "/bin/sh", Args: []string{"-c", "sleep 30"}})
	require.NoError(t, p.Start(ctx, make(chan Line, 4)))
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	code, err := p.Wait(waitCtx)
	require.NoError(t, err)
	assert.NotEqual(t, 0, code)
}

func TestWaitRespectsContext(t *testing.T) {
	p := New(Spec{Name: "sleeper", Path: "/bin/sh", Args: []string{"-c", "sleep 30"}})
	require.NoError(t, p.Start(context.Background(), make(chan Line, 4)))
	defer func() { _ = p.Kill() }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
