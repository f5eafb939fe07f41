// Package process runs one external program as a child in its own process
// group and streams its output line by line.
package process

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// reapWait bounds how long Kill waits for the monitor to observe the exit.
const reapWait = 2 * time.Second

type Process struct {
	spec     Spec
	mu       sync.Mutex
	cmd      *exec.Cmd
	status   Status
	stopping bool
	waitDone chan struct{} // closed by monitor when cmd.Wait returns
	consoleM sync.Mutex
}

func New(spec Spec) *Process { return &Process{spec: spec} }

func (r *Process) Name() string { return r.spec.Name }

// Start launches the program. Every stdout/stderr line is sent to lines;
// the caller must keep draining lines until Done is closed. Cancelling ctx
// kills the process group.
func (r *Process) Start(ctx context.Context, lines chan<- Line) error {
	r.mu.Lock()
	if r.cmd != nil {
		r.mu.Unlock()
		return errors.New("process already started")
	}
	spec := r.spec
	r.mu.Unlock()

	if strings.TrimSpace(spec.Path) == "" {
		return errors.New("process path is required")
	}
	// #nosec G204
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.WorkDir
	if len(spec.Env) > 0 {
		cmd.Env = spec.Env
	}
	configureSysProcAttr(cmd)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	r.mu.Lock()
	r.cmd = cmd
	r.waitDone = make(chan struct{})
	r.status = Status{Name: spec.Name, Running: true, PID: cmd.Process.Pid, StartedAt: time.Now()}
	done := r.waitDone
	r.mu.Unlock()

	var readers sync.WaitGroup
	readers.Add(2)
	go r.pump(&readers, stdout, Stdout, lines)
	go r.pump(&readers, stderr, Stderr, lines)

	go func() {
		// Pipes must be drained before Wait closes them.
		readers.Wait()
		err := cmd.Wait()
		r.markExited(err)
		close(done)
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = r.Kill()
		case <-done:
		}
	}()
	return nil
}

func (r *Process) pump(wg *sync.WaitGroup, rd io.Reader, stream Stream, lines chan<- Line) {
	defer wg.Done()
	s := newScanner(rd)
	for s.Scan() {
		text := string(bytes.TrimRight(s.Bytes(), " \t"))
		if text == "" {
			continue
		}
		r.copyToConsole(text)
		lines <- Line{Stream: stream, Text: text, At: time.Now()}
	}
	// Keep reading after a scanner error so the child never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, rd)
}

func (r *Process) copyToConsole(text string) {
	if r.spec.Console == nil {
		return
	}
	r.consoleM.Lock()
	_, _ = io.WriteString(r.spec.Console, text+"\n")
	r.consoleM.Unlock()
}

func (r *Process) markExited(err error) {
	code := 0
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		code = ee.ExitCode()
		err = nil
	} else if err != nil {
		code = -1
	}
	r.mu.Lock()
	r.status.Running = false
	r.status.StoppedAt = time.Now()
	r.status.ExitCode = code
	r.status.ExitErr = err
	r.mu.Unlock()
}

// Done is closed once the process has exited and its output is drained.
// It is nil before Start.
func (r *Process) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waitDone
}

// Wait blocks until exit or ctx is done and returns the exit code. A
// non-zero exit is not an error; the error reports wait failures only.
func (r *Process) Wait(ctx context.Context) (int, error) {
	done := r.Done()
	if done == nil {
		return -1, errors.New("process not started")
	}
	select {
	case <-done:
	case <-ctx.Done():
		return -1, ctx.Err()
	}
	s := r.Snapshot()
	return s.ExitCode, s.ExitErr
}

// Snapshot returns a copy of the current status.
func (r *Process) Snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Process) StopRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopping
}

func (r *Process) pid() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd == nil || r.cmd.Process == nil || !r.status.Running {
		return 0
	}
	return r.cmd.Process.Pid
}

// Stop asks the process group to terminate, escalating to a kill after wait.
func (r *Process) Stop(wait time.Duration) error {
	pid := r.pid()
	if pid == 0 {
		return nil
	}
	r.mu.Lock()
	r.stopping = true
	done := r.waitDone
	r.mu.Unlock()

	_ = terminateGroup(pid)
	select {
	case <-done:
		return nil
	case <-time.After(wait):
	}
	return r.Kill()
}

// Kill force-kills the process group and waits briefly for the exit.
func (r *Process) Kill() error {
	pid := r.pid()
	if pid == 0 {
		return nil
	}
	r.mu.Lock()
	r.stopping = true
	done := r.waitDone
	r.mu.Unlock()

	err := killGroup(pid)
	select {
	case <-done:
		return nil
	case <-time.After(reapWait):
		if err != nil {
			return err
		}
		return errors.New("process did not exit after kill")
	}
}
