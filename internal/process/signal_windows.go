//go:build windows

package process

import (
	"os/exec"
	"strconv"
)

// Windows has no process-group signals; taskkill /T walks the tree.
func terminateGroup(pid int) error {
	// #nosec G204
	return exec.Command("taskkill", "/T", "/PID", strconv.Itoa(pid)).Run()
}

func killGroup(pid int) error {
	// #nosec G204
	return exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(pid)).Run()
}
