// Package storagelink manages the directory symlink that redirects the
// tool's shared storage folder into a profile's install directory.
package storagelink

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// symlink and commandRunner are swapped in tests.
var symlink = os.Symlink

var commandRunner = func(name string, args ...string) ([]byte, error) {
	// #nosec G204
	return exec.Command(name, args...).CombinedOutput()
}

// IsSymlink reports whether path itself is a symbolic link.
func IsSymlink(path string) bool {
	fi, err := os.Lstat(path)
	return err == nil && fi.Mode()&os.ModeSymlink != 0
}

// Target returns where the link at path points.
func Target(path string) (string, error) {
	return os.Readlink(path)
}

// Remove deletes path: a link is unlinked without touching its target, a
// real directory is removed with its contents, a missing path is ignored.
func Remove(path string) error {
	fi, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(path); err != nil {
			// Windows directory links need RemoveDirectory semantics.
			if runtime.GOOS == "windows" {
				return os.RemoveAll(path)
			}
			return err
		}
		return nil
	}
	if fi.IsDir() {
		return os.RemoveAll(path)
	}
	return os.Remove(path)
}

// RemoveIfTarget removes the link at path only while it still points at
// target. It reports whether something was removed.
func RemoveIfTarget(path, target string) (bool, error) {
	if !IsSymlink(path) {
		return false, nil
	}
	cur, err := Target(path)
	if err != nil {
		return false, err
	}
	if !samePath(cur, target) {
		return false, nil
	}
	return true, os.Remove(path)
}

func samePath(a, b string) bool {
	a, b = filepath.Clean(a), filepath.Clean(b)
	if runtime.GOOS == "windows" {
		return strings.EqualFold(a, b)
	}
	return a == b
}

// Create makes link point at target, replacing whatever is at link. When the
// native API fails it falls back to "ln -s" or "mklink /D".
func Create(target, link string) error {
	if err := Remove(link); err != nil {
		return fmt.Errorf("clear %s: %w", link, err)
	}
	if err := os.MkdirAll(filepath.Dir(link), 0o750); err != nil {
		return err
	}
	err := symlink(target, link)
	if err == nil {
		return nil
	}
	var out []byte
	var ferr error
	if runtime.GOOS == "windows" {
		out, ferr = commandRunner("cmd", "/C", "mklink", "/D", link, target)
	} else {
		out, ferr = commandRunner("ln", "-s", target, link)
	}
	if ferr != nil {
		return fmt.Errorf("symlink %s -> %s: %w (fallback: %v: %s)", link, target, err, ferr, strings.TrimSpace(string(out)))
	}
	if !IsSymlink(link) {
		return fmt.Errorf("symlink %s -> %s: fallback reported success but no link exists", link, target)
	}
	return nil
}
