package process

import "io"

// Spec describes one launch of an external program.
type Spec struct {
	Name    string   `json:"name"`
	Path    string   `json:"path"`
	Args    []string `json:"args"`
	WorkDir string   `json:"work_dir"`
	// Env replaces the parent environment when non-empty.
	Env []string `json:"env"`
	// Console, when set, receives a raw copy of every output line.
	Console io.Writer `json:"-"`
}
