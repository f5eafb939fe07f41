package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Document is a single JSON file holding one value of T. Every Save rewrites
// the whole file (indented) through a temp file and rename, so readers never
// observe a half-written document.
type Document[T any] struct {
	path string
	mu   sync.Mutex
}

func NewDocument[T any](path string) *Document[T] {
	return &Document[T]{path: path}
}

func (d *Document[T]) Path() string { return d.path }

// Load returns the stored value, or the zero value of T when the file does
// not exist yet.
func (d *Document[T]) Load() (T, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.load()
}

// Save replaces the file contents with v.
func (d *Document[T]) Save(v T) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.save(v)
}

// Update loads the value, applies fn and saves the result under one lock.
// Nothing is written when fn returns an error.
func (d *Document[T]) Update(fn func(*T) error) (T, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.load()
	if err != nil {
		return v, err
	}
	if err := fn(&v); err != nil {
		return v, err
	}
	return v, d.save(v)
}

// Remove deletes the file; a missing file is not an error.
func (d *Document[T]) Remove() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := os.Remove(d.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (d *Document[T]) load() (T, error) {
	var v T
	b, err := os.ReadFile(filepath.Clean(d.path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return v, nil
		}
		return v, err
	}
	if len(b) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", filepath.Base(d.path), err)
	}
	return v, nil
}

func (d *Document[T]) save(v T) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(d.path), 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(d.path), "."+filepath.Base(d.path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, d.path)
}
