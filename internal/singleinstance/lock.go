// Package singleinstance keeps one shell per user running. A second launch
// finds the lock held and forwards its request over IPC instead.
package singleinstance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"tabdeck/internal/userutil"
)

// ErrAlreadyRunning is returned by TryLock when another process holds the lock.
var ErrAlreadyRunning = errors.New("another instance is already running")

// Lock is an advisory file lock. The OS releases it when the owning
// process exits, so a crash never leaves a stale lock behind.
type Lock struct {
	fl *flock.Flock
}

// TryLock acquires the lock at path without blocking.
func TryLock(path string) (*Lock, error) {
	if path == "" {
		return nil, errors.New("lock path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %q: %w", path, err)
	}
	if !locked {
		return nil, ErrAlreadyRunning
	}
	return &Lock{fl: fl}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	if l == nil || l.fl == nil {
		return ""
	}
	return l.fl.Path()
}

// Release unlocks. Safe on a nil receiver and idempotent.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	err := l.fl.Unlock()
	l.fl = nil
	return err
}

// DefaultLockPath returns the per-user lock file inside dir, which is
// normally the config directory.
func DefaultLockPath(dir string) string {
	return filepath.Join(dir, "tabdeck-"+userutil.CurrentUsername()+".lock")
}
