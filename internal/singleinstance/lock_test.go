package singleinstance

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestTryLockExcludesSecondHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "shell.lock")

	first, err := TryLock(path)
	if err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}
	if first.Path() != path {
		t.Fatalf("Path() = %q, want %q", first.Path(), path)
	}

	if _, err := TryLock(path); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second TryLock() error = %v, want ErrAlreadyRunning", err)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("second Release() error = %v", err)
	}

	again, err := TryLock(path)
	if err != nil {
		t.Fatalf("TryLock() after release error = %v", err)
	}
	_ = again.Release()
}

func TestTryLockRequiresPath(t *testing.T) {
	if _, err := TryLock(""); err == nil {
		t.Fatal("TryLock(\"\") expected error")
	}
}

func TestNilLockIsSafe(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Fatalf("nil Release() error = %v", err)
	}
	if l.Path() != "" {
		t.Fatal("nil Path() not empty")
	}
}

func TestDefaultLockPath(t *testing.T) {
	t.Setenv("USERNAME", "dev user")
	if got, want := DefaultLockPath("cfg"), filepath.Join("cfg", "tabdeck-dev_user.lock"); got != want {
		t.Fatalf("DefaultLockPath() = %q, want %q", got, want)
	}
}
