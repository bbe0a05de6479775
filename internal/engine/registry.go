package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
)

// ErrRegistryClosed is returned by Get after Close.
var ErrRegistryClosed = errors.New("engine: registry closed")

// Factory builds the shared environment for one storage directory.
type Factory func(ctx context.Context, storageDir string) (Engine, error)

// Registry caches one Engine per storage directory for the life of the
// process. Environments are created lazily on first use and are only torn
// down by Close at process exit.
//
// Lock ordering: mu is a leaf lock. Factory runs while mu is held so two
// concurrent first uses of the same directory never build two environments.
type Registry struct {
	factory Factory

	mu     sync.Mutex
	envs   map[string]Engine
	closed bool
}

// NewRegistry returns an empty registry backed by factory.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		factory: factory,
		envs:    map[string]Engine{},
	}
}

// Get returns the environment for storageDir, creating it on first use.
func (r *Registry) Get(ctx context.Context, storageDir string) (Engine, error) {
	if r == nil || r.factory == nil {
		return nil, errors.New("engine: registry has no factory")
	}
	key := registryKey(storageDir)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	if env, ok := r.envs[key]; ok {
		return env, nil
	}
	env, err := r.factory(ctx, storageDir)
	if err != nil {
		return nil, fmt.Errorf("create environment for %q: %w", storageDir, err)
	}
	if env == nil {
		return nil, fmt.Errorf("create environment for %q: factory returned nil", storageDir)
	}
	r.envs[key] = env
	slog.Debug("[DEBUG-ENGINE] environment created", "storageDir", storageDir)
	return env, nil
}

// Len returns the number of live environments.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.envs)
}

// Close tears down every environment. Subsequent Get calls fail.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	envs := r.envs
	r.envs = map[string]Engine{}
	r.mu.Unlock()

	var errs []error
	for dir, env := range envs {
		if err := env.Close(); err != nil {
			slog.Warn("[DEBUG-ENGINE] environment close failed", "storageDir", dir, "error", err)
			errs = append(errs, fmt.Errorf("close environment %q: %w", dir, err))
		}
	}
	return errors.Join(errs...)
}

func registryKey(storageDir string) string {
	if storageDir == "" {
		return ""
	}
	return filepath.Clean(storageDir)
}
