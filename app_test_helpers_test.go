package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tabdeck/internal/config"
	"tabdeck/internal/engine"
	"tabdeck/internal/engine/enginetest"
	"tabdeck/internal/tabs"
	"tabdeck/internal/testutil"
)

// NOTE: These helpers override package-level function variables. Tests in
// this package must not use t.Parallel().

type runtimeRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
	quits  atomic.Int32
	shows  atomic.Int32
}

type recordedEvent struct {
	name    string
	payload any
}

func (r *runtimeRecorder) emit(_ context.Context, name string, data ...interface{}) {
	var payload any
	if len(data) > 0 {
		payload = data[0]
	}
	r.mu.Lock()
	r.events = append(r.events, recordedEvent{name: name, payload: payload})
	r.mu.Unlock()
}

func (r *runtimeRecorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.name == name {
			n++
		}
	}
	return n
}

func (r *runtimeRecorder) last(name string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].name == name {
			return r.events[i].payload, true
		}
	}
	return nil, false
}

// stubRuntime replaces every Wails runtime seam with a recorder.
func stubRuntime(t *testing.T) *runtimeRecorder {
	t.Helper()
	rec := &runtimeRecorder{}

	origEmit := runtimeEventsEmitFn
	origQuit := runtimeQuitFn
	origShow := runtimeWindowShowFn
	origUnminimise := runtimeWindowUnminimiseFn
	origOnTop := runtimeWindowSetAlwaysOnTopFn
	t.Cleanup(func() {
		runtimeEventsEmitFn = origEmit
		runtimeQuitFn = origQuit
		runtimeWindowShowFn = origShow
		runtimeWindowUnminimiseFn = origUnminimise
		runtimeWindowSetAlwaysOnTopFn = origOnTop
	})

	runtimeEventsEmitFn = rec.emit
	runtimeQuitFn = func(context.Context) { rec.quits.Add(1) }
	runtimeWindowShowFn = func(context.Context) { rec.shows.Add(1) }
	runtimeWindowUnminimiseFn = func(context.Context) {}
	runtimeWindowSetAlwaysOnTopFn = func(context.Context, bool) {}
	return rec
}

var testEndpointSeq atomic.Int64

func testIPCEndpoint(t *testing.T) string {
	t.Helper()
	name := fmt.Sprintf("tabdeck-apptest-%d-%d", os.Getpid(), testEndpointSeq.Add(1))
	if runtime.GOOS == "windows" {
		return `\\.\pipe\` + name
	}
	// Keep unix socket paths short.
	dir, err := os.MkdirTemp("", "tdk")
	if err != nil {
		t.Fatalf("MkdirTemp() error = %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "app.sock")
}

// useTestConfigDir points config.DefaultPath at a fresh directory.
func useTestConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("LOCALAPPDATA", dir)
	t.Setenv("APPDATA", "")
	t.Setenv("XDG_CONFIG_HOME", dir)
	return config.DefaultPath()
}

type testApp struct {
	*App
	runtime *runtimeRecorder
	engine  *enginetest.Engine
}

// startTestApp runs startup against the fake engine and registers shutdown.
func startTestApp(t *testing.T) testApp {
	t.Helper()
	rec := stubRuntime(t)
	useTestConfigDir(t)

	fake := enginetest.New()
	origFactory := newEngineFactoryFn
	origEndpoint := ipcEndpointFn
	endpoint := testIPCEndpoint(t)
	t.Cleanup(func() {
		newEngineFactoryFn = origFactory
		ipcEndpointFn = origEndpoint
	})
	newEngineFactoryFn = func(config.Config) engine.Factory { return fake.Factory(nil) }
	ipcEndpointFn = func() string { return endpoint }

	app := NewApp()
	app.startup(context.Background())
	t.Cleanup(func() { app.shutdown(context.Background()) })

	testutil.WaitFor(t, 2*time.Second, "initial tab ready", func() bool {
		list := app.ListTabs()
		return len(list) == 1 && list[0].State == tabs.StateReady && list[0].Active
	})
	return testApp{App: app, runtime: rec, engine: fake}
}
