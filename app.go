package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"tabdeck/internal/config"
	"tabdeck/internal/engine"
	"tabdeck/internal/ipc"
	"tabdeck/internal/sessionlog"
	"tabdeck/internal/tabs"
	"tabdeck/internal/wsserver"
)

// App is the Wails-bound shell service. It owns the tab manager and the
// surfaces that drive it: the bound API, the IPC server for tabctl and
// second launches, and the websocket hub the tab strip talks to.
type App struct {
	// Runtime context lifecycle.
	ctx   context.Context
	ctxMu sync.RWMutex

	// Lock ordering (outer -> inner): cfgSaveMu -> cfgMu.
	// sessionLogMu and startupWarnMu are independent.
	cfgMu              sync.RWMutex
	cfgSaveMu          sync.Mutex
	configEventVersion atomic.Uint64
	cfg                config.Config
	configPath         string
	startupWarnMu      sync.Mutex
	configLoadWarnings []string

	// initialURL is opened instead of the home page on startup. Set by main
	// before wails.Run; read-only afterwards.
	initialURL string

	// Backend services. Written once during startup before any reader
	// goroutine starts; nil when the service failed to start.
	registry  *engine.Registry
	manager   *tabs.Manager
	ipcServer *ipc.Server
	wsHub     *wsserver.Hub
	logs      *sessionlog.Forwarder

	// Session log state.
	sessionLogMu   sync.Mutex
	sessionLogFile *os.File
	sessionLogPath string
	prevLogger     *slog.Logger

	shuttingDown atomic.Bool
	quitOnce     sync.Once

	// Background worker cancellation/waits.
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// NewApp creates the app service.
func NewApp() *App {
	return &App{cfg: config.DefaultConfig()}
}

var errManagerUnavailable = errors.New("tab manager is unavailable")

func (a *App) requireManager() (*tabs.Manager, error) {
	if a.manager == nil {
		return nil, errManagerUnavailable
	}
	return a.manager, nil
}

func (a *App) setRuntimeContext(ctx context.Context) {
	a.ctxMu.Lock()
	a.ctx = ctx
	a.ctxMu.Unlock()
}

func (a *App) runtimeContext() context.Context {
	a.ctxMu.RLock()
	ctx := a.ctx
	a.ctxMu.RUnlock()
	return ctx
}

// getConfigSnapshot returns the current config. Config holds no reference
// types, so the copy is independent of App state.
func (a *App) getConfigSnapshot() config.Config {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.cfg
}

func (a *App) setConfigSnapshot(cfg config.Config) {
	a.cfgMu.Lock()
	a.cfg = cfg
	a.cfgMu.Unlock()
}

// GetWebSocketURL returns the tab strip stream endpoint, or "" when the hub
// is not running.
func (a *App) GetWebSocketURL() string {
	if a.wsHub == nil {
		slog.Debug("[DEBUG-WS] wsHub is nil, WebSocket URL unavailable")
		return ""
	}
	return a.wsHub.URL()
}
