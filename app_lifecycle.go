package main

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"tabdeck/internal/config"
	"tabdeck/internal/engine"
	"tabdeck/internal/engine/rodengine"
	"tabdeck/internal/ipc"
	"tabdeck/internal/tabs"
	"tabdeck/internal/workerutil"
	"tabdeck/internal/wsserver"

	"github.com/wailsapp/wails/v2/pkg/runtime"
)

var (
	runtimeEventsEmitFn           = runtime.EventsEmit
	runtimeQuitFn                 = runtime.Quit
	runtimeWindowShowFn           = runtime.WindowShow
	runtimeWindowUnminimiseFn     = runtime.WindowUnminimise
	runtimeWindowSetAlwaysOnTopFn = runtime.WindowSetAlwaysOnTop
	newEngineFactoryFn            = defaultEngineFactory
	ipcEndpointFn                 = ipc.DefaultEndpoint
)

const shutdownWaitTimeout = 10 * time.Second

func defaultEngineFactory(cfg config.Config) engine.Factory {
	return rodengine.Factory(rodengine.Options{Headless: cfg.Headless})
}

func (a *App) addPendingConfigLoadWarning(message string) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return
	}
	a.startupWarnMu.Lock()
	a.configLoadWarnings = append(a.configLoadWarnings, trimmed)
	a.startupWarnMu.Unlock()
}

func (a *App) consumePendingConfigLoadWarning() string {
	a.startupWarnMu.Lock()
	defer a.startupWarnMu.Unlock()
	if len(a.configLoadWarnings) == 0 {
		return ""
	}
	message := strings.Join(a.configLoadWarnings, "\n")
	a.configLoadWarnings = nil
	return message
}

func (a *App) startup(ctx context.Context) {
	a.setRuntimeContext(ctx)

	a.configPath = config.DefaultPath()
	for _, message := range config.ConsumeDefaultPathWarnings() {
		a.addPendingConfigLoadWarning(message)
	}
	a.initSessionLog()

	cfg, err := config.EnsureFile(a.configPath)
	if err != nil {
		// A broken config never blocks startup.
		cfg = config.DefaultConfig()
		a.addPendingConfigLoadWarning(
			"Failed to load config file at startup. Running with defaults. Error: " + err.Error(),
		)
		slog.Warn("[WARN-CONFIG] failed to load config", "path", a.configPath, "error", err)
	}
	a.setConfigSnapshot(cfg)

	bgCtx, cancel := context.WithCancel(ctx)
	a.bgCancel = cancel

	a.startWebSocketHub(bgCtx, cfg)
	a.startLogForwarder(bgCtx)

	strip := newHubStrip(a.publishStripUpdate)
	a.startStripPublisher(bgCtx, strip)

	a.registry = engine.NewRegistry(newEngineFactoryFn(cfg))
	opts := cfg.TabOptions()
	opts.Strip = strip
	a.manager = tabs.New(a.registry, opts)
	a.startEventForwarder(bgCtx)
	a.manager.Start()

	a.startIPCServer()
	a.startConfigWatcher(bgCtx)
	a.openInitialTab(bgCtx)
	a.flushPendingConfigLoadWarnings()
}

func (a *App) startWebSocketHub(ctx context.Context, cfg config.Config) {
	hub := wsserver.NewHub(wsserver.HubOptions{
		Addr:     wsListenAddr(cfg.WebSocketPort),
		Commands: a.handleWSCommand,
	})
	if err := hub.Start(ctx); err != nil {
		slog.Error("[DEBUG-WS] websocket hub failed to start", "error", err)
		a.addPendingConfigLoadWarning(
			"Failed to start the tab strip stream. The tab strip may not update. Error: " + err.Error(),
		)
		return
	}
	a.wsHub = hub
	slog.Info("[DEBUG-WS] websocket hub listening", "url", hub.URL())
}

func (a *App) startIPCServer() {
	server := ipc.NewServer(ipcEndpointFn(), ipc.ExecutorFunc(a.executeIPCRequest))
	if err := server.Start(); err != nil {
		slog.Error("[DEBUG-IPC] ipc server failed to start", "error", err)
		a.addPendingConfigLoadWarning(
			"Failed to start the command endpoint. tabctl and second launches cannot reach this window. Error: " + err.Error(),
		)
		return
	}
	a.ipcServer = server
	slog.Info("[DEBUG-IPC] ipc server listening", "endpoint", server.Endpoint())
}

// openInitialTab opens the launch URL, or the home page, off the startup
// path; the first engine launch can take seconds.
func (a *App) openInitialTab(ctx context.Context) {
	manager, err := a.requireManager()
	if err != nil {
		return
	}
	url := a.initialURL
	workerutil.RunOnce("initial-tab", &a.bgWG, func() {
		if _, err := manager.CreateTab(ctx, url, false); err != nil {
			slog.Error("[DEBUG-TABS] initial tab failed", "url", url, "error", err)
			a.emitRuntimeEvent("app:initial-tab-failed", map[string]string{"message": err.Error()})
		}
	}, nil)
}

func (a *App) shutdown(_ context.Context) {
	a.shuttingDown.Store(true)

	if a.ipcServer != nil {
		if err := a.ipcServer.Stop(); err != nil {
			slog.Warn("[DEBUG-IPC] ipc server stop failed", "error", err)
		}
	}
	if a.manager != nil {
		a.manager.Close()
	}
	if a.bgCancel != nil {
		a.bgCancel()
	}
	if !waitWithTimeout(a.bgWG.Wait, shutdownWaitTimeout) {
		slog.Warn("[DEBUG-PANIC] timed out waiting for background workers during shutdown")
	}
	if a.registry != nil {
		if err := a.registry.Close(); err != nil {
			slog.Warn("[DEBUG-ENGINE] engine shutdown failed", "error", err)
		}
	}
	if a.wsHub != nil {
		if err := a.wsHub.Stop(); err != nil {
			slog.Warn("[DEBUG-WS] websocket hub stop failed", "error", err)
		}
	}
	a.closeSessionLog()
}

// requestQuit asks Wails to end the run. Safe to call more than once.
func (a *App) requestQuit() {
	a.quitOnce.Do(func() {
		ctx := a.runtimeContext()
		if ctx == nil {
			slog.Warn("[DEBUG-TABS] quit dropped because runtime context is nil")
			return
		}
		runtimeQuitFn(ctx)
	})
}

func waitWithTimeout(waitFn func(), timeout time.Duration) bool {
	// The waiting goroutine may outlive timeout; only used at process exit.
	done := make(chan struct{})
	go func() {
		waitFn()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// bringWindowToFront shows and raises the window. Used when a second launch
// or tabctl asks for it.
func (a *App) bringWindowToFront() {
	ctx := a.runtimeContext()
	if ctx == nil {
		slog.Warn("[DEBUG-IPC] bringWindowToFront dropped because runtime context is nil")
		return
	}
	runtimeWindowShowFn(ctx)
	runtimeWindowUnminimiseFn(ctx)
	runtimeWindowSetAlwaysOnTopFn(ctx, true)
	runtimeWindowSetAlwaysOnTopFn(ctx, false)
}
