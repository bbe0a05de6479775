package main

import (
	"context"
	"log/slog"
	"time"

	"tabdeck/internal/config"
	"tabdeck/internal/workerutil"
)

type configUpdatedEvent struct {
	Config             config.Config `json:"config"`
	Version            uint64        `json:"version"`
	UpdatedAtUnixMilli int64         `json:"updated_at_unix_milli"`
}

// GetConfig returns the loaded config.
func (a *App) GetConfig() config.Config {
	return a.getConfigSnapshot()
}

// GetConfigAndFlushWarnings returns the loaded config and emits any pending
// startup warnings.
func (a *App) GetConfigAndFlushWarnings() config.Config {
	a.flushPendingConfigLoadWarnings()
	return a.getConfigSnapshot()
}

func (a *App) flushPendingConfigLoadWarnings() {
	ctx := a.runtimeContext()
	if ctx == nil {
		return
	}
	if warning := a.consumePendingConfigLoadWarning(); warning != "" {
		a.emitRuntimeEventWithContext(ctx, "config:load-failed", map[string]string{
			"message": warning,
		})
	}
}

// SaveConfig validates and persists cfg, then applies the live settings.
// Only home_page takes effect immediately; the rest apply on next launch.
func (a *App) SaveConfig(cfg config.Config) error {
	event, err := a.saveConfigWithLock(cfg)
	if err != nil {
		return err
	}
	a.applyLiveConfig(event.Config)
	a.emitRuntimeEvent("config:updated", event)
	return nil
}

func (a *App) saveConfigWithLock(cfg config.Config) (configUpdatedEvent, error) {
	a.cfgSaveMu.Lock()
	defer a.cfgSaveMu.Unlock()

	normalized, err := config.Save(a.configPath, cfg)
	if err != nil {
		return configUpdatedEvent{}, err
	}
	a.setConfigSnapshot(normalized)
	return a.nextConfigEvent(normalized), nil
}

func (a *App) nextConfigEvent(cfg config.Config) configUpdatedEvent {
	return configUpdatedEvent{
		Config:             cfg,
		Version:            a.configEventVersion.Add(1),
		UpdatedAtUnixMilli: time.Now().UnixMilli(),
	}
}

func (a *App) applyLiveConfig(cfg config.Config) {
	manager, err := a.requireManager()
	if err != nil {
		slog.Warn("[WARN-CONFIG] skipped live config update", "error", err)
		return
	}
	manager.SetHomePage(cfg.HomePage)
}

// onConfigFileChanged handles edits made outside the app.
func (a *App) onConfigFileChanged(cfg config.Config) {
	a.cfgSaveMu.Lock()
	previous := a.getConfigSnapshot()
	if previous == cfg {
		a.cfgSaveMu.Unlock()
		return
	}
	a.setConfigSnapshot(cfg)
	event := a.nextConfigEvent(cfg)
	a.cfgSaveMu.Unlock()

	slog.Info("[DEBUG-CONFIG] config file changed", "path", a.configPath)
	a.applyLiveConfig(cfg)
	a.emitRuntimeEvent("config:updated", event)
}

func (a *App) startConfigWatcher(ctx context.Context) {
	watcher, err := config.NewWatcher(a.configPath, a.onConfigFileChanged)
	if err != nil {
		slog.Warn("[WARN-CONFIG] config watcher unavailable", "path", a.configPath, "error", err)
		return
	}
	workerutil.RunWithPanicRecovery(ctx, "config-watcher", &a.bgWG, func(ctx context.Context) {
		if err := watcher.Run(ctx); err != nil {
			slog.Warn("[WARN-CONFIG] config watcher stopped", "error", err)
		}
	}, a.workerRecoveryOptions())
}
