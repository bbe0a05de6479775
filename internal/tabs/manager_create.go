package tabs

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"tabdeck/internal/engine"
)

// CreateTab opens url in a new tab and returns its snapshot. An empty url
// opens the home page. The tab is activated unless background is set and
// another tab is already active.
//
// Opening the home page promotes the preload slot when it is populated;
// otherwise a fresh instance is created and navigated. On engine failure
// the tab is rolled back and the error wraps ErrEngineInit. ctx is only
// consulted before work starts: an accepted request runs to completion.
func (m *Manager) CreateTab(ctx context.Context, url string, background bool) (TabInfo, error) {
	if err := ctx.Err(); err != nil {
		return TabInfo{}, err
	}

	m.mu.RLock()
	if url == "" {
		url = m.homePage
	}
	home := m.homePage
	err := m.admitLocked()
	m.mu.RUnlock()
	if err != nil {
		return TabInfo{}, err
	}

	var t *Tab
	if url == home {
		t = m.cache.Take()
		if t != nil && t.warmedFor != home {
			slog.Debug("[DEBUG-PRELOAD] cached tab warmed for another home page", "tabID", t.id, "warmedFor", t.warmedFor)
			m.disposeTabs([]*Tab{t})
			t = nil
		}
	}

	if t != nil {
		slog.Debug("[DEBUG-PRELOAD] promoting cached tab", "tabID", t.id)
		m.mu.Lock()
		if err := m.admitLocked(); err != nil {
			m.mu.Unlock()
			m.disposeTabs([]*Tab{t})
			return TabInfo{}, err
		}
		m.registerLocked(t)
	} else {
		var err error
		if t, err = m.createFresh(ctx, url); err != nil {
			return TabInfo{}, err
		}
		m.mu.Lock()
		if m.stopped || t.state == StateDisposed {
			m.mu.Unlock()
			m.disposeTabs([]*Tab{t})
			return TabInfo{}, ErrManagerTerminated
		}
	}

	t.state = StateReady
	var retired []*Tab
	if !background || m.active == nil {
		retired = m.activateLocked(t)
	} else if t.visible {
		m.hideLocked(t)
	}
	m.opts.Strip.UpdateButton(m.infoLocked(t))
	m.publishTabLocked(EventTabCreated, t)
	info := m.infoLocked(t)
	m.mu.Unlock()

	m.disposeTabs(retired)
	m.schedulePreloadFill(0)
	slog.Debug("[DEBUG-TABS] tab created", "tabID", info.ID, "url", url, "background", background)
	return info, nil
}

// createFresh registers a new tab, then creates and navigates its engine
// instance. On failure the tab is unregistered again.
func (m *Manager) createFresh(ctx context.Context, url string) (*Tab, error) {
	t := newTab(url)

	m.mu.Lock()
	if err := m.admitLocked(); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.registerLocked(t)
	m.mu.Unlock()

	if _, err := m.initTab(ctx, t, url); err != nil {
		m.mu.Lock()
		m.unregisterLocked(t)
		// The active tab closed while this one was initializing and nothing
		// is left to take over.
		terminal := m.orphanedBy != "" && len(m.tabs) == 0 && !m.terminated && !m.stopped
		if terminal {
			m.terminateLocked(m.orphanedBy)
		}
		m.mu.Unlock()
		slog.Warn("[DEBUG-TABS] tab initialization failed, rolled back", "tabID", t.id, "url", url, "error", err)
		if terminal {
			m.disposeTabs(m.discardPreload())
		}
		return nil, fmt.Errorf("%w: %w", ErrEngineInit, err)
	}
	return t, nil
}

// initTab creates t's engine instance, starts its event pump and requests
// navigation to url. The returned channel receives the first navigation
// result. On failure the instance is disposed and t is marked disposed.
func (m *Manager) initTab(ctx context.Context, t *Tab, url string) (<-chan bool, error) {
	ctx = context.WithoutCancel(ctx)

	env, err := m.registry.Get(ctx, m.opts.StorageDir)
	if err != nil {
		m.disposeTabs([]*Tab{t})
		return nil, err
	}
	inst, err := env.CreateInstance(ctx)
	if err != nil {
		m.disposeTabs([]*Tab{t})
		return nil, fmt.Errorf("create instance: %w", err)
	}

	m.mu.Lock()
	if m.stopped || t.state == StateDisposed {
		m.mu.Unlock()
		if derr := inst.Dispose(); derr != nil {
			slog.Debug("[DEBUG-TABS] dispose failed", "tabID", t.id, "error", derr)
		}
		return nil, ErrManagerTerminated
	}
	t.instance = inst
	t.state = StateInitializing
	nav := t.awaitNavigationLocked()
	events := inst.Events()
	m.runBackgroundLocked("tab-events", func() {
		m.pumpInstanceEvents(t, events)
	})
	m.mu.Unlock()

	if err := inst.Navigate(ctx, url); err != nil {
		m.disposeTabs([]*Tab{t})
		return nil, fmt.Errorf("navigate %q: %w", url, err)
	}
	return nav, nil
}

// pumpInstanceEvents applies engine events to t until the instance closes
// its channel.
func (m *Manager) pumpInstanceEvents(t *Tab, events <-chan engine.Event) {
	for ev := range events {
		m.handleInstanceEvent(t, ev)
	}
}

// REQUIRES: m.mu held (read or write).
func (m *Manager) admitLocked() error {
	if m.stopped || m.terminated {
		return ErrManagerTerminated
	}
	if len(m.tabs) >= m.opts.MaxTabs {
		return fmt.Errorf("%w: %d", ErrTooManyTabs, m.opts.MaxTabs)
	}
	return nil
}

// REQUIRES: m.mu held.
func (m *Manager) registerLocked(t *Tab) {
	m.tabs = append(m.tabs, t)
	m.opts.Strip.AddButton(m.infoLocked(t))
	m.recomputeLayoutLocked()
}

// REQUIRES: m.mu held.
func (m *Manager) unregisterLocked(t *Tab) {
	idx := m.indexLocked(t)
	if idx < 0 {
		return
	}
	m.tabs = slices.Delete(m.tabs, idx, idx+1)
	m.opts.Strip.RemoveButton(t.id)
	m.recomputeLayoutLocked()
}
