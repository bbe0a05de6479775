// Package tabs owns the tab collection of one shell window: creation,
// activation, closing, reopening, the preload cache and strip layout.
package tabs

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"tabdeck/internal/engine"
	"tabdeck/internal/tablayout"
	"tabdeck/internal/workerutil"
)

// Manager orchestrates the tabs of one shell window.
//
// Every mutation of tab state happens under mu. Engine calls that may block
// (instance creation, navigation, disposal) run without mu; Show and Hide
// run under mu so visibility changes are ordered with the active pointer.
//
// Lock ordering: mu -> eventBus.mu. PreloadCache.mu and engine.Registry.mu
// are never acquired while mu is held.
type Manager struct {
	opts     Options
	registry *engine.Registry
	cache    PreloadCache
	bus      *eventBus

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	tabs   []*Tab
	active *Tab
	// retiring holds closed tabs that stay visible until a pending show
	// of their successor completes.
	retiring []*Tab
	// orphanedBy is the id of a closed active tab that left only
	// initializing tabs behind. Cleared by the next activation.
	orphanedBy string
	closedURLs []string
	homePage   string
	width      int
	layout     tablayout.Result
	terminated bool
	stopped    bool
}

// New returns a manager that creates instances from registry's
// environment for opts.StorageDir.
func New(registry *engine.Registry, opts Options) *Manager {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:     opts,
		registry: registry,
		bus:      newEventBus(),
		ctx:      ctx,
		cancel:   cancel,
		homePage: opts.HomePage,
	}
}

// Start schedules the first preload fill after PreloadInitialDelay.
func (m *Manager) Start() {
	m.schedulePreloadFill(m.opts.PreloadInitialDelay)
}

// Close disposes every tab, including the preload slot, and waits for
// background work. It does not emit a terminal signal and does not close
// the registry.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.cancel()
	doomed := append(slices.Clone(m.tabs), m.retiring...)
	m.tabs = nil
	m.retiring = nil
	m.active = nil
	m.mu.Unlock()

	doomed = append(doomed, m.discardPreload()...)
	m.disposeTabs(doomed)
	m.wg.Wait()
	// A fill that lost the race with the drain above publishes after it.
	m.disposeTabs(m.discardPreload())
	m.bus.close()
	slog.Debug("[DEBUG-TABS] manager closed", "disposed", len(doomed))
}

// Subscribe returns a channel of manager events in emission order and a
// func that ends the subscription. The channel is closed after cancel or
// Close.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	return m.bus.subscribe()
}

// Tabs returns a snapshot of every tab in strip order.
func (m *Manager) Tabs() []TabInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TabInfo, 0, len(m.tabs))
	for _, t := range m.tabs {
		out = append(out, m.infoLocked(t))
	}
	return out
}

// TabCount returns the number of registered tabs.
func (m *Manager) TabCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tabs)
}

// GetTab returns a snapshot of the tab with id.
func (m *Manager) GetTab(id string) (TabInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t := m.findLocked(id)
	if t == nil {
		return TabInfo{}, ErrTabNotFound
	}
	return m.infoLocked(t), nil
}

// ActiveTab returns the active tab, if any.
func (m *Manager) ActiveTab() (TabInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return TabInfo{}, false
	}
	return m.infoLocked(m.active), true
}

// OverflowTabs returns the tabs hidden behind the overflow affordance, in
// strip order.
func (m *Manager) OverflowTabs() []TabInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TabInfo, 0, len(m.layout.Overflow))
	for _, id := range m.layout.Overflow {
		if t := m.findLocked(id); t != nil {
			out = append(out, m.infoLocked(t))
		}
	}
	return out
}

// Layout returns the last computed strip layout.
func (m *Manager) Layout() tablayout.Result {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.layout
}

// ClosedCount returns the depth of the reopen stack.
func (m *Manager) ClosedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.closedURLs)
}

// HomePage returns the configured home page.
func (m *Manager) HomePage() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.homePage
}

// Terminated reports whether the last tab has closed.
func (m *Manager) Terminated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.terminated
}

// PreloadReady reports whether the preload slot is populated.
func (m *Manager) PreloadReady() bool {
	return m.cache.Populated()
}

// REQUIRES: m.mu held (read or write).
func (m *Manager) infoLocked(t *Tab) TabInfo {
	return t.infoLocked(t == m.active)
}

// REQUIRES: m.mu held (read or write).
func (m *Manager) findLocked(id string) *Tab {
	for _, t := range m.tabs {
		if t.id == id {
			return t
		}
	}
	return nil
}

// REQUIRES: m.mu held (read or write).
func (m *Manager) indexLocked(t *Tab) int {
	return slices.Index(m.tabs, t)
}

// REQUIRES: m.mu held.
func (m *Manager) publishLocked(ev Event) {
	m.bus.publish(ev)
}

// REQUIRES: m.mu held.
func (m *Manager) publishTabLocked(kind EventKind, t *Tab) {
	info := m.infoLocked(t)
	m.publishLocked(Event{Kind: kind, TabID: t.id, Tab: &info})
}

// recomputeLayoutLocked applies a fresh layout to the strip. An unusable
// container width keeps the previous layout.
//
// REQUIRES: m.mu held.
func (m *Manager) recomputeLayoutLocked() {
	if m.width <= 0 {
		return
	}
	buttons := make([]tablayout.Button, 0, len(m.tabs))
	for _, t := range m.tabs {
		buttons = append(buttons, tablayout.Button{ID: t.id, Pinned: t.pinned})
	}
	res, err := tablayout.Compute(buttons, m.width, m.opts.Layout)
	if err != nil {
		slog.Debug("[DEBUG-LAYOUT] layout skipped", "width", m.width, "error", err)
		return
	}
	m.opts.Strip.ApplyLayout(res)
	if layoutEqual(m.layout, res) {
		return
	}
	m.layout = res
	m.publishLocked(Event{Kind: EventLayoutChanged, Layout: &res})
}

func layoutEqual(a, b tablayout.Result) bool {
	return a.ShowOverflow == b.ShowOverflow &&
		a.NormalWidth == b.NormalWidth &&
		slices.Equal(a.Placements, b.Placements) &&
		slices.Equal(a.Overflow, b.Overflow)
}

// REQUIRES: m.mu held.
func (m *Manager) showLocked(t *Tab) {
	if t.instance == nil {
		return
	}
	if err := t.instance.Show(); err != nil {
		slog.Warn("[DEBUG-TABS] show failed", "tabID", t.id, "error", err)
		return
	}
	t.visible = true
}

// REQUIRES: m.mu held.
func (m *Manager) hideLocked(t *Tab) {
	if t.instance == nil {
		return
	}
	if err := t.instance.Hide(); err != nil {
		slog.Debug("[DEBUG-TABS] hide failed", "tabID", t.id, "error", err)
	}
	t.visible = false
}

// hideOthersLocked hides every visible tab except keep and returns the
// retiring tabs that may now be disposed.
//
// REQUIRES: m.mu held.
func (m *Manager) hideOthersLocked(keep *Tab) []*Tab {
	for _, t := range m.tabs {
		if t != keep && t.visible {
			m.hideLocked(t)
		}
	}
	retired := m.retiring
	m.retiring = nil
	for _, t := range retired {
		if t.visible {
			m.hideLocked(t)
		}
	}
	return retired
}

// disposeTabs tears down each tab's instance. Already disposed tabs are
// skipped.
func (m *Manager) disposeTabs(tabs []*Tab) {
	for _, t := range tabs {
		m.mu.Lock()
		if t.state == StateDisposed {
			m.mu.Unlock()
			continue
		}
		t.state = StateDisposed
		t.visible = false
		t.pendingShow = false
		t.signalNavigationLocked(false)
		inst := t.instance
		m.mu.Unlock()

		if inst == nil {
			continue
		}
		if err := inst.Dispose(); err != nil {
			slog.Debug("[DEBUG-TABS] dispose failed", "tabID", t.id, "error", err)
		}
	}
}

// runBackground starts fn unless the manager is closing.
func (m *Manager) runBackground(name string, fn func()) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runBackgroundLocked(name, fn)
}

// REQUIRES: m.mu held (read or write). Holding mu orders the WaitGroup
// add before Close's Wait.
func (m *Manager) runBackgroundLocked(name string, fn func()) bool {
	if m.stopped {
		return false
	}
	workerutil.RunOnce(name, &m.wg, fn, nil)
	return true
}
