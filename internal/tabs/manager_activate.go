package tabs

import (
	"log/slog"
	"time"
)

// Activate makes the tab with id the active tab. Activating the active tab
// is a no-op.
func (m *Manager) Activate(id string) error {
	m.mu.Lock()
	if m.terminated || m.stopped {
		m.mu.Unlock()
		return ErrManagerTerminated
	}
	t := m.findLocked(id)
	if t == nil {
		m.mu.Unlock()
		return ErrTabNotFound
	}
	if t.state != StateReady {
		m.mu.Unlock()
		return ErrTabNotReady
	}
	retired := m.activateLocked(t)
	m.mu.Unlock()

	m.disposeTabs(retired)
	return nil
}

// activateLocked switches the active pointer to t. The new tab is shown
// before any other tab is hidden. A tab that has never rendered is shown
// by a pending show once its first navigation completes (bounded by
// PendingShowFallback); the previously visible tab stays on screen until
// then. It returns retiring tabs that are now hidden and must be disposed
// by the caller after releasing mu.
//
// REQUIRES: m.mu held; t registered and Ready.
func (m *Manager) activateLocked(t *Tab) []*Tab {
	if m.active == t {
		return nil
	}
	prev := m.active

	m.opts.Strip.SuspendLayout()
	var retired []*Tab
	if t.renderedOnce {
		m.showLocked(t)
		retired = m.hideOthersLocked(t)
	} else {
		m.schedulePendingShowLocked(t)
	}
	m.opts.Strip.ResumeLayout()

	m.active = t
	m.orphanedBy = ""
	t.lastActive = m.opts.Now()

	prevID := ""
	if prev != nil {
		prevID = prev.id
		m.opts.Strip.UpdateButton(m.infoLocked(prev))
	}
	info := m.infoLocked(t)
	m.opts.Strip.UpdateButton(info)
	m.publishLocked(Event{Kind: EventActiveTabChanged, TabID: t.id, PreviousTabID: prevID, Tab: &info})
	slog.Debug("[DEBUG-TABS] active tab changed", "tabID", t.id, "previousTabID", prevID, "pendingShow", t.pendingShow)
	return retired
}

// schedulePendingShowLocked waits for t's first navigation (or uses the
// one already observed), lets it settle, then shows t if it is still the
// active tab.
//
// REQUIRES: m.mu held.
func (m *Manager) schedulePendingShowLocked(t *Tab) {
	if t.pendingShow {
		return
	}
	t.pendingShow = true

	var nav <-chan bool
	if !t.loadedOnce {
		nav = t.awaitNavigationLocked()
	}
	started := m.runBackgroundLocked("pending-show", func() {
		m.waitPendingShow(t, nav)
		m.mu.Lock()
		retired := m.completePendingShowLocked(t)
		m.mu.Unlock()
		m.disposeTabs(retired)
	})
	if !started {
		t.pendingShow = false
	}
}

// waitPendingShow blocks until nav fires plus PendingShowSettle, the
// PendingShowFallback deadline passes, or the manager stops.
func (m *Manager) waitPendingShow(t *Tab, nav <-chan bool) {
	fallback := time.NewTimer(m.opts.PendingShowFallback)
	defer fallback.Stop()

	if nav != nil {
		select {
		case <-nav:
		case <-fallback.C:
			slog.Debug("[DEBUG-TABS] pending show fallback fired", "tabID", t.id)
			return
		case <-m.ctx.Done():
			return
		}
	}
	if m.opts.PendingShowSettle <= 0 {
		return
	}
	settle := time.NewTimer(m.opts.PendingShowSettle)
	defer settle.Stop()
	select {
	case <-settle.C:
	case <-fallback.C:
	case <-m.ctx.Done():
	}
}

// REQUIRES: m.mu held.
func (m *Manager) completePendingShowLocked(t *Tab) []*Tab {
	if !t.pendingShow || t.state != StateReady || m.stopped {
		return nil
	}
	t.pendingShow = false
	t.renderedOnce = true
	if m.active != t {
		// Superseded by a later activation; content is ready off screen.
		return nil
	}
	m.opts.Strip.SuspendLayout()
	m.showLocked(t)
	retired := m.hideOthersLocked(t)
	m.opts.Strip.ResumeLayout()
	return retired
}
