package tabs

import (
	"errors"
	"log/slog"
	"slices"
)

// CloseTab closes the tab with id.
//
// Closing the last tab disposes it and emits the terminal signal for the
// manager's Mode; the manager then rejects further commands. Otherwise the
// tab's URL is pushed onto the reopen stack (internal about: pages are
// skipped), the active tab is handed to the nearest remaining tab, and the
// closed tab is disposed once that handoff is visible.
func (m *Manager) CloseTab(id string) error {
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

	if len(m.tabs) == 1 {
		m.closeLastLocked(t)
		m.mu.Unlock()
		m.disposeTabs(append([]*Tab{t}, m.discardPreload()...))
		return nil
	}

	dispose := m.closeLocked(t)
	m.mu.Unlock()
	m.disposeTabs(dispose)
	return nil
}

// closeLocked removes t, hands the active pointer over if needed and
// returns the tabs the caller must dispose.
//
// REQUIRES: m.mu held; len(m.tabs) > 1.
func (m *Manager) closeLocked(t *Tab) []*Tab {
	idx := m.indexLocked(t)
	t.state = StateClosing
	if t.url != "" && !isInternalURL(t.url) {
		m.closedURLs = append(m.closedURLs, t.url)
	}
	m.unregisterLocked(t)

	wasActive := m.active == t
	var next *Tab
	if wasActive {
		m.active = nil
		next = m.nearestReadyLocked(min(idx, len(m.tabs)-1))
	}

	// A visible tab stays on screen until its successor is shown. Without
	// a successor there is nothing to wait for.
	if t.visible && (next != nil || (!wasActive && m.active != nil)) {
		m.retiring = append(m.retiring, t)
	}

	var dispose []*Tab
	switch {
	case next != nil:
		dispose = m.activateLocked(next)
	case wasActive:
		// Only initializing tabs remain. The first to become Ready is
		// activated; if they all fail the manager terminates.
		m.orphanedBy = t.id
		m.publishLocked(Event{Kind: EventActiveTabChanged, PreviousTabID: t.id})
	}

	info := t.infoLocked(false)
	m.publishLocked(Event{Kind: EventTabClosed, TabID: t.id, Tab: &info})
	slog.Debug("[DEBUG-TABS] tab closed", "tabID", t.id, "remaining", len(m.tabs))

	if !slices.Contains(m.retiring, t) && !slices.Contains(dispose, t) {
		dispose = append(dispose, t)
	}
	return dispose
}

// closeLastLocked removes the final tab and emits the terminal signal.
//
// REQUIRES: m.mu held; t is the only registered tab.
func (m *Manager) closeLastLocked(t *Tab) {
	t.state = StateClosing
	m.unregisterLocked(t)
	m.active = nil

	info := t.infoLocked(false)
	m.publishLocked(Event{Kind: EventTabClosed, TabID: t.id, Tab: &info})
	m.terminateLocked(t.id)
}

// terminateLocked marks the manager terminated and emits the terminal
// signal for its Mode. lastID names the last tab that closed.
//
// REQUIRES: m.mu held; m.terminated is false.
func (m *Manager) terminateLocked(lastID string) {
	m.terminated = true
	m.orphanedBy = ""

	kind := EventWindowShouldClose
	if m.opts.Mode == ModeEphemeral {
		kind = EventAllTabsClosed
	}
	m.publishLocked(Event{Kind: kind, TabID: lastID})
	slog.Info("[DEBUG-TABS] last tab closed", "tabID", lastID, "signal", string(kind))
}

// nearestReadyLocked returns the Ready tab at idx, else the nearest Ready
// tab after it, else before it.
//
// REQUIRES: m.mu held.
func (m *Manager) nearestReadyLocked(idx int) *Tab {
	if idx < 0 || idx >= len(m.tabs) {
		return nil
	}
	for i := idx; i < len(m.tabs); i++ {
		if m.tabs[i].state == StateReady {
			return m.tabs[i]
		}
	}
	for i := idx - 1; i >= 0; i-- {
		if m.tabs[i].state == StateReady {
			return m.tabs[i]
		}
	}
	return nil
}

// CloseOthers closes every Ready tab except id.
func (m *Manager) CloseOthers(id string) error {
	return m.closeWhere(id, func(i, keep int) bool { return i != keep })
}

// CloseLeft closes every Ready tab before id.
func (m *Manager) CloseLeft(id string) error {
	return m.closeWhere(id, func(i, keep int) bool { return i < keep })
}

// CloseRight closes every Ready tab after id.
func (m *Manager) CloseRight(id string) error {
	return m.closeWhere(id, func(i, keep int) bool { return i > keep })
}

func (m *Manager) closeWhere(id string, match func(i, keep int) bool) error {
	m.mu.RLock()
	t := m.findLocked(id)
	if t == nil {
		m.mu.RUnlock()
		return ErrTabNotFound
	}
	keep := m.indexLocked(t)
	var ids []string
	for i, other := range m.tabs {
		if match(i, keep) && other.state == StateReady {
			ids = append(ids, other.id)
		}
	}
	m.mu.RUnlock()

	if len(ids) > 0 {
		// The anchor becomes active first so no close hands off to a tab
		// that is about to close.
		if err := m.Activate(id); err != nil {
			return err
		}
	}
	for _, other := range ids {
		if err := m.CloseTab(other); err != nil && !errors.Is(err, ErrTabNotFound) {
			return err
		}
	}
	return nil
}
