package tabs

import (
	"context"
	"log/slog"
	"slices"
	"strings"
)

// SwitchNext activates the next Ready tab, wrapping around.
func (m *Manager) SwitchNext() error {
	return m.switchBy(1)
}

// SwitchPrevious activates the previous Ready tab, wrapping around.
func (m *Manager) SwitchPrevious() error {
	return m.switchBy(-1)
}

func (m *Manager) switchBy(step int) error {
	m.mu.Lock()
	if m.terminated || m.stopped {
		m.mu.Unlock()
		return ErrManagerTerminated
	}
	n := len(m.tabs)
	if n == 0 {
		m.mu.Unlock()
		return nil
	}
	start := m.indexLocked(m.active)
	if start < 0 {
		// No active tab: the first step lands on index 0 or n-1.
		start = 0
		if step > 0 {
			start = n - 1
		}
	}
	var target *Tab
	for i := 1; i <= n; i++ {
		cand := m.tabs[((start+step*i)%n+n)%n]
		if cand.state == StateReady {
			target = cand
			break
		}
	}
	var retired []*Tab
	if target != nil {
		retired = m.activateLocked(target)
	}
	m.mu.Unlock()

	m.disposeTabs(retired)
	return nil
}

// ReopenClosed reopens the most recently closed URL in a new foreground
// tab. It returns false when the reopen stack is empty.
func (m *Manager) ReopenClosed(ctx context.Context) (TabInfo, bool, error) {
	m.mu.Lock()
	if len(m.closedURLs) == 0 {
		m.mu.Unlock()
		return TabInfo{}, false, nil
	}
	url := m.closedURLs[len(m.closedURLs)-1]
	m.closedURLs = m.closedURLs[:len(m.closedURLs)-1]
	m.mu.Unlock()

	info, err := m.CreateTab(ctx, url, false)
	if err != nil {
		return TabInfo{}, false, err
	}
	return info, true, nil
}

// Duplicate opens the URL of the tab with id in a new foreground tab.
func (m *Manager) Duplicate(ctx context.Context, id string) (TabInfo, error) {
	m.mu.RLock()
	t := m.findLocked(id)
	var url string
	if t != nil {
		url = t.url
	}
	m.mu.RUnlock()
	if t == nil {
		return TabInfo{}, ErrTabNotFound
	}
	return m.CreateTab(ctx, url, false)
}

// TogglePin flips the pinned flag of the tab with id and returns the new
// value. Strip order is unchanged.
func (m *Manager) TogglePin(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.terminated || m.stopped {
		return false, ErrManagerTerminated
	}
	t := m.findLocked(id)
	if t == nil {
		return false, ErrTabNotFound
	}
	t.pinned = !t.pinned
	m.opts.Strip.UpdateButton(m.infoLocked(t))
	m.recomputeLayoutLocked()
	m.publishTabLocked(EventTabPinnedChanged, t)
	return t.pinned, nil
}

// MoveTab moves the tab with id to index, clamped to the strip bounds.
func (m *Manager) MoveTab(id string, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.terminated || m.stopped {
		return ErrManagerTerminated
	}
	t := m.findLocked(id)
	if t == nil {
		return ErrTabNotFound
	}
	from := m.indexLocked(t)
	to := max(0, min(index, len(m.tabs)-1))
	if from == to {
		return nil
	}
	m.tabs = slices.Delete(m.tabs, from, from+1)
	m.tabs = slices.Insert(m.tabs, to, t)
	m.recomputeLayoutLocked()
	return nil
}

// OnContainerResized records the strip width and recomputes the layout.
// A width <= 0 keeps the previous layout.
func (m *Manager) OnContainerResized(width int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if width <= 0 {
		slog.Debug("[DEBUG-LAYOUT] ignoring non-positive container width", "width", width)
		return
	}
	m.width = width
	m.recomputeLayoutLocked()
}

// SetHomePage changes the home page. A preload slot warmed for the old
// page is discarded and refilled.
func (m *Manager) SetHomePage(url string) {
	url = strings.TrimSpace(url)
	if url == "" {
		url = DefaultHomePage
	}
	m.mu.Lock()
	if m.homePage == url {
		m.mu.Unlock()
		return
	}
	m.homePage = url
	m.mu.Unlock()

	m.disposeTabs(m.discardPreload())
	m.schedulePreloadFill(0)
	slog.Info("[DEBUG-TABS] home page changed", "url", url)
}
