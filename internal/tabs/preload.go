package tabs

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// PreloadCache holds at most one hidden, rendered home-page tab.
//
// mu guards slot and fillInFlight together so a fill publishing its result
// and a CreateTab consuming the slot can never interleave. mu is a leaf
// lock: never acquire Manager.mu while holding it.
type PreloadCache struct {
	mu           sync.Mutex
	slot         *Tab
	fillInFlight bool
}

// Take removes and returns the cached tab, or nil.
func (c *PreloadCache) Take() *Tab {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.slot
	c.slot = nil
	return t
}

// Populated reports whether the slot holds a tab.
func (c *PreloadCache) Populated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slot != nil
}

// Filling reports whether a fill is in flight.
func (c *PreloadCache) Filling() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fillInFlight
}

// beginFill claims the single fill permit. It fails when a fill is already
// running or the slot is populated.
func (c *PreloadCache) beginFill() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fillInFlight || c.slot != nil {
		return false
	}
	c.fillInFlight = true
	return true
}

// finishFill publishes t into an empty slot and releases the permit. It
// returns false when the slot was already populated; the caller then owns
// t and must dispose it.
func (c *PreloadCache) finishFill(t *Tab) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fillInFlight = false
	if c.slot != nil {
		return false
	}
	c.slot = t
	return true
}

// takeIf removes t from the slot if it is still cached there.
func (c *PreloadCache) takeIf(t *Tab) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slot != t {
		return false
	}
	c.slot = nil
	return true
}

func (c *PreloadCache) abortFill() {
	c.mu.Lock()
	c.fillInFlight = false
	c.mu.Unlock()
}

// schedulePreloadFill starts a background fill after delay unless one is
// running or the slot is populated.
func (m *Manager) schedulePreloadFill(delay time.Duration) {
	if m.opts.DisablePreload {
		return
	}
	m.mu.RLock()
	done := m.stopped || m.terminated
	m.mu.RUnlock()
	if done || !m.cache.beginFill() {
		return
	}
	started := m.runBackground("preload-fill", func() {
		m.fillPreload(delay)
	})
	if !started {
		m.cache.abortFill()
	}
}

// fillPreload builds one hidden home-page tab and publishes it into the
// slot. Every failure is logged and swallowed.
func (m *Manager) fillPreload(delay time.Duration) {
	var t *Tab
	published, stale := false, false
	defer func() {
		if published {
			return
		}
		m.cache.abortFill()
		if t != nil {
			m.disposeTabs([]*Tab{t})
		}
		if stale {
			m.schedulePreloadFill(0)
		}
	}()

	if !m.sleep(delay) {
		return
	}

	m.mu.RLock()
	home := m.homePage
	m.mu.RUnlock()

	t = newTab(home)
	t.warmedFor = home
	nav, err := m.initTab(m.ctx, t, home)
	if err != nil {
		t = nil // initTab disposed the instance
		slog.Warn("[DEBUG-PRELOAD] fill failed", "error", fmt.Errorf("%w: %w", ErrPreloadFill, err))
		return
	}

	timer := time.NewTimer(m.opts.PreloadNavigationTimeout)
	select {
	case <-nav:
		timer.Stop()
	case <-timer.C:
		slog.Debug("[DEBUG-PRELOAD] navigation timed out, caching anyway",
			"tabID", t.id, "timeout", m.opts.PreloadNavigationTimeout)
	case <-m.ctx.Done():
		timer.Stop()
		return
	}
	if !m.sleep(m.opts.PreloadSettleDelay) {
		return
	}

	m.mu.Lock()
	if m.stopped || m.terminated || m.homePage != home {
		stale = !m.stopped && !m.terminated
		m.mu.Unlock()
		slog.Debug("[DEBUG-PRELOAD] discarding stale fill", "tabID", t.id, "url", home)
		return
	}
	m.hideLocked(t)
	t.renderedOnce = true
	t.state = StateReady
	m.mu.Unlock()

	if !m.cache.finishFill(t) {
		slog.Debug("[DEBUG-PRELOAD] slot already populated, disposing redundant tab", "tabID", t.id)
		published = true
		m.disposeTabs([]*Tab{t})
		return
	}
	published = true
	slog.Debug("[DEBUG-PRELOAD] slot filled", "tabID", t.id, "url", home)

	// A drain by a terminal close or by SetHomePage may have landed between
	// the check above and publish.
	m.mu.RLock()
	done := m.stopped || m.terminated
	moved := m.homePage != home
	m.mu.RUnlock()
	if !done && !moved {
		return
	}
	if m.cache.takeIf(t) {
		slog.Debug("[DEBUG-PRELOAD] discarding fill published after drain", "tabID", t.id, "url", home)
		m.disposeTabs([]*Tab{t})
	}
	if !done {
		m.schedulePreloadFill(0)
	}
}

// discardPreload empties the slot and returns its tab, if any.
func (m *Manager) discardPreload() []*Tab {
	if t := m.cache.Take(); t != nil {
		return []*Tab{t}
	}
	return nil
}

// sleep waits d or until the manager stops. It reports whether the full
// duration elapsed.
func (m *Manager) sleep(d time.Duration) bool {
	if d <= 0 {
		return m.ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-m.ctx.Done():
		return false
	}
}
