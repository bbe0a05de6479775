package tabs

import (
	"strings"

	"tabdeck/internal/engine"
)

// handleInstanceEvent folds one engine notification into t's metadata.
// Tabs still in the preload slot update silently.
func (m *Manager) handleInstanceEvent(t *Tab, ev engine.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.state == StateDisposed {
		return
	}
	registered := m.indexLocked(t) >= 0

	switch ev.Kind {
	case engine.EventNavigationStarted:
		if !t.loading {
			t.loading = true
			m.tabChangedLocked(t, EventTabLoadingStateChanged, registered)
		}

	case engine.EventNavigationCompleted:
		t.loadedOnce = true
		t.signalNavigationLocked(ev.Success)
		if t.loading {
			t.loading = false
			m.tabChangedLocked(t, EventTabLoadingStateChanged, registered)
		}

	case engine.EventTitleChanged:
		title := strings.TrimSpace(ev.Value)
		if title == "" {
			title = DefaultTitle
		}
		if title != t.title {
			t.title = title
			m.tabChangedLocked(t, EventTabTitleChanged, registered)
		}

	case engine.EventURLChanged:
		if ev.Value == "" || ev.Value == t.url {
			return
		}
		t.url = ev.Value
		m.tabChangedLocked(t, EventTabURLChanged, registered)
		if secure := isSecureURL(t.url); secure != t.secure {
			t.secure = secure
			m.tabChangedLocked(t, EventTabSecurityStateChanged, registered)
		}

	case engine.EventFaviconChanged:
		if ev.Value != t.faviconURL {
			t.faviconURL = ev.Value
			m.tabChangedLocked(t, EventTabFaviconChanged, registered)
		}
	}
}

// REQUIRES: m.mu held.
func (m *Manager) tabChangedLocked(t *Tab, kind EventKind, registered bool) {
	if !registered {
		return
	}
	m.opts.Strip.UpdateButton(m.infoLocked(t))
	m.publishTabLocked(kind, t)
}
