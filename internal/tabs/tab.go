package tabs

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"tabdeck/internal/engine"
)

// State is the lifecycle position of a Tab.
type State string

const (
	StateCreated      State = "created"
	StateInitializing State = "initializing"
	StateReady        State = "ready"
	StateClosing      State = "closing"
	StateDisposed     State = "disposed"
)

// Tab is one open document. All fields are guarded by Manager.mu; the
// preload slot owns its tab exclusively until it is promoted.
type Tab struct {
	id       string
	instance engine.Instance

	state        State
	title        string
	url          string
	faviconURL   string
	loading      bool
	secure       bool
	pinned       bool
	renderedOnce bool
	// loadedOnce is set by the first navigation-completed event.
	loadedOnce  bool
	visible     bool
	pendingShow bool
	lastActive  time.Time
	// warmedFor is the home page a preload fill built the tab for. Set
	// before the tab is published to the slot and never changed.
	warmedFor string

	navWaiters []chan bool
}

func newTab(url string) *Tab {
	return &Tab{
		id:     uuid.NewString(),
		state:  StateCreated,
		title:  DefaultTitle,
		url:    url,
		secure: isSecureURL(url),
	}
}

// awaitNavigationLocked returns a channel receiving the success flag of the
// next navigation-completed event.
//
// REQUIRES: Manager.mu held.
func (t *Tab) awaitNavigationLocked() <-chan bool {
	ch := make(chan bool, 1)
	t.navWaiters = append(t.navWaiters, ch)
	return ch
}

// REQUIRES: Manager.mu held.
func (t *Tab) signalNavigationLocked(success bool) {
	for _, ch := range t.navWaiters {
		ch <- success
	}
	t.navWaiters = nil
}

// REQUIRES: Manager.mu held.
func (t *Tab) infoLocked(active bool) TabInfo {
	return TabInfo{
		ID:             t.id,
		Title:          t.title,
		URL:            t.url,
		FaviconURL:     t.faviconURL,
		Loading:        t.loading,
		Secure:         t.secure,
		Pinned:         t.pinned,
		Active:         active,
		RenderedOnce:   t.renderedOnce,
		State:          t.state,
		LastActiveTime: t.lastActive,
	}
}

// TabInfo is a point-in-time copy of a Tab's chrome metadata.
type TabInfo struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	URL            string    `json:"url"`
	FaviconURL     string    `json:"favicon_url,omitempty"`
	Loading        bool      `json:"loading"`
	Secure         bool      `json:"secure"`
	Pinned         bool      `json:"pinned"`
	Active         bool      `json:"active"`
	RenderedOnce   bool      `json:"rendered_once"`
	State          State     `json:"state"`
	LastActiveTime time.Time `json:"last_active_time"`
}

// isSecureURL treats https and internal about: pages as secure.
func isSecureURL(url string) bool {
	lower := strings.ToLower(strings.TrimSpace(url))
	return strings.HasPrefix(lower, "https://") || isInternalURL(lower)
}

func isInternalURL(url string) bool {
	return strings.HasPrefix(strings.ToLower(url), "about:")
}
