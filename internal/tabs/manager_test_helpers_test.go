package tabs

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"tabdeck/internal/engine"
	"tabdeck/internal/engine/enginetest"
	"tabdeck/internal/tablayout"
	"tabdeck/internal/testutil"
)

const waitTimeout = 3 * time.Second

// testOptions returns fast timings with preload disabled.
func testOptions() Options {
	return Options{
		StorageDir:               "profile",
		DisablePreload:           true,
		PreloadNavigationTimeout: 200 * time.Millisecond,
		PendingShowFallback:      200 * time.Millisecond,
	}
}

func newTestManager(t *testing.T, opts Options) (*Manager, *enginetest.Engine) {
	t.Helper()
	fake := enginetest.New()
	return newTestManagerWithEngine(t, fake, opts), fake
}

func newTestManagerWithEngine(t *testing.T, fake *enginetest.Engine, opts Options) *Manager {
	t.Helper()
	reg := engine.NewRegistry(fake.Factory(nil))
	m := New(reg, opts)
	t.Cleanup(func() {
		m.Close()
		if err := reg.Close(); err != nil {
			t.Errorf("registry Close() error = %v", err)
		}
	})
	return m
}

func mustCreate(t *testing.T, m *Manager, url string, background bool) TabInfo {
	t.Helper()
	info, err := m.CreateTab(context.Background(), url, background)
	if err != nil {
		t.Fatalf("CreateTab(%q) error = %v", url, err)
	}
	return info
}

// instanceOf returns the fake instance backing the registered tab id.
func instanceOf(t *testing.T, m *Manager, id string) *enginetest.Instance {
	t.Helper()
	m.mu.RLock()
	defer m.mu.RUnlock()
	tab := m.findLocked(id)
	if tab == nil {
		t.Fatalf("tab %s not registered", id)
	}
	inst, ok := tab.instance.(*enginetest.Instance)
	if !ok {
		t.Fatalf("tab %s has instance %T", id, tab.instance)
	}
	return inst
}

func waitVisible(t *testing.T, inst *enginetest.Instance) {
	t.Helper()
	testutil.WaitFor(t, waitTimeout, "instance "+inst.ID()+" visible", inst.Visible)
}

// waitLoaded waits until the tab's first navigation has been observed.
func waitLoaded(t *testing.T, m *Manager, id string) {
	t.Helper()
	testutil.WaitFor(t, waitTimeout, "tab "+id+" loaded", func() bool {
		m.mu.RLock()
		defer m.mu.RUnlock()
		tab := m.findLocked(id)
		return tab != nil && tab.loadedOnce
	})
}

// waitEvent reads events until one of kind arrives.
func waitEvent(t *testing.T, events <-chan Event, kind EventKind) Event {
	t.Helper()
	timer := time.NewTimer(waitTimeout)
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event stream closed while waiting for %s", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-timer.C:
			t.Fatalf("timed out waiting for event %s", kind)
		}
	}
}

// drainEvents collects events until the stream is quiet for idle.
func drainEvents(events <-chan Event, idle time.Duration) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-time.After(idle):
			return out
		}
	}
}

func activeID(m *Manager) string {
	info, ok := m.ActiveTab()
	if !ok {
		return ""
	}
	return info.ID
}

func tabIDs(m *Manager) []string {
	var ids []string
	for _, info := range m.Tabs() {
		ids = append(ids, info.ID)
	}
	return ids
}

// callIndex returns the position of the last op on inst at or after from,
// or -1.
func callIndex(calls []enginetest.Call, op, inst string, from int) int {
	idx := -1
	for i := from; i < len(calls); i++ {
		if calls[i].Op == op && calls[i].Instance == inst {
			idx = i
		}
	}
	return idx
}

// recordingStrip records Strip calls.
type recordingStrip struct {
	mu       sync.Mutex
	calls    []string
	buttons  []string
	suspends int
	layouts  []tablayout.Result
}

func (s *recordingStrip) AddButton(info TabInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "add:"+info.ID)
	s.buttons = append(s.buttons, info.ID)
}

func (s *recordingStrip) RemoveButton(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "remove:"+id)
	s.buttons = slices.DeleteFunc(s.buttons, func(b string) bool { return b == id })
}

func (s *recordingStrip) UpdateButton(TabInfo) {}

func (s *recordingStrip) SuspendLayout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspends++
	s.calls = append(s.calls, "suspend")
}

func (s *recordingStrip) ResumeLayout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspends--
	s.calls = append(s.calls, "resume")
}

func (s *recordingStrip) ApplyLayout(res tablayout.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layouts = append(s.layouts, res)
}

func (s *recordingStrip) snapshot() (calls, buttons []string, suspends int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls), slices.Clone(s.buttons), s.suspends
}
