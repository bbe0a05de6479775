package tabs

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"tabdeck/internal/engine/enginetest"
	"tabdeck/internal/testutil"
)

func preloadOptions() Options {
	opts := testOptions()
	opts.DisablePreload = false
	return opts
}

// slotTab peeks at the preload slot without consuming it.
func slotTab(m *Manager) *Tab {
	m.cache.mu.Lock()
	defer m.cache.mu.Unlock()
	return m.cache.slot
}

func TestPreloadFillAndPromotion(t *testing.T) {
	m, fake := newTestManager(t, preloadOptions())
	m.Start()
	testutil.WaitFor(t, waitTimeout, "initial preload", m.PreloadReady)

	cached := slotTab(m)
	inst := fake.Instances()[0]
	if inst.Visible() {
		t.Fatal("preloaded instance is visible")
	}
	if m.TabCount() != 0 {
		t.Fatal("preloaded tab registered in the strip")
	}

	info := mustCreate(t, m, DefaultHomePage, false)
	if info.ID != cached.id {
		t.Fatalf("CreateTab(home) = %s, want cached %s", info.ID, cached.id)
	}
	if !info.RenderedOnce {
		t.Fatal("promoted tab not marked rendered")
	}
	// Rendered tabs are shown synchronously.
	if !inst.Visible() {
		t.Fatal("promoted tab not visible when CreateTab returned")
	}

	// The slot refills for the next request.
	testutil.WaitFor(t, waitTimeout, "refill", m.PreloadReady)
	if slotTab(m).id == info.ID {
		t.Fatal("promoted tab still cached")
	}
}

func TestPreloadNotUsedForOtherURLs(t *testing.T) {
	m, _ := newTestManager(t, preloadOptions())
	m.Start()
	testutil.WaitFor(t, waitTimeout, "initial preload", m.PreloadReady)
	cached := slotTab(m)

	info := mustCreate(t, m, "https://elsewhere.test/", false)
	if info.ID == cached.id {
		t.Fatal("cached home-page tab used for another URL")
	}
	if slotTab(m) != cached {
		t.Fatal("slot changed by a non-home request")
	}
}

func TestPreloadIsSingleFlight(t *testing.T) {
	fake := enginetest.New()
	fake.CreateDelay = 20 * time.Millisecond
	m := newTestManagerWithEngine(t, fake, preloadOptions())

	var g errgroup.Group
	for range 16 {
		g.Go(func() error {
			m.schedulePreloadFill(0)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("schedule error = %v", err)
	}
	testutil.WaitFor(t, waitTimeout, "preload ready", m.PreloadReady)
	testutil.WaitFor(t, waitTimeout, "fill finished", func() bool { return !m.cache.Filling() })

	if n := len(fake.Instances()); n != 1 {
		t.Fatalf("instances created = %d, want 1", n)
	}
	// A populated slot refuses further fills.
	m.schedulePreloadFill(0)
	if m.cache.Filling() {
		t.Fatal("fill started with a populated slot")
	}
}

func TestPreloadFailureIsSwallowed(t *testing.T) {
	logs := testutil.CaptureLogBuffer(t, slog.LevelDebug)
	fake := enginetest.New()
	var attempts atomic.Int32
	fake.CreateErr = func(int) error {
		attempts.Add(1)
		return errors.New("renderer crashed")
	}
	m := newTestManagerWithEngine(t, fake, preloadOptions())

	m.Start()
	testutil.WaitFor(t, waitTimeout, "fill attempt finished", func() bool {
		return attempts.Load() >= 1 && !m.cache.Filling()
	})
	if m.PreloadReady() {
		t.Fatal("slot populated after failed fill")
	}
	if !logs.Contains("[DEBUG-PRELOAD] fill failed") {
		t.Fatalf("missing fill failure log:\n%s", logs.String())
	}

	// The next fill may succeed.
	fake.CreateErr = nil
	m.schedulePreloadFill(0)
	testutil.WaitFor(t, waitTimeout, "recovered fill", m.PreloadReady)
}

func TestPreloadProceedsAfterNavigationTimeout(t *testing.T) {
	fake := enginetest.New()
	fake.ManualNavigation = true
	opts := preloadOptions()
	opts.PreloadNavigationTimeout = 30 * time.Millisecond
	m := newTestManagerWithEngine(t, fake, opts)

	start := time.Now()
	m.Start()
	testutil.WaitFor(t, waitTimeout, "preload after timeout", m.PreloadReady)
	if elapsed := time.Since(start); elapsed < opts.PreloadNavigationTimeout {
		t.Fatalf("slot filled after %v, before timeout", elapsed)
	}
}

func TestConcurrentHomeCreatesTakeCacheOnce(t *testing.T) {
	m, _ := newTestManager(t, preloadOptions())
	m.Start()
	testutil.WaitFor(t, waitTimeout, "initial preload", m.PreloadReady)
	cached := slotTab(m).id

	const n = 8
	results := make([]TabInfo, n)
	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			info, err := m.CreateTab(context.Background(), DefaultHomePage, true)
			results[i] = info
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("CreateTab() error = %v", err)
	}

	seen := map[string]bool{}
	hits := 0
	for _, info := range results {
		if seen[info.ID] {
			t.Fatalf("tab %s returned twice", info.ID)
		}
		seen[info.ID] = true
		if info.ID == cached {
			hits++
		}
	}
	if hits != 1 {
		t.Fatalf("cached tab returned %d times, want 1", hits)
	}
	if slot := slotTab(m); slot != nil && slices.Contains(tabIDs(m), slot.id) {
		t.Fatal("tab is both cached and registered")
	}
}

func TestSetHomePageDiscardsStaleSlot(t *testing.T) {
	m, fake := newTestManager(t, preloadOptions())
	m.Start()
	testutil.WaitFor(t, waitTimeout, "initial preload", m.PreloadReady)
	old := fake.Instances()[0]

	m.SetHomePage("https://home.test/")
	if !old.Disposed() {
		t.Fatal("stale preload instance not disposed")
	}
	testutil.WaitFor(t, waitTimeout, "refill for new home", func() bool {
		slot := slotTab(m)
		if slot == nil {
			return false
		}
		m.mu.RLock()
		defer m.mu.RUnlock()
		return slot.url == "https://home.test/"
	})
	if m.HomePage() != "https://home.test/" {
		t.Fatalf("HomePage() = %q", m.HomePage())
	}
}

func TestTerminalCloseDisposesPreload(t *testing.T) {
	m, fake := newTestManager(t, preloadOptions())
	only := mustCreate(t, m, "https://a.test/", false)
	testutil.WaitFor(t, waitTimeout, "preload", m.PreloadReady)

	if err := m.CloseTab(only.ID); err != nil {
		t.Fatalf("CloseTab() error = %v", err)
	}
	if m.PreloadReady() {
		t.Fatal("preload slot survived terminal close")
	}
	if live := fake.LiveCount(); live != 0 {
		t.Fatalf("live instances = %d, want 0", live)
	}
}

// TestRandomCommandsKeepActiveInvariant drives a seeded random command
// sequence and checks that the active tab is always registered.
func TestRandomCommandsKeepActiveInvariant(t *testing.T) {
	m, _ := newTestManager(t, preloadOptions())
	m.OnContainerResized(640)
	mustCreate(t, m, DefaultHomePage, false)
	rng := rand.New(rand.NewPCG(7, 11))
	urls := []string{DefaultHomePage, "https://a.test/", "https://b.test/", "about:settings"}

	for step := range 300 {
		ids := tabIDs(m)
		pick := func() string { return ids[rng.IntN(len(ids))] }
		var err error
		switch op := rng.IntN(8); {
		case op < 2:
			_, err = m.CreateTab(context.Background(), urls[rng.IntN(len(urls))], rng.IntN(2) == 0)
		case op == 2 && len(ids) > 1:
			err = m.CloseTab(pick())
		case op == 3:
			err = m.Activate(pick())
		case op == 4:
			err = m.SwitchNext()
		case op == 5:
			err = m.SwitchPrevious()
		case op == 6:
			_, err = m.TogglePin(pick())
		default:
			_, _, err = m.ReopenClosed(context.Background())
		}
		if err != nil && !errors.Is(err, ErrTooManyTabs) && !errors.Is(err, ErrTabNotReady) {
			t.Fatalf("step %d: %v", step, err)
		}

		m.mu.RLock()
		if m.active != nil && !slices.Contains(m.tabs, m.active) {
			m.mu.RUnlock()
			t.Fatalf("step %d: active tab not registered", step)
		}
		if m.layout.VisibleWidth() > m.width {
			m.mu.RUnlock()
			t.Fatalf("step %d: layout width %d exceeds %d", step, m.layout.VisibleWidth(), m.width)
		}
		m.mu.RUnlock()
	}
}

func TestCreateTabSkipsSlotWarmedForOldHomePage(t *testing.T) {
	m, fake := newTestManager(t, preloadOptions())
	m.Start()
	testutil.WaitFor(t, waitTimeout, "initial preload", m.PreloadReady)
	stale := slotTab(m)
	staleInst := fake.Instances()[0]

	// Home page moved after the fill passed its freshness check but before
	// SetHomePage could see the slot.
	m.mu.Lock()
	m.homePage = "https://home.test/"
	m.mu.Unlock()

	info := mustCreate(t, m, "", false)
	if info.ID == stale.id {
		t.Fatal("promoted a tab warmed for the previous home page")
	}
	if info.URL != "https://home.test/" {
		t.Fatalf("URL = %q, want new home page", info.URL)
	}
	if !staleInst.Disposed() {
		t.Fatal("stale preload instance not disposed")
	}
}
