package rodengine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tabdeck/internal/engine"
)

type fakeDriver struct {
	mu        sync.Mutex
	ops       []string
	title     string
	url       string
	infoErr   error
	navErr    error
	closeErr  error
	frozen    bool
	navigated []string
}

func (d *fakeDriver) record(op string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ops = append(d.ops, op)
}

func (d *fakeDriver) navigate(_ context.Context, url string) error {
	d.mu.Lock()
	d.navigated = append(d.navigated, url)
	d.mu.Unlock()
	return d.navErr
}

func (d *fakeDriver) bringToFront() error { d.record("front"); return nil }

func (d *fakeDriver) setFrozen(frozen bool) error {
	d.mu.Lock()
	d.frozen = frozen
	d.mu.Unlock()
	if frozen {
		d.record("freeze")
	} else {
		d.record("thaw")
	}
	return nil
}

func (d *fakeDriver) info() (string, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.title, d.url, d.infoErr
}

func (d *fakeDriver) close() error { d.record("close"); return d.closeErr }

func (d *fakeDriver) opsSnapshot() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ops...)
}

func next(t *testing.T, inst *Instance) engine.Event {
	t.Helper()
	select {
	case ev := <-inst.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return engine.Event{}
	}
}

func TestSuccessfulNavigationEvents(t *testing.T) {
	d := &fakeDriver{title: "Example", url: "https://example.test/page"}
	inst := newInstance(d, false)
	defer inst.Dispose()

	if err := inst.Navigate(context.Background(), "https://example.test/page"); err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}
	inst.onMainFrameNavigated("https://example.test/page", "")
	inst.onLoad()

	want := []engine.Event{
		{Kind: engine.EventNavigationStarted},
		{Kind: engine.EventURLChanged, Value: "https://example.test/page"},
		{Kind: engine.EventURLChanged, Value: "https://example.test/page"},
		{Kind: engine.EventTitleChanged, Value: "Example"},
		{Kind: engine.EventFaviconChanged, Value: "https://example.test/favicon.ico"},
		{Kind: engine.EventNavigationCompleted, Success: true},
	}
	for i, w := range want {
		if got := next(t, inst); got != w {
			t.Fatalf("event %d = %+v, want %+v", i, got, w)
		}
	}
}

func TestFailedNavigationEvents(t *testing.T) {
	d := &fakeDriver{title: "chrome-error", url: "chrome-error://chromewebdata/"}
	inst := newInstance(d, false)
	defer inst.Dispose()

	inst.onMainFrameNavigated("chrome-error://chromewebdata/", "https://down.test/")
	inst.onLoad()

	if ev := next(t, inst); ev.Kind != engine.EventURLChanged || ev.Value != "https://down.test/" {
		t.Fatalf("first event = %+v, want unreachable URL", ev)
	}
	if ev := next(t, inst); ev.Kind != engine.EventURLChanged {
		t.Fatalf("second event = %+v", ev)
	}
	// No title or favicon for error pages.
	if ev := next(t, inst); ev.Kind != engine.EventNavigationCompleted || ev.Success {
		t.Fatalf("third event = %+v, want failed completion", ev)
	}
}

func TestNavigateErrorIsWrapped(t *testing.T) {
	navErr := errors.New("net::ERR_NAME_NOT_RESOLVED")
	inst := newInstance(&fakeDriver{navErr: navErr}, false)
	defer inst.Dispose()
	if err := inst.Navigate(context.Background(), "https://nx.test/"); !errors.Is(err, navErr) {
		t.Fatalf("Navigate() error = %v, want %v", err, navErr)
	}
}

func TestShowHideFreeze(t *testing.T) {
	d := &fakeDriver{}
	inst := newInstance(d, true)
	defer inst.Dispose()

	if err := inst.Show(); err != nil {
		t.Fatalf("Show() error = %v", err)
	}
	if err := inst.Hide(); err != nil {
		t.Fatalf("Hide() error = %v", err)
	}
	got := d.opsSnapshot()
	want := []string{"thaw", "front", "freeze"}
	if len(got) != len(want) {
		t.Fatalf("ops = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ops = %v, want %v", got, want)
		}
	}

	plain := &fakeDriver{}
	unfrozen := newInstance(plain, false)
	defer unfrozen.Dispose()
	_ = unfrozen.Hide()
	if ops := plain.opsSnapshot(); len(ops) != 0 {
		t.Fatalf("Hide() without FreezeHidden ops = %v", ops)
	}
}

func TestDisposeClosesEventsAndRejectsCalls(t *testing.T) {
	d := &fakeDriver{}
	inst := newInstance(d, false)
	if err := inst.Dispose(); err != nil {
		t.Fatalf("Dispose() error = %v", err)
	}
	if _, ok := <-inst.Events(); ok {
		t.Fatal("Events() still open after Dispose")
	}
	if err := inst.Dispose(); !errors.Is(err, engine.ErrDisposed) {
		t.Fatalf("second Dispose() error = %v", err)
	}
	if err := inst.Show(); !errors.Is(err, engine.ErrDisposed) {
		t.Fatalf("Show() after Dispose error = %v", err)
	}
	if err := inst.Navigate(context.Background(), "about:blank"); !errors.Is(err, engine.ErrDisposed) {
		t.Fatalf("Navigate() after Dispose error = %v", err)
	}
}

func TestFaviconFor(t *testing.T) {
	tests := map[string]string{
		"https://a.test/x?y=1": "https://a.test/favicon.ico",
		"http://b.test:8080/":  "http://b.test:8080/favicon.ico",
		"about:newtab":         "",
		"file:///tmp/a.html":   "",
		"":                     "",
	}
	for in, want := range tests {
		if got := faviconFor(in); got != want {
			t.Errorf("faviconFor(%q) = %q, want %q", in, got, want)
		}
	}
}
