// Package rodengine binds the tab manager to a Chromium-family browser
// driven over the DevTools protocol with go-rod. One browser process is
// launched per storage directory; each instance is a page target in it.
package rodengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"tabdeck/internal/engine"
)

// Options configures browser launch.
type Options struct {
	// Bin is the browser executable. Empty lets rod find or download one.
	Bin      string
	Headless bool
	// FreezeHidden freezes hidden pages to save CPU. Hidden pages then stop
	// running scripts until shown again.
	FreezeHidden bool
}

// Factory returns an engine.Factory that launches one browser per storage
// directory. An empty storage directory gets a throwaway profile.
func Factory(opts Options) engine.Factory {
	return func(ctx context.Context, storageDir string) (engine.Engine, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// The browser outlives the request that first needed it.
		l := launcher.New().Context(context.WithoutCancel(ctx)).Headless(opts.Headless)
		if opts.Bin != "" {
			l = l.Bin(opts.Bin)
		}
		if storageDir != "" {
			l = l.UserDataDir(storageDir)
		}
		controlURL, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		browser := rod.New().ControlURL(controlURL)
		if err := browser.Connect(); err != nil {
			l.Kill()
			return nil, fmt.Errorf("connect to browser: %w", err)
		}
		slog.Debug("[DEBUG-ENGINE] browser connected", "storageDir", storageDir, "headless", opts.Headless)
		return &Engine{
			browser:   browser,
			launcher:  l,
			ephemeral: storageDir == "",
			opts:      opts,
		}, nil
	}
}

// Engine is one running browser.
type Engine struct {
	browser   *rod.Browser
	launcher  *launcher.Launcher
	ephemeral bool
	opts      Options

	closeOnce sync.Once
	closeErr  error
}

// CreateInstance opens a hidden blank page.
func (e *Engine) CreateInstance(ctx context.Context) (engine.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page, err := e.browser.Page(proto.TargetCreateTarget{URL: "about:blank", Background: true})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	inst := newInstance(&rodPage{page: page}, e.opts.FreezeHidden)
	inst.listen(page)
	return inst, nil
}

// Close shuts the browser down. Throwaway profiles are deleted.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		if err := e.browser.Close(); err != nil {
			e.launcher.Kill()
			e.closeErr = fmt.Errorf("close browser: %w", err)
		}
		if e.ephemeral {
			e.launcher.Cleanup()
		}
	})
	return e.closeErr
}

// pageDriver is the subset of page control an Instance needs.
type pageDriver interface {
	navigate(ctx context.Context, url string) error
	bringToFront() error
	setFrozen(frozen bool) error
	info() (title, url string, err error)
	close() error
}

type rodPage struct {
	page *rod.Page
}

func (p *rodPage) navigate(ctx context.Context, url string) error {
	return p.page.Context(ctx).Navigate(url)
}

func (p *rodPage) bringToFront() error {
	return proto.PageBringToFront{}.Call(p.page)
}

func (p *rodPage) setFrozen(frozen bool) error {
	state := proto.PageSetWebLifecycleStateStateActive
	if frozen {
		state = proto.PageSetWebLifecycleStateStateFrozen
	}
	return proto.PageSetWebLifecycleState{State: state}.Call(p.page)
}

func (p *rodPage) info() (string, string, error) {
	info, err := p.page.Info()
	if err != nil {
		return "", "", err
	}
	return info.Title, info.URL, nil
}

func (p *rodPage) close() error {
	return p.page.Close()
}

// Instance is one page target.
type Instance struct {
	driver       pageDriver
	freezeHidden bool
	events       *engine.EventQueue

	stopListen context.CancelFunc
	listenDone chan struct{}

	mu        sync.Mutex
	disposed  bool
	visible   bool
	navFailed bool
}

func newInstance(driver pageDriver, freezeHidden bool) *Instance {
	return &Instance{
		driver:       driver,
		freezeHidden: freezeHidden,
		events:       engine.NewEventQueue(),
		stopListen:   func() {},
	}
}

// listen translates DevTools page events into engine events until Dispose.
func (i *Instance) listen(page *rod.Page) {
	ctx, cancel := context.WithCancel(context.Background())
	i.stopListen = cancel
	i.listenDone = make(chan struct{})
	wait := page.Context(ctx).EachEvent(
		func(ev *proto.PageFrameNavigated) {
			if ev.Frame == nil || ev.Frame.ParentID != "" {
				return
			}
			i.onMainFrameNavigated(ev.Frame.URL, ev.Frame.UnreachableURL)
		},
		func(*proto.PageLoadEventFired) {
			i.onLoad()
		},
	)
	go func() {
		defer close(i.listenDone)
		wait()
	}()
}

func (i *Instance) onMainFrameNavigated(frameURL, unreachableURL string) {
	i.mu.Lock()
	i.navFailed = unreachableURL != ""
	i.mu.Unlock()
	if unreachableURL != "" {
		frameURL = unreachableURL
	}
	i.events.Push(engine.Event{Kind: engine.EventURLChanged, Value: frameURL})
}

func (i *Instance) onLoad() {
	i.mu.Lock()
	failed := i.navFailed
	i.mu.Unlock()

	title, pageURL, err := i.driver.info()
	if err != nil {
		slog.Debug("[DEBUG-ENGINE] page info failed", "error", err)
	} else {
		i.events.Push(engine.Event{Kind: engine.EventURLChanged, Value: pageURL})
		if title != "" && !failed {
			i.events.Push(engine.Event{Kind: engine.EventTitleChanged, Value: title})
		}
		if icon := faviconFor(pageURL); icon != "" && !failed {
			i.events.Push(engine.Event{Kind: engine.EventFaviconChanged, Value: icon})
		}
	}
	i.events.Push(engine.Event{Kind: engine.EventNavigationCompleted, Success: !failed})
}

// faviconFor guesses the conventional favicon location for web pages.
func faviconFor(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host + "/favicon.ico"
}

// Navigate starts loading rawURL. It returns once the browser committed the
// request; completion arrives as EventNavigationCompleted.
func (i *Instance) Navigate(ctx context.Context, rawURL string) error {
	if i.isDisposed() {
		return engine.ErrDisposed
	}
	i.events.Push(engine.Event{Kind: engine.EventNavigationStarted})
	if err := i.driver.navigate(ctx, rawURL); err != nil {
		return fmt.Errorf("navigate %q: %w", rawURL, err)
	}
	return nil
}

// Show raises the page and thaws it if frozen.
func (i *Instance) Show() error {
	if err := i.setVisible(true); err != nil {
		return err
	}
	if i.freezeHidden {
		if err := i.driver.setFrozen(false); err != nil {
			return err
		}
	}
	return i.driver.bringToFront()
}

// Hide marks the page hidden and optionally freezes it.
func (i *Instance) Hide() error {
	if err := i.setVisible(false); err != nil {
		return err
	}
	if i.freezeHidden {
		return i.driver.setFrozen(true)
	}
	return nil
}

func (i *Instance) setVisible(v bool) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.disposed {
		return engine.ErrDisposed
	}
	i.visible = v
	return nil
}

// Dispose closes the page and the Events channel.
func (i *Instance) Dispose() error {
	i.mu.Lock()
	if i.disposed {
		i.mu.Unlock()
		return engine.ErrDisposed
	}
	i.disposed = true
	i.mu.Unlock()

	i.stopListen()
	i.events.Close()
	err := i.driver.close()
	if i.listenDone != nil {
		<-i.listenDone
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close page: %w", err)
	}
	return nil
}

// Events implements engine.Instance.
func (i *Instance) Events() <-chan engine.Event {
	return i.events.Out()
}

func (i *Instance) isDisposed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.disposed
}
