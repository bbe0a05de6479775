package main

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"tabdeck/internal/tablayout"
	"tabdeck/internal/tabs"
	"tabdeck/internal/workerutil"
	"tabdeck/internal/wsserver"
)

func wsListenAddr(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(max(port, 0)))
}

// emitRuntimeEvent emits via the app context and delegates to emitRuntimeEventWithContext.
func (a *App) emitRuntimeEvent(name string, payload any) {
	a.emitRuntimeEventWithContext(a.runtimeContext(), name, payload)
}

// emitRuntimeEventWithContext emits a runtime event only when ctx is non-nil.
func (a *App) emitRuntimeEventWithContext(ctx context.Context, name string, payload any) {
	if ctx == nil {
		slog.Warn("[EVENT] runtime event dropped because app context is nil", "event", name)
		return
	}
	runtimeEventsEmitFn(ctx, name, payload)
}

func (a *App) workerRecoveryOptions() workerutil.RecoveryOptions {
	return workerutil.RecoveryOptions{
		IsShutdown: a.shuttingDown.Load,
		OnPanic: func(worker string, attempt int) {
			a.emitRuntimeEvent("app:worker-panic", map[string]any{
				"worker":  worker,
				"attempt": attempt,
			})
		},
	}
}

// startEventForwarder relays manager events to the frontend, both as Wails
// runtime events and on the websocket tabs topic. A terminal event ends the
// run.
func (a *App) startEventForwarder(ctx context.Context) {
	manager, err := a.requireManager()
	if err != nil {
		return
	}
	events, unsubscribe := manager.Subscribe()
	workerutil.RunWithPanicRecovery(ctx, "tab-event-forwarder", &a.bgWG, func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				unsubscribe()
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				a.forwardTabEvent(ev)
			}
		}
	}, a.workerRecoveryOptions())
}

func (a *App) forwardTabEvent(ev tabs.Event) {
	a.emitRuntimeEvent(string(ev.Kind), ev)
	if a.wsHub != nil {
		a.wsHub.Publish(wsserver.TopicTabs, ev)
	}
	if ev.Kind.IsTerminal() {
		slog.Info("[DEBUG-TABS] last tab closed, quitting", "signal", ev.Kind)
		a.requestQuit()
	}
}

func (a *App) publishStripUpdate(msg stripMessage) {
	if a.wsHub == nil {
		return
	}
	a.wsHub.Publish(wsserver.TopicStrip, msg)
}

func (a *App) startStripPublisher(ctx context.Context, strip *hubStrip) {
	workerutil.RunWithPanicRecovery(ctx, "strip-publisher", &a.bgWG, strip.run, a.workerRecoveryOptions())
}

// Strip update operations.
const (
	stripOpAdd    = "add"
	stripOpRemove = "remove"
	stripOpUpdate = "update"
	stripOpLayout = "layout"
)

type stripUpdate struct {
	Op     string            `json:"op"`
	Tab    *tabs.TabInfo     `json:"tab,omitempty"`
	TabID  string            `json:"tab_id,omitempty"`
	Layout *tablayout.Result `json:"layout,omitempty"`
}

// stripMessage is one frame on the strip topic. Updates made between
// SuspendLayout and ResumeLayout travel together so the strip repaints once.
type stripMessage struct {
	Updates []stripUpdate `json:"updates"`
}

// hubStrip implements tabs.Strip for a tab strip rendered by the frontend.
// The manager calls it under its own lock, so calls only queue; run
// publishes in order.
type hubStrip struct {
	publish func(stripMessage)

	mu     sync.Mutex
	depth  int
	batch  []stripUpdate
	queue  []stripMessage
	wakeup chan struct{}
}

func newHubStrip(publish func(stripMessage)) *hubStrip {
	return &hubStrip{publish: publish, wakeup: make(chan struct{}, 1)}
}

func (s *hubStrip) AddButton(info tabs.TabInfo) {
	s.push(stripUpdate{Op: stripOpAdd, Tab: &info})
}

func (s *hubStrip) RemoveButton(id string) {
	s.push(stripUpdate{Op: stripOpRemove, TabID: id})
}

func (s *hubStrip) UpdateButton(info tabs.TabInfo) {
	s.push(stripUpdate{Op: stripOpUpdate, Tab: &info})
}

func (s *hubStrip) ApplyLayout(layout tablayout.Result) {
	s.push(stripUpdate{Op: stripOpLayout, Layout: &layout})
}

func (s *hubStrip) SuspendLayout() {
	s.mu.Lock()
	s.depth++
	s.mu.Unlock()
}

func (s *hubStrip) ResumeLayout() {
	s.mu.Lock()
	if s.depth > 0 {
		s.depth--
	}
	flushed := s.depth == 0 && len(s.batch) > 0
	if flushed {
		s.queue = append(s.queue, stripMessage{Updates: s.batch})
		s.batch = nil
	}
	s.mu.Unlock()
	if flushed {
		s.signal()
	}
}

func (s *hubStrip) push(u stripUpdate) {
	s.mu.Lock()
	if s.depth > 0 {
		s.batch = append(s.batch, u)
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, stripMessage{Updates: []stripUpdate{u}})
	s.mu.Unlock()
	s.signal()
}

func (s *hubStrip) signal() {
	select {
	case s.wakeup <- struct{}{}:
	default:
	}
}

func (s *hubStrip) drain() []stripMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.queue
	s.queue = nil
	return pending
}

func (s *hubStrip) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wakeup:
			for _, msg := range s.drain() {
				s.publish(msg)
			}
		}
	}
}
