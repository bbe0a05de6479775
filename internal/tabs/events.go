package tabs

import (
	"sync"

	"tabdeck/internal/tablayout"
)

// EventKind names a manager notification. Values double as frontend event
// names.
type EventKind string

const (
	EventTabCreated              EventKind = "tab:created"
	EventTabClosed               EventKind = "tab:closed"
	EventActiveTabChanged        EventKind = "tab:active-changed"
	EventTabTitleChanged         EventKind = "tab:title-changed"
	EventTabLoadingStateChanged  EventKind = "tab:loading-changed"
	EventTabURLChanged           EventKind = "tab:url-changed"
	EventTabSecurityStateChanged EventKind = "tab:security-changed"
	EventTabFaviconChanged       EventKind = "tab:favicon-changed"
	EventTabPinnedChanged        EventKind = "tab:pinned-changed"
	EventLayoutChanged           EventKind = "tab:layout-changed"

	// Terminal signals. Exactly one is emitted, once, when the last tab
	// closes.
	EventWindowShouldClose EventKind = "window:should-close"
	EventAllTabsClosed     EventKind = "window:all-tabs-closed"
)

// IsTerminal reports whether k ends the manager's life.
func (k EventKind) IsTerminal() bool {
	return k == EventWindowShouldClose || k == EventAllTabsClosed
}

// Event is one manager notification. Tab is set for tab-scoped kinds;
// PreviousTabID for EventActiveTabChanged; Layout for EventLayoutChanged.
//
// EventActiveTabChanged carries an empty TabID and no Tab when the active
// tab closed and no Ready tab could take over. The next tab to become
// Ready is then activated, or the terminal signal follows if none does.
type Event struct {
	Kind          EventKind         `json:"kind"`
	TabID         string            `json:"tab_id,omitempty"`
	PreviousTabID string            `json:"previous_tab_id,omitempty"`
	Tab           *TabInfo          `json:"tab,omitempty"`
	Layout        *tablayout.Result `json:"layout,omitempty"`
}

// eventBus fans events out to subscribers. Each subscriber has an
// unbounded ordered queue drained by its own goroutine, so publish never
// blocks and a subscriber may call back into the Manager.
//
// Lock ordering: Manager.mu -> eventBus.mu -> subscriber.mu.
type eventBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*subscriber
	closed bool
}

type subscriber struct {
	mu    sync.Mutex
	queue []Event
	wake  chan struct{}
	out   chan Event
	done  chan struct{}
	stop  sync.Once
}

func newEventBus() *eventBus {
	return &eventBus{subs: map[int]*subscriber{}}
}

func (b *eventBus) subscribe() (<-chan Event, func()) {
	sub := &subscriber{
		wake: make(chan struct{}, 1),
		out:  make(chan Event),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.out)
		return sub.out, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	go sub.pump()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		sub.close()
	}
	return sub.out, cancel
}

func (b *eventBus) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		sub.enqueue(ev)
	}
}

// close stops every subscriber after its queued events are delivered.
func (b *eventBus) close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = map[int]*subscriber{}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.enqueue(Event{})
	}
}

func (s *subscriber) enqueue(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) close() {
	s.stop.Do(func() { close(s.done) })
}

// pump delivers queued events in order. A zero Event is the end-of-stream
// marker queued by eventBus.close.
func (s *subscriber) pump() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			if ev.Kind == "" {
				return
			}
			select {
			case s.out <- ev:
			case <-s.done:
				return
			}
		}
	}
}
