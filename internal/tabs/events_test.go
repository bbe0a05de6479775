package tabs

import (
	"fmt"
	"testing"
	"time"
)

func TestEventBusDeliversInOrder(t *testing.T) {
	bus := newEventBus()
	events, cancel := bus.subscribe()
	defer cancel()

	const n = 500
	for i := range n {
		bus.publish(Event{Kind: EventTabCreated, TabID: fmt.Sprint(i)})
	}
	for i := range n {
		select {
		case ev := <-events:
			if ev.TabID != fmt.Sprint(i) {
				t.Fatalf("event %d has TabID %q", i, ev.TabID)
			}
		case <-time.After(waitTimeout):
			t.Fatalf("timed out at event %d", i)
		}
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	bus := newEventBus()
	events, cancel := bus.subscribe()
	other, cancelOther := bus.subscribe()
	defer cancelOther()

	cancel()
	cancel()
	bus.publish(Event{Kind: EventTabClosed, TabID: "x"})

	for range events {
		t.Fatal("event delivered after unsubscribe")
	}
	if ev := <-other; ev.TabID != "x" {
		t.Fatalf("remaining subscriber got %+v", ev)
	}
}

func TestEventBusCloseFlushesQueue(t *testing.T) {
	bus := newEventBus()
	events, cancel := bus.subscribe()
	defer cancel()

	bus.publish(Event{Kind: EventTabCreated, TabID: "a"})
	bus.publish(Event{Kind: EventTabClosed, TabID: "a"})
	bus.close()

	var got []EventKind
	for ev := range events {
		got = append(got, ev.Kind)
	}
	if len(got) != 2 || got[0] != EventTabCreated || got[1] != EventTabClosed {
		t.Fatalf("events = %v", got)
	}

	late, lateCancel := bus.subscribe()
	defer lateCancel()
	if _, ok := <-late; ok {
		t.Fatal("subscription after close should be closed")
	}
}

func TestEventKindIsTerminal(t *testing.T) {
	for kind, want := range map[EventKind]bool{
		EventWindowShouldClose: true,
		EventAllTabsClosed:     true,
		EventTabClosed:         false,
		EventActiveTabChanged:  false,
	} {
		if got := kind.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", kind, got, want)
		}
	}
}
