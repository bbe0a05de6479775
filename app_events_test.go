package main

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"tabdeck/internal/tablayout"
	"tabdeck/internal/tabs"
	"tabdeck/internal/testutil"
)

type stripSink struct {
	mu   sync.Mutex
	msgs []stripMessage
}

func (s *stripSink) publish(msg stripMessage) {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
}

func (s *stripSink) snapshot() []stripMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stripMessage(nil), s.msgs...)
}

func runStrip(t *testing.T) (*hubStrip, *stripSink) {
	t.Helper()
	sink := &stripSink{}
	strip := newHubStrip(sink.publish)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		strip.run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return strip, sink
}

func TestHubStripPublishesInOrder(t *testing.T) {
	strip, sink := runStrip(t)

	strip.AddButton(tabs.TabInfo{ID: "a"})
	strip.UpdateButton(tabs.TabInfo{ID: "a", Title: "A"})
	strip.RemoveButton("a")

	testutil.WaitFor(t, time.Second, "three strip messages", func() bool {
		return len(sink.snapshot()) == 3
	})
	msgs := sink.snapshot()
	wantOps := []string{stripOpAdd, stripOpUpdate, stripOpRemove}
	for i, msg := range msgs {
		if len(msg.Updates) != 1 || msg.Updates[0].Op != wantOps[i] {
			t.Fatalf("message %d = %+v, want single %q", i, msg, wantOps[i])
		}
	}
	if msgs[2].Updates[0].TabID != "a" {
		t.Fatalf("remove update = %+v", msgs[2].Updates[0])
	}
}

func TestHubStripBatchesSuspendedUpdates(t *testing.T) {
	strip, sink := runStrip(t)

	strip.SuspendLayout()
	strip.UpdateButton(tabs.TabInfo{ID: "old"})
	strip.SuspendLayout()
	strip.UpdateButton(tabs.TabInfo{ID: "new", Active: true})
	strip.ResumeLayout()
	strip.ApplyLayout(tablayout.Result{NormalWidth: 120})
	strip.ResumeLayout()
	// Unbalanced resumes are ignored.
	strip.ResumeLayout()

	testutil.WaitFor(t, time.Second, "batched message", func() bool {
		return len(sink.snapshot()) == 1
	})
	msg := sink.snapshot()[0]
	if len(msg.Updates) != 3 {
		t.Fatalf("batched updates = %+v, want 3", msg.Updates)
	}
	if msg.Updates[2].Op != stripOpLayout || msg.Updates[2].Layout.NormalWidth != 120 {
		t.Fatalf("last update = %+v", msg.Updates[2])
	}

	strip.AddButton(tabs.TabInfo{ID: "after"})
	testutil.WaitFor(t, time.Second, "post-resume message", func() bool {
		return len(sink.snapshot()) == 2
	})
}

func TestForwardTabEventWithoutHub(t *testing.T) {
	rec := stubRuntime(t)
	app := NewApp()
	app.setRuntimeContext(context.Background())

	app.forwardTabEvent(tabs.Event{Kind: tabs.EventTabTitleChanged, TabID: "t1"})
	if rec.count(string(tabs.EventTabTitleChanged)) != 1 {
		t.Fatal("title event not emitted")
	}
	if rec.quits.Load() != 0 {
		t.Fatal("non-terminal event requested quit")
	}

	app.forwardTabEvent(tabs.Event{Kind: tabs.EventAllTabsClosed})
	app.forwardTabEvent(tabs.Event{Kind: tabs.EventWindowShouldClose})
	if got := rec.quits.Load(); got != 1 {
		t.Fatalf("quit count = %d, want 1", got)
	}
}

func TestEmitRuntimeEventWithoutContext(t *testing.T) {
	rec := stubRuntime(t)
	logs := testutil.CaptureLogBuffer(t, slog.LevelWarn)
	app := NewApp()

	app.emitRuntimeEvent("tab:created", nil)
	if rec.count("tab:created") != 0 {
		t.Fatal("event emitted without runtime context")
	}
	if !logs.Contains("runtime event dropped") {
		t.Fatalf("log = %q, want drop warning", logs.String())
	}
}
