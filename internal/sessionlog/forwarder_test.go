package sessionlog

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"tabdeck/internal/testutil"
)

func TestForwarderRecentKeepsNewest(t *testing.T) {
	f := NewForwarder(3, 0, 1, nil)
	if got := f.Recent(); len(got) != 0 {
		t.Fatalf("Recent() on empty = %+v", got)
	}
	for i := range 5 {
		f.Offer(Entry{Message: fmt.Sprint(i)})
	}
	got := f.Recent()
	if len(got) != 3 || got[0].Message != "2" || got[2].Message != "4" {
		t.Fatalf("Recent() = %+v, want 2,3,4", got)
	}
}

func TestForwarderDeliversToSink(t *testing.T) {
	var mu sync.Mutex
	var delivered []string
	f := NewForwarder(10, 0, 1, func(e Entry) {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, e.Message)
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	f.Offer(Entry{Message: "a"})
	f.Offer(Entry{Message: "b"})
	testutil.WaitFor(t, time.Second, "sink delivery", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) == 2
	})
	mu.Lock()
	defer mu.Unlock()
	if delivered[0] != "a" || delivered[1] != "b" {
		t.Fatalf("delivered = %v", delivered)
	}
}

func TestForwarderThrottles(t *testing.T) {
	// One token per hour: only the burst gets through.
	f := NewForwarder(100, 1.0/3600, 2, nil)
	for i := range 10 {
		f.Offer(Entry{Message: fmt.Sprint(i)})
	}
	if got := f.Dropped(); got != 8 {
		t.Fatalf("Dropped() = %d, want 8", got)
	}
	if got := len(f.Recent()); got != 10 {
		t.Fatalf("history kept %d entries, want 10", got)
	}
}
