package sessionlog

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultHistory = 200
	DefaultRate    = 20 // entries per second delivered to the sink
	DefaultBurst   = 40
	queueSize      = 64
)

// Forwarder keeps a ring of recent entries and delivers a rate-limited
// stream of them to a sink on its own goroutine. Offer never blocks, so it
// is safe to call from inside a slog handler.
type Forwarder struct {
	sink    func(Entry)
	limiter *rate.Limiter
	queue   chan Entry
	dropped atomic.Int64

	mu      sync.Mutex
	history []Entry
	next    int
	full    bool
}

// NewForwarder creates a Forwarder. perSecond <= 0 disables throttling.
func NewForwarder(history int, perSecond float64, burst int, sink func(Entry)) *Forwarder {
	if history <= 0 {
		history = DefaultHistory
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &Forwarder{
		sink:    sink,
		limiter: rate.NewLimiter(limit, max(burst, 1)),
		queue:   make(chan Entry, queueSize),
		history: make([]Entry, history),
	}
}

// Offer records e and queues it for the sink unless the rate limit or the
// queue is exhausted, in which case it only counts as dropped.
func (f *Forwarder) Offer(e Entry) {
	f.mu.Lock()
	f.history[f.next] = e
	f.next = (f.next + 1) % len(f.history)
	if f.next == 0 {
		f.full = true
	}
	f.mu.Unlock()

	if !f.limiter.AllowN(time.Now(), 1) {
		f.dropped.Add(1)
		return
	}
	select {
	case f.queue <- e:
	default:
		f.dropped.Add(1)
	}
}

// Recent returns the retained entries, oldest first.
func (f *Forwarder) Recent() []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.full {
		return append([]Entry(nil), f.history[:f.next]...)
	}
	out := make([]Entry, 0, len(f.history))
	out = append(out, f.history[f.next:]...)
	return append(out, f.history[:f.next]...)
}

// Dropped reports how many entries skipped the sink.
func (f *Forwarder) Dropped() int64 {
	return f.dropped.Load()
}

// Run delivers queued entries to the sink until ctx is cancelled.
func (f *Forwarder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-f.queue:
			if f.sink != nil {
				f.sink(e)
			}
		}
	}
}
