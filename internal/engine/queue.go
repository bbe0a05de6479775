package engine

import "sync"

// EventQueue is an unbounded ordered buffer in front of an Events channel.
// Push never blocks, so engine callbacks cannot stall on a slow consumer.
// Close discards undelivered events and closes the channel.
type EventQueue struct {
	mu     sync.Mutex
	queue  []Event
	closed bool
	wake   chan struct{}
	out    chan Event
	done   chan struct{}
}

// NewEventQueue starts the delivery goroutine.
func NewEventQueue() *EventQueue {
	q := &EventQueue{
		wake: make(chan struct{}, 1),
		out:  make(chan Event),
		done: make(chan struct{}),
	}
	go q.pump()
	return q
}

// Push appends ev. It reports false once the queue is closed.
func (q *EventQueue) Push(ev Event) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.queue = append(q.queue, ev)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Out is the delivery channel.
func (q *EventQueue) Out() <-chan Event {
	return q.out
}

// Close stops delivery. Idempotent.
func (q *EventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.queue = nil
	close(q.done)
}

func (q *EventQueue) pump() {
	defer close(q.out)
	for {
		select {
		case <-q.done:
			return
		case <-q.wake:
		}
		for {
			q.mu.Lock()
			if len(q.queue) == 0 {
				q.mu.Unlock()
				break
			}
			ev := q.queue[0]
			q.queue = q.queue[1:]
			q.mu.Unlock()
			select {
			case q.out <- ev:
			case <-q.done:
				return
			}
		}
	}
}
