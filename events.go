package main

import (
	"sync"

	"carebridge/session"
)

// eventQueue decouples the controller from the display. SessionEvent never
// blocks; events are handed to the sink in order on a separate goroutine.
type eventQueue struct {
	mu      sync.Mutex
	pending []session.Event
	wake    chan struct{}
	closed  bool
}

func newEventQueue() *eventQueue {
	return &eventQueue{wake: make(chan struct{}, 1)}
}

func (q *eventQueue) SessionEvent(e session.Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	// only the latest level reading matters
	if n := len(q.pending); n > 0 && e.Kind == session.LevelChanged && q.pending[n-1].Kind == session.LevelChanged {
		q.pending[n-1] = e
	} else {
		q.pending = append(q.pending, e)
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// run delivers events to sink until close is called and the queue is drained.
func (q *eventQueue) run(sink func(session.Event)) {
	for {
		q.mu.Lock()
		batch := q.pending
		q.pending = nil
		closed := q.closed
		q.mu.Unlock()

		for _, e := range batch {
			sink(e)
		}
		if closed && len(batch) == 0 {
			return
		}
		if len(batch) == 0 {
			<-q.wake
		}
	}
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
