package realtime

import (
	"sync"
	"updatehub/internal/models"
)

// eventQueue is a per-session FIFO outbound buffer. When the buffer is full
// the oldest droppable event makes room; terminal events are never dropped
// and may push the buffer past its nominal capacity.
type eventQueue struct {
	mu       sync.Mutex
	items    []models.Event
	capacity int
	signal   chan struct{}
	closed   bool

	dropped int
}

func newEventQueue(capacity int) *eventQueue {
	if capacity <= 0 {
		capacity = 64
	}
	return &eventQueue{
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
}

// push enqueues an event, applying the overflow policy. Returns false when
// the event itself was dropped.
func (q *eventQueue) push(event models.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}

	if len(q.items) >= q.capacity {
		if idx := q.oldestDroppable(); idx >= 0 {
			q.items = append(q.items[:idx], q.items[idx+1:]...)
			q.dropped++
		} else if event.Droppable() {
			// Nothing in the buffer may be shed, so the incoming
			// best-effort event loses.
			q.dropped++
			return false
		}
	}

	q.items = append(q.items, event)
	q.notify()
	return true
}

// pop removes the head of the queue. ok is false when the queue is empty.
func (q *eventQueue) pop() (models.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return models.Event{}, false
	}
	event := q.items[0]
	q.items = q.items[1:]
	if len(q.items) > 0 {
		q.notify()
	}
	return event, true
}

// wait returns a channel that receives after pushes, letting the write pump
// block without polling.
func (q *eventQueue) wait() <-chan struct{} {
	return q.signal
}

func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.items = nil
		q.notify()
	}
}

func (q *eventQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *eventQueue) droppedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *eventQueue) oldestDroppable() int {
	for i, event := range q.items {
		if event.Droppable() {
			return i
		}
	}
	return -1
}

func (q *eventQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
