package hostbridge

import (
	"context"
	"sync"

	"github.com/p-blackswan/zentab/internal/host"
)

// eventQueue sits between the socket reader and the subscriber. push never
// blocks, so a slow consumer cannot stall responses or pongs.
type eventQueue struct {
	mu    sync.Mutex
	items []host.Event
	limit int
	ready chan struct{}
}

func newEventQueue(limit int) *eventQueue {
	return &eventQueue{limit: limit, ready: make(chan struct{}, 1)}
}

// push appends ev. It reports false when the queue is full and ev was dropped.
func (q *eventQueue) push(ev host.Event) bool {
	q.mu.Lock()
	if q.limit > 0 && len(q.items) >= q.limit {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

func (q *eventQueue) drain() []host.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// forward delivers queued events to out, in order, until ctx ends.
// Events queued before forward starts are delivered first.
func (q *eventQueue) forward(ctx context.Context, out chan<- host.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.ready:
		}
		for _, ev := range q.drain() {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}
