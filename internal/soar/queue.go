// Package soar implements the top-level orchestration engine: event
// queueing, playbook selection, execution tracking, and metrics.
package soar

import (
	"sync"

	"github.com/secops-platform/secops-core/internal/model"
)

// eventQueue is a bounded FIFO of pending events. Critical events bypass
// it entirely, so the queue only ever holds sub-critical work.
type eventQueue struct {
	mu       sync.Mutex
	items    []*model.SecurityEvent
	capacity int
}

func newEventQueue(capacity int) *eventQueue {
	return &eventQueue{capacity: capacity}
}

// push appends an event, reporting false when the queue is full.
func (q *eventQueue) push(event *model.SecurityEvent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		return false
	}
	q.items = append(q.items, event)
	return true
}

// pop removes the oldest event, or nil when empty.
func (q *eventQueue) pop() *model.SecurityEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	event := q.items[0]
	q.items = q.items[1:]
	return event
}

func (q *eventQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
