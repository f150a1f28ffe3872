// Package queue provides the bounded outbound command queue kept by every
// device session.
//
// A queue holds at most a fixed number of items. Items that target the same
// data point carry the same conflict key; enqueueing a new item removes any
// pending item with an equal key, so only the latest write for a data point
// is ever sent. Enqueue never blocks: a queue that is still full after
// coalescing reports Full and leaves its contents untouched.
package queue

import (
	"fmt"
	"sync"

	"github.com/muurk/tuyalink/internal/protocol"
)

// DefaultCapacity is the queue size used when none is configured.
const DefaultCapacity = 20

// Item is one pending outbound command.
type Item struct {
	// Payload is the serialized JSON body, encrypted at send time.
	Payload []byte
	Kind    protocol.CommandKind

	// ConflictKey names the data point the item writes. Empty means the
	// item never conflicts.
	ConflictKey string
}

// Result reports what Enqueue did.
type Result int

const (
	// Enqueued means the item was appended.
	Enqueued Result = iota
	// Coalesced means the item was appended after removing pending items
	// with the same conflict key.
	Coalesced
	// Full means the queue is at capacity and the item was not added.
	Full
)

func (r Result) String() string {
	switch r {
	case Enqueued:
		return "enqueued"
	case Coalesced:
		return "coalesced"
	case Full:
		return "full"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// Accepted reports whether the item is now in the queue.
func (r Result) Accepted() bool {
	return r == Enqueued || r == Coalesced
}

// Queue is a bounded FIFO of Items. It is safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	items    []Item
	capacity int
}

// New creates a queue holding at most capacity items. A capacity below one
// uses DefaultCapacity.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Queue{
		items:    make([]Item, 0, capacity),
		capacity: capacity,
	}
}

// Enqueue removes pending items that conflict with item and appends it.
func (q *Queue) Enqueue(item Item) Result {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := false
	if item.ConflictKey != "" {
		kept := q.items[:0]
		for _, it := range q.items {
			if it.ConflictKey == item.ConflictKey {
				removed = true
				continue
			}
			kept = append(kept, it)
		}
		clear(q.items[len(kept):])
		q.items = kept
	}

	if len(q.items) >= q.capacity {
		return Full
	}

	q.items = append(q.items, item)
	if removed {
		return Coalesced
	}
	return Enqueued
}

// Dequeue removes and returns the oldest item.
func (q *Queue) Dequeue() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Item{}, false
	}
	item := q.items[0]
	q.items[0] = Item{}
	q.items = q.items[1:]
	return item, true
}

// Len returns the number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return q.capacity
}

// Clear drops every pending item and returns how many there were.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = make([]Item, 0, q.capacity)
	return n
}

// Items returns a snapshot of the pending items, oldest first.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.items))
	copy(out, q.items)
	return out
}
