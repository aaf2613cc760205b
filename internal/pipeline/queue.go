package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/groblegark/scribe/internal/model"
)

// Item is one queued event. Exactly one of the pointer fields is set.
type Item struct {
	Message *model.Message
	Action  *model.Action
	Guild   *model.GuildInfo
	Channel *model.ChannelInfo

	EnqueuedAt time.Time
}

// Queue is a bounded FIFO buffer between event callbacks and the writer.
// Enqueue never blocks: when the queue is full the item is rejected and
// counted, so a stalled store can never backpressure into the event source.
type Queue struct {
	mu       sync.Mutex
	items    []Item
	capacity int

	dropped atomic.Int64
}

// NewQueue creates a queue holding at most capacity items.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		items:    make([]Item, 0, capacity),
		capacity: capacity,
	}
}

// Enqueue appends an item and reports whether it was accepted. A full queue
// rejects the item and increments the dropped counter.
func (q *Queue) Enqueue(it Item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		q.dropped.Add(1)
		return false
	}
	if it.EnqueuedAt.IsZero() {
		it.EnqueuedAt = time.Now()
	}
	q.items = append(q.items, it)
	return true
}

// Drain removes and returns up to max items in FIFO order. It never blocks;
// an empty queue yields nil.
func (q *Queue) Drain(max int) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || max <= 0 {
		return nil
	}
	n := max
	if n > len(q.items) {
		n = len(q.items)
	}
	out := make([]Item, n)
	copy(out, q.items[:n])
	rest := copy(q.items, q.items[n:])
	q.items = q.items[:rest]
	return out
}

// Full reports whether the queue is at capacity.
func (q *Queue) Full() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) >= q.capacity
}

// Len returns the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns the number of items rejected because the queue was full.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}
