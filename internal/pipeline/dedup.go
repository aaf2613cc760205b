package pipeline

import "sync"

// Deduplicator tracks recently seen event IDs so redelivered live events can
// be skipped cheaply. It is a fixed-capacity ring: recording beyond capacity
// evicts the oldest tracked ID, so memory stays bounded no matter how much
// traffic flows through. It is a shortcut, not a correctness mechanism;
// storage upserts by ID make replays safe even when the ring has already
// evicted an ID.
type Deduplicator struct {
	mu   sync.Mutex
	seen map[string]struct{}
	ring []string
	next int
}

// NewDeduplicator creates a deduplicator tracking at most capacity IDs.
func NewDeduplicator(capacity int) *Deduplicator {
	if capacity <= 0 {
		capacity = 1
	}
	return &Deduplicator{
		seen: make(map[string]struct{}, capacity),
		ring: make([]string, capacity),
	}
}

// Seen reports whether id is currently tracked.
func (d *Deduplicator) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[id]
	return ok
}

// Record tracks id, evicting the oldest tracked ID when at capacity.
// Recording an already-tracked ID is a no-op.
func (d *Deduplicator) Record(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		return
	}
	if old := d.ring[d.next]; old != "" {
		delete(d.seen, old)
	}
	d.ring[d.next] = id
	d.next = (d.next + 1) % len(d.ring)
	d.seen[id] = struct{}{}
}

// Len returns the number of tracked IDs.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
