package pipeline

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats collects pipeline counters. All counters are updated atomically so
// event callbacks can bump them without taking a lock.
type Stats struct {
	StartedAt time.Time

	MessagesReceived atomic.Int64
	ActionsReceived  atomic.Int64
	Duplicates       atomic.Int64
	Filtered         atomic.Int64

	MessagesStored   atomic.Int64
	ActionsStored    atomic.Int64
	BackfilledStored atomic.Int64
	ValidationDrops  atomic.Int64

	Flushes      atomic.Int64
	FatalBatches atomic.Int64

	mu       sync.Mutex
	lastErrs map[string]lastError
}

type lastError struct {
	Message string
	At      time.Time
}

// NewStats creates a stats collector.
func NewStats() *Stats {
	return &Stats{
		StartedAt: time.Now(),
		lastErrs:  make(map[string]lastError),
	}
}

// RecordError remembers the most recent error for a component.
func (s *Stats) RecordError(component string, err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErrs[component] = lastError{Message: err.Error(), At: time.Now()}
}

// ComponentError is the last error observed for one component.
type ComponentError struct {
	Component string    `json:"component"`
	Error     string    `json:"error"`
	At        time.Time `json:"at"`
}

// Snapshot is a read-only view of the pipeline counters.
type Snapshot struct {
	UptimeSeconds int64 `json:"uptime_seconds"`

	MessagesReceived int64 `json:"messages_received"`
	ActionsReceived  int64 `json:"actions_received"`
	Duplicates       int64 `json:"duplicates_skipped"`
	Filtered         int64 `json:"filtered"`

	MessagesStored   int64 `json:"messages_stored"`
	ActionsStored    int64 `json:"actions_stored"`
	BackfilledStored int64 `json:"backfilled_stored"`
	ValidationDrops  int64 `json:"validation_drops"`

	MessageQueueDepth int64 `json:"message_queue_depth"`
	ActionQueueDepth  int64 `json:"action_queue_depth"`
	MessagesDropped   int64 `json:"messages_dropped"`
	ActionsDropped    int64 `json:"actions_dropped"`

	Flushes      int64 `json:"flushes"`
	FatalBatches int64 `json:"fatal_batches"`

	LastErrors []ComponentError `json:"last_errors,omitempty"`
}

// snapshotErrors copies the per-component error map.
func (s *Stats) snapshotErrors() []ComponentError {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lastErrs) == 0 {
		return nil
	}
	out := make([]ComponentError, 0, len(s.lastErrs))
	for name, le := range s.lastErrs {
		out = append(out, ComponentError{Component: name, Error: le.Message, At: le.At})
	}
	return out
}
