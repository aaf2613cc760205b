// Package backfill replays a scope's message history through the ingestion
// pipeline. Each scope runs as an independent state machine whose progress
// cursor lives in the checkpoint store, so a run interrupted by shutdown or
// crash resumes where it stopped instead of re-fetching committed history.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/groblegark/scribe/internal/model"
	"github.com/groblegark/scribe/internal/retry"
	"github.com/groblegark/scribe/internal/source"
	"github.com/groblegark/scribe/internal/store"
)

// State is the lifecycle phase of one scope's backfill run.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
)

// Sink commits a page of historical messages durably before returning.
// The coordinator advances its cursor only after the sink reports success.
type Sink interface {
	IngestHistorical(ctx context.Context, msgs []*model.Message) error
}

// Config tunes a backfill run.
type Config struct {
	// PageSize is the page-size hint passed to the history source.
	PageSize int
	// PageDelay is the mandatory pause between page fetches, keeping
	// backfill slower than the live path so it never starves it.
	PageDelay time.Duration
	// MaxAge, when positive, skips historical messages older than now-MaxAge.
	// The cursor still advances past them.
	MaxAge time.Duration
	// Policy governs retries of history fetches.
	Policy retry.Policy
}

// DefaultConfig returns the stock backfill tuning.
func DefaultConfig() Config {
	return Config{
		PageSize:  100,
		PageDelay: time.Second,
		Policy:    retry.Default(),
	}
}

// Status is a read-only view of one scope's run.
type Status struct {
	ScopeID   string    `json:"scope_id"`
	State     State     `json:"state"`
	Cursor    string    `json:"cursor,omitempty"`
	Pages     int       `json:"pages"`
	Messages  int64     `json:"messages"`
	StartedAt time.Time `json:"started_at"`
	LastError string    `json:"last_error,omitempty"`
}

type run struct {
	cancel context.CancelFunc
	status Status
}

// Coordinator drives backfill runs, one goroutine per scope.
type Coordinator struct {
	store   store.Store
	history source.History
	sink    Sink
	cfg     Config
	logger  *slog.Logger

	mu   sync.Mutex
	runs map[string]*run
	wg   sync.WaitGroup
}

// New creates a coordinator fetching from history and committing through sink.
func New(st store.Store, history source.History, sink Sink, cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.PageDelay <= 0 {
		cfg.PageDelay = time.Second
	}
	return &Coordinator{
		store:   st,
		history: history,
		sink:    sink,
		cfg:     cfg,
		logger:  logger,
		runs:    make(map[string]*run),
	}
}

// Start begins or resumes a backfill run for the scope. It returns false
// with a nil error when a run is already active, which callers treat as a
// no-op rather than a failure.
//
// The durable backfill_in_progress flag is the cross-process guard: a fresh
// start flips it with a compare-and-swap. After a crash the flag can be left
// set with no run alive anywhere; resume=true takes such a scope over and
// continues from the persisted cursor.
func (c *Coordinator) Start(ctx context.Context, scopeID string, resume bool) (bool, error) {
	c.mu.Lock()
	if r, ok := c.runs[scopeID]; ok && r.status.State == StateRunning {
		c.mu.Unlock()
		return false, nil
	}
	c.mu.Unlock()

	acquired, err := c.store.BeginBackfill(ctx, scopeID)
	if err != nil {
		return false, fmt.Errorf("begin backfill for %s: %w", scopeID, err)
	}
	if !acquired && !resume {
		c.logger.Info("backfill already in progress, refusing start", "scope", scopeID)
		return false, nil
	}

	cursor := ""
	cp, err := c.store.GetCheckpoint(ctx, scopeID, model.CheckpointBackfill)
	switch {
	case err == nil:
		cursor = cp.LastProcessedID
	case errors.Is(err, store.ErrNotFound):
	default:
		return false, fmt.Errorf("load checkpoint for %s: %w", scopeID, err)
	}
	if cursor == "" {
		// No persisted progress yet. Live capture may already hold this
		// scope's recent history, so seed the cursor from the newest
		// captured message and fetch only the gap since it.
		switch id, err := c.store.LastMessageID(ctx, scopeID); {
		case err == nil:
			cursor = id
		case errors.Is(err, store.ErrNotFound):
		default:
			return false, fmt.Errorf("last message for %s: %w", scopeID, err)
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		cancel: cancel,
		status: Status{
			ScopeID:   scopeID,
			State:     StateRunning,
			Cursor:    cursor,
			StartedAt: time.Now(),
		},
	}

	c.mu.Lock()
	if prev, ok := c.runs[scopeID]; ok && prev.status.State == StateRunning {
		// Lost the local race to another Start for the same scope.
		c.mu.Unlock()
		cancel()
		return false, nil
	}
	c.runs[scopeID] = r
	c.mu.Unlock()

	c.logger.Info("backfill starting", "scope", scopeID, "cursor", cursor, "resumed", cursor != "")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		c.runScope(runCtx, r)
	}()
	return true, nil
}

// Stop pauses a single scope's run and reports whether a running scope was
// cancelled. The durable flag stays set so the run can be resumed later.
func (c *Coordinator) Stop(scopeID string) bool {
	c.mu.Lock()
	r, ok := c.runs[scopeID]
	running := ok && r.status.State == StateRunning
	c.mu.Unlock()
	if running {
		r.cancel()
	}
	return running
}

// StopAll pauses every running scope and waits for their goroutines.
func (c *Coordinator) StopAll() {
	c.mu.Lock()
	for _, r := range c.runs {
		r.cancel()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// Statuses returns a snapshot of all known runs, sorted by scope.
func (c *Coordinator) Statuses() []Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Status, 0, len(c.runs))
	for _, r := range c.runs {
		out = append(out, r.status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScopeID < out[j].ScopeID })
	return out
}

func (c *Coordinator) setState(r *run, state State, lastErr error) {
	c.mu.Lock()
	r.status.State = state
	if lastErr != nil {
		r.status.LastError = lastErr.Error()
	}
	c.mu.Unlock()
}

// runScope is the per-scope loop: fetch a page after the cursor, commit it
// through the sink, advance the cursor, throttle, repeat.
func (c *Coordinator) runScope(ctx context.Context, r *run) {
	scopeID := r.status.ScopeID

	for {
		page, err := c.fetchPage(ctx, scopeID, r.status.Cursor)
		if err != nil {
			c.finish(ctx, r, err)
			return
		}

		msgs := c.applyMaxAge(page.Messages)
		if len(msgs) > 0 {
			if err := c.sink.IngestHistorical(ctx, msgs); err != nil {
				c.finish(ctx, r, err)
				return
			}
		}

		// The page is durably committed; only now does the cursor move.
		cursor := page.NextCursor
		if n := len(page.Messages); n > 0 {
			cursor = page.Messages[n-1].ID
		}
		c.mu.Lock()
		r.status.Cursor = cursor
		r.status.Pages++
		r.status.Messages += int64(len(msgs))
		c.mu.Unlock()

		if !page.HasMore {
			if err := c.store.EndBackfill(context.Background(), scopeID, true); err != nil {
				c.logger.Error("backfill completion mark failed", "scope", scopeID, "err", err)
			}
			c.setState(r, StateCompleted, nil)
			c.logger.Info("backfill completed",
				"scope", scopeID, "pages", r.status.Pages, "messages", r.status.Messages)
			return
		}

		select {
		case <-ctx.Done():
			c.finish(ctx, r, ctx.Err())
			return
		case <-time.After(c.cfg.PageDelay):
		}
	}
}

// fetchPage fetches one page, retrying transient failures per the policy.
func (c *Coordinator) fetchPage(ctx context.Context, scopeID, cursor string) (*source.Page, error) {
	start := time.Now()
	for attempt := 1; ; attempt++ {
		page, err := c.history.FetchPage(ctx, scopeID, cursor, c.cfg.PageSize)
		if err == nil {
			return page, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if retry.Classify(err) == retry.Fatal {
			return nil, err
		}
		if c.cfg.Policy.Exhausted(attempt, time.Since(start)) {
			return nil, fmt.Errorf("history fetch exhausted after %d attempts: %w", attempt, err)
		}
		delay := c.cfg.Policy.NextDelay(attempt)
		c.logger.Warn("history fetch failed, retrying",
			"scope", scopeID, "attempt", attempt, "delay", delay, "err", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// finish handles a terminal error: cancellation pauses the run and leaves
// the durable flag set for a later resume; anything else aborts the run and
// clears the flag so it does not auto-resume.
func (c *Coordinator) finish(ctx context.Context, r *run, cause error) {
	scopeID := r.status.ScopeID
	if errors.Is(cause, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		c.setState(r, StatePaused, cause)
		c.logger.Info("backfill paused",
			"scope", scopeID, "cursor", r.status.Cursor, "messages", r.status.Messages)
		return
	}

	if err := c.store.EndBackfill(context.Background(), scopeID, false); err != nil {
		c.logger.Error("backfill abort mark failed", "scope", scopeID, "err", err)
	}
	c.setState(r, StateAborted, cause)
	c.logger.Error("backfill aborted", "scope", scopeID, "err", cause)
}

func (c *Coordinator) applyMaxAge(msgs []*model.Message) []*model.Message {
	if c.cfg.MaxAge <= 0 {
		return msgs
	}
	cutoff := time.Now().Add(-c.cfg.MaxAge)
	out := msgs[:0:0]
	for _, m := range msgs {
		if !m.CreatedAt.Before(cutoff) {
			out = append(out, m)
		}
	}
	return out
}
