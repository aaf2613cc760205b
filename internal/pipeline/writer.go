package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/groblegark/scribe/internal/model"
	"github.com/groblegark/scribe/internal/retry"
	"github.com/groblegark/scribe/internal/store"
)

// ErrWriterStopped is returned by FlushNow after the writer has shut down.
var ErrWriterStopped = errors.New("writer stopped")

// WriterConfig tunes the batch writer.
type WriterConfig struct {
	// BatchSize is the maximum number of items drained from each queue per
	// flush.
	BatchSize int
	// FlushInterval is the time between scheduled flushes. A flush also
	// fires early when Kick signals a queue reached BatchSize.
	FlushInterval time.Duration
	// Policy governs retries within a single flush attempt.
	Policy retry.Policy
	// RequeueCeiling bounds how long a failing batch may be carried across
	// flushes before it is dropped and reported as fatal.
	RequeueCeiling time.Duration
}

// DefaultWriterConfig returns the stock writer tuning.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:      50,
		FlushInterval:  30 * time.Second,
		Policy:         retry.Default(),
		RequeueCeiling: 10 * time.Minute,
	}
}

// Writer drains the event queues on a schedule and commits batches to the
// store. All flushing happens on one goroutine, which also serializes
// checkpoint advancement per scope: there is never more than one writer of a
// scope's cursor at a time.
type Writer struct {
	store    store.Store
	messages *Queue
	actions  *Queue
	cfg      WriterConfig
	stats    *Stats
	logger   *slog.Logger

	kick     chan struct{}
	flushReq chan chan error
	done     chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// Carryover state is owned by the flush goroutine (and by Stop after it
	// exits). A batch that exhausted its retries waits here and goes to the
	// front of the next flush.
	carryMessages  []*model.Message
	carryActions   []*model.Action
	carryGuilds    []*model.GuildInfo
	carryChannels  []*model.ChannelInfo
	carryMsgsSince time.Time
	carryActsSince time.Time
}

// NewWriter creates a writer over the given queues.
func NewWriter(st store.Store, messages, actions *Queue, cfg WriterConfig, stats *Stats, logger *slog.Logger) *Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	return &Writer{
		store:    st,
		messages: messages,
		actions:  actions,
		cfg:      cfg,
		stats:    stats,
		logger:   logger,
		kick:     make(chan struct{}, 1),
		flushReq: make(chan chan error),
		done:     make(chan struct{}),
	}
}

// Start launches the flush loop.
func (w *Writer) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer close(w.done)
		w.run(ctx)
	}()
}

// Stop halts the flush loop, then runs a final drain-and-flush bounded by
// timeout so shutdown never hangs on an unreachable store.
func (w *Writer) Stop(timeout time.Duration) {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for w.messages.Len() > 0 || w.actions.Len() > 0 || w.carrying() {
		if err := w.flushOnce(ctx); err != nil {
			w.logger.Error("final flush incomplete", "err", err)
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Kick requests an early flush. It never blocks; a flush already pending
// absorbs the signal.
func (w *Writer) Kick() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// FlushNow runs a flush on the writer goroutine and waits for it. It is the
// synchronous commit point the backfill path uses before advancing its
// cursor.
func (w *Writer) FlushNow(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case w.flushReq <- reply:
	case <-w.done:
		return ErrWriterStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.logFlushErr(w.flushOnce(ctx))
		case <-w.kick:
			w.logFlushErr(w.flushOnce(ctx))
		case reply := <-w.flushReq:
			reply <- w.flushOnce(ctx)
		}
	}
}

func (w *Writer) logFlushErr(err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		w.logger.Error("flush failed", "err", err)
	}
}

func (w *Writer) carrying() bool {
	return len(w.carryMessages) > 0 || len(w.carryActions) > 0 ||
		len(w.carryGuilds) > 0 || len(w.carryChannels) > 0
}

// flushOnce drains both queues, partitions items by variant, validates each
// item, and commits one upsert per variant. Validation failures are
// item-scoped: the bad item is logged and dropped, the rest of the batch
// proceeds.
func (w *Writer) flushOnce(ctx context.Context) error {
	w.stats.Flushes.Add(1)

	items := w.messages.Drain(w.cfg.BatchSize)
	items = append(items, w.actions.Drain(w.cfg.BatchSize)...)

	msgs := w.carryMessages
	acts := w.carryActions
	guilds := w.carryGuilds
	channels := w.carryChannels
	w.carryMessages, w.carryActions = nil, nil
	w.carryGuilds, w.carryChannels = nil, nil

	for _, it := range items {
		switch {
		case it.Message != nil:
			if err := it.Message.Validate(); err != nil {
				w.dropInvalid("message", it.Message.ID, err)
				continue
			}
			msgs = append(msgs, it.Message)
		case it.Action != nil:
			if err := it.Action.Validate(); err != nil {
				w.dropInvalid("action", it.Action.ID, err)
				continue
			}
			acts = append(acts, it.Action)
		case it.Guild != nil:
			if err := it.Guild.Validate(); err != nil {
				w.dropInvalid("guild", it.Guild.ID, err)
				continue
			}
			guilds = append(guilds, it.Guild)
		case it.Channel != nil:
			if err := it.Channel.Validate(); err != nil {
				w.dropInvalid("channel", it.Channel.ID, err)
				continue
			}
			channels = append(channels, it.Channel)
		}
	}

	// A batch can hold the same ID twice: a live event plus its backfilled
	// copy, or a carried batch meeting a redelivery. The multi-row upsert
	// cannot touch one row twice, so duplicates collapse here.
	msgs = dedupeMessages(msgs)
	acts = dedupeActions(acts)

	var errs []error

	if len(msgs) > 0 {
		err := w.tryBatch(ctx, "messages", func(ctx context.Context) error {
			_, err := w.store.UpsertMessages(ctx, msgs)
			return err
		})
		switch {
		case err == nil:
			w.carryMsgsSince = time.Time{}
			w.recordMessages(ctx, msgs)
		default:
			if carried := w.settleFailure(err, len(msgs), "messages", &w.carryMsgsSince); carried {
				w.carryMessages = msgs
			}
			errs = append(errs, fmt.Errorf("messages: %w", err))
		}
	}

	if len(acts) > 0 {
		err := w.tryBatch(ctx, "actions", func(ctx context.Context) error {
			_, err := w.store.UpsertActions(ctx, acts)
			return err
		})
		switch {
		case err == nil:
			w.carryActsSince = time.Time{}
			w.recordActions(ctx, acts)
		default:
			if carried := w.settleFailure(err, len(acts), "actions", &w.carryActsSince); carried {
				w.carryActions = acts
			}
			errs = append(errs, fmt.Errorf("actions: %w", err))
		}
	}

	// Directory rows are upserted one at a time without backoff; the next
	// flush interval is the retry delay for a transient failure.
	w.carryGuilds = upsertDirectory(ctx, guilds, w.store.UpsertGuild, "guild", w.stats, w.logger, &errs)
	w.carryChannels = upsertDirectory(ctx, channels, w.store.UpsertChannel, "channel", w.stats, w.logger, &errs)

	// A queue deeper than one batch keeps the writer busy without waiting
	// for the next tick.
	if w.messages.Len() >= w.cfg.BatchSize || w.actions.Len() >= w.cfg.BatchSize {
		w.Kick()
	}

	return errors.Join(errs...)
}

// dedupeMessages collapses repeated IDs within one batch, preserving order.
// The merged row mirrors the storage conflict clause: a live copy wins over
// its backfilled duplicate, logged_at keeps the first-seen value, and
// backfilled survives only when every copy was backfilled.
func dedupeMessages(msgs []*model.Message) []*model.Message {
	if len(msgs) < 2 {
		return msgs
	}
	index := make(map[string]int, len(msgs))
	out := msgs[:0:0]
	for _, m := range msgs {
		i, ok := index[m.ID]
		if !ok {
			index[m.ID] = len(out)
			out = append(out, m)
			continue
		}
		prev := out[i]
		pick := m
		if m.Backfilled && !prev.Backfilled {
			pick = prev
		}
		merged := *pick
		merged.LoggedAt = prev.LoggedAt
		merged.Backfilled = prev.Backfilled && m.Backfilled
		out[i] = &merged
	}
	return out
}

func dedupeActions(acts []*model.Action) []*model.Action {
	if len(acts) < 2 {
		return acts
	}
	index := make(map[string]int, len(acts))
	out := acts[:0:0]
	for _, a := range acts {
		i, ok := index[a.ID]
		if !ok {
			index[a.ID] = len(out)
			out = append(out, a)
			continue
		}
		prev := out[i]
		merged := *a
		merged.LoggedAt = prev.LoggedAt
		merged.Backfilled = prev.Backfilled && a.Backfilled
		out[i] = &merged
	}
	return out
}

func (w *Writer) dropInvalid(kind, id string, err error) {
	w.stats.ValidationDrops.Add(1)
	w.logger.Warn("dropping invalid item", "kind", kind, "id", id, "err", err)
}

// tryBatch runs fn, retrying per the policy while failures classify as
// retryable. The returned error is nil on success, the classified error on
// fatal failure or exhaustion, or the context error on cancellation.
func (w *Writer) tryBatch(ctx context.Context, component string, fn func(context.Context) error) error {
	start := time.Now()
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		w.stats.RecordError(component, err)
		if retry.Classify(err) == retry.Fatal {
			return err
		}
		if w.cfg.Policy.Exhausted(attempt, time.Since(start)) {
			return fmt.Errorf("retries exhausted after %d attempts: %w", attempt, err)
		}
		delay := w.cfg.Policy.NextDelay(attempt)
		w.logger.Warn("batch write failed, retrying",
			"component", component, "attempt", attempt, "delay", delay, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// settleFailure decides what happens to a failed batch: fatal errors drop it
// immediately, retryable exhaustion carries it to the next flush until the
// requeue ceiling passes, after which it is dropped and reported.
func (w *Writer) settleFailure(err error, size int, component string, since *time.Time) (carry bool) {
	if retry.Classify(err) == retry.Fatal {
		w.stats.FatalBatches.Add(1)
		w.logger.Error("dropping batch on fatal error", "component", component, "items", size, "err", err)
		return false
	}
	if since.IsZero() {
		*since = time.Now()
	}
	if w.cfg.RequeueCeiling > 0 && time.Since(*since) > w.cfg.RequeueCeiling {
		w.stats.FatalBatches.Add(1)
		*since = time.Time{}
		w.logger.Error("dropping batch after requeue ceiling",
			"component", component, "items", size, "ceiling", w.cfg.RequeueCeiling, "err", err)
		return false
	}
	w.logger.Warn("requeueing failed batch", "component", component, "items", size, "err", err)
	return true
}

// recordMessages updates counters and advances the per-scope checkpoints
// after a durable commit.
func (w *Writer) recordMessages(ctx context.Context, msgs []*model.Message) {
	w.stats.MessagesStored.Add(int64(len(msgs)))
	type cursor struct {
		lastID string
		lastAt time.Time
		n      int64
	}
	advance := make(map[model.CheckpointKind]map[string]*cursor)
	for _, m := range msgs {
		kind := model.CheckpointLive
		if m.Backfilled {
			kind = model.CheckpointBackfill
			w.stats.BackfilledStored.Add(1)
		}
		byScope := advance[kind]
		if byScope == nil {
			byScope = make(map[string]*cursor)
			advance[kind] = byScope
		}
		cur := byScope[m.Scope()]
		if cur == nil {
			cur = &cursor{}
			byScope[m.Scope()] = cur
		}
		cur.n++
		if !m.CreatedAt.Before(cur.lastAt) {
			cur.lastAt = m.CreatedAt
			cur.lastID = m.ID
		}
	}
	for kind, byScope := range advance {
		for scope, cur := range byScope {
			if err := w.store.AdvanceCheckpoint(ctx, scope, kind, cur.lastID, cur.lastAt, cur.n); err != nil {
				w.stats.RecordError("checkpoint", err)
				w.logger.Error("checkpoint advance failed", "scope", scope, "kind", kind, "err", err)
			}
		}
	}
}

func (w *Writer) recordActions(ctx context.Context, acts []*model.Action) {
	w.stats.ActionsStored.Add(int64(len(acts)))
	type cursor struct {
		lastID string
		lastAt time.Time
		n      int64
	}
	advance := make(map[string]*cursor)
	for _, a := range acts {
		if a.Backfilled {
			w.stats.BackfilledStored.Add(1)
		}
		cur := advance[a.Scope()]
		if cur == nil {
			cur = &cursor{}
			advance[a.Scope()] = cur
		}
		cur.n++
		if !a.OccurredAt.Before(cur.lastAt) {
			cur.lastAt = a.OccurredAt
			cur.lastID = a.ID
		}
	}
	for scope, cur := range advance {
		if scope == "" {
			continue
		}
		if err := w.store.AdvanceCheckpoint(ctx, scope, model.CheckpointLive, cur.lastID, cur.lastAt, cur.n); err != nil {
			w.stats.RecordError("checkpoint", err)
			w.logger.Error("checkpoint advance failed", "scope", scope, "kind", model.CheckpointLive, "err", err)
		}
	}
}

// upsertDirectory writes guild or channel rows individually. Retryable
// failures are returned for the next flush to retry; fatal failures are
// dropped with a log line.
func upsertDirectory[T interface {
	*model.GuildInfo | *model.ChannelInfo
}](
	ctx context.Context,
	rows []T,
	upsert func(context.Context, T) error,
	kind string,
	stats *Stats,
	logger *slog.Logger,
	errs *[]error,
) []T {
	var carry []T
	for _, row := range rows {
		err := upsert(ctx, row)
		if err == nil {
			continue
		}
		stats.RecordError(kind+"s", err)
		if retry.Classify(err) == retry.Fatal {
			logger.Error("dropping directory row on fatal error", "kind", kind, "err", err)
			continue
		}
		carry = append(carry, row)
		*errs = append(*errs, fmt.Errorf("%s: %w", kind, err))
	}
	return carry
}
