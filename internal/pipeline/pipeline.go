// Package pipeline buffers live and historical chat events in bounded
// queues and commits them to the store in batches. Event callbacks never
// block on I/O; a full queue drops the event and counts it. Storage upserts
// by ID make redelivery and live/backfill interleaving safe.
package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/groblegark/scribe/internal/idgen"
	"github.com/groblegark/scribe/internal/model"
	"github.com/groblegark/scribe/internal/store"
)

// Filter decides which scopes get ingested. A nil Filter allows everything.
type Filter interface {
	AllowGuild(guildID string) bool
	AllowChannel(channelID string) bool
}

// Config tunes the pipeline's buffers.
type Config struct {
	MessageQueueCapacity int
	ActionQueueCapacity  int
	DedupCapacity        int
	Writer               WriterConfig
	// ShutdownTimeout bounds the final drain-and-flush on Stop.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the stock pipeline tuning.
func DefaultConfig() Config {
	return Config{
		MessageQueueCapacity: 10000,
		ActionQueueCapacity:  10000,
		DedupCapacity:        10000,
		Writer:               DefaultWriterConfig(),
		ShutdownTimeout:      30 * time.Second,
	}
}

// Pipeline is the ingestion core: it receives events from a source, runs
// them through filtering and dedup, and hands them to the batch writer. It
// also serves as the commit path for backfill, whose cursor must only move
// after a durable flush.
type Pipeline struct {
	messages *Queue
	actions  *Queue
	dedup    *Deduplicator
	writer   *Writer
	stats    *Stats
	filter   Filter
	logger   *slog.Logger

	batchSize       int
	shutdownTimeout time.Duration
	accepting       atomic.Bool
}

// New creates a pipeline writing to st.
func New(st store.Store, cfg Config, filter Filter, logger *slog.Logger) *Pipeline {
	if cfg.MessageQueueCapacity <= 0 {
		cfg.MessageQueueCapacity = 10000
	}
	if cfg.ActionQueueCapacity <= 0 {
		cfg.ActionQueueCapacity = 10000
	}
	if cfg.DedupCapacity <= 0 {
		cfg.DedupCapacity = 10000
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	stats := NewStats()
	messages := NewQueue(cfg.MessageQueueCapacity)
	actions := NewQueue(cfg.ActionQueueCapacity)
	writer := NewWriter(st, messages, actions, cfg.Writer, stats, logger)

	return &Pipeline{
		messages:        messages,
		actions:         actions,
		dedup:           NewDeduplicator(cfg.DedupCapacity),
		writer:          writer,
		stats:           stats,
		filter:          filter,
		logger:          logger,
		batchSize:       writer.cfg.BatchSize,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
}

// Start begins accepting events and launches the batch writer.
func (p *Pipeline) Start() {
	p.accepting.Store(true)
	p.writer.Start()
}

// Stop refuses further events, then drains and flushes the queues with a
// bounded timeout.
func (p *Pipeline) Stop() {
	p.accepting.Store(false)
	p.writer.Stop(p.shutdownTimeout)
}

// OnMessage ingests one live message. It returns without blocking: filtered
// and duplicate messages are counted and skipped, and a full queue drops the
// message rather than stalling the source.
func (p *Pipeline) OnMessage(ctx context.Context, m *model.Message) {
	if !p.accepting.Load() {
		return
	}
	p.stats.MessagesReceived.Add(1)
	if !p.allow(m.GuildID, m.ChannelID) {
		p.stats.Filtered.Add(1)
		return
	}
	if p.dedup.Seen(m.ID) {
		p.stats.Duplicates.Add(1)
		return
	}
	if m.LoggedAt.IsZero() {
		m.LoggedAt = time.Now().UTC()
	}
	if !p.messages.Enqueue(Item{Message: m}) {
		p.logger.Warn("message queue full, dropping", "id", m.ID, "channel", m.ChannelID)
		return
	}
	// Recorded only after the enqueue: a message dropped on a full queue
	// must stay eligible for redelivery.
	p.dedup.Record(m.ID)
	if p.messages.Len() >= p.batchSize {
		p.writer.Kick()
	}
}

// OnAction ingests one live moderation or administrative action. Actions
// without a source-assigned ID get one minted here so storage can upsert
// them by key.
func (p *Pipeline) OnAction(ctx context.Context, a *model.Action) {
	if !p.accepting.Load() {
		return
	}
	p.stats.ActionsReceived.Add(1)
	if !p.allow(a.GuildID, a.ChannelID) {
		p.stats.Filtered.Add(1)
		return
	}
	minted := a.ID == ""
	if minted {
		id, err := idgen.Generate()
		if err != nil {
			p.stats.RecordError("idgen", err)
			p.logger.Error("action id generation failed", "type", a.Type, "err", err)
			return
		}
		a.ID = id
	} else if p.dedup.Seen(a.ID) {
		p.stats.Duplicates.Add(1)
		return
	}
	if a.LoggedAt.IsZero() {
		a.LoggedAt = time.Now().UTC()
	}
	if !p.actions.Enqueue(Item{Action: a}) {
		p.logger.Warn("action queue full, dropping", "id", a.ID, "type", a.Type)
		return
	}
	if !minted {
		p.dedup.Record(a.ID)
	}
	if p.actions.Len() >= p.batchSize {
		p.writer.Kick()
	}
}

// OnGuild records or refreshes a guild directory row.
func (p *Pipeline) OnGuild(ctx context.Context, g *model.GuildInfo) {
	if !p.accepting.Load() {
		return
	}
	if p.filter != nil && !p.filter.AllowGuild(g.ID) {
		p.stats.Filtered.Add(1)
		return
	}
	if !p.actions.Enqueue(Item{Guild: g}) {
		p.logger.Warn("action queue full, dropping guild update", "id", g.ID)
	}
}

// OnChannel records or refreshes a channel directory row.
func (p *Pipeline) OnChannel(ctx context.Context, c *model.ChannelInfo) {
	if !p.accepting.Load() {
		return
	}
	if !p.allow(c.GuildID, c.ID) {
		p.stats.Filtered.Add(1)
		return
	}
	if !p.actions.Enqueue(Item{Channel: c}) {
		p.logger.Warn("action queue full, dropping channel update", "id", c.ID)
	}
}

// IngestHistorical commits a page of backfilled messages and returns only
// after they are durably stored, so the caller may advance its cursor. It
// bypasses the deduplicator: backfill dedup is the cursor itself plus the
// upsert contract.
func (p *Pipeline) IngestHistorical(ctx context.Context, msgs []*model.Message) error {
	for _, m := range msgs {
		m.Backfilled = true
		if m.LoggedAt.IsZero() {
			m.LoggedAt = time.Now().UTC()
		}
		// Queue full: push what is buffered through before enqueueing,
		// historical items must not be dropped.
		for p.messages.Full() {
			if err := p.writer.FlushNow(ctx); err != nil {
				return err
			}
		}
		for !p.messages.Enqueue(Item{Message: m}) {
			if err := p.writer.FlushNow(ctx); err != nil {
				return err
			}
		}
	}
	return p.writer.FlushNow(ctx)
}

// Snapshot returns the current counters.
func (p *Pipeline) Snapshot() Snapshot {
	s := p.stats
	return Snapshot{
		UptimeSeconds:     int64(time.Since(s.StartedAt).Seconds()),
		MessagesReceived:  s.MessagesReceived.Load(),
		ActionsReceived:   s.ActionsReceived.Load(),
		Duplicates:        s.Duplicates.Load(),
		Filtered:          s.Filtered.Load(),
		MessagesStored:    s.MessagesStored.Load(),
		ActionsStored:     s.ActionsStored.Load(),
		BackfilledStored:  s.BackfilledStored.Load(),
		ValidationDrops:   s.ValidationDrops.Load(),
		MessageQueueDepth: int64(p.messages.Len()),
		ActionQueueDepth:  int64(p.actions.Len()),
		MessagesDropped:   p.messages.Dropped(),
		ActionsDropped:    p.actions.Dropped(),
		Flushes:           s.Flushes.Load(),
		FatalBatches:      s.FatalBatches.Load(),
		LastErrors:        s.snapshotErrors(),
	}
}

func (p *Pipeline) allow(guildID, channelID string) bool {
	if p.filter == nil {
		return true
	}
	if guildID != "" && !p.filter.AllowGuild(guildID) {
		return false
	}
	if channelID != "" && !p.filter.AllowChannel(channelID) {
		return false
	}
	return true
}
