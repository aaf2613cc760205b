package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/groblegark/scribe/internal/model"
)

// denyFilter blocks the configured guild and channel IDs.
type denyFilter struct {
	guilds   map[string]bool
	channels map[string]bool
}

func (f *denyFilter) AllowGuild(id string) bool   { return !f.guilds[id] }
func (f *denyFilter) AllowChannel(id string) bool { return !f.channels[id] }

func newTestPipeline(st *mockStore, cfg Config, filter Filter) *Pipeline {
	return New(st, cfg, filter, testLogger())
}

func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.Writer.FlushInterval = time.Hour
	cfg.Writer.Policy = fastRetry()
	return cfg
}

func TestOnMessageSkipsDuplicates(t *testing.T) {
	st := newMockStore()
	p := newTestPipeline(st, quietConfig(), nil)
	p.Start()
	defer p.Stop()

	ctx := context.Background()
	now := time.Now().UTC()
	p.OnMessage(ctx, liveMessage("m1", "chan-1", now))
	p.OnMessage(ctx, liveMessage("m1", "chan-1", now))

	snap := p.Snapshot()
	if snap.Duplicates != 1 {
		t.Errorf("Duplicates = %d, want 1", snap.Duplicates)
	}
	if snap.MessageQueueDepth != 1 {
		t.Errorf("queue depth = %d, want 1", snap.MessageQueueDepth)
	}
}

func TestOnMessageFiltersScopes(t *testing.T) {
	st := newMockStore()
	filter := &denyFilter{guilds: map[string]bool{"g-blocked": true}, channels: map[string]bool{}}
	p := newTestPipeline(st, quietConfig(), filter)
	p.Start()
	defer p.Stop()

	ctx := context.Background()
	blocked := liveMessage("m1", "chan-1", time.Now())
	blocked.GuildID = "g-blocked"
	p.OnMessage(ctx, blocked)
	p.OnMessage(ctx, liveMessage("m2", "chan-1", time.Now()))

	snap := p.Snapshot()
	if snap.Filtered != 1 {
		t.Errorf("Filtered = %d, want 1", snap.Filtered)
	}
	if snap.MessageQueueDepth != 1 {
		t.Errorf("queue depth = %d, want 1", snap.MessageQueueDepth)
	}
}

func TestOnActionMintsID(t *testing.T) {
	st := newMockStore()
	p := newTestPipeline(st, quietConfig(), nil)
	p.Start()
	defer p.Stop()

	a := &model.Action{
		Type:       model.ActionMessageDelete,
		ChannelID:  "chan-1",
		OccurredAt: time.Now(),
	}
	p.OnAction(context.Background(), a)

	if a.ID == "" {
		t.Fatal("action should get a minted ID")
	}
	if !strings.HasPrefix(a.ID, "act-") {
		t.Errorf("minted ID = %q", a.ID)
	}
}

// Event callbacks must stay fast even when storage has stalled completely:
// the queue fills, later events are dropped and counted, and no call ever
// waits on the store.
func TestEnqueueNeverBlocksOnSlowStore(t *testing.T) {
	st := newMockStore()
	st.delay = 200 * time.Millisecond

	cfg := quietConfig()
	cfg.MessageQueueCapacity = 10
	cfg.Writer.BatchSize = 5
	p := newTestPipeline(st, cfg, nil)
	p.Start()
	defer p.Stop()

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 100; i++ {
		p.OnMessage(ctx, liveMessage(fmt.Sprintf("m%d", i), "chan-1", time.Now()))
	}
	elapsed := time.Since(start)

	if elapsed > 100*time.Millisecond {
		t.Errorf("100 enqueues took %v; callbacks are blocking on storage", elapsed)
	}
	if p.Snapshot().MessagesDropped == 0 {
		t.Error("expected drops once the queue filled")
	}
}

func TestStopDrainsQueues(t *testing.T) {
	st := newMockStore()
	p := newTestPipeline(st, quietConfig(), nil)
	p.Start()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		p.OnMessage(ctx, liveMessage(fmt.Sprintf("m%d", i), "chan-1", time.Now()))
	}
	p.Stop()

	if got := st.messageCount(); got != 3 {
		t.Errorf("stored = %d, want 3", got)
	}

	// After Stop new events are refused silently.
	p.OnMessage(ctx, liveMessage("late", "chan-1", time.Now()))
	if got := st.messageCount(); got != 3 {
		t.Errorf("stored after Stop = %d, want 3", got)
	}
}

func TestIngestHistoricalCommitsBeforeReturning(t *testing.T) {
	st := newMockStore()
	p := newTestPipeline(st, quietConfig(), nil)
	p.Start()
	defer p.Stop()

	now := time.Now().UTC()
	var page []*model.Message
	for i := 0; i < 5; i++ {
		page = append(page, liveMessage(fmt.Sprintf("h%d", i), "chan-1", now.Add(time.Duration(i)*time.Second)))
	}

	if err := p.IngestHistorical(context.Background(), page); err != nil {
		t.Fatalf("IngestHistorical: %v", err)
	}

	// Durable before return: no waiting on a timer.
	if got := st.messageCount(); got != 5 {
		t.Errorf("stored = %d, want 5", got)
	}
	cp := st.checkpoint("chan-1", model.CheckpointBackfill)
	if cp == nil || cp.TotalProcessed != 5 || cp.LastProcessedID != "h4" {
		t.Errorf("backfill checkpoint = %+v", cp)
	}
}

func TestIngestHistoricalLargerThanQueue(t *testing.T) {
	st := newMockStore()
	cfg := quietConfig()
	cfg.MessageQueueCapacity = 4
	cfg.Writer.BatchSize = 4
	p := newTestPipeline(st, cfg, nil)
	p.Start()
	defer p.Stop()

	now := time.Now().UTC()
	var page []*model.Message
	for i := 0; i < 10; i++ {
		page = append(page, liveMessage(fmt.Sprintf("h%d", i), "chan-1", now.Add(time.Duration(i)*time.Second)))
	}

	if err := p.IngestHistorical(context.Background(), page); err != nil {
		t.Fatalf("IngestHistorical: %v", err)
	}
	if got := st.messageCount(); got != 10 {
		t.Errorf("stored = %d, want 10", got)
	}
}

// A message dropped on a full queue must stay eligible for redelivery; only
// an accepted enqueue marks its ID as seen.
func TestDroppedMessageNotMarkedDuplicate(t *testing.T) {
	st := newMockStore()
	cfg := quietConfig()
	cfg.MessageQueueCapacity = 1
	p := newTestPipeline(st, cfg, nil)
	p.Start()
	defer p.Stop()

	ctx := context.Background()
	now := time.Now().UTC()
	p.OnMessage(ctx, liveMessage("m1", "chan-1", now))
	p.OnMessage(ctx, liveMessage("m2", "chan-1", now))

	if got := p.Snapshot().MessagesDropped; got != 1 {
		t.Fatalf("dropped = %d, want 1", got)
	}

	// The queue frees up and the source redelivers.
	p.messages.Drain(1)
	p.OnMessage(ctx, liveMessage("m2", "chan-1", now))

	snap := p.Snapshot()
	if snap.Duplicates != 0 {
		t.Errorf("Duplicates = %d, want 0", snap.Duplicates)
	}
	if snap.MessageQueueDepth != 1 {
		t.Errorf("queue depth = %d, want 1", snap.MessageQueueDepth)
	}
}

// Historical replay of an ID that live capture already buffered lands in the
// same flush; the batch must still commit and the other live rows survive.
func TestHistoricalDuplicateKeepsBatch(t *testing.T) {
	st := newMockStore()
	p := newTestPipeline(st, quietConfig(), nil)
	p.Start()

	ctx := context.Background()
	now := time.Now().UTC()
	p.OnMessage(ctx, liveMessage("m1", "chan-1", now))
	p.OnMessage(ctx, liveMessage("m2", "chan-1", now.Add(time.Second)))
	if err := p.IngestHistorical(ctx, []*model.Message{liveMessage("m1", "chan-1", now)}); err != nil {
		t.Fatalf("IngestHistorical: %v", err)
	}
	p.Stop()

	if got := st.messageCount(); got != 2 {
		t.Fatalf("stored = %d, want 2", got)
	}
	st.mu.Lock()
	m1 := st.messages["m1"]
	st.mu.Unlock()
	if m1.Backfilled {
		t.Error("a live-captured row must not become backfilled on replay")
	}
}

func TestRedeliveryConvergesToSingleRow(t *testing.T) {
	st := newMockStore()
	p := newTestPipeline(st, quietConfig(), nil)
	p.Start()

	ctx := context.Background()
	now := time.Now().UTC()

	// Live capture, then historical replay of the same ID.
	p.OnMessage(ctx, liveMessage("m1", "chan-1", now))
	replay := liveMessage("m1", "chan-1", now)
	if err := p.IngestHistorical(ctx, []*model.Message{replay}); err != nil {
		t.Fatalf("IngestHistorical: %v", err)
	}
	p.Stop()

	if got := st.messageCount(); got != 1 {
		t.Fatalf("stored = %d, want 1", got)
	}
	st.mu.Lock()
	stored := st.messages["m1"]
	st.mu.Unlock()
	if stored.Backfilled {
		t.Error("a live-captured row must not become backfilled on replay")
	}
}
