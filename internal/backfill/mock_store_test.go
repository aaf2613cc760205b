package backfill

import (
	"context"
	"sync"
	"time"

	"github.com/groblegark/scribe/internal/model"
	"github.com/groblegark/scribe/internal/store"
)

// mockStore implements just enough of store.Store for coordinator tests:
// real checkpoint semantics, no-op everything else.
type mockStore struct {
	mu          sync.Mutex
	checkpoints map[string]*model.Checkpoint
	// lastIDs maps channel to the newest captured message ID, simulating
	// what live ingestion has already stored.
	lastIDs map[string]string
}

var _ store.Store = (*mockStore)(nil)

func newMockStore() *mockStore {
	return &mockStore{
		checkpoints: make(map[string]*model.Checkpoint),
		lastIDs:     make(map[string]string),
	}
}

func ckKey(scopeID string, kind model.CheckpointKind) string {
	return scopeID + "|" + string(kind)
}

func (m *mockStore) GetCheckpoint(_ context.Context, scopeID string, kind model.CheckpointKind) (*model.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.checkpoints[ckKey(scopeID, kind)]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *cp
	return &out, nil
}

func (m *mockStore) AdvanceCheckpoint(_ context.Context, scopeID string, kind model.CheckpointKind, lastID string, lastAt time.Time, n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ckKey(scopeID, kind)
	cp, ok := m.checkpoints[key]
	if !ok {
		cp = &model.Checkpoint{ScopeID: scopeID, Kind: kind}
		m.checkpoints[key] = cp
	}
	if cp.LastProcessedAt.IsZero() || !cp.LastProcessedAt.After(lastAt) {
		cp.LastProcessedID = lastID
		cp.LastProcessedAt = lastAt
	}
	cp.TotalProcessed += n
	return nil
}

func (m *mockStore) BeginBackfill(_ context.Context, scopeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ckKey(scopeID, model.CheckpointBackfill)
	cp, ok := m.checkpoints[key]
	if !ok {
		cp = &model.Checkpoint{ScopeID: scopeID, Kind: model.CheckpointBackfill}
		m.checkpoints[key] = cp
	}
	if cp.BackfillInProgress {
		return false, nil
	}
	cp.BackfillInProgress = true
	return true, nil
}

func (m *mockStore) EndBackfill(_ context.Context, scopeID string, completed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.checkpoints[ckKey(scopeID, model.CheckpointBackfill)]
	if !ok {
		return nil
	}
	cp.BackfillInProgress = false
	if completed {
		now := time.Now()
		cp.LastBackfillCompletedAt = &now
	}
	return nil
}

func (m *mockStore) backfillCheckpoint(scopeID string) *model.Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.checkpoints[ckKey(scopeID, model.CheckpointBackfill)]
	if !ok {
		return nil
	}
	out := *cp
	return &out
}

func (m *mockStore) LastMessageID(_ context.Context, channelID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.lastIDs[channelID]
	if !ok {
		return "", store.ErrNotFound
	}
	return id, nil
}

func (m *mockStore) UpsertMessages(context.Context, []*model.Message) (int, error) { return 0, nil }
func (m *mockStore) UpsertActions(context.Context, []*model.Action) (int, error)   { return 0, nil }
func (m *mockStore) UpsertGuild(context.Context, *model.GuildInfo) error           { return nil }
func (m *mockStore) UpsertChannel(context.Context, *model.ChannelInfo) error       { return nil }
func (m *mockStore) ListChannelIDs(context.Context) ([]string, error)              { return nil, nil }
func (m *mockStore) CountMessages(context.Context) (int64, error)                  { return 0, nil }
func (m *mockStore) CountActions(context.Context) (int64, error)                   { return 0, nil }
func (m *mockStore) ListCheckpoints(context.Context) ([]*model.Checkpoint, error)  { return nil, nil }
func (m *mockStore) MessagesLoggedSince(context.Context, time.Time) ([]*model.Message, error) {
	return nil, nil
}
func (m *mockStore) DeleteOlderThan(context.Context, time.Time) (int64, int64, error) {
	return 0, 0, nil
}
func (m *mockStore) Ping(context.Context) error { return nil }
func (m *mockStore) Close() error               { return nil }
