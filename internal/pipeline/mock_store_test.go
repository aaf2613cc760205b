package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/groblegark/scribe/internal/model"
	"github.com/groblegark/scribe/internal/store"
)

// mockStore is a minimal in-memory store for pipeline tests. Error and delay
// hooks let tests simulate slow or failing storage.
type mockStore struct {
	mu          sync.Mutex
	messages    map[string]*model.Message
	actions     map[string]*model.Action
	guilds      map[string]*model.GuildInfo
	channels    map[string]*model.ChannelInfo
	checkpoints map[string]*model.Checkpoint

	messageCalls int
	actionCalls  int

	// messagesErr, when set, is returned by every UpsertMessages call.
	messagesErr error
	// delay is applied inside every upsert call.
	delay time.Duration
}

var _ store.Store = (*mockStore)(nil)

func newMockStore() *mockStore {
	return &mockStore{
		messages:    make(map[string]*model.Message),
		actions:     make(map[string]*model.Action),
		guilds:      make(map[string]*model.GuildInfo),
		channels:    make(map[string]*model.ChannelInfo),
		checkpoints: make(map[string]*model.Checkpoint),
	}
}

func ckKey(scopeID string, kind model.CheckpointKind) string {
	return scopeID + "|" + string(kind)
}

// rejectDuplicateIDs mirrors Postgres: a multi-row ON CONFLICT DO UPDATE
// statement cannot affect the same row twice.
func rejectDuplicateIDs[T any](rows []T, id func(T) string) error {
	seen := make(map[string]bool, len(rows))
	for _, r := range rows {
		if seen[id(r)] {
			return &pq.Error{
				Code:    "21000",
				Message: "ON CONFLICT DO UPDATE command cannot affect row a second time",
			}
		}
		seen[id(r)] = true
	}
	return nil
}

func (m *mockStore) UpsertMessages(_ context.Context, msgs []*model.Message) (int, error) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messageCalls++
	if m.messagesErr != nil {
		return 0, m.messagesErr
	}
	if err := rejectDuplicateIDs(msgs, func(m *model.Message) string { return m.ID }); err != nil {
		return 0, err
	}
	for _, msg := range msgs {
		if prev, ok := m.messages[msg.ID]; ok {
			// First-capture metadata survives re-ingestion.
			cp := *msg
			cp.LoggedAt = prev.LoggedAt
			cp.Backfilled = prev.Backfilled && msg.Backfilled
			m.messages[msg.ID] = &cp
			continue
		}
		cp := *msg
		m.messages[msg.ID] = &cp
	}
	return len(msgs), nil
}

func (m *mockStore) UpsertActions(_ context.Context, actions []*model.Action) (int, error) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actionCalls++
	if err := rejectDuplicateIDs(actions, func(a *model.Action) string { return a.ID }); err != nil {
		return 0, err
	}
	for _, a := range actions {
		cp := *a
		m.actions[a.ID] = &cp
	}
	return len(actions), nil
}

func (m *mockStore) UpsertGuild(_ context.Context, g *model.GuildInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *g
	m.guilds[g.ID] = &cp
	return nil
}

func (m *mockStore) UpsertChannel(_ context.Context, c *model.ChannelInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.channels[c.ID] = &cp
	return nil
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
		cp = &model.Checkpoint{ScopeID: scopeID, Kind: kind, CreatedAt: time.Now()}
		m.checkpoints[key] = cp
	}
	if cp.LastProcessedAt.IsZero() || !cp.LastProcessedAt.After(lastAt) {
		cp.LastProcessedID = lastID
		cp.LastProcessedAt = lastAt
	}
	cp.TotalProcessed += n
	cp.UpdatedAt = time.Now()
	return nil
}

func (m *mockStore) BeginBackfill(_ context.Context, scopeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ckKey(scopeID, model.CheckpointBackfill)
	cp, ok := m.checkpoints[key]
	if !ok {
		cp = &model.Checkpoint{ScopeID: scopeID, Kind: model.CheckpointBackfill, CreatedAt: time.Now()}
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

func (m *mockStore) ListChannelIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id := range m.channels {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *mockStore) LastMessageID(_ context.Context, channelID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var id string
	var at time.Time
	for _, msg := range m.messages {
		if msg.ChannelID != channelID {
			continue
		}
		if id == "" || msg.CreatedAt.After(at) {
			id = msg.ID
			at = msg.CreatedAt
		}
	}
	if id == "" {
		return "", store.ErrNotFound
	}
	return id, nil
}

func (m *mockStore) CountMessages(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.messages)), nil
}

func (m *mockStore) CountActions(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.actions)), nil
}

func (m *mockStore) ListCheckpoints(_ context.Context) ([]*model.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cps []*model.Checkpoint
	for _, cp := range m.checkpoints {
		out := *cp
		cps = append(cps, &out)
	}
	return cps, nil
}

func (m *mockStore) MessagesLoggedSince(_ context.Context, since time.Time) ([]*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var msgs []*model.Message
	for _, msg := range m.messages {
		if !msg.LoggedAt.Before(since) {
			out := *msg
			msgs = append(msgs, &out)
		}
	}
	return msgs, nil
}

func (m *mockStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var delMsgs, delActs int64
	for id, msg := range m.messages {
		if msg.CreatedAt.Before(cutoff) {
			delete(m.messages, id)
			delMsgs++
		}
	}
	for id, a := range m.actions {
		if a.OccurredAt.Before(cutoff) {
			delete(m.actions, id)
			delActs++
		}
	}
	return delMsgs, delActs, nil
}

func (m *mockStore) Ping(_ context.Context) error { return nil }

func (m *mockStore) Close() error { return nil }

func (m *mockStore) messageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

func (m *mockStore) setMessagesErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messagesErr = err
}

func (m *mockStore) messageCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messageCalls
}

func (m *mockStore) checkpoint(scopeID string, kind model.CheckpointKind) *model.Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.checkpoints[ckKey(scopeID, kind)]
	if !ok {
		return nil
	}
	out := *cp
	return &out
}
