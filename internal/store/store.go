package store

import (
	"context"
	"errors"
	"time"

	"github.com/groblegark/scribe/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the persistence capability the ingestion pipeline requires:
// idempotent upserts keyed by each row's unique ID, and checkpoint records.
type Store interface {
	// Upserts. Re-applying a row with an ID already stored overwrites the
	// mutable columns and never duplicates; capture-time metadata set on
	// first insert is preserved. Returns the number of rows written.
	UpsertMessages(ctx context.Context, msgs []*model.Message) (int, error)
	UpsertActions(ctx context.Context, actions []*model.Action) (int, error)
	UpsertGuild(ctx context.Context, g *model.GuildInfo) error
	UpsertChannel(ctx context.Context, c *model.ChannelInfo) error

	// Checkpoints.
	GetCheckpoint(ctx context.Context, scopeID string, kind model.CheckpointKind) (*model.Checkpoint, error)
	// AdvanceCheckpoint moves the (scope, kind) cursor forward and adds n to
	// the processed counter in one statement. The cursor only moves when
	// lastAt is not older than the stored position, so it is monotonically
	// non-decreasing under concurrent writers.
	AdvanceCheckpoint(ctx context.Context, scopeID string, kind model.CheckpointKind, lastID string, lastAt time.Time, n int64) error
	// BeginBackfill compare-and-swaps backfill_in_progress from false to
	// true for the scope, creating the checkpoint row if absent. It returns
	// false when another run already holds the flag.
	BeginBackfill(ctx context.Context, scopeID string) (bool, error)
	// EndBackfill clears the flag; when completed is true it also stamps
	// last_backfill_completed_at.
	EndBackfill(ctx context.Context, scopeID string, completed bool) error

	// Reads used by the coordinator, stats surface, and CLI.
	ListChannelIDs(ctx context.Context) ([]string, error)
	// LastMessageID returns the ID of the newest captured message in the
	// channel, or ErrNotFound when none exist.
	LastMessageID(ctx context.Context, channelID string) (string, error)
	CountMessages(ctx context.Context) (int64, error)
	CountActions(ctx context.Context) (int64, error)
	ListCheckpoints(ctx context.Context) ([]*model.Checkpoint, error)
	MessagesLoggedSince(ctx context.Context, since time.Time) ([]*model.Message, error)

	// Retention, owned by the operator CLI.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (messages int64, actions int64, err error)

	// Lifecycle.
	Ping(ctx context.Context) error
	Close() error
}
