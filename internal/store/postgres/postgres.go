// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/groblegark/scribe/internal/model"
	"github.com/groblegark/scribe/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations. The pool
// is shared by the batch writer, the checkpoint operations, and the stats
// surface.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Ping validates connectivity for the health endpoint.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) UpsertMessages(ctx context.Context, msgs []*model.Message) (int, error) {
	return queryUpsertMessages(ctx, s.db, msgs)
}

func (s *PostgresStore) UpsertActions(ctx context.Context, actions []*model.Action) (int, error) {
	return queryUpsertActions(ctx, s.db, actions)
}

func (s *PostgresStore) UpsertGuild(ctx context.Context, g *model.GuildInfo) error {
	return queryUpsertGuild(ctx, s.db, g)
}

func (s *PostgresStore) UpsertChannel(ctx context.Context, c *model.ChannelInfo) error {
	return queryUpsertChannel(ctx, s.db, c)
}

func (s *PostgresStore) GetCheckpoint(ctx context.Context, scopeID string, kind model.CheckpointKind) (*model.Checkpoint, error) {
	return queryGetCheckpoint(ctx, s.db, scopeID, kind)
}

func (s *PostgresStore) AdvanceCheckpoint(ctx context.Context, scopeID string, kind model.CheckpointKind, lastID string, lastAt time.Time, n int64) error {
	return queryAdvanceCheckpoint(ctx, s.db, scopeID, kind, lastID, lastAt, n)
}

func (s *PostgresStore) BeginBackfill(ctx context.Context, scopeID string) (bool, error) {
	return queryBeginBackfill(ctx, s.db, scopeID)
}

func (s *PostgresStore) EndBackfill(ctx context.Context, scopeID string, completed bool) error {
	return queryEndBackfill(ctx, s.db, scopeID, completed)
}

func (s *PostgresStore) ListChannelIDs(ctx context.Context) ([]string, error) {
	return queryListChannelIDs(ctx, s.db)
}

func (s *PostgresStore) LastMessageID(ctx context.Context, channelID string) (string, error) {
	return queryLastMessageID(ctx, s.db, channelID)
}

func (s *PostgresStore) CountMessages(ctx context.Context) (int64, error) {
	return queryCount(ctx, s.db, "messages")
}

func (s *PostgresStore) CountActions(ctx context.Context) (int64, error) {
	return queryCount(ctx, s.db, "actions")
}

func (s *PostgresStore) ListCheckpoints(ctx context.Context) ([]*model.Checkpoint, error) {
	return queryListCheckpoints(ctx, s.db)
}

func (s *PostgresStore) MessagesLoggedSince(ctx context.Context, since time.Time) ([]*model.Message, error) {
	return queryMessagesLoggedSince(ctx, s.db, since)
}

func (s *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, int64, error) {
	return queryDeleteOlderThan(ctx, s.db, cutoff)
}
