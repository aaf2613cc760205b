package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/groblegark/scribe/internal/model"
	"github.com/groblegark/scribe/internal/store"
)

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// messageColumns is the column list used for message INSERT and SELECT
// statements; scanMessage depends on this order.
const messageColumns = `message_id, channel_id, guild_id, content, message_type,
	author_id, author_username, author_display_name, author_avatar_url,
	author_is_bot, author_is_system, created_at, edited_at, pinned,
	mention_everyone, tts, attachments, embeds, mentions, mention_roles,
	mention_channels, thread_id, reference_id, webhook_id, logged_at, backfilled`

const messageColumnCount = 26

// On conflict the mutable columns take the incoming values; logged_at keeps
// its first-capture value, and backfilled can only flip toward false so a
// row first seen live never becomes "backfilled" when replay re-delivers it.
const messageConflictClause = ` ON CONFLICT (message_id) DO UPDATE SET
	content = EXCLUDED.content,
	message_type = EXCLUDED.message_type,
	author_username = EXCLUDED.author_username,
	author_display_name = EXCLUDED.author_display_name,
	author_avatar_url = EXCLUDED.author_avatar_url,
	edited_at = EXCLUDED.edited_at,
	pinned = EXCLUDED.pinned,
	mention_everyone = EXCLUDED.mention_everyone,
	tts = EXCLUDED.tts,
	attachments = EXCLUDED.attachments,
	embeds = EXCLUDED.embeds,
	mentions = EXCLUDED.mentions,
	mention_roles = EXCLUDED.mention_roles,
	mention_channels = EXCLUDED.mention_channels,
	thread_id = EXCLUDED.thread_id,
	reference_id = EXCLUDED.reference_id,
	webhook_id = EXCLUDED.webhook_id,
	backfilled = messages.backfilled AND EXCLUDED.backfilled`

func queryUpsertMessages(ctx context.Context, db executor, msgs []*model.Message) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}

	placeholders := make([]string, 0, len(msgs))
	args := make([]any, 0, len(msgs)*messageColumnCount)
	for i, m := range msgs {
		placeholders = append(placeholders, valuesTuple(i*messageColumnCount, messageColumnCount))
		args = append(args,
			m.ID,
			m.ChannelID,
			nullString(m.GuildID),
			m.Content,
			string(m.Type),
			m.AuthorID,
			m.AuthorUsername,
			nullString(m.AuthorDisplayName),
			nullString(m.AuthorAvatarURL),
			m.AuthorIsBot,
			m.AuthorIsSystem,
			m.CreatedAt,
			nullTimePtr(m.EditedAt),
			m.Pinned,
			m.MentionEveryone,
			m.TTS,
			jsonbBytes(m.Attachments),
			jsonbBytes(m.Embeds),
			pq.Array(emptyIfNil(m.Mentions)),
			pq.Array(emptyIfNil(m.MentionRoles)),
			pq.Array(emptyIfNil(m.MentionChannels)),
			nullString(m.ThreadID),
			nullString(m.ReferenceID),
			nullString(m.WebhookID),
			m.LoggedAt,
			m.Backfilled,
		)
	}

	query := `INSERT INTO messages (` + messageColumns + `) VALUES ` +
		strings.Join(placeholders, ", ") + messageConflictClause

	_, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return len(msgs), nil
}

const actionColumns = `action_id, action_type, guild_id, channel_id,
	actor_id, actor_username, actor_display_name,
	target_id, target_type, target_name,
	action_data, before_data, after_data,
	occurred_at, logged_at, backfilled`

const actionColumnCount = 16

const actionConflictClause = ` ON CONFLICT (action_id) DO UPDATE SET
	action_data = EXCLUDED.action_data,
	before_data = EXCLUDED.before_data,
	after_data = EXCLUDED.after_data,
	backfilled = actions.backfilled AND EXCLUDED.backfilled`

func queryUpsertActions(ctx context.Context, db executor, actions []*model.Action) (int, error) {
	if len(actions) == 0 {
		return 0, nil
	}

	placeholders := make([]string, 0, len(actions))
	args := make([]any, 0, len(actions)*actionColumnCount)
	for i, a := range actions {
		placeholders = append(placeholders, valuesTuple(i*actionColumnCount, actionColumnCount))
		args = append(args,
			a.ID,
			string(a.Type),
			nullString(a.GuildID),
			nullString(a.ChannelID),
			nullString(a.ActorID),
			nullString(a.ActorUsername),
			nullString(a.ActorDisplayName),
			nullString(a.TargetID),
			nullString(a.TargetType),
			nullString(a.TargetName),
			jsonbBytes(a.Data),
			jsonbBytes(a.Before),
			jsonbBytes(a.After),
			a.OccurredAt,
			a.LoggedAt,
			a.Backfilled,
		)
	}

	query := `INSERT INTO actions (` + actionColumns + `) VALUES ` +
		strings.Join(placeholders, ", ") + actionConflictClause

	_, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return len(actions), nil
}

func queryUpsertGuild(ctx context.Context, db executor, g *model.GuildInfo) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO guilds (guild_id, name, description, owner_id, member_count, created_at, icon_url, first_seen, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		ON CONFLICT (guild_id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			owner_id = EXCLUDED.owner_id,
			member_count = EXCLUDED.member_count,
			icon_url = EXCLUDED.icon_url,
			last_updated = now()`,
		g.ID,
		g.Name,
		nullString(g.Description),
		nullString(g.OwnerID),
		g.MemberCount,
		nullTime(g.CreatedAt),
		nullString(g.IconURL),
	)
	return err
}

func queryUpsertChannel(ctx context.Context, db executor, c *model.ChannelInfo) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO channels (channel_id, guild_id, name, channel_type, topic, position, parent_id, first_seen, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		ON CONFLICT (channel_id) DO UPDATE SET
			name = EXCLUDED.name,
			channel_type = EXCLUDED.channel_type,
			topic = EXCLUDED.topic,
			position = EXCLUDED.position,
			parent_id = EXCLUDED.parent_id,
			last_updated = now()`,
		c.ID,
		nullString(c.GuildID),
		c.Name,
		c.Type,
		nullString(c.Topic),
		c.Position,
		nullString(c.ParentID),
	)
	return err
}

const checkpointColumns = `scope_id, kind, last_processed_id, last_processed_at,
	total_processed, backfill_in_progress, last_backfill_completed_at,
	created_at, updated_at`

func queryGetCheckpoint(ctx context.Context, db executor, scopeID string, kind model.CheckpointKind) (*model.Checkpoint, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints WHERE scope_id = $1 AND kind = $2`,
		scopeID, string(kind))
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return cp, err
}

func queryAdvanceCheckpoint(ctx context.Context, db executor, scopeID string, kind model.CheckpointKind, lastID string, lastAt time.Time, n int64) error {
	// The cursor only moves when the incoming position is not older than the
	// stored one, which keeps last_processed_id monotonically non-decreasing
	// under interleaved live and backfill flushes.
	_, err := db.ExecContext(ctx, `
		INSERT INTO checkpoints (scope_id, kind, last_processed_id, last_processed_at, total_processed, backfill_in_progress, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, now(), now())
		ON CONFLICT (scope_id, kind) DO UPDATE SET
			last_processed_id = CASE
				WHEN checkpoints.last_processed_at IS NULL OR checkpoints.last_processed_at <= EXCLUDED.last_processed_at
				THEN EXCLUDED.last_processed_id
				ELSE checkpoints.last_processed_id
			END,
			last_processed_at = GREATEST(COALESCE(checkpoints.last_processed_at, EXCLUDED.last_processed_at), EXCLUDED.last_processed_at),
			total_processed = checkpoints.total_processed + EXCLUDED.total_processed,
			updated_at = now()`,
		scopeID, string(kind), lastID, lastAt, n)
	return err
}

func queryBeginBackfill(ctx context.Context, db executor, scopeID string) (bool, error) {
	// The WHERE clause makes the flag flip a compare-and-swap: when another
	// run already holds it the UPDATE matches no row and RETURNING yields
	// nothing.
	var one int
	err := db.QueryRowContext(ctx, `
		INSERT INTO checkpoints (scope_id, kind, total_processed, backfill_in_progress, created_at, updated_at)
		VALUES ($1, $2, 0, TRUE, now(), now())
		ON CONFLICT (scope_id, kind) DO UPDATE SET
			backfill_in_progress = TRUE,
			updated_at = now()
		WHERE checkpoints.backfill_in_progress = FALSE
		RETURNING 1`,
		scopeID, string(model.CheckpointBackfill)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func queryEndBackfill(ctx context.Context, db executor, scopeID string, completed bool) error {
	_, err := db.ExecContext(ctx, `
		UPDATE checkpoints SET
			backfill_in_progress = FALSE,
			last_backfill_completed_at = CASE WHEN $3 THEN now() ELSE last_backfill_completed_at END,
			updated_at = now()
		WHERE scope_id = $1 AND kind = $2`,
		scopeID, string(model.CheckpointBackfill), completed)
	return err
}

func queryListChannelIDs(ctx context.Context, db executor) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT channel_id FROM channels ORDER BY channel_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func queryLastMessageID(ctx context.Context, db executor, channelID string) (string, error) {
	var id string
	err := db.QueryRowContext(ctx, `
		SELECT message_id FROM messages
		WHERE channel_id = $1
		ORDER BY created_at DESC, message_id DESC
		LIMIT 1`,
		channelID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	return id, err
}

func queryCount(ctx context.Context, db executor, table string) (int64, error) {
	// table is one of the fixed names passed by PostgresStore, never user input.
	var n int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n)
	return n, err
}

func queryListCheckpoints(ctx context.Context, db executor) ([]*model.Checkpoint, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints ORDER BY scope_id, kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cps []*model.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		cps = append(cps, cp)
	}
	return cps, rows.Err()
}

func queryMessagesLoggedSince(ctx context.Context, db executor, since time.Time) ([]*model.Message, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE logged_at >= $1 ORDER BY logged_at`,
		since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func queryDeleteOlderThan(ctx context.Context, db executor, cutoff time.Time) (int64, int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM messages WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("delete messages: %w", err)
	}
	deletedMsgs, _ := res.RowsAffected()

	res, err = db.ExecContext(ctx, `DELETE FROM actions WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return deletedMsgs, 0, fmt.Errorf("delete actions: %w", err)
	}
	deletedActs, _ := res.RowsAffected()

	return deletedMsgs, deletedActs, nil
}

// valuesTuple renders "($n, $n+1, ...)" for one multi-row VALUES entry.
func valuesTuple(offset, width int) string {
	parts := make([]string, width)
	for i := 0; i < width; i++ {
		parts[i] = fmt.Sprintf("$%d", offset+i+1)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
