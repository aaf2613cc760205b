package postgres

import (
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/groblegark/scribe/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanMessage(row scannable) (*model.Message, error) {
	var (
		m           model.Message
		guildID     sql.NullString
		displayName sql.NullString
		avatarURL   sql.NullString
		editedAt    sql.NullTime
		attachments []byte
		embeds      []byte
		threadID    sql.NullString
		referenceID sql.NullString
		webhookID   sql.NullString
	)
	err := row.Scan(
		&m.ID,
		&m.ChannelID,
		&guildID,
		&m.Content,
		&m.Type,
		&m.AuthorID,
		&m.AuthorUsername,
		&displayName,
		&avatarURL,
		&m.AuthorIsBot,
		&m.AuthorIsSystem,
		&m.CreatedAt,
		&editedAt,
		&m.Pinned,
		&m.MentionEveryone,
		&m.TTS,
		&attachments,
		&embeds,
		pq.Array(&m.Mentions),
		pq.Array(&m.MentionRoles),
		pq.Array(&m.MentionChannels),
		&threadID,
		&referenceID,
		&webhookID,
		&m.LoggedAt,
		&m.Backfilled,
	)
	if err != nil {
		return nil, err
	}

	m.GuildID = guildID.String
	m.AuthorDisplayName = displayName.String
	m.AuthorAvatarURL = avatarURL.String
	m.ThreadID = threadID.String
	m.ReferenceID = referenceID.String
	m.WebhookID = webhookID.String
	if editedAt.Valid {
		t := editedAt.Time
		m.EditedAt = &t
	}
	if len(attachments) > 0 {
		m.Attachments = attachments
	}
	if len(embeds) > 0 {
		m.Embeds = embeds
	}
	return &m, nil
}

func scanCheckpoint(row scannable) (*model.Checkpoint, error) {
	var (
		cp          model.Checkpoint
		lastID      sql.NullString
		lastAt      sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(
		&cp.ScopeID,
		&cp.Kind,
		&lastID,
		&lastAt,
		&cp.TotalProcessed,
		&cp.BackfillInProgress,
		&completedAt,
		&cp.CreatedAt,
		&cp.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	cp.LastProcessedID = lastID.String
	if lastAt.Valid {
		cp.LastProcessedAt = lastAt.Time
	}
	if completedAt.Valid {
		t := completedAt.Time
		cp.LastBackfillCompletedAt = &t
	}
	return &cp, nil
}

// nullString stores empty strings as NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullTime stores the zero time as NULL.
func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// jsonbBytes passes raw JSON to a JSONB column, with empty payloads as NULL.
func jsonbBytes(raw []byte) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// emptyIfNil keeps pq.Array from writing NULL for a nil slice.
func emptyIfNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
