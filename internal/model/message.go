package model

import (
	"encoding/json"
	"errors"
	"time"
)

// MessageType categorizes a chat message.
// Well-known constants are provided below, but the source may deliver new
// types at any time; unknown non-empty values are stored as-is.
type MessageType string

const (
	MessageDefault        MessageType = "default"
	MessageReply          MessageType = "reply"
	MessagePinsAdd        MessageType = "pins_add"
	MessageNewMember      MessageType = "new_member"
	MessageThreadCreated  MessageType = "thread_created"
	MessageThreadStarter  MessageType = "thread_starter_message"
	MessageChatCommand    MessageType = "chat_input_command"
	MessageContextCommand MessageType = "context_menu_command"
	MessageAutoModeration MessageType = "auto_moderation_action"
	MessageCall           MessageType = "call"
)

// String returns the string representation of the message type.
func (t MessageType) String() string {
	return string(t)
}

// Validation errors shared by the event types.
var (
	ErrMissingID        = errors.New("missing id")
	ErrMissingType      = errors.New("missing type")
	ErrMissingScope     = errors.New("missing scope id")
	ErrMissingAuthor    = errors.New("missing author id")
	ErrMissingTimestamp = errors.New("missing timestamp")
)

// Message is an immutable snapshot of a chat message at ingestion time.
// Attachments and Embeds are kept as raw JSON; the pipeline never inspects
// them, it only carries them to storage.
type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	GuildID   string `json:"guild_id,omitempty"`

	Content string      `json:"content"`
	Type    MessageType `json:"type"`

	AuthorID          string `json:"author_id"`
	AuthorUsername    string `json:"author_username"`
	AuthorDisplayName string `json:"author_display_name,omitempty"`
	AuthorAvatarURL   string `json:"author_avatar_url,omitempty"`
	AuthorIsBot       bool   `json:"author_is_bot"`
	AuthorIsSystem    bool   `json:"author_is_system"`

	CreatedAt       time.Time  `json:"created_at"`
	EditedAt        *time.Time `json:"edited_at,omitempty"`
	Pinned          bool       `json:"pinned"`
	MentionEveryone bool       `json:"mention_everyone"`
	TTS             bool       `json:"tts"`

	Attachments     json.RawMessage `json:"attachments,omitempty"`
	Embeds          json.RawMessage `json:"embeds,omitempty"`
	Mentions        []string        `json:"mentions,omitempty"`
	MentionRoles    []string        `json:"mention_roles,omitempty"`
	MentionChannels []string        `json:"mention_channels,omitempty"`

	ThreadID    string `json:"thread_id,omitempty"`
	ReferenceID string `json:"reference_id,omitempty"`
	WebhookID   string `json:"webhook_id,omitempty"`

	// LoggedAt is capture-time metadata set on first ingestion; re-ingestion
	// of the same message must not regress it.
	LoggedAt   time.Time `json:"logged_at"`
	Backfilled bool      `json:"backfilled"`
}

// Scope returns the checkpoint scope a message is tracked under.
func (m *Message) Scope() string {
	return m.ChannelID
}

// Validate reports whether the message carries the fields persistence
// requires. Invalid messages are dropped item-scoped, never batch-scoped.
func (m *Message) Validate() error {
	if m.ID == "" {
		return ErrMissingID
	}
	if m.ChannelID == "" {
		return ErrMissingScope
	}
	if m.AuthorID == "" {
		return ErrMissingAuthor
	}
	if m.CreatedAt.IsZero() {
		return ErrMissingTimestamp
	}
	return nil
}
