package model

import (
	"encoding/json"
	"time"
)

// ActionType classifies a moderation or administrative event.
type ActionType string

const (
	ActionMessageDelete     ActionType = "message_delete"
	ActionMessageEdit       ActionType = "message_edit"
	ActionMessageBulkDelete ActionType = "message_bulk_delete"
	ActionMemberJoin        ActionType = "member_join"
	ActionMemberLeave       ActionType = "member_leave"
	ActionMemberUpdate      ActionType = "member_update"
	ActionMemberBan         ActionType = "member_ban"
	ActionMemberUnban       ActionType = "member_unban"
	ActionChannelCreate     ActionType = "channel_create"
	ActionChannelDelete     ActionType = "channel_delete"
	ActionChannelUpdate     ActionType = "channel_update"
	ActionRoleCreate        ActionType = "role_create"
	ActionRoleDelete        ActionType = "role_delete"
	ActionRoleUpdate        ActionType = "role_update"
	ActionGuildUpdate       ActionType = "guild_update"
	ActionVoiceStateUpdate  ActionType = "voice_state_update"
	ActionInviteCreate      ActionType = "invite_create"
	ActionInviteDelete      ActionType = "invite_delete"
	ActionThreadCreate      ActionType = "thread_create"
	ActionThreadDelete      ActionType = "thread_delete"
	ActionThreadUpdate      ActionType = "thread_update"
	ActionWebhookCreate     ActionType = "webhook_create"
	ActionWebhookUpdate     ActionType = "webhook_update"
	ActionWebhookDelete     ActionType = "webhook_delete"
)

// String returns the string representation of the action type.
func (t ActionType) String() string {
	return string(t)
}

// Action is an immutable record of a moderation or administrative event.
// Sources that number their events keep those IDs, so a redelivered callback
// upserts the same row; an event arriving without an ID gets one minted at
// capture time, and a redelivery of it stores a fresh row.
type Action struct {
	ID        string     `json:"id"`
	Type      ActionType `json:"type"`
	GuildID   string     `json:"guild_id,omitempty"`
	ChannelID string     `json:"channel_id,omitempty"`

	ActorID          string `json:"actor_id,omitempty"`
	ActorUsername    string `json:"actor_username,omitempty"`
	ActorDisplayName string `json:"actor_display_name,omitempty"`

	TargetID   string `json:"target_id,omitempty"`
	TargetType string `json:"target_type,omitempty"`
	TargetName string `json:"target_name,omitempty"`

	Data   json.RawMessage `json:"data,omitempty"`
	Before json.RawMessage `json:"before,omitempty"`
	After  json.RawMessage `json:"after,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
	LoggedAt   time.Time `json:"logged_at"`
	Backfilled bool      `json:"backfilled"`
}

// Scope returns the checkpoint scope an action is tracked under: the guild
// when known, the channel for guildless (DM) actions.
func (a *Action) Scope() string {
	if a.GuildID != "" {
		return a.GuildID
	}
	return a.ChannelID
}

// Validate reports whether the action carries the fields persistence requires.
func (a *Action) Validate() error {
	if a.ID == "" {
		return ErrMissingID
	}
	if a.Type == "" {
		return ErrMissingType
	}
	if a.Scope() == "" {
		return ErrMissingScope
	}
	if a.OccurredAt.IsZero() {
		return ErrMissingTimestamp
	}
	return nil
}
