package model

import "time"

// GuildInfo is a directory row for a guild, upserted whenever the source
// reports the guild.
type GuildInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	OwnerID     string    `json:"owner_id,omitempty"`
	MemberCount int       `json:"member_count"`
	CreatedAt   time.Time `json:"created_at"`
	IconURL     string    `json:"icon_url,omitempty"`

	FirstSeen   time.Time `json:"first_seen"`
	LastUpdated time.Time `json:"last_updated"`
}

// Validate reports whether the guild row carries its unique key.
func (g *GuildInfo) Validate() error {
	if g.ID == "" {
		return ErrMissingID
	}
	return nil
}

// ChannelInfo is a directory row for a channel.
type ChannelInfo struct {
	ID       string `json:"id"`
	GuildID  string `json:"guild_id,omitempty"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Topic    string `json:"topic,omitempty"`
	Position int    `json:"position"`
	ParentID string `json:"parent_id,omitempty"`

	FirstSeen   time.Time `json:"first_seen"`
	LastUpdated time.Time `json:"last_updated"`
}

// Validate reports whether the channel row carries its unique key.
func (c *ChannelInfo) Validate() error {
	if c.ID == "" {
		return ErrMissingID
	}
	return nil
}
