// Package source defines the contract between event sources and the
// ingestion pipeline. A source delivers live events one at a time through a
// Handler and, when it can, serves paginated history through History.
// Delivery is at-least-once; handlers must tolerate duplicates.
package source

import (
	"context"

	"github.com/groblegark/scribe/internal/model"
)

// Handler receives live events from a source. Implementations must be safe
// for concurrent use and must never block the caller on I/O.
type Handler interface {
	OnMessage(ctx context.Context, m *model.Message)
	OnAction(ctx context.Context, a *model.Action)
	OnGuild(ctx context.Context, g *model.GuildInfo)
	OnChannel(ctx context.Context, c *model.ChannelInfo)
}

// Page is one chunk of historical messages, ordered oldest first.
type Page struct {
	Messages []*model.Message `json:"messages"`

	// NextCursor is the marker to pass as afterID on the next fetch.
	// Meaningful only when HasMore is true.
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// History serves a scope's message history as finite pages. FetchPage
// returns messages strictly after afterID in ascending order; an empty
// afterID starts from the beginning of retained history.
type History interface {
	FetchPage(ctx context.Context, scopeID, afterID string, limit int) (*Page, error)
}
