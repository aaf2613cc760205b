// Package client provides a small HTTP/JSON client for the scribe
// operational API, used by the CLI commands.
package client

import (
	"context"

	"github.com/groblegark/scribe/internal/backfill"
	"github.com/groblegark/scribe/internal/model"
	"github.com/groblegark/scribe/internal/pipeline"
)

// ScribeClient is the interface the CLI commands use to talk to a running
// scribe server. It is implemented by HTTPClient.
type ScribeClient interface {
	Health(ctx context.Context) (string, error)
	Stats(ctx context.Context) (*Stats, error)
	ListCheckpoints(ctx context.Context) ([]*model.Checkpoint, error)
	ListBackfills(ctx context.Context) ([]backfill.Status, error)
	StartBackfill(ctx context.Context, scopeID string, resume bool) error
	StopBackfill(ctx context.Context, scopeID string) error

	Close() error
}

// Stats mirrors the /v1/stats response.
type Stats struct {
	Pipeline      pipeline.Snapshot `json:"pipeline"`
	TotalMessages int64             `json:"total_messages"`
	TotalActions  int64             `json:"total_actions"`
	Backfills     []backfill.Status `json:"backfills,omitempty"`
}
