package natssource

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/groblegark/scribe/internal/source"
)

// SubjectHistory is the request-reply subject the event gateway answers
// history page requests on. The gateway owns the chat platform credentials;
// scribe only asks it for ordered pages.
const SubjectHistory = "scribe.history.fetch"

var _ source.History = (*Source)(nil)

type historyRequest struct {
	ChannelID string `json:"channel_id"`
	AfterID   string `json:"after_id,omitempty"`
	Limit     int    `json:"limit"`
}

// FetchPage implements source.History over NATS request-reply. Pages come
// back as JSON-encoded source.Page values. When no gateway is listening the
// request fails with nats: no responders, which the caller's retry policy
// treats as transient.
func (s *Source) FetchPage(ctx context.Context, scopeID, afterID string, limit int) (*source.Page, error) {
	data, err := json.Marshal(historyRequest{ChannelID: scopeID, AfterID: afterID, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("encoding history request: %w", err)
	}

	msg, err := s.conn.RequestWithContext(ctx, SubjectHistory, data)
	if err != nil {
		return nil, fmt.Errorf("requesting history page for %s: %w", scopeID, err)
	}

	var page source.Page
	if err := json.Unmarshal(msg.Data, &page); err != nil {
		return nil, fmt.Errorf("decoding history page: %w", err)
	}
	return &page, nil
}
