package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/groblegark/scribe/internal/model"
)

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version      string    `json:"version"`
	Type         string    `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
	MessageCount int       `json:"message_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes the messages as JSONL to w: one header record, then one
// message record per line, sorted by logged time then ID for stable output.
func ExportJSONL(msgs []*model.Message, from, to time.Time, w io.Writer) error {
	sorted := make([]*model.Message, len(msgs))
	copy(sorted, msgs)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].LoggedAt.Equal(sorted[j].LoggedAt) {
			return sorted[i].LoggedAt.Before(sorted[j].LoggedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:      "1",
		Type:         "header",
		Timestamp:    time.Now().UTC(),
		From:         from,
		To:           to,
		MessageCount: len(sorted),
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, m := range sorted {
		if err := enc.Encode(record{Type: "message", Data: m}); err != nil {
			return fmt.Errorf("encode message %s: %w", m.ID, err)
		}
	}
	return nil
}
