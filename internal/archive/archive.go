// Package archive periodically exports recently logged messages as JSONL to
// one or more destinations, giving the relational store an off-site copy.
package archive

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/groblegark/scribe/internal/model"
)

// Destination is the interface for an archive target. The suffix identifies
// the export window and is stable for retries of the same window.
type Destination interface {
	Write(ctx context.Context, suffix string, data []byte) error
}

// MessageSource is the slice of the store the scheduler reads from.
type MessageSource interface {
	MessagesLoggedSince(ctx context.Context, since time.Time) ([]*model.Message, error)
}

// Scheduler exports each interval's newly logged messages to the
// destinations. A window that fails to export is retried as part of the next
// window (the since marker only advances on success).
type Scheduler struct {
	store        MessageSource
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	since time.Time
}

// NewScheduler creates a scheduler exporting from the store at the given
// interval.
func NewScheduler(s MessageSource, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:        s,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
	}
}

// Start begins periodic exports. The first window opens now; nothing logged
// before Start is exported.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.since = time.Now().UTC()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for the current export (if any) to
// finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.exportOnce(ctx)
		}
	}
}

func (s *Scheduler) exportOnce(ctx context.Context) {
	from := s.since
	to := time.Now().UTC()

	msgs, err := s.store.MessagesLoggedSince(ctx, from)
	if err != nil {
		s.logger.Error("archive read failed", "err", err)
		return
	}
	if len(msgs) == 0 {
		s.since = to
		return
	}

	var buf bytes.Buffer
	if err := ExportJSONL(msgs, from, to, &buf); err != nil {
		s.logger.Error("archive export failed", "err", err)
		return
	}

	suffix := to.Format("20060102T150405Z")
	ok := true
	for _, dest := range s.destinations {
		if err := dest.Write(ctx, suffix, buf.Bytes()); err != nil {
			ok = false
			s.logger.Error("archive destination write failed", "err", err)
		}
	}
	if !ok {
		return
	}

	s.since = to
	s.logger.Info("archive completed",
		"messages", len(msgs), "destinations", len(s.destinations), "bytes", buf.Len())
}
