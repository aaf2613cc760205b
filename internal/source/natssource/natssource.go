// Package natssource delivers live events from NATS subjects to a handler.
// The event gateway (the process talking to the chat platform) publishes one
// JSON-encoded event per NATS message; this source decodes and dispatches
// them. Delivery is at-least-once: the gateway may republish on reconnect,
// so the handler's dedup path sees duplicate IDs.
package natssource

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/groblegark/scribe/internal/model"
	"github.com/groblegark/scribe/internal/source"
)

// Subjects published by the event gateway.
const (
	SubjectMessage = "scribe.event.message"
	SubjectAction  = "scribe.event.action"
	SubjectGuild   = "scribe.event.guild"
	SubjectChannel = "scribe.event.channel"
)

// Source subscribes to the event subjects and dispatches decoded events to a
// handler. Dispatch happens on the NATS client's callback goroutine; the
// handler contract (enqueue-only, never block on I/O) keeps that safe.
type Source struct {
	conn    *nats.Conn
	handler source.Handler
	logger  *slog.Logger
	subs    []*nats.Subscription
}

// Connect dials NATS with automatic reconnection. Extra nats.Option values
// (e.g. disconnect handlers) can be appended.
func Connect(url string, handler source.Handler, logger *slog.Logger, opts ...nats.Option) (*Source, error) {
	defaults := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &Source{conn: nc, handler: handler, logger: logger}, nil
}

// Start registers the subscriptions and flushes so the server routes
// messages published on other connections before Start returns.
func (s *Source) Start() error {
	ctx := context.Background()

	if err := s.subscribe(SubjectMessage, func(data []byte) error {
		var m model.Message
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		s.handler.OnMessage(ctx, &m)
		return nil
	}); err != nil {
		return err
	}
	if err := s.subscribe(SubjectAction, func(data []byte) error {
		var a model.Action
		if err := json.Unmarshal(data, &a); err != nil {
			return err
		}
		s.handler.OnAction(ctx, &a)
		return nil
	}); err != nil {
		return err
	}
	if err := s.subscribe(SubjectGuild, func(data []byte) error {
		var g model.GuildInfo
		if err := json.Unmarshal(data, &g); err != nil {
			return err
		}
		s.handler.OnGuild(ctx, &g)
		return nil
	}); err != nil {
		return err
	}
	if err := s.subscribe(SubjectChannel, func(data []byte) error {
		var c model.ChannelInfo
		if err := json.Unmarshal(data, &c); err != nil {
			return err
		}
		s.handler.OnChannel(ctx, &c)
		return nil
	}); err != nil {
		return err
	}

	if err := s.conn.Flush(); err != nil {
		return fmt.Errorf("flushing subscriptions: %w", err)
	}
	return nil
}

func (s *Source) subscribe(subject string, decode func([]byte) error) error {
	sub, err := s.conn.Subscribe(subject, func(msg *nats.Msg) {
		if err := decode(msg.Data); err != nil {
			s.logger.Warn("dropping undecodable event", "subject", subject, "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	s.subs = append(s.subs, sub)
	return nil
}

// Close unsubscribes and closes the connection.
func (s *Source) Close() error {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.conn.Close()
	return nil
}
