package natssource

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/groblegark/scribe/internal/model"
	"github.com/groblegark/scribe/internal/source"
)

// startTestNATS starts an embedded NATS server and returns its client URL.
func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

// recordingHandler collects every dispatched event.
type recordingHandler struct {
	mu       sync.Mutex
	messages []*model.Message
	actions  []*model.Action
	guilds   []*model.GuildInfo
	channels []*model.ChannelInfo
}

var _ source.Handler = (*recordingHandler)(nil)

func (h *recordingHandler) OnMessage(_ context.Context, m *model.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, m)
}

func (h *recordingHandler) OnAction(_ context.Context, a *model.Action) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.actions = append(h.actions, a)
}

func (h *recordingHandler) OnGuild(_ context.Context, g *model.GuildInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.guilds = append(h.guilds, g)
}

func (h *recordingHandler) OnChannel(_ context.Context, c *model.ChannelInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.channels = append(h.channels, c)
}

func (h *recordingHandler) counts() (int, int, int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages), len(h.actions), len(h.guilds), len(h.channels)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func publishJSON(t *testing.T, nc *nats.Conn, subject string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := nc.Publish(subject, data); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never satisfied")
}

func TestSourceDispatchesEvents(t *testing.T) {
	url := startTestNATS(t)
	handler := &recordingHandler{}

	src, err := Connect(url, handler, testLogger())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer src.Close()
	if err := src.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connecting publisher: %v", err)
	}
	defer nc.Close()

	now := time.Now().UTC().Truncate(time.Second)
	publishJSON(t, nc, SubjectMessage, &model.Message{
		ID: "m1", ChannelID: "chan-1", AuthorID: "u1", Content: "hi", CreatedAt: now,
	})
	publishJSON(t, nc, SubjectAction, &model.Action{
		ID: "act-1", Type: model.ActionMessageDelete, ChannelID: "chan-1", OccurredAt: now,
	})
	publishJSON(t, nc, SubjectGuild, &model.GuildInfo{ID: "g1", Name: "guild"})
	publishJSON(t, nc, SubjectChannel, &model.ChannelInfo{ID: "chan-1", Name: "general", Type: "text"})

	waitFor(t, func() bool {
		m, a, g, c := handler.counts()
		return m == 1 && a == 1 && g == 1 && c == 1
	})

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if got := handler.messages[0]; got.ID != "m1" || got.Content != "hi" || !got.CreatedAt.Equal(now) {
		t.Errorf("message = %+v", got)
	}
	if got := handler.actions[0]; got.Type != model.ActionMessageDelete {
		t.Errorf("action = %+v", got)
	}
}

func TestSourceSkipsUndecodablePayloads(t *testing.T) {
	url := startTestNATS(t)
	handler := &recordingHandler{}

	src, err := Connect(url, handler, testLogger())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer src.Close()
	if err := src.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connecting publisher: %v", err)
	}
	defer nc.Close()

	if err := nc.Publish(SubjectMessage, []byte("{not json")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	publishJSON(t, nc, SubjectMessage, &model.Message{
		ID: "m2", ChannelID: "chan-1", AuthorID: "u1", CreatedAt: time.Now(),
	})

	waitFor(t, func() bool {
		m, _, _, _ := handler.counts()
		return m == 1
	})
}

func TestFetchPageRoundTrip(t *testing.T) {
	url := startTestNATS(t)

	src, err := Connect(url, &recordingHandler{}, testLogger())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer src.Close()

	// Stand in for the event gateway: answer history requests with one page.
	gw, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connecting gateway: %v", err)
	}
	defer gw.Close()

	var gotReq historyRequest
	_, err = gw.Subscribe(SubjectHistory, func(msg *nats.Msg) {
		if err := json.Unmarshal(msg.Data, &gotReq); err != nil {
			t.Errorf("decoding request: %v", err)
			return
		}
		page := source.Page{
			Messages: []*model.Message{
				{ID: "m5", ChannelID: gotReq.ChannelID, AuthorID: "u1", CreatedAt: time.Now().UTC()},
			},
			NextCursor: "m5",
			HasMore:    true,
		}
		data, _ := json.Marshal(&page)
		_ = msg.Respond(data)
	})
	if err != nil {
		t.Fatalf("subscribing gateway: %v", err)
	}
	if err := gw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	page, err := src.FetchPage(ctx, "chan-1", "m4", 50)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}

	if gotReq.ChannelID != "chan-1" || gotReq.AfterID != "m4" || gotReq.Limit != 50 {
		t.Errorf("request = %+v", gotReq)
	}
	if len(page.Messages) != 1 || page.Messages[0].ID != "m5" || !page.HasMore {
		t.Errorf("page = %+v", page)
	}
}

func TestFetchPageNoGateway(t *testing.T) {
	url := startTestNATS(t)

	src, err := Connect(url, &recordingHandler{}, testLogger())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if _, err := src.FetchPage(ctx, "chan-1", "", 50); err == nil {
		t.Fatal("expected error with no responder")
	}
}
