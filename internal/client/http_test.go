package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/groblegark/scribe/internal/backfill"
	"github.com/groblegark/scribe/internal/model"
)

// newTestClient spins up an httptest server with the given handler and
// returns a client pointed at it.
func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL)
}

func TestHealth(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/health" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	status, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if status != "ok" {
		t.Errorf("status = %q", status)
	}
}

func TestHealthDegraded(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "degraded", "error": "db down"})
	})

	status, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if status != "degraded" {
		t.Errorf("status = %q, want degraded", status)
	}
}

func TestStats(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/stats" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"pipeline":       map[string]any{"messages_received": 42},
			"total_messages": 1200,
			"total_actions":  34,
		})
	})

	stats, err := c.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalMessages != 1200 || stats.TotalActions != 34 {
		t.Errorf("totals = (%d, %d)", stats.TotalMessages, stats.TotalActions)
	}
	if stats.Pipeline.MessagesReceived != 42 {
		t.Errorf("messages received = %d", stats.Pipeline.MessagesReceived)
	}
}

func TestListCheckpoints(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]*model.Checkpoint{
			{ScopeID: "chan-1", Kind: model.CheckpointLive, LastProcessedID: "m9", LastProcessedAt: now},
		})
	})

	cps, err := c.ListCheckpoints(context.Background())
	if err != nil {
		t.Fatalf("ListCheckpoints: %v", err)
	}
	if len(cps) != 1 || cps[0].ScopeID != "chan-1" || cps[0].LastProcessedID != "m9" {
		t.Errorf("checkpoints = %+v", cps)
	}
}

func TestStartBackfill(t *testing.T) {
	var gotPath, gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"scope_id": "chan-1", "state": "running"})
	})

	if err := c.StartBackfill(context.Background(), "chan-1", true); err != nil {
		t.Fatalf("StartBackfill: %v", err)
	}
	if gotPath != "/v1/backfills/chan-1" || gotQuery != "resume=true" {
		t.Errorf("request = %s?%s", gotPath, gotQuery)
	}
}

func TestStartBackfillConflict(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "backfill already in progress for scope chan-1"})
	})

	err := c.StartBackfill(context.Background(), "chan-1", false)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.StatusCode != http.StatusConflict {
		t.Errorf("status = %d", apiErr.StatusCode)
	}
}

func TestListBackfills(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]backfill.Status{
			{ScopeID: "chan-1", State: backfill.StateRunning, Pages: 3, Messages: 280},
		})
	})

	statuses, err := c.ListBackfills(context.Background())
	if err != nil {
		t.Fatalf("ListBackfills: %v", err)
	}
	if len(statuses) != 1 || statuses[0].State != backfill.StateRunning {
		t.Errorf("statuses = %+v", statuses)
	}
}
