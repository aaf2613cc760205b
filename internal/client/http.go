package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/groblegark/scribe/internal/backfill"
	"github.com/groblegark/scribe/internal/model"
)

// HTTPClient implements ScribeClient against the scribe HTTP/JSON API.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates a client targeting the given base URL
// (e.g. "http://localhost:8080").
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp)
	if err != nil {
		// A degraded server answers 503 with a status body; surface that
		// status rather than the transport error.
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable {
			return "degraded", nil
		}
		return "", err
	}
	return resp.Status, nil
}

func (c *HTTPClient) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := c.doJSON(ctx, http.MethodGet, "/v1/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *HTTPClient) ListCheckpoints(ctx context.Context) ([]*model.Checkpoint, error) {
	var cps []*model.Checkpoint
	if err := c.doJSON(ctx, http.MethodGet, "/v1/checkpoints", nil, &cps); err != nil {
		return nil, err
	}
	return cps, nil
}

func (c *HTTPClient) ListBackfills(ctx context.Context) ([]backfill.Status, error) {
	var statuses []backfill.Status
	if err := c.doJSON(ctx, http.MethodGet, "/v1/backfills", nil, &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

func (c *HTTPClient) StartBackfill(ctx context.Context, scopeID string, resume bool) error {
	path := "/v1/backfills/" + url.PathEscape(scopeID)
	if resume {
		path += "?resume=true"
	}
	return c.doJSON(ctx, http.MethodPost, path, nil, nil)
}

func (c *HTTPClient) StopBackfill(ctx context.Context, scopeID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/backfills/"+url.PathEscape(scopeID), nil, nil)
}

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// doJSON performs an HTTP request with optional JSON body and decodes the
// JSON response. If result is nil, the response body is discarded.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
