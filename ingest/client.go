package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CollectResponse is the collector's reply to a flat submission.
type CollectResponse struct {
	Status         string  `json:"status"`
	EventID        int64   `json:"event_id"`
	AlertTriggered *string `json:"alert_triggered"`
}

// CollectorClient submits flat payloads to a running collector.
type CollectorClient struct {
	url    string
	client *http.Client
}

// NewCollectorClient posts to url with the given per-request timeout.
func NewCollectorClient(url string, timeout time.Duration) *CollectorClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CollectorClient{url: url, client: &http.Client{Timeout: timeout}}
}

// Submit posts p and decodes the collector's response.
func (c *CollectorClient) Submit(ctx context.Context, p EventPayload) (CollectResponse, error) {
	var out CollectResponse

	body, err := json.Marshal(p)
	if err != nil {
		return out, fmt.Errorf("failed to encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return out, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return out, fmt.Errorf("failed to reach collector: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		return out, fmt.Errorf("failed to read collector response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, fmt.Errorf("collector returned status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("failed to decode collector response: %w", err)
	}
	return out, nil
}
