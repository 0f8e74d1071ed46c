package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client speaks the sync protocol against one endpoint, either the local
// backend or a peer's. Both ends implement the same two routes.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient wraps httpClient for the endpoint at baseURL
// (scheme://host:port, no /api/sync suffix). A nil httpClient gets a
// default with a 10 second timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// PeerBaseURL builds the endpoint URL for a discovered peer.
func PeerBaseURL(p PeerInfo) string {
	return fmt.Sprintf("http://%s:%d", p.Host, p.Port)
}

// Pull fetches the records updated after since. A nil since requests
// everything (full resync).
func (c *Client) Pull(ctx context.Context, since *time.Time, deviceID string) ([]json.RawMessage, error) {
	req := PullRequest{Since: since, DeviceID: deviceID}

	var resp PullResponse
	if err := c.post(ctx, "/api/sync/pull", req, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// Push replays records to the endpoint. Any 2xx response counts as success;
// the body is not consumed.
func (c *Client) Push(ctx context.Context, deviceID string, records []json.RawMessage) error {
	req := PushRequest{DeviceID: deviceID, Records: records}
	return c.post(ctx, "/api/sync/push", req, nil)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", url, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", url, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response from %s: %w", url, err)
		}
	}
	return nil
}
