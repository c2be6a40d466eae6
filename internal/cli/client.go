package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/unklstewy/skycapture/internal/capture"
)

// statusClient reads a running daemon's control API.
type statusClient struct {
	baseURL    string
	httpClient *http.Client
}

func newStatusClient(baseURL string) *statusClient {
	return &statusClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Snapshot fetches GET /api/v1/status.
func (c *statusClient) Snapshot(ctx context.Context) (capture.Snapshot, error) {
	var snap capture.Snapshot
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/status", nil)
	if err != nil {
		return snap, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return snap, fmt.Errorf("failed to reach skycapture: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return snap, fmt.Errorf("status request failed: %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, fmt.Errorf("failed to decode status: %w", err)
	}
	return snap, nil
}

// Stream connects to the update stream for the given kinds. Updates are
// delivered on the returned channel until ctx is cancelled or the
// connection drops, then the channel is closed.
func (c *statusClient) Stream(ctx context.Context, kinds ...capture.UpdateKind) (<-chan capture.Update, error) {
	u, err := url.Parse(c.baseURL + "/api/v1/ws")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if len(kinds) > 0 {
		names := make([]string, len(kinds))
		for i, k := range kinds {
			names[i] = string(k)
		}
		u.RawQuery = url.Values{"kinds": {strings.Join(names, ",")}}.Encode()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open update stream: %w", err)
	}

	updates := make(chan capture.Update, 64)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(updates)
		for {
			var upd capture.Update
			if err := conn.ReadJSON(&upd); err != nil {
				return
			}
			select {
			case updates <- upd:
			case <-ctx.Done():
				return
			}
		}
	}()
	return updates, nil
}
