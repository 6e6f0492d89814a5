package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/eliteGoblin/focusd/class_mon/internal/domain"
)

const (
	syncTimeout   = 15 * time.Second
	syncUserAgent = "classmon"
	maxErrorBody  = 512
)

// HTTPSyncClient talks to the supervision backend over JSON/HTTP.
type HTTPSyncClient struct {
	client  *http.Client
	baseURL string
}

// NewHTTPSyncClient creates a client rooted at baseURL.
func NewHTTPSyncClient(baseURL string) *HTTPSyncClient {
	return &HTTPSyncClient{
		client:  &http.Client{Timeout: syncTimeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Heartbeat posts the liveness report and returns pending commands.
func (c *HTTPSyncClient) Heartbeat(ctx context.Context, token string, hb domain.HeartbeatRequest) (*domain.ServerResponse, error) {
	var resp domain.ServerResponse
	if err := c.do(ctx, http.MethodPost, "/api/devices/heartbeat", token, hb, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendAlert posts a tamper notification.
func (c *HTTPSyncClient) SendAlert(ctx context.Context, token string, alert domain.AlertEvent) error {
	var resp domain.ServerResponse
	if err := c.do(ctx, http.MethodPost, "/api/alerts", token, alert, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("alert rejected: %s", resp.Message)
	}
	return nil
}

// FetchConfig pulls the device configuration.
func (c *HTTPSyncClient) FetchConfig(ctx context.Context, token, deviceID string) (*domain.RemoteConfig, error) {
	var cfg domain.RemoteConfig
	path := "/api/devices/" + url.PathEscape(deviceID) + "/config"
	if err := c.do(ctx, http.MethodGet, path, token, nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// AckCommand marks a command as processed.
func (c *HTTPSyncClient) AckCommand(ctx context.Context, token, commandID string) error {
	return c.do(ctx, http.MethodPost, "/api/commands/"+url.PathEscape(commandID)+"/ack", token, nil, nil)
}

// Health checks backend reachability.
func (c *HTTPSyncClient) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/health", "", nil, nil)
}

func (c *HTTPSyncClient) do(ctx context.Context, method, path, token string, body, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("no server url configured")
	}
	ctx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", syncUserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%s %s returned status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", path, err)
	}
	return nil
}

var _ domain.SyncClient = (*HTTPSyncClient)(nil)
