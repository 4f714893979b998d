package robot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Health is the backend's /health report.
type Health struct {
	Status         string `json:"status"`
	MQTTConnected  bool   `json:"mqtt_connected"`
	Broker         string `json:"broker"`
	DefaultRobotID string `json:"default_robot_id"`
}

// Client talks to the backend's HTTP API.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the API at base, e.g.
// http://localhost:8000. A nil hc uses a client with a 10s timeout.
func NewClient(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{base: strings.TrimRight(base, "/"), http: hc}
}

// DefaultRobotID returns the robot new connections are bound to.
func (c *Client) DefaultRobotID(ctx context.Context) (string, error) {
	var resp struct {
		DefaultRobotID string `json:"default_robot_id"`
	}
	if err := c.get(ctx, "/robot", &resp); err != nil {
		return "", err
	}
	return resp.DefaultRobotID, nil
}

// Health reports backend and broker status.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.get(ctx, "/health", &h)
	return h, err
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
