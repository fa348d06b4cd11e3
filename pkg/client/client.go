package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/faultbridge/pkg/api"
)

// ErrNotFound is returned when the server does not know the cluster
var ErrNotFound = errors.New("cluster not found")

// Client talks to a running ingester's HTTP API
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the API listening on addr
// ("host:port" or a full http URL)
func NewClient(addr string) *Client {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: strings.TrimSuffix(base, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// ListClusters returns every cluster's status
func (c *Client) ListClusters(ctx context.Context) ([]api.ClusterView, error) {
	var out []api.ClusterView
	if err := c.do(ctx, http.MethodGet, "/clusters", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetCluster returns one cluster's status
func (c *Client) GetCluster(ctx context.Context, name string) (*api.ClusterView, error) {
	var out api.ClusterView
	if err := c.do(ctx, http.MethodGet, "/clusters/"+url.PathEscape(name), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartCluster starts a cluster
func (c *Client) StartCluster(ctx context.Context, name string) error {
	return c.action(ctx, name, "start")
}

// StopCluster stops a cluster until it is started again
func (c *Client) StopCluster(ctx context.Context, name string) error {
	return c.action(ctx, name, "stop")
}

// RestartCluster restarts a cluster
func (c *Client) RestartCluster(ctx context.Context, name string) error {
	return c.action(ctx, name, "restart")
}

func (c *Client) action(ctx context.Context, name, action string) error {
	var resp api.ActionResponse
	return c.do(ctx, http.MethodPost, "/clusters/"+url.PathEscape(name)+"/"+action, &resp)
}

func (c *Client) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (HTTP %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
