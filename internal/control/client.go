package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gyredev/gyre/internal/coordinator"
	"github.com/gyredev/gyre/internal/registry"
)

// Client talks to a running scheduler over its control socket.
type Client struct {
	http *http.Client
}

// NewClient creates a client for the given socket path.
func NewClient(socketPath string) *Client {
	return &Client{
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

// The host is a placeholder; the transport always dials the socket.
const baseURL = "http://gyre"

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("control channel: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("scheduler: %s", apiErr.Error)
		}
		return fmt.Errorf("scheduler returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// Wake requests an immediate scheduling tick.
func (c *Client) Wake(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/wake", nil, nil)
}

// Spawn dispatches one task immediately, bypassing the ready set.
func (c *Client) Spawn(ctx context.Context, task, backend, model string) (registry.Agent, error) {
	var agent registry.Agent
	err := c.do(ctx, http.MethodPost, "/spawn",
		SpawnRequest{Task: task, Backend: backend, Model: model}, &agent)
	return agent, err
}

// Agents lists every registry record with fresh liveness states.
func (c *Client) Agents(ctx context.Context) ([]registry.Agent, error) {
	var agents []registry.Agent
	err := c.do(ctx, http.MethodGet, "/agents", nil, &agents)
	return agents, err
}

// Kill terminates an agent's worker process.
func (c *Client) Kill(ctx context.Context, agentID string, force bool) error {
	return c.do(ctx, http.MethodPost, "/kill", KillRequest{Agent: agentID, Force: force}, nil)
}

// Status returns the scheduler's current snapshot.
func (c *Client) Status(ctx context.Context) (coordinator.Status, error) {
	var st coordinator.Status
	err := c.do(ctx, http.MethodGet, "/status", nil, &st)
	return st, err
}

// Pause stops dispatching.
func (c *Client) Pause(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/pause", nil, nil)
}

// Resume re-enables dispatching.
func (c *Client) Resume(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/resume", nil, nil)
}

// Reconfigure adjusts runtime settings; zero values are left unchanged.
func (c *Client) Reconfigure(ctx context.Context, req ReconfigureRequest) error {
	return c.do(ctx, http.MethodPost, "/reconfigure", req, nil)
}

// Shutdown stops the scheduler, optionally terminating live workers.
func (c *Client) Shutdown(ctx context.Context, killWorkers bool) error {
	return c.do(ctx, http.MethodPost, "/shutdown", ShutdownRequest{KillWorkers: killWorkers}, nil)
}
