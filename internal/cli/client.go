package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/me/kernsim/pkg/model"
)

// Client talks to the /api/v1 surface of "kernsim serve". Every method
// unwraps the response envelope and decodes its data into a model type.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Logger:     logger,
	}
}

// envelope is the response wrapper every endpoint returns.
type envelope struct {
	Status    string          `json:"status"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
	Error     *model.APIError `json:"error"`
}

// ListProcesses returns the live processes, optionally only those in state.
func (c *Client) ListProcesses(ctx context.Context, state string) ([]model.Process, error) {
	path := "/api/v1/processes"
	if state != "" {
		path += "?" + url.Values{"state": {state}}.Encode()
	}
	var procs []model.Process
	err := c.call(ctx, http.MethodGet, path, nil, &procs)
	return procs, err
}

// Spawn creates a process and returns its PCB.
func (c *Client) Spawn(ctx context.Context, req model.CreateProcessRequest) (model.Process, error) {
	var p model.Process
	err := c.call(ctx, http.MethodPost, "/api/v1/processes", req, &p)
	return p, err
}

// Wake wakes pid and returns its PCB afterwards.
func (c *Client) Wake(ctx context.Context, pid uint32) (model.Process, error) {
	var p model.Process
	err := c.call(ctx, http.MethodPost, fmt.Sprintf("/api/v1/processes/%d/wake", pid), nil, &p)
	return p, err
}

// SetPriority changes the priority of pid.
func (c *Client) SetPriority(ctx context.Context, pid uint32, priority uint8) (model.Process, error) {
	var p model.Process
	err := c.call(ctx, http.MethodPut, fmt.Sprintf("/api/v1/processes/%d/priority", pid),
		model.SetPriorityRequest{Priority: priority}, &p)
	return p, err
}

// Stats returns the machine counters.
func (c *Client) Stats(ctx context.Context) (model.Stats, error) {
	var st model.Stats
	err := c.call(ctx, http.MethodGet, "/api/v1/stats", nil, &st)
	return st, err
}

// call sends body as JSON and decodes the envelope data into out. An error
// envelope is returned as its *model.APIError.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	c.Logger.Debug("api call", "method", method, "path", path,
		"status", resp.StatusCode, "bytes", len(raw), "duration", time.Since(start))

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%s %s: unexpected %d response: %s", method, path, resp.StatusCode, bytes.TrimSpace(raw))
	}
	if env.Error != nil {
		c.Logger.Debug("api error", "request_id", env.RequestID, "code", env.Error.Code)
		return env.Error
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s data: %w", path, err)
	}
	return nil
}
