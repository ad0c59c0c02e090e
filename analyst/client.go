package analyst

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

	"github.com/Juanbuhler/zmlp-sub000/id"
	"github.com/Juanbuhler/zmlp-sub000/task"
)

// KillRequest is the body of a kill RPC.
type KillRequest struct {
	Reason   string     `json:"reason"`
	NewState task.State `json:"newState"`
}

type killResponse struct {
	Status bool `json:"status"`
}

// Killer asks an analyst to stop a task.
type Killer interface {
	Kill(ctx context.Context, endpoint string, taskID id.TaskID, req KillRequest) (bool, error)
}

// HTTPClient calls the analyst kill RPC: DELETE {endpoint}/kill/{taskID}.
type HTTPClient struct {
	client *http.Client
}

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(h *HTTPClient) { h.client = c }
}

// NewHTTPClient returns a client with a 10 second request timeout.
func NewHTTPClient(opts ...ClientOption) *HTTPClient {
	h := &HTTPClient{client: &http.Client{Timeout: 10 * time.Second}}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Kill sends the kill request and returns the status the analyst replied
// with.
func (h *HTTPClient) Kill(ctx context.Context, endpoint string, taskID id.TaskID, req KillRequest) (bool, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return false, fmt.Errorf("encode kill request: %w", err)
	}

	target := strings.TrimRight(endpoint, "/") + "/kill/" + url.PathEscape(taskID.String())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build kill request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return false, fmt.Errorf("kill %s on %s: %w", taskID, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // draining
		return false, fmt.Errorf("kill %s on %s: status %d", taskID, endpoint, resp.StatusCode)
	}

	var out killResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("decode kill response: %w", err)
	}
	return out.Status, nil
}
