package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// BridgeRequest is the JSON body posted to server-side node logic.
type BridgeRequest struct {
	NodeID      string         `json:"nodeId"`
	NodeData    map[string]any `json:"nodeData"`
	WorkflowID  string         `json:"workflowId"`
	ExecutionID string         `json:"executionId"`
	Variables   map[string]any `json:"variables,omitempty"`
}

// BridgeResponse is the decoded reply of a bridge call.
type BridgeResponse struct {
	StatusCode int
	Body       any
}

// BridgeCaller posts node executions to an HTTP backend.
type BridgeCaller interface {
	Call(ctx context.Context, url string, req BridgeRequest) (*BridgeResponse, error)
}

// HTTPBridge is the webhook/HTTP collaborator. Calls are not retried: the target may not be idempotent.
type HTTPBridge struct {
	client     *resty.Client
	defaultURL string
}

func NewHTTPBridge(defaultURL string, timeout time.Duration) *HTTPBridge {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &HTTPBridge{client: client, defaultURL: defaultURL}
}

// Call posts req to url, or to the default bridge URL when url is empty.
func (b *HTTPBridge) Call(ctx context.Context, url string, req BridgeRequest) (*BridgeResponse, error) {
	if url == "" {
		url = b.defaultURL
	}
	if url == "" {
		return nil, errors.New("webhook url is not configured")
	}

	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(req).
		Post(url)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}

	out := &BridgeResponse{StatusCode: resp.StatusCode()}
	if raw := resp.Body(); len(raw) > 0 {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			out.Body = string(raw)
		} else {
			out.Body = decoded
		}
	}
	return out, nil
}
