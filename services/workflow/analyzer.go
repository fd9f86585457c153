package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Analyzer is the AI analysis collaborator: a composed instruction in, a structured or free-form result out.
type Analyzer interface {
	Analyze(ctx context.Context, message string) (any, error)
}

// HTTPAnalyzer calls an AI analysis endpoint over HTTP.
type HTTPAnalyzer struct {
	client   *resty.Client
	endpoint string
}

// NewHTTPAnalyzer returns a client with the given request timeout.
func NewHTTPAnalyzer(endpoint, apiKey string, timeout time.Duration) *HTTPAnalyzer {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(retryableResponse)
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &HTTPAnalyzer{client: client, endpoint: endpoint}
}

type analyzeRequest struct {
	Message string `json:"message"`
}

type analyzeResponse struct {
	Result any `json:"result"`
}

func (a *HTTPAnalyzer) Analyze(ctx context.Context, message string) (any, error) {
	if a.endpoint == "" {
		return nil, errors.New("AI analysis endpoint is not configured")
	}

	var out analyzeResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(analyzeRequest{Message: message}).
		SetResult(&out).
		Post(a.endpoint)
	if err != nil {
		return nil, fmt.Errorf("AI analysis request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("AI analysis returned status %d", resp.StatusCode())
	}
	return out.Result, nil
}

// retryableResponse retries network errors, 5xx and 429 replies.
func retryableResponse(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	return code >= 500 || code == 429
}
